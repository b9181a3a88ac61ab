package capture

import "github.com/opd-ai/avio/av/clock"

// Config tunes an Orchestrator.
type Config struct {
	// FrameRate is the requested capture rate. The applied rate is the
	// nearest one the device supports.
	FrameRate float64

	Orientation Orientation
	Torch       TorchMode

	// RenderIntoBuffer writes effect output back into the captured sample
	// instead of deriving a new one.
	RenderIntoBuffer bool

	// FollowCaptureSize reconfigures a reconfigurable video encoder when
	// the captured frame size changes.
	FollowCaptureSize bool

	// PreviewCapture draws every captured frame, after effects, on the
	// drawable. Turn it off when the drawable shows decoded playback.
	PreviewCapture bool

	// Queue configures the presentation queue for decoded video.
	Queue clock.Options
}

// NewConfig returns the default orchestrator configuration.
func NewConfig() Config {
	return Config{
		FrameRate:        30,
		Orientation:      OrientationPortrait,
		Torch:            TorchOff,
		RenderIntoBuffer: true,
		PreviewCapture:   true,
		Queue:            clock.NewOptions(),
	}
}
