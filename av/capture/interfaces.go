package capture

import (
	"time"

	"github.com/opd-ai/avio/av/media"
)

// Device is a capture device with a configuration lock. Setters must only
// be called between LockForConfiguration and UnlockForConfiguration.
type Device interface {
	ID() string
	Position() Position

	LockForConfiguration() error
	UnlockForConfiguration()

	HasTorch() bool
	IsTorchModeSupported(mode TorchMode) bool
	SetTorchMode(mode TorchMode)

	IsFocusModeSupported(mode FocusMode) bool
	SetFocusMode(mode FocusMode)
	IsFocusPointOfInterestSupported() bool
	SetFocusPointOfInterest(p Point)

	IsExposureModeSupported(mode ExposureMode) bool
	SetExposureMode(mode ExposureMode)
	IsExposurePointOfInterestSupported() bool
	SetExposurePointOfInterest(p Point)

	MaxZoomFactor() float64
	RampZoom(factor, rate float64)

	FrameRateRanges() []FrameRateRange
	// SetFrameDurations sets the minimum and maximum frame durations
	// together. Equal values pin the frame rate.
	SetFrameDurations(min, max time.Duration)
}

// Output receives the frames a session captures.
type Output struct {
	ID      string
	Handler media.FrameConsumer
}

// Session wires devices to outputs. Changes made between
// BeginConfiguration and CommitConfiguration apply atomically.
type Session interface {
	BeginConfiguration()
	CommitConfiguration()

	CanAddInput(d Device) bool
	AddInput(d Device) error
	RemoveInput(d Device)
	AddOutput(o *Output) error
	RemoveOutput(o *Output)
	Inputs() []Device
	Outputs() []*Output

	SetVideoOrientation(o Orientation)

	StartRunning()
	StopRunning()
	IsRunning() bool
}

// ScreenSource captures the screen and calls handler for every frame
// until Stop.
type ScreenSource interface {
	Start(handler media.FrameConsumer) error
	Stop()
}

// Drawable presents video. Render draws img into the sample's own buffer.
type Drawable interface {
	Draw(img *media.VideoFrame)
	Render(img *media.VideoFrame, into *media.Sample) error
	SetOrientation(o Orientation)
	SetPosition(p Position)
}

// Recorder receives every captured sample, tagged with its media type.
type Recorder interface {
	Record(s *media.Sample, mt media.MediaType) error
}

// SampleEncoder accepts raw samples for encoding. codec.Encoder and
// audio.Processor both satisfy it.
type SampleEncoder interface {
	EncodeSample(s *media.Sample) error
}
