package capture

import (
	"fmt"
	"math"
	"strings"
)

// Position identifies which side of the device a camera faces.
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

// String returns the position name.
func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// ParsePosition parses "back" or "front".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	default:
		return PositionUnspecified, fmt.Errorf("unknown camera position %q", s)
	}
}

// Orientation is the rotation applied to captured video.
type Orientation int

const (
	OrientationPortrait Orientation = iota
	OrientationPortraitUpsideDown
	OrientationLandscapeRight
	OrientationLandscapeLeft
)

// String returns the orientation name.
func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait-upside-down"
	case OrientationLandscapeRight:
		return "landscape-right"
	case OrientationLandscapeLeft:
		return "landscape-left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Valid reports whether o is a known orientation.
func (o Orientation) Valid() bool {
	return o >= OrientationPortrait && o <= OrientationLandscapeLeft
}

// TorchMode controls the camera light.
type TorchMode int

const (
	TorchOff TorchMode = iota
	TorchOn
	TorchAuto
)

// String returns the torch mode name.
func (t TorchMode) String() string {
	switch t {
	case TorchOff:
		return "off"
	case TorchOn:
		return "on"
	case TorchAuto:
		return "auto"
	default:
		return fmt.Sprintf("torch(%d)", int(t))
	}
}

// FocusMode is the device focus behaviour.
type FocusMode int

const (
	FocusLocked FocusMode = iota
	FocusAuto
	FocusContinuous
)

// ExposureMode is the device exposure behaviour.
type ExposureMode int

const (
	ExposureLocked ExposureMode = iota
	ExposureAuto
	ExposureContinuous
)

// Point is a normalized point of interest; both coordinates lie in [0, 1]
// with (0, 0) at the top left of the unrotated sensor.
type Point struct {
	X, Y float64
}

// Valid reports whether the point lies inside the unit square.
func (p Point) Valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1 &&
		!math.IsNaN(p.X) && !math.IsNaN(p.Y)
}

// FrameRateRange is a supported frame rate interval in frames per second.
type FrameRateRange struct {
	Min float64
	Max float64
}

// Contains reports whether fps lies within the range.
func (r FrameRateRange) Contains(fps float64) bool {
	return fps >= r.Min && fps <= r.Max
}

// SourceKind tags a CaptureSource.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceCamera
	SourceScreen
)

// String returns the kind name.
func (k SourceKind) String() string {
	switch k {
	case SourceCamera:
		return "camera"
	case SourceScreen:
		return "screen"
	default:
		return "none"
	}
}

// CaptureSource is the input attached to an Orchestrator: a camera device,
// a screen source, or nothing. Build one with CameraSource, ScreenCapture
// or NoSource.
type CaptureSource struct {
	kind   SourceKind
	device Device
	screen ScreenSource
}

// CameraSource tags a camera device.
func CameraSource(d Device) CaptureSource {
	return CaptureSource{kind: SourceCamera, device: d}
}

// ScreenCapture tags a screen source.
func ScreenCapture(s ScreenSource) CaptureSource {
	return CaptureSource{kind: SourceScreen, screen: s}
}

// NoSource detaches any input.
func NoSource() CaptureSource {
	return CaptureSource{kind: SourceNone}
}

// Kind returns the tag.
func (c CaptureSource) Kind() SourceKind { return c.kind }

// Device returns the camera, or nil for other kinds.
func (c CaptureSource) Device() Device { return c.device }

// Screen returns the screen source, or nil for other kinds.
func (c CaptureSource) Screen() ScreenSource { return c.screen }

// DeviceState is a snapshot of the orchestrator's device configuration.
type DeviceState struct {
	Source   SourceKind
	DeviceID string
	Position Position
	OutputID string

	// FrameRate is the applied rate, which may differ from the requested one.
	FrameRate float64

	Orientation         Orientation
	Torch               TorchMode
	ContinuousAutofocus bool
	FocusPoint          Point
	ContinuousExposure  bool
	ExposurePoint       Point
	Zoom                float64
}
