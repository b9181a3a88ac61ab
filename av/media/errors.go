package media

import "errors"

// Frame validation errors.
var (
	// ErrNilFrame indicates a nil frame was supplied.
	ErrNilFrame = errors.New("frame cannot be nil")

	// ErrInvalidDimensions indicates zero, odd or out of range frame dimensions.
	ErrInvalidDimensions = errors.New("invalid frame dimensions")

	// ErrPlaneSize indicates a Y, U or V plane shorter than the dimensions require.
	ErrPlaneSize = errors.New("plane size does not match frame dimensions")
)

// Format errors.
var (
	// ErrUnknownCodec indicates a descriptor without a codec name.
	ErrUnknownCodec = errors.New("codec name is required")

	// ErrInvalidFormat indicates a descriptor whose parameters are not usable.
	ErrInvalidFormat = errors.New("invalid format descriptor")

	// ErrMissingSPS indicates an H.264 descriptor without a sequence parameter set.
	ErrMissingSPS = errors.New("missing H.264 sequence parameter set")
)
