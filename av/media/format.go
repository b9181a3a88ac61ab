package media

import (
	"bytes"
	"fmt"
	"maps"
)

// Codec names understood by the built-in backends.
const (
	CodecYUVDelta = "yuvd"
	CodecH264     = "h264"
	CodecPCM      = "pcm"
	CodecOpus     = "opus"
)

// FormatDescriptor describes the codec and geometry of a stream.
type FormatDescriptor struct {
	Codec      string
	Type       MediaType
	Width      int
	Height     int
	SampleRate int
	Channels   int

	// SPS and PPS hold H.264 parameter sets when Codec is CodecH264.
	SPS []byte
	PPS []byte

	// Params carries codec specific settings.
	Params map[string]string
}

// NewVideoFormat returns a video descriptor.
func NewVideoFormat(codec string, width, height int) *FormatDescriptor {
	return &FormatDescriptor{Codec: codec, Type: MediaTypeVideo, Width: width, Height: height}
}

// NewAudioFormat returns an audio descriptor.
func NewAudioFormat(codec string, sampleRate, channels int) *FormatDescriptor {
	return &FormatDescriptor{Codec: codec, Type: MediaTypeAudio, SampleRate: sampleRate, Channels: channels}
}

// Equal reports whether two descriptors describe the same stream
// configuration. Two nil descriptors are equal.
func (f *FormatDescriptor) Equal(o *FormatDescriptor) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Codec == o.Codec &&
		f.Type == o.Type &&
		f.Width == o.Width &&
		f.Height == o.Height &&
		f.SampleRate == o.SampleRate &&
		f.Channels == o.Channels &&
		bytes.Equal(f.SPS, o.SPS) &&
		bytes.Equal(f.PPS, o.PPS) &&
		maps.Equal(f.Params, o.Params)
}

// Validate checks that the descriptor is usable for its media type.
func (f *FormatDescriptor) Validate() error {
	if f == nil {
		return ErrInvalidFormat
	}
	if f.Codec == "" {
		return ErrUnknownCodec
	}

	switch f.Type {
	case MediaTypeVideo:
		if f.Codec == CodecH264 && len(f.SPS) == 0 {
			return ErrMissingSPS
		}
		if f.Codec != CodecH264 {
			if err := ValidateDimensions(f.Width, f.Height); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
		}
	case MediaTypeAudio:
		if f.SampleRate <= 0 || f.Channels < 1 || f.Channels > 2 {
			return fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidFormat, f.SampleRate, f.Channels)
		}
	default:
		return fmt.Errorf("%w: unknown media type %d", ErrInvalidFormat, f.Type)
	}
	return nil
}

// String renders a short human readable form.
func (f *FormatDescriptor) String() string {
	if f == nil {
		return "<none>"
	}
	if f.Type == MediaTypeAudio {
		return fmt.Sprintf("%s %dHz/%dch", f.Codec, f.SampleRate, f.Channels)
	}
	return fmt.Sprintf("%s %dx%d", f.Codec, f.Width, f.Height)
}
