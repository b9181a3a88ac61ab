package audio

import (
	"fmt"

	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
)

// PCMDecoder turns little-endian s16 payloads into audio blocks.
type PCMDecoder struct {
	format *media.FormatDescriptor
}

// NewPCMDecoder creates a decoder for fd.
func NewPCMDecoder(fd *media.FormatDescriptor) (*PCMDecoder, error) {
	if fd == nil || fd.Codec != media.CodecPCM {
		return nil, fmt.Errorf("pcm decoder cannot handle %s", fd.String())
	}
	if fd.Channels < 1 || fd.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, fd.Channels)
	}
	if fd.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, fd.SampleRate)
	}
	return &PCMDecoder{format: fd}, nil
}

// DecodeFrame unpacks one payload.
func (d *PCMDecoder) DecodeFrame(s *media.Sample) ([]*media.Sample, error) {
	if len(s.Data) < 2 {
		return nil, ErrEmptyPCM
	}
	if len(s.Data)%(2*d.format.Channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes, %d channels", ErrChannelMismatch, len(s.Data), d.format.Channels)
	}
	block := media.AudioBlockFromLittleEndian(s.Data, d.format.SampleRate, d.format.Channels)
	return []*media.Sample{media.NewAudioSample(block, s.PTS(), media.WithFormat(d.format))}, nil
}

// Reset is a no-op; PCM carries no state.
func (d *PCMDecoder) Reset() {}

// Close is a no-op.
func (d *PCMDecoder) Close() error { return nil }

// Register adds the pcm and opus decoders to r.
func Register(r *codec.Registry) {
	r.Register(media.CodecPCM, func(fd *media.FormatDescriptor) (codec.FrameDecoder, error) {
		return NewPCMDecoder(fd)
	})
	r.Register(media.CodecOpus, func(fd *media.FormatDescriptor) (codec.FrameDecoder, error) {
		return NewOpusDecoder(fd)
	})
}
