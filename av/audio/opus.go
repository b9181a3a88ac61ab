package audio

import (
	"fmt"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// maxOpusFrameBytes fits 120ms of stereo s16 at 48kHz, the largest packet
// Opus can describe.
const maxOpusFrameBytes = 5760 * 2 * 2

// GetBandwidthFromSampleRate maps a sample rate onto its Opus bandwidth.
//
// Parameters:
//   - sampleRate: Rate in Hz
//
// Returns:
//   - opus.Bandwidth: Matching bandwidth
//   - error: ErrUnsupportedSampleRate for rates Opus has no bandwidth for
func GetBandwidthFromSampleRate(sampleRate int) (opus.Bandwidth, error) {
	switch sampleRate {
	case 8000:
		return opus.BandwidthNarrowband, nil
	case 12000:
		return opus.BandwidthMediumband, nil
	case 16000:
		return opus.BandwidthWideband, nil
	case 24000:
		return opus.BandwidthSuperwideband, nil
	case 48000:
		return opus.BandwidthFullband, nil
	default:
		return opus.BandwidthFullband, fmt.Errorf("%w: %d Hz", ErrUnsupportedSampleRate, sampleRate)
	}
}

// OpusDecoder decodes Opus packets with github.com/pion/opus and resamples
// the output to the negotiated rate.
type OpusDecoder struct {
	format    *media.FormatDescriptor
	decoder   *opus.Decoder
	output    []byte
	resampler *Resampler
	decodedAt int
}

// NewOpusDecoder creates a decoder for fd. The descriptor's sample rate
// must be one Opus can carry.
func NewOpusDecoder(fd *media.FormatDescriptor) (*OpusDecoder, error) {
	if fd == nil || fd.Codec != media.CodecOpus {
		return nil, fmt.Errorf("opus decoder cannot handle %s", fd.String())
	}
	if fd.Channels < 1 || fd.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, fd.Channels)
	}
	bandwidth, err := GetBandwidthFromSampleRate(fd.SampleRate)
	if err != nil {
		return nil, err
	}

	d := opus.NewDecoder()

	logrus.WithFields(logrus.Fields{
		"function":    "NewOpusDecoder",
		"sample_rate": fd.SampleRate,
		"channels":    fd.Channels,
		"bandwidth":   bandwidth.String(),
	}).Debug("Opus decoder created")

	return &OpusDecoder{
		format:  fd,
		decoder: &d,
		output:  make([]byte, maxOpusFrameBytes),
	}, nil
}

// DecodeFrame decodes one Opus packet into a PCM block.
func (d *OpusDecoder) DecodeFrame(s *media.Sample) ([]*media.Sample, error) {
	if len(s.Data) == 0 {
		return nil, ErrEmptyPCM
	}

	duration, err := OpusPacketDuration(s.Data)
	if err != nil {
		return nil, err
	}

	bandwidth, isStereo, err := d.decoder.Decode(s.Data, d.output)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	rate := bandwidth.SampleRate()
	count := int(duration*time.Duration(rate)/time.Second) * channels
	if count*2 > len(d.output) {
		count = len(d.output) / 2
	}

	block := media.AudioBlockFromLittleEndian(d.output[:count*2], rate, channels)
	pcm, err := d.convert(block)
	if err != nil {
		return nil, err
	}

	out := &media.AudioBlock{SampleRate: d.format.SampleRate, Channels: d.format.Channels, PCM: pcm}
	return []*media.Sample{media.NewAudioSample(out, s.PTS(), media.WithFormat(d.format))}, nil
}

// convert maps a decoded block onto the negotiated channel count and rate.
func (d *OpusDecoder) convert(block *media.AudioBlock) ([]int16, error) {
	pcm := block.PCM
	switch {
	case block.Channels == 2 && d.format.Channels == 1:
		mono := make([]int16, len(pcm)/2)
		for i := range mono {
			mono[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
		}
		pcm = mono
	case block.Channels == 1 && d.format.Channels == 2:
		stereo := make([]int16, len(pcm)*2)
		for i, v := range pcm {
			stereo[2*i], stereo[2*i+1] = v, v
		}
		pcm = stereo
	}

	if block.SampleRate == d.format.SampleRate || len(pcm) == 0 {
		return pcm, nil
	}
	if d.resampler == nil || d.decodedAt != block.SampleRate {
		r, err := NewResampler(ResamplerConfig{
			InputRate:  block.SampleRate,
			OutputRate: d.format.SampleRate,
			Channels:   d.format.Channels,
		})
		if err != nil {
			return nil, err
		}
		d.resampler = r
		d.decodedAt = block.SampleRate
	}
	return d.resampler.Resample(pcm)
}

// Reset recreates the Opus decoder state.
func (d *OpusDecoder) Reset() {
	dec := opus.NewDecoder()
	d.decoder = &dec
	if d.resampler != nil {
		d.resampler.Reset()
	}
}

// Close releases the output buffer.
func (d *OpusDecoder) Close() error {
	d.output = nil
	return nil
}

// opusFrameSizes holds the frame duration for each TOC configuration,
// in microseconds.
var opusFrameSizes = [32]time.Duration{
	// SILK NB, MB, WB
	10000, 20000, 40000, 60000,
	10000, 20000, 40000, 60000,
	10000, 20000, 40000, 60000,
	// Hybrid SWB, FB
	10000, 20000,
	10000, 20000,
	// CELT NB, WB, SWB, FB
	2500, 5000, 10000, 20000,
	2500, 5000, 10000, 20000,
	2500, 5000, 10000, 20000,
	2500, 5000, 10000, 20000,
}

// OpusPacketDuration returns the audio length described by a packet's TOC.
func OpusPacketDuration(packet []byte) (time.Duration, error) {
	if len(packet) == 0 {
		return 0, ErrEmptyPCM
	}
	toc := packet[0]
	frame := opusFrameSizes[toc>>3] * time.Microsecond

	var frames int
	switch toc & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(packet) < 2 {
			return 0, fmt.Errorf("opus packet truncated: code 3 without frame count")
		}
		frames = int(packet[1] & 0x3F)
		if frames == 0 {
			return 0, fmt.Errorf("opus packet declares zero frames")
		}
	}

	total := frame * time.Duration(frames)
	if total > 120*time.Millisecond {
		return 0, fmt.Errorf("opus packet duration %v exceeds 120ms", total)
	}
	return total, nil
}
