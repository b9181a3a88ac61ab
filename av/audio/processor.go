package audio

import (
	"fmt"
	"sync"

	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
)

// ProcessorOptions configures the outbound audio path.
type ProcessorOptions struct {
	SampleRate int // output rate in Hz
	Channels   int // output channel count
}

// NewProcessorOptions returns 48kHz mono.
func NewProcessorOptions() ProcessorOptions {
	return ProcessorOptions{SampleRate: 48000, Channels: 1}
}

// ProcessorStats counts processed blocks.
type ProcessorStats struct {
	Blocks  uint64
	Dropped uint64
	Errors  uint64
}

// Processor prepares captured audio for the next stage: resample, apply
// effects, pack as little-endian "pcm".
type Processor struct {
	sink   media.FrameConsumer
	opts   ProcessorOptions
	format *media.FormatDescriptor
	chain  *EffectChain

	mu        sync.Mutex
	resampler *Resampler
	stats     ProcessorStats
	closed    bool
}

// NewProcessor creates a processor that delivers to sink.
//
// Parameters:
//   - sink: Receives packed samples; nil discards them
//   - opts: Output rate and channel count
//
// Returns:
//   - *Processor: The processor
//   - error: ErrUnsupportedSampleRate or ErrInvalidChannels
func NewProcessor(sink media.FrameConsumer, opts ProcessorOptions) (*Processor, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, opts.SampleRate)
	}
	if opts.Channels < 1 || opts.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, opts.Channels)
	}
	if sink == nil {
		sink = media.Discard
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewProcessor",
		"sample_rate": opts.SampleRate,
		"channels":    opts.Channels,
	}).Info("Audio processor created")

	return &Processor{
		sink:   sink,
		opts:   opts,
		format: media.NewAudioFormat(media.CodecPCM, opts.SampleRate, opts.Channels),
		chain:  NewEffectChain(),
	}, nil
}

// AddEffect appends an effect to the processing chain.
func (p *Processor) AddEffect(effect AudioEffect) {
	p.chain.AddEffect(effect)
}

// Format describes the samples the processor emits.
func (p *Processor) Format() *media.FormatDescriptor { return p.format }

// EncodeSample processes one captured audio sample and hands the result to
// the sink. Blocks whose channel count differs from the output are
// rejected.
func (p *Processor) EncodeSample(s *media.Sample) error {
	block := s.Audio()
	if block == nil || len(block.PCM) == 0 {
		p.count(func(st *ProcessorStats) { st.Dropped++ })
		return ErrNoAudio
	}
	if block.Channels != p.opts.Channels {
		p.count(func(st *ProcessorStats) { st.Errors++ })
		return fmt.Errorf("%w: block has %d, output %d", ErrChannelMismatch, block.Channels, p.opts.Channels)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("audio processor closed")
	}
	pcm, err := p.resampleLocked(block)
	p.mu.Unlock()
	if err != nil {
		p.count(func(st *ProcessorStats) { st.Errors++ })
		return err
	}

	if len(pcm) == 0 {
		// The resampler carried every frame into the next block.
		p.count(func(st *ProcessorStats) { st.Dropped++ })
		return nil
	}

	pcm, err = p.chain.Process(pcm)
	if err != nil {
		p.count(func(st *ProcessorStats) { st.Errors++ })
		return err
	}

	out := &media.AudioBlock{SampleRate: p.opts.SampleRate, Channels: p.opts.Channels, PCM: pcm}
	p.sink.ConsumeSample(media.NewSample(media.MediaTypeAudio, out.LittleEndian(), s.PTS(), out.Duration(),
		media.WithFormat(p.format)))

	p.count(func(st *ProcessorStats) { st.Blocks++ })
	return nil
}

func (p *Processor) resampleLocked(block *media.AudioBlock) ([]int16, error) {
	if block.SampleRate == p.opts.SampleRate {
		return append([]int16(nil), block.PCM...), nil
	}
	if p.resampler == nil || p.resampler.GetInputRate() != block.SampleRate {
		r, err := NewResampler(ResamplerConfig{
			InputRate:  block.SampleRate,
			OutputRate: p.opts.SampleRate,
			Channels:   p.opts.Channels,
		})
		if err != nil {
			return nil, err
		}
		p.resampler = r
	}
	return p.resampler.Resample(block.PCM)
}

// ConsumeSample lets the processor sit behind a media.FrameConsumer.
// Failures are logged.
func (p *Processor) ConsumeSample(s *media.Sample) {
	if err := p.EncodeSample(s); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Processor.ConsumeSample",
			"pts":      s.PTS(),
			"error":    err.Error(),
		}).Warn("Dropping audio block")
	}
}

func (p *Processor) count(f func(*ProcessorStats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close releases the effects. Further samples are rejected.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.chain.Clear()
}
