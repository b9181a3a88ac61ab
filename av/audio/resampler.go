package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved PCM between sample rates with linear
// interpolation. It keeps the last frame of each block so consecutive
// blocks join without a discontinuity.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64

	// position is the next output position in input frames, relative to
	// the start of the next block. -1 addresses the carried frame.
	position float64
	last     []int16
	primed   bool
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  int // Input sample rate in Hz
	OutputRate int // Output sample rate in Hz
	Channels   int // 1 = mono, 2 = stereo
}

// NewResampler creates a resampler for the given conversion.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate <= 0 || config.OutputRate <= 0 {
		return nil, fmt.Errorf("%w: input=%d output=%d", ErrUnsupportedSampleRate, config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, config.Channels)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Resampler created")

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		ratio:      float64(config.InputRate) / float64(config.OutputRate),
		last:       make([]int16, config.Channels),
	}, nil
}

// Resample converts one block. Output length follows the rate ratio across
// calls, not per block.
//
// Parameters:
//   - input: Interleaved PCM samples
//
// Returns:
//   - []int16: Resampled interleaved PCM
//   - error: ErrEmptyPCM or ErrChannelMismatch
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input) == 0 {
		return nil, ErrEmptyPCM
	}
	if len(input)%r.channels != 0 {
		return nil, fmt.Errorf("%w: %d samples, %d channels", ErrChannelMismatch, len(input), r.channels)
	}
	if r.inputRate == r.outputRate {
		return append([]int16(nil), input...), nil
	}

	frames := len(input) / r.channels
	sample := func(frame, ch int) float64 {
		if frame < 0 {
			return float64(r.last[ch])
		}
		return float64(input[frame*r.channels+ch])
	}

	if !r.primed {
		// Nothing precedes the first block.
		copy(r.last, input[:r.channels])
		r.primed = true
	}

	output := make([]int16, 0, int(float64(frames)/r.ratio+1)*r.channels)
	for r.position < float64(frames-1) {
		base := int(r.position + 1) // floor for positions >= -1
		base--
		frac := r.position - float64(base)
		for ch := 0; ch < r.channels; ch++ {
			v := sample(base, ch)*(1-frac) + sample(base+1, ch)*frac
			output = append(output, int16(v))
		}
		r.position += r.ratio
	}

	r.position -= float64(frames)
	copy(r.last, input[(frames-1)*r.channels:])
	return output, nil
}

// Reset forgets the carried frame and position.
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.last {
		r.last[i] = 0
	}
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() int { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() int { return r.outputRate }

// GetChannels returns the channel count.
func (r *Resampler) GetChannels() int { return r.channels }
