package audio

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// AudioEffect processes interleaved PCM in place.
type AudioEffect interface {
	// Process applies the effect and returns the processed samples.
	Process(samples []int16) ([]int16, error)
	// GetName returns the effect name for logging.
	GetName() string
	// Close releases effect resources.
	Close() error
}

// GainEffect applies a fixed linear gain with saturation.
type GainEffect struct {
	mu   sync.RWMutex
	gain float64
}

// NewGainEffect creates a gain effect. Gain must be within 0..4.
func NewGainEffect(gain float64) (*GainEffect, error) {
	if gain < 0 || gain > 4 || math.IsNaN(gain) {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidGain, gain)
	}
	return &GainEffect{gain: gain}, nil
}

// Process scales every sample by the current gain.
func (g *GainEffect) Process(samples []int16) ([]int16, error) {
	g.mu.RLock()
	gain := g.gain
	g.mu.RUnlock()

	if gain == 1 {
		return samples, nil
	}
	for i, s := range samples {
		samples[i] = saturate(float64(s) * gain)
	}
	return samples, nil
}

// SetGain changes the gain.
func (g *GainEffect) SetGain(gain float64) error {
	if gain < 0 || gain > 4 || math.IsNaN(gain) {
		return fmt.Errorf("%w: %.2f", ErrInvalidGain, gain)
	}
	g.mu.Lock()
	g.gain = gain
	g.mu.Unlock()
	return nil
}

// GetGain returns the current gain.
func (g *GainEffect) GetGain() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gain
}

// GetName returns the effect name.
func (g *GainEffect) GetName() string {
	return fmt.Sprintf("Gain(%.2f)", g.GetGain())
}

// Close is a no-op.
func (g *GainEffect) Close() error { return nil }

// AutoGainEffect steers block RMS towards a target level. The gain moves
// by a smoothing factor per block so level changes do not pump.
type AutoGainEffect struct {
	mu          sync.Mutex
	targetLevel float64 // RMS target as a fraction of full scale
	currentGain float64
	minGain     float64
	maxGain     float64
	smoothing   float64
}

// NewAutoGainEffect creates an automatic gain control with a -20 dBFS
// target.
func NewAutoGainEffect() *AutoGainEffect {
	return &AutoGainEffect{
		targetLevel: 0.1,
		currentGain: 1,
		minGain:     0.1,
		maxGain:     4,
		smoothing:   0.1,
	}
}

// Process measures the block level and applies the smoothed gain.
func (a *AutoGainEffect) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	a.mu.Lock()
	if rms > 1e-6 {
		desired := math.Max(a.minGain, math.Min(a.maxGain, a.targetLevel/rms))
		a.currentGain += (desired - a.currentGain) * a.smoothing
	}
	gain := a.currentGain
	a.mu.Unlock()

	for i, s := range samples {
		samples[i] = saturate(float64(s) * gain)
	}
	return samples, nil
}

// GetCurrentGain returns the gain applied to the last block.
func (a *AutoGainEffect) GetCurrentGain() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentGain
}

// GetName returns the effect name.
func (a *AutoGainEffect) GetName() string { return "AutoGain" }

// Close is a no-op.
func (a *AutoGainEffect) Close() error { return nil }

// EffectChain runs effects in insertion order.
type EffectChain struct {
	mu      sync.RWMutex
	effects []AudioEffect
}

// NewEffectChain creates an empty chain.
func NewEffectChain() *EffectChain {
	return &EffectChain{}
}

// AddEffect appends an effect. Nil effects are ignored.
func (c *EffectChain) AddEffect(effect AudioEffect) {
	if effect == nil {
		return
	}
	c.mu.Lock()
	c.effects = append(c.effects, effect)
	c.mu.Unlock()
}

// Process folds samples through every effect. The first failing effect
// aborts the chain.
func (c *EffectChain) Process(samples []int16) ([]int16, error) {
	c.mu.RLock()
	effects := c.effects
	c.mu.RUnlock()

	var err error
	for _, effect := range effects {
		samples, err = effect.Process(samples)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EffectChain.Process",
				"effect":   effect.GetName(),
				"error":    err.Error(),
			}).Warn("Audio effect failed")
			return nil, fmt.Errorf("effect %s: %w", effect.GetName(), err)
		}
	}
	return samples, nil
}

// GetEffectCount returns the number of effects.
func (c *EffectChain) GetEffectCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.effects)
}

// Clear closes and removes all effects.
func (c *EffectChain) Clear() error {
	c.mu.Lock()
	effects := c.effects
	c.effects = nil
	c.mu.Unlock()

	var firstErr error
	for _, effect := range effects {
		if err := effect.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
