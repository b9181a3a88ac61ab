package av

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineHealth grades how well the pipeline keeps up with its input.
type PipelineHealth int

const (
	// HealthExcellent means almost nothing is lost and delivery is steady.
	HealthExcellent PipelineHealth = iota
	// HealthGood means occasional losses.
	HealthGood
	// HealthFair means noticeable losses or jitter.
	HealthFair
	// HealthPoor means the pipeline cannot keep up.
	HealthPoor
)

// String returns the lower-case health name.
func (h PipelineHealth) String() string {
	switch h {
	case HealthExcellent:
		return "excellent"
	case HealthGood:
		return "good"
	case HealthFair:
		return "fair"
	case HealthPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// AdaptationConfig tunes the bitrate adapter.
type AdaptationConfig struct {
	// AdaptationWindow is the minimum time between two adaptations.
	AdaptationWindow time.Duration

	// Loss thresholds in percent of submitted units.
	PoorLossThreshold float64
	FairLossThreshold float64
	GoodLossThreshold float64

	PoorJitterThreshold time.Duration
	FairJitterThreshold time.Duration
	GoodJitterThreshold time.Duration

	MinBitRate uint32
	MaxBitRate uint32

	// IncreaseStep is the fractional increase on good health;
	// DecreaseMultiplier scales the bitrate down on poor health.
	IncreaseStep       float64
	DecreaseMultiplier float64

	// MinChangeBitRate suppresses callbacks for smaller changes.
	MinChangeBitRate uint32
	// BackoffDuration delays increases after a decrease.
	BackoffDuration time.Duration
}

// DefaultAdaptationConfig returns the default adaptation parameters.
func DefaultAdaptationConfig() AdaptationConfig {
	return AdaptationConfig{
		AdaptationWindow:    10 * time.Second,
		PoorLossThreshold:   5.0,
		FairLossThreshold:   3.0,
		GoodLossThreshold:   1.0,
		PoorJitterThreshold: 150 * time.Millisecond,
		FairJitterThreshold: 100 * time.Millisecond,
		GoodJitterThreshold: 50 * time.Millisecond,
		MinBitRate:          100_000,
		MaxBitRate:          8_000_000,
		IncreaseStep:        0.1,
		DecreaseMultiplier:  0.8,
		MinChangeBitRate:    5_000,
		BackoffDuration:     5 * time.Second,
	}
}

// Observation is what the pipeline saw during one report interval.
type Observation struct {
	// Submitted counts units offered to the pipeline.
	Submitted uint64
	// Lost counts units dropped, skipped or lost in transit.
	Lost uint64
	// Jitter is the current interarrival jitter estimate.
	Jitter time.Duration
	// At is when the observation was taken.
	At time.Time
}

// LossPercent returns Lost as a percentage of Submitted.
func (o Observation) LossPercent() float64 {
	if o.Submitted == 0 {
		return 0
	}
	return float64(o.Lost) / float64(o.Submitted) * 100.0
}

// BitrateAdapter adjusts a target bitrate from pipeline observations using
// additive increase and multiplicative decrease.
type BitrateAdapter struct {
	mu     sync.Mutex
	config AdaptationConfig

	health         PipelineHealth
	bitRate        uint32
	lastAdaptation time.Time
	lastDecrease   time.Time
	adaptations    uint64
	history        []PipelineHealth

	bitRateCb func(uint32)
	healthCb  func(PipelineHealth)
}

// NewBitrateAdapter creates an adapter starting at initialBitRate, clamped
// to the configured range.
//
// Parameters:
//   - config: Adaptation parameters, see DefaultAdaptationConfig
//   - initialBitRate: Starting bitrate in bits per second
//
// Returns:
//   - *BitrateAdapter: The new adapter
func NewBitrateAdapter(config AdaptationConfig, initialBitRate uint32) *BitrateAdapter {
	ba := &BitrateAdapter{
		config:  config,
		health:  HealthGood,
		history: make([]PipelineHealth, 0, 5),
	}
	ba.bitRate = ba.clamp(initialBitRate)

	logrus.WithFields(logrus.Fields{
		"function":        "NewBitrateAdapter",
		"initial_bps":     ba.bitRate,
		"window":          config.AdaptationWindow,
		"min_bps":         config.MinBitRate,
		"max_bps":         config.MaxBitRate,
		"decrease_factor": config.DecreaseMultiplier,
	}).Info("Bitrate adapter created")

	return ba
}

// SetCallbacks installs the change callbacks. They run synchronously on the
// goroutine calling Observe.
func (ba *BitrateAdapter) SetCallbacks(bitRateCb func(uint32), healthCb func(PipelineHealth)) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.bitRateCb = bitRateCb
	ba.healthCb = healthCb
}

// Observe grades o and adapts the bitrate when the adaptation window has
// passed. It reports whether the bitrate changed significantly.
func (ba *BitrateAdapter) Observe(o Observation) bool {
	ba.mu.Lock()

	health := ba.assess(o)
	ba.history = append(ba.history, health)
	if len(ba.history) > 5 {
		ba.history = ba.history[1:]
	}

	var healthCb func(PipelineHealth)
	if health != ba.health {
		logrus.WithFields(logrus.Fields{
			"function":     "BitrateAdapter.Observe",
			"old_health":   ba.health.String(),
			"new_health":   health.String(),
			"loss_percent": o.LossPercent(),
			"jitter_ms":    o.Jitter.Milliseconds(),
		}).Info("Pipeline health changed")
		ba.health = health
		healthCb = ba.healthCb
	}

	changed, bitRate := ba.adaptLocked(health, o.At)
	bitRateCb := ba.bitRateCb
	ba.mu.Unlock()

	if healthCb != nil {
		healthCb(health)
	}
	if changed && bitRateCb != nil {
		bitRateCb(bitRate)
	}
	return changed
}

func (ba *BitrateAdapter) assess(o Observation) PipelineHealth {
	loss := o.LossPercent()

	byLoss := HealthExcellent
	switch {
	case loss >= ba.config.PoorLossThreshold:
		byLoss = HealthPoor
	case loss >= ba.config.FairLossThreshold:
		byLoss = HealthFair
	case loss >= ba.config.GoodLossThreshold:
		byLoss = HealthGood
	}

	byJitter := HealthExcellent
	switch {
	case o.Jitter >= ba.config.PoorJitterThreshold:
		byJitter = HealthPoor
	case o.Jitter >= ba.config.FairJitterThreshold:
		byJitter = HealthFair
	case o.Jitter >= ba.config.GoodJitterThreshold:
		byJitter = HealthGood
	}

	if byJitter > byLoss {
		return byJitter
	}
	return byLoss
}

// adaptLocked applies one adaptation step. The first observation only sets
// the baseline.
func (ba *BitrateAdapter) adaptLocked(health PipelineHealth, at time.Time) (bool, uint32) {
	if ba.lastAdaptation.IsZero() {
		ba.lastAdaptation = at
		return false, ba.bitRate
	}
	if at.Sub(ba.lastAdaptation) < ba.config.AdaptationWindow {
		return false, ba.bitRate
	}

	old := ba.bitRate
	switch health {
	case HealthPoor:
		ba.lastDecrease = at
		ba.bitRate = ba.clamp(uint32(float64(ba.bitRate) * ba.config.DecreaseMultiplier))
	case HealthFair:
		ba.bitRate = ba.clamp(uint32(float64(ba.bitRate) * 0.95))
	default:
		if ba.lastDecrease.IsZero() || at.Sub(ba.lastDecrease) >= ba.config.BackoffDuration {
			ba.bitRate = ba.clamp(uint32(float64(ba.bitRate) * (1.0 + ba.config.IncreaseStep)))
		}
	}

	if !ba.significant(old, ba.bitRate) {
		return false, ba.bitRate
	}
	ba.lastAdaptation = at
	ba.adaptations++

	logrus.WithFields(logrus.Fields{
		"function":    "BitrateAdapter.Observe",
		"health":      health.String(),
		"old_bps":     old,
		"new_bps":     ba.bitRate,
		"adaptations": ba.adaptations,
	}).Info("Bitrate adapted")
	return true, ba.bitRate
}

func (ba *BitrateAdapter) clamp(v uint32) uint32 {
	if ba.config.MinBitRate > 0 && v < ba.config.MinBitRate {
		return ba.config.MinBitRate
	}
	if ba.config.MaxBitRate > 0 && v > ba.config.MaxBitRate {
		return ba.config.MaxBitRate
	}
	return v
}

func (ba *BitrateAdapter) significant(old, updated uint32) bool {
	if old == updated {
		return false
	}
	diff := updated - old
	if old > updated {
		diff = old - updated
	}
	return diff >= ba.config.MinChangeBitRate
}

// BitRate returns the current target bitrate.
func (ba *BitrateAdapter) BitRate() uint32 {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.bitRate
}

// Health returns the most recent health grade.
func (ba *BitrateAdapter) Health() PipelineHealth {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.health
}

// Adaptations returns how many times the bitrate changed and when it last did.
func (ba *BitrateAdapter) Adaptations() (count uint64, last time.Time) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.adaptations, ba.lastAdaptation
}
