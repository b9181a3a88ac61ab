package codec

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/opd-ai/avio/av/media"
)

// Bounds for EncoderConfig.
const (
	MaxFrameRate = 240.0
)

// EncoderConfig is the device-facing encoder configuration.
type EncoderConfig struct {
	Width     int
	Height    int
	FrameRate float64
	BitRate   uint32

	// KeyframeInterval forces an independent frame every N frames. Zero
	// means only the first frame after (re)configuration is forced.
	KeyframeInterval int

	// Params carries backend specific settings.
	Params map[string]string
}

// Validate reports whether the configuration is usable.
func (c EncoderConfig) Validate() error {
	if err := media.ValidateDimensions(c.Width, c.Height); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.FrameRate <= 0 || c.FrameRate > MaxFrameRate {
		return fmt.Errorf("%w: frame rate %.2f outside (0, %.0f]", ErrInvalidConfig, c.FrameRate, MaxFrameRate)
	}
	if c.BitRate == 0 {
		return fmt.Errorf("%w: bit rate must be positive", ErrInvalidConfig)
	}
	if c.KeyframeInterval < 0 {
		return fmt.Errorf("%w: keyframe interval %d is negative", ErrInvalidConfig, c.KeyframeInterval)
	}
	return nil
}

// Equal reports whether two configurations are identical.
func (c EncoderConfig) Equal(o EncoderConfig) bool {
	return c.Width == o.Width &&
		c.Height == o.Height &&
		c.FrameRate == o.FrameRate &&
		c.BitRate == o.BitRate &&
		c.KeyframeInterval == o.KeyframeInterval &&
		maps.Equal(c.Params, o.Params)
}

// FrameEncoder is a synchronous codec backend driven by Encoder.
//
// Calls are made from a single goroutine. Configure is only called between
// frames.
type FrameEncoder interface {
	// Configure applies a validated configuration.
	Configure(cfg EncoderConfig) error
	// EncodeFrame compresses one sample. keyframe reports whether the output
	// is independently decodable.
	EncodeFrame(s *media.Sample, forceKeyframe bool) (data []byte, keyframe bool, err error)
	// Format describes the compressed stream produced under the current configuration.
	Format() *media.FormatDescriptor
	// Close releases backend resources.
	Close() error
}

// FrameDecoder is a synchronous codec backend driven by Decoder.
type FrameDecoder interface {
	// DecodeFrame decodes one compressed sample into zero or more raw
	// samples. Reordering backends may hold samples back and return them
	// from a later call.
	DecodeFrame(s *media.Sample) ([]*media.Sample, error)
	// Reset drops reference state, e.g. after a format change.
	Reset()
	// Close releases backend resources.
	Close() error
}

// DecoderFactory creates a backend for a negotiated format.
type DecoderFactory func(fd *media.FormatDescriptor) (FrameDecoder, error)

// Registry maps codec names to decoder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]DecoderFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]DecoderFactory)}
}

// DefaultRegistry is the process wide registry. Backend packages expose a
// Register function that adds their codecs to a registry.
var DefaultRegistry = NewRegistry()

// Register adds or replaces the factory for codec.
func (r *Registry) Register(codec string, f DecoderFactory) {
	r.mu.Lock()
	r.factories[codec] = f
	r.mu.Unlock()
}

// Lookup returns the factory for codec.
func (r *Registry) Lookup(codec string) (DecoderFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[codec]
	return f, ok
}

// Codecs returns the registered codec names in sorted order.
func (r *Registry) Codecs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
