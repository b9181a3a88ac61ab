package codec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DecoderOptions tunes the asynchronous decode stage.
type DecoderOptions struct {
	QueueSize  int
	DropPolicy DropPolicy
	Name       string

	// FormatCacheSize bounds the cache of parsed parameter sets.
	FormatCacheSize int

	// OnFatal is called from the worker when renegotiating an in-band
	// format fails. The stream cannot continue until SetFormat succeeds.
	OnFatal func(err error)
}

// NewDecoderOptions returns the default decoder options.
func NewDecoderOptions() DecoderOptions {
	return DecoderOptions{
		QueueSize:       16,
		DropPolicy:      DropOldest,
		Name:            "video",
		FormatCacheSize: 8,
	}
}

// DecoderStats is a snapshot of decoder counters.
type DecoderStats struct {
	Submitted    uint64
	Decoded      uint64
	Dropped      uint64
	Malformed    uint64
	Renegotiated uint64
}

// Decoder runs a FrameDecoder chosen by format on its own goroutine and
// reports every decoded sample to a delegate.
type Decoder struct {
	registry *Registry
	delegate media.FrameConsumer
	opts     DecoderOptions

	queue chan *media.Sample

	// mu guards the negotiated format and backend. The worker holds it for
	// the duration of one DecodeFrame call so SetFormat lands between units.
	mu      sync.Mutex
	format  *media.FormatDescriptor
	backend FrameDecoder
	closed  bool

	cacheMu sync.Mutex
	formats *lru.Cache

	submitted    atomic.Uint64
	decoded      atomic.Uint64
	dropped      atomic.Uint64
	malformed    atomic.Uint64
	renegotiated atomic.Uint64

	dropLimiter *rate.Limiter

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDecoder starts a decoder that looks up backends in registry and hands
// decoded samples to delegate.
func NewDecoder(registry *Registry, delegate media.FrameConsumer, opts DecoderOptions) *Decoder {
	defaults := NewDecoderOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.FormatCacheSize <= 0 {
		opts.FormatCacheSize = defaults.FormatCacheSize
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	if delegate == nil {
		delegate = media.Discard
	}

	d := &Decoder{
		registry:    registry,
		delegate:    delegate,
		opts:        opts,
		queue:       make(chan *media.Sample, opts.QueueSize),
		formats:     lru.New(opts.FormatCacheSize),
		dropLimiter: newDropLimiter(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go d.run()

	logrus.WithFields(logrus.Fields{
		"function":   "NewDecoder",
		"stage":      opts.Name,
		"queue_size": opts.QueueSize,
		"codecs":     registry.Codecs(),
	}).Info("Decoder started")
	return d
}

// SetFormat negotiates fd synchronously. When fd differs from the current
// format the backend is recreated, which discards all reference state.
// Failures wrap ErrFormatNegotiation and are fatal for the stream.
func (d *Decoder) SetFormat(fd *media.FormatDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDecoderClosed
	}
	return d.negotiate(fd)
}

// Format returns the negotiated format or nil.
func (d *Decoder) Format() *media.FormatDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

// negotiate must be called with mu held.
func (d *Decoder) negotiate(fd *media.FormatDescriptor) error {
	resolved, err := d.resolveFormat(fd)
	if err != nil {
		return d.negotiationFailed(fd, err)
	}
	if d.format.Equal(resolved) {
		return nil
	}

	factory, ok := d.registry.Lookup(resolved.Codec)
	if !ok {
		return d.negotiationFailed(resolved, fmt.Errorf("no decoder registered for codec %q", resolved.Codec))
	}
	backend, err := factory(resolved)
	if err != nil {
		return d.negotiationFailed(resolved, err)
	}

	if d.backend != nil {
		d.backend.Reset()
		if err := d.backend.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Decoder.negotiate",
				"stage":    d.opts.Name,
				"error":    err.Error(),
			}).Warn("Closing previous backend failed")
		}
		d.renegotiated.Add(1)
	}
	d.backend = backend
	d.format = resolved

	logrus.WithFields(logrus.Fields{
		"function": "Decoder.negotiate",
		"stage":    d.opts.Name,
		"format":   resolved.String(),
	}).Info("Decoder format negotiated")
	return nil
}

func (d *Decoder) negotiationFailed(fd *media.FormatDescriptor, err error) error {
	logrus.WithFields(logrus.Fields{
		"function": "Decoder.negotiate",
		"stage":    d.opts.Name,
		"format":   fd.String(),
		"error":    err.Error(),
	}).Error("Format negotiation failed")
	return fmt.Errorf("%w: %v", ErrFormatNegotiation, err)
}

// resolveFormat validates fd and, for H.264, fills in the picture size from
// the SPS. Parsed parameter sets are cached.
func (d *Decoder) resolveFormat(fd *media.FormatDescriptor) (*media.FormatDescriptor, error) {
	if fd == nil {
		return nil, media.ErrInvalidFormat
	}
	if err := fd.Validate(); err != nil {
		return nil, err
	}
	if fd.Codec != media.CodecH264 {
		return fd, nil
	}

	key := string(fd.SPS) + "\x00" + string(fd.PPS)

	d.cacheMu.Lock()
	cached, ok := d.formats.Get(key)
	d.cacheMu.Unlock()
	if ok {
		return cached.(*media.FormatDescriptor), nil
	}

	parsed, err := media.ParseH264Format(fd.SPS, fd.PPS)
	if err != nil {
		return nil, err
	}
	parsed.Params = fd.Params

	d.cacheMu.Lock()
	d.formats.Add(key, parsed)
	d.cacheMu.Unlock()
	return parsed, nil
}

// Decode queues a compressed sample. It returns immediately; results reach
// the delegate in completion order.
func (d *Decoder) Decode(s *media.Sample) error {
	if s == nil {
		return ErrNilSample
	}

	d.mu.Lock()
	closed, hasFormat := d.closed, d.format != nil
	d.mu.Unlock()

	if closed {
		return ErrDecoderClosed
	}
	if !hasFormat && s.Format() == nil {
		return ErrNoFormat
	}

	d.submitted.Add(1)
	if offer(d.queue, s, d.opts.DropPolicy) {
		total := d.dropped.Add(1)
		if d.dropLimiter.Allow() {
			logrus.WithFields(logrus.Fields{
				"function":      "Decoder.Decode",
				"stage":         d.opts.Name,
				"policy":        d.opts.DropPolicy.String(),
				"dropped_total": total,
			}).Warn("Decoder queue saturated, unit dropped")
		}
	}
	return nil
}

// ConsumeSample lets the decoder sit directly behind a FrameConsumer
// producer. Errors are logged.
func (d *Decoder) ConsumeSample(s *media.Sample) {
	if err := d.Decode(s); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decoder.ConsumeSample",
			"stage":    d.opts.Name,
			"error":    err.Error(),
		}).Debug("Decode rejected")
	}
}

func (d *Decoder) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case s := <-d.queue:
			for _, out := range d.decodeOne(s) {
				d.decoded.Add(1)
				d.delegate.ConsumeSample(out)
			}
		}
	}
}

func (d *Decoder) decodeOne(s *media.Sample) []*media.Sample {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	if in := s.Format(); in != nil && !in.Equal(d.format) {
		if err := d.negotiate(in); err != nil {
			if d.opts.OnFatal != nil {
				d.opts.OnFatal(err)
			}
			return nil
		}
	}
	if d.backend == nil {
		return nil
	}

	if err := limits.ValidateEncodedFrame(s.Data); err != nil {
		d.markMalformed(s, err)
		return nil
	}

	out, err := d.backend.DecodeFrame(s)
	if err != nil {
		d.markMalformed(s, err)
		return nil
	}
	return out
}

func (d *Decoder) markMalformed(s *media.Sample, err error) {
	total := d.malformed.Add(1)
	logrus.WithFields(logrus.Fields{
		"function":        "Decoder.decodeOne",
		"stage":           d.opts.Name,
		"pts":             s.PTS(),
		"malformed_total": total,
		"error":           err.Error(),
	}).Warn("Dropping malformed unit")
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		Submitted:    d.submitted.Load(),
		Decoded:      d.decoded.Load(),
		Dropped:      d.dropped.Load(),
		Malformed:    d.malformed.Load(),
		Renegotiated: d.renegotiated.Load(),
	}
}

// Close stops the worker and closes the backend. Close is idempotent.
func (d *Decoder) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.stop)
		<-d.done

		d.mu.Lock()
		if d.backend != nil {
			err = d.backend.Close()
		}
		d.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Decoder.Close",
			"stage":    d.opts.Name,
			"decoded":  d.decoded.Load(),
		}).Info("Decoder closed")
	})
	return err
}
