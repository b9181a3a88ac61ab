package codec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// EncoderOptions tunes the asynchronous encode stage.
type EncoderOptions struct {
	// QueueSize bounds the number of frames waiting for the backend.
	QueueSize int
	// DropPolicy applies when the queue is full.
	DropPolicy DropPolicy
	// Name labels log entries, e.g. "video" or "audio".
	Name string
}

// NewEncoderOptions returns the default encoder options.
func NewEncoderOptions() EncoderOptions {
	return EncoderOptions{
		QueueSize:  8,
		DropPolicy: DropOldest,
		Name:       "video",
	}
}

// EncoderStats is a snapshot of encoder counters.
type EncoderStats struct {
	Submitted    uint64
	Encoded      uint64
	Dropped      uint64
	Failed       uint64
	Reconfigured uint64
}

// Encoder runs a FrameEncoder on its own goroutine behind a bounded queue.
//
// Encode and EncodeSample never block: when the queue is full the drop
// policy decides which frame is discarded and the drop is counted. Per-frame
// backend failures are logged and the frame is skipped.
type Encoder struct {
	backend FrameEncoder
	sink    media.FrameConsumer
	opts    EncoderOptions

	queue chan *media.Sample

	mu        sync.Mutex
	requested *EncoderConfig // latest accepted by Configure
	pending   *EncoderConfig // not yet applied by the worker
	closed    bool

	// Worker-owned state.
	applied       *EncoderConfig
	forceKeyframe bool
	sinceKeyframe int

	submitted    atomic.Uint64
	encoded      atomic.Uint64
	dropped      atomic.Uint64
	failed       atomic.Uint64
	reconfigured atomic.Uint64

	dropLimiter *rate.Limiter
	failLimiter *rate.Limiter

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewEncoder starts an encoder that hands compressed samples to sink.
func NewEncoder(backend FrameEncoder, sink media.FrameConsumer, opts EncoderOptions) *Encoder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = NewEncoderOptions().QueueSize
	}
	if sink == nil {
		sink = media.Discard
	}

	e := &Encoder{
		backend:     backend,
		sink:        sink,
		opts:        opts,
		queue:       make(chan *media.Sample, opts.QueueSize),
		dropLimiter: newDropLimiter(),
		failLimiter: newDropLimiter(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go e.run()

	logrus.WithFields(logrus.Fields{
		"function":    "NewEncoder",
		"stage":       opts.Name,
		"queue_size":  opts.QueueSize,
		"drop_policy": opts.DropPolicy.String(),
	}).Info("Encoder started")
	return e
}

// Configure validates cfg and schedules it for the next frame boundary.
// Repeating the most recently requested configuration is a no-op.
func (e *Encoder) Configure(cfg EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.Configure",
			"stage":    e.opts.Name,
			"error":    err.Error(),
		}).Warn("Rejecting encoder configuration")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEncoderClosed
	}
	if e.requested != nil && e.requested.Equal(cfg) {
		return nil
	}

	c := cfg
	e.requested = &c
	e.pending = &c

	logrus.WithFields(logrus.Fields{
		"function":   "Encoder.Configure",
		"stage":      e.opts.Name,
		"width":      cfg.Width,
		"height":     cfg.Height,
		"frame_rate": cfg.FrameRate,
		"bit_rate":   cfg.BitRate,
	}).Info("Encoder configuration scheduled")
	return nil
}

// Config returns the most recently requested configuration.
func (e *Encoder) Config() (EncoderConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requested == nil {
		return EncoderConfig{}, false
	}
	return *e.requested, true
}

// Encode submits a raw frame with its timing.
func (e *Encoder) Encode(img *media.VideoFrame, pts, duration time.Duration) error {
	if img == nil {
		return ErrNilSample
	}
	return e.EncodeSample(media.NewVideoSample(img, pts, duration))
}

// EncodeSample submits a raw sample. It returns immediately.
func (e *Encoder) EncodeSample(s *media.Sample) error {
	if s == nil {
		return ErrNilSample
	}

	e.mu.Lock()
	closed, configured := e.closed, e.requested != nil
	e.mu.Unlock()

	if closed {
		return ErrEncoderClosed
	}
	if !configured {
		return ErrNotConfigured
	}

	e.submitted.Add(1)
	if offer(e.queue, s, e.opts.DropPolicy) {
		total := e.dropped.Add(1)
		if e.dropLimiter.Allow() {
			logrus.WithFields(logrus.Fields{
				"function":      "Encoder.EncodeSample",
				"stage":         e.opts.Name,
				"policy":        e.opts.DropPolicy.String(),
				"dropped_total": total,
			}).Warn("Encoder queue saturated, frame dropped")
		}
	}
	return nil
}

func (e *Encoder) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case s := <-e.queue:
			e.applyPending()
			e.encodeOne(s)
		}
	}
}

// applyPending installs a configuration between frames.
func (e *Encoder) applyPending() {
	e.mu.Lock()
	cfg := e.pending
	e.pending = nil
	e.mu.Unlock()

	if cfg == nil {
		return
	}
	if err := e.backend.Configure(*cfg); err != nil {
		e.failed.Add(1)
		// A later Configure may retry the same values.
		e.mu.Lock()
		if e.requested == cfg {
			e.requested = e.applied
		}
		e.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "Encoder.applyPending",
			"stage":    e.opts.Name,
			"error":    err.Error(),
		}).Error("Backend rejected configuration, keeping previous")
		return
	}

	e.applied = cfg
	e.forceKeyframe = true
	e.reconfigured.Add(1)

	logrus.WithFields(logrus.Fields{
		"function": "Encoder.applyPending",
		"stage":    e.opts.Name,
		"width":    cfg.Width,
		"height":   cfg.Height,
	}).Debug("Encoder configuration applied")
}

func (e *Encoder) encodeOne(s *media.Sample) {
	if e.applied == nil {
		total := e.failed.Add(1)
		if e.failLimiter.Allow() {
			logrus.WithFields(logrus.Fields{
				"function":     "Encoder.encodeOne",
				"stage":        e.opts.Name,
				"pts":          s.PTS(),
				"failed_total": total,
			}).Warn("No configuration applied, frame skipped")
		}
		return
	}

	force := e.forceKeyframe ||
		(e.applied.KeyframeInterval > 0 && e.sinceKeyframe >= e.applied.KeyframeInterval)

	data, keyframe, err := e.backend.EncodeFrame(s, force)
	if err != nil {
		e.failed.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Encoder.encodeOne",
			"stage":    e.opts.Name,
			"pts":      s.PTS(),
			"error":    err.Error(),
		}).Warn("Frame encode failed, skipping")
		return
	}

	if keyframe {
		e.forceKeyframe = false
		e.sinceKeyframe = 1
	} else {
		e.sinceKeyframe++
	}

	opts := []media.SampleOption{
		media.WithDependsOnOthers(!keyframe),
		media.WithFormat(e.backend.Format()),
	}
	if s.HasDecodeTimestamp() {
		opts = append(opts, media.WithDecodeTimestamp(s.DecodeTimestamp()))
	}
	out := media.NewSample(s.Type, data, s.PTS(), s.Duration(), opts...)

	e.encoded.Add(1)
	e.sink.ConsumeSample(out)
}

// Stats returns a snapshot of the encoder counters.
func (e *Encoder) Stats() EncoderStats {
	return EncoderStats{
		Submitted:    e.submitted.Load(),
		Encoded:      e.encoded.Load(),
		Dropped:      e.dropped.Load(),
		Failed:       e.failed.Load(),
		Reconfigured: e.reconfigured.Load(),
	}
}

// Close stops the worker and closes the backend. Queued frames are
// discarded. Close is idempotent.
func (e *Encoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		close(e.stop)
		<-e.done
		err = e.backend.Close()

		logrus.WithFields(logrus.Fields{
			"function": "Encoder.Close",
			"stage":    e.opts.Name,
			"encoded":  e.encoded.Load(),
			"dropped":  e.dropped.Load(),
		}).Info("Encoder closed")
	})
	return err
}
