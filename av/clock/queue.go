package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a ClockedQueue.
type State int32

const (
	// StateIdle means no sample has been enqueued yet.
	StateIdle State = iota
	// StateRunning means the anchor is set and samples are being scheduled.
	StateRunning
	// StateDraining means intake is closed and buffered samples are finishing.
	StateDraining
	// StateStopped is terminal.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options tunes a ClockedQueue.
type Options struct {
	// Latency is added to every ready-at time so samples that complete
	// decoding out of order within this window are still delivered in order.
	Latency time.Duration

	// Tolerance is the scheduling slack: a sample may be delivered up to
	// Tolerance before its ready-at time.
	Tolerance time.Duration

	// MaxHeadWait bounds how long a head sample waits past its ready-at time
	// for a missing predecessor. Zero disables gap detection.
	MaxHeadWait time.Duration

	// FlushOnStop delivers buffered samples during Draining instead of
	// discarding them.
	FlushOnStop bool

	// TickInterval is the period of the driver started by Start.
	TickInterval time.Duration

	// TimeProvider supplies the wall clock. Nil uses the package default.
	TimeProvider TimeProvider
}

// NewOptions returns the default queue options.
func NewOptions() Options {
	return Options{
		Latency:      50 * time.Millisecond,
		Tolerance:    2 * time.Millisecond,
		MaxHeadWait:  100 * time.Millisecond,
		FlushOnStop:  true,
		TickInterval: 5 * time.Millisecond,
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued  uint64
	Delivered uint64
	Late      uint64
	Skipped   uint64
	Discarded uint64
	Buffered  int
	State     State
}

type entry struct {
	sample  *media.Sample
	readyAt time.Time
}

// ClockedQueue releases samples to a consumer in presentation order, paced
// against a wall clock anchored at the first enqueued sample.
type ClockedQueue struct {
	consumer media.FrameConsumer
	opts     Options
	tp       TimeProvider

	// deliverMu serializes Poll calls so batches reach the consumer in order.
	deliverMu sync.Mutex

	mu         sync.Mutex
	state      State
	entries    []entry
	anchorWall time.Time
	anchorPTS  time.Duration

	hasLast      bool
	lastPTS      time.Duration
	lastDuration time.Duration

	driverStarted bool
	stats         Stats

	done     chan struct{}
	doneOnce sync.Once
}

// NewClockedQueue creates an idle queue that delivers to consumer.
func NewClockedQueue(consumer media.FrameConsumer, opts Options) *ClockedQueue {
	if consumer == nil {
		consumer = media.Discard
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = NewOptions().TickInterval
	}
	return &ClockedQueue{
		consumer: consumer,
		opts:     opts,
		tp:       getTimeProvider(opts.TimeProvider),
		done:     make(chan struct{}),
	}
}

// Enqueue inserts s in timestamp order. It returns false when the queue no
// longer accepts samples or when s is not after the last delivered sample.
func (q *ClockedQueue) Enqueue(s *media.Sample) bool {
	if s == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	switch q.state {
	case StateDraining, StateStopped:
		return false
	case StateIdle:
		q.anchorWall = q.tp.Now()
		q.anchorPTS = s.PTS()
		q.state = StateRunning

		logrus.WithFields(logrus.Fields{
			"function":   "ClockedQueue.Enqueue",
			"anchor_pts": q.anchorPTS,
			"latency":    q.opts.Latency,
		}).Info("Clock anchored, queue running")
	}

	pts := s.PTS()
	if q.hasLast && pts <= q.lastPTS {
		q.stats.Late++
		logrus.WithFields(logrus.Fields{
			"function":  "ClockedQueue.Enqueue",
			"pts":       pts,
			"last_pts":  q.lastPTS,
			"late_seen": q.stats.Late,
		}).Debug("Rejecting sample behind the delivery cursor")
		return false
	}

	e := entry{
		sample:  s,
		readyAt: q.anchorWall.Add(q.opts.Latency + (pts - q.anchorPTS)),
	}
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].sample.PTS() > pts
	})
	q.entries = append(q.entries, entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e

	q.stats.Enqueued++
	return true
}

// Poll delivers every sample that is due, in order, and returns how many
// were delivered. The consumer runs on the calling goroutine.
func (q *ClockedQueue) Poll() int {
	q.deliverMu.Lock()
	defer q.deliverMu.Unlock()

	batch, finished := q.collectDue()
	for _, s := range batch {
		q.consumer.ConsumeSample(s)
	}
	if finished {
		q.finish()
	}
	return len(batch)
}

// collectDue pops due entries and advances the delivery cursor.
func (q *ClockedQueue) collectDue() ([]*media.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateRunning && q.state != StateDraining {
		return nil, false
	}

	now := q.tp.Now()
	var batch []*media.Sample

	for len(q.entries) > 0 {
		head := q.entries[0]
		if now.Before(head.readyAt.Add(-q.opts.Tolerance)) {
			break
		}
		if q.headHasGap(head) {
			if now.Before(head.readyAt.Add(q.opts.MaxHeadWait)) {
				break
			}
			q.stats.Skipped++
			logrus.WithFields(logrus.Fields{
				"function": "ClockedQueue.Poll",
				"pts":      head.sample.PTS(),
				"last_pts": q.lastPTS,
				"waited":   now.Sub(head.readyAt),
			}).Warn("Head stalled on missing sample, skipping gap")
		}

		q.entries[0] = entry{}
		q.entries = q.entries[1:]
		q.hasLast = true
		q.lastPTS = head.sample.PTS()
		q.lastDuration = head.sample.Duration()
		q.stats.Delivered++
		batch = append(batch, head.sample)
	}

	if q.state == StateDraining && len(q.entries) == 0 {
		q.state = StateStopped
		logrus.WithFields(logrus.Fields{
			"function":  "ClockedQueue.Poll",
			"delivered": q.stats.Delivered,
		}).Info("Queue drained")
		return batch, true
	}
	return batch, false
}

// headHasGap reports whether head is separated from the last delivered
// sample by more than the last sample's duration. Intake is closed while
// draining, so gaps are never waited on then.
func (q *ClockedQueue) headHasGap(head entry) bool {
	if q.opts.MaxHeadWait <= 0 || q.state == StateDraining || !q.hasLast || q.lastDuration < 0 {
		return false
	}
	expected := q.lastPTS + q.lastDuration
	return head.sample.PTS() > expected+q.opts.Tolerance
}

// Drain closes intake. With FlushOnStop the buffered samples keep being
// delivered by Poll and the queue stops once empty; otherwise they are
// discarded and the queue stops immediately.
func (q *ClockedQueue) Drain() {
	q.mu.Lock()
	stopped := false

	switch q.state {
	case StateIdle:
		q.state = StateStopped
		stopped = true
	case StateRunning:
		if q.opts.FlushOnStop && len(q.entries) > 0 {
			q.state = StateDraining
		} else {
			q.discardLocked()
			q.state = StateStopped
			stopped = true
		}
	}
	buffered := len(q.entries)
	state := q.state
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ClockedQueue.Drain",
		"flush":    q.opts.FlushOnStop,
		"buffered": buffered,
		"state":    state.String(),
	}).Info("Queue draining")

	if stopped {
		q.finish()
	}
}

// Stop discards buffered samples and moves to Stopped.
func (q *ClockedQueue) Stop() {
	q.mu.Lock()
	q.discardLocked()
	q.state = StateStopped
	q.mu.Unlock()
	q.finish()
}

func (q *ClockedQueue) discardLocked() {
	q.stats.Discarded += uint64(len(q.entries))
	q.entries = nil
}

func (q *ClockedQueue) finish() {
	q.doneOnce.Do(func() { close(q.done) })
}

// Done is closed when the queue reaches Stopped.
func (q *ClockedQueue) Done() <-chan struct{} {
	return q.done
}

// Wait blocks until the queue stops or ctx ends.
func (q *ClockedQueue) Wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the ticker driven delivery goroutine. It exits when the
// queue stops.
func (q *ClockedQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateStopped {
		return ErrStopped
	}
	if q.driverStarted {
		return ErrAlreadyRunning
	}
	q.driverStarted = true

	ticker := q.tp.NewTicker(q.opts.TickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Poll()
			case <-q.done:
				return
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":      "ClockedQueue.Start",
		"tick_interval": q.opts.TickInterval,
	}).Debug("Delivery driver started")
	return nil
}

// State returns the current lifecycle state.
func (q *ClockedQueue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of buffered samples.
func (q *ClockedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns a snapshot of the queue counters.
func (q *ClockedQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Buffered = len(q.entries)
	s.State = q.state
	return s
}
