package av

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReportInterval is used when NewMetricsAggregator is given a
// non-positive interval.
const DefaultReportInterval = 5 * time.Second

const defaultMaxHistory = 60

// Counters is a set of named monotonic counters reported by one stage.
type Counters map[string]uint64

// Clone returns a copy of c.
func (c Counters) Clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StatsSource is implemented by pipeline stages that expose counters.
type StatsSource interface {
	Counters() Counters
}

// StatsSourceFunc adapts a function to StatsSource.
type StatsSourceFunc func() Counters

// Counters calls f.
func (f StatsSourceFunc) Counters() Counters { return f() }

// StageReport holds the counters of one stage.
type StageReport struct {
	// Totals are the counter values at collection time.
	Totals Counters
	// Delta is the change since the previous report. Counters that went
	// backwards, such as gauges, report zero.
	Delta Counters
}

// Report is a pipeline-wide metrics snapshot.
type Report struct {
	Sequence  uint64
	Stages    map[string]StageReport
	Timestamp time.Time
	Interval  time.Duration
}

// Total returns the total of counter in stage, or zero when either is unknown.
func (r Report) Total(stage, counter string) uint64 {
	return r.Stages[stage].Totals[counter]
}

// Delta returns the change of counter in stage since the previous report.
func (r Report) Delta(stage, counter string) uint64 {
	return r.Stages[stage].Delta[counter]
}

// StageNames returns the stage names in sorted order.
func (r Report) StageNames() []string {
	names := make([]string, 0, len(r.Stages))
	for name := range r.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricsAggregator polls the counters of registered pipeline stages and
// publishes periodic reports.
//
// Example usage:
//
//	aggregator := NewMetricsAggregator(5 * time.Second)
//	aggregator.OnReport(func(report Report) {
//	    fmt.Printf("decoded %d frames\n", report.Delta("decoder", "decoded"))
//	})
//	aggregator.Start()
//	defer aggregator.Stop()
type MetricsAggregator struct {
	reportInterval time.Duration

	mu      sync.RWMutex
	running bool

	sources  map[string]StatsSource
	previous map[string]Counters
	sequence uint64

	history    []Report
	maxHistory int

	reportCallbacks []func(report Report)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMetricsAggregator creates a new metrics aggregator.
//
// Parameters:
//   - reportInterval: How often to generate reports; DefaultReportInterval when not positive
//
// Returns:
//   - *MetricsAggregator: New aggregator instance, not yet running
func NewMetricsAggregator(reportInterval time.Duration) *MetricsAggregator {
	if reportInterval <= 0 {
		reportInterval = DefaultReportInterval
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewMetricsAggregator",
		"report_interval": reportInterval,
	}).Info("Metrics aggregator created")

	return &MetricsAggregator{
		reportInterval: reportInterval,
		sources:        make(map[string]StatsSource),
		previous:       make(map[string]Counters),
		maxHistory:     defaultMaxHistory,
	}
}

// Register adds a named stats source.
func (ma *MetricsAggregator) Register(name string, source StatsSource) error {
	if name == "" || source == nil {
		return fmt.Errorf("%w: name %q", ErrInvalidSource, name)
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, exists := ma.sources[name]; exists {
		return fmt.Errorf("%w: %s", ErrSourceExists, name)
	}
	ma.sources[name] = source

	logrus.WithFields(logrus.Fields{
		"function": "MetricsAggregator.Register",
		"source":   name,
	}).Debug("Stats source registered")
	return nil
}

// Unregister removes a stats source. It reports whether the source existed.
func (ma *MetricsAggregator) Unregister(name string) bool {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, exists := ma.sources[name]; !exists {
		return false
	}
	delete(ma.sources, name)
	delete(ma.previous, name)
	return true
}

// Sources returns the registered source names in sorted order.
func (ma *MetricsAggregator) Sources() []string {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	names := make([]string, 0, len(ma.sources))
	for name := range ma.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins the periodic report loop.
func (ma *MetricsAggregator) Start() error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if ma.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	ma.running = true
	ma.cancel = cancel
	ma.done = make(chan struct{})
	go ma.reportLoop(ctx, ma.done)

	logrus.WithFields(logrus.Fields{
		"function": "MetricsAggregator.Start",
		"interval": ma.reportInterval,
		"sources":  len(ma.sources),
	}).Info("Metrics aggregator started")
	return nil
}

// Stop halts the report loop and waits for it to exit. Calling Stop on a
// stopped aggregator does nothing.
func (ma *MetricsAggregator) Stop() {
	ma.mu.Lock()
	if !ma.running {
		ma.mu.Unlock()
		return
	}
	ma.running = false
	cancel, done := ma.cancel, ma.done
	ma.mu.Unlock()

	cancel()
	<-done

	logrus.WithFields(logrus.Fields{
		"function": "MetricsAggregator.Stop",
	}).Info("Metrics aggregator stopped")
}

// Run starts the aggregator and blocks until ctx is done, then stops it.
// It is meant to run under an errgroup next to the other pipeline loops.
func (ma *MetricsAggregator) Run(ctx context.Context) error {
	if err := ma.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	ma.Stop()
	return nil
}

// IsRunning returns whether the aggregator is currently active.
func (ma *MetricsAggregator) IsRunning() bool {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.running
}

// OnReport adds a callback for periodic reports. Callbacks run on the
// report goroutine in registration order.
func (ma *MetricsAggregator) OnReport(callback func(report Report)) {
	if callback == nil {
		return
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.reportCallbacks = append(ma.reportCallbacks, callback)

	logrus.WithFields(logrus.Fields{
		"function":  "MetricsAggregator.OnReport",
		"callbacks": len(ma.reportCallbacks),
	}).Debug("Report callback registered")
}

// Snapshot collects the current counters of every source. Deltas are
// relative to the last periodic report and the baseline is not advanced.
func (ma *MetricsAggregator) Snapshot() Report {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.collectLocked(ma.sequence)
}

// History returns the retained periodic reports, oldest first.
func (ma *MetricsAggregator) History() []Report {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return append([]Report(nil), ma.history...)
}

func (ma *MetricsAggregator) reportLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(ma.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ma.generateReport()
		}
	}
}

// generateReport collects a report, advances the delta baseline and
// dispatches the report to the callbacks.
func (ma *MetricsAggregator) generateReport() Report {
	ma.mu.Lock()
	ma.sequence++
	report := ma.collectLocked(ma.sequence)
	for name, stage := range report.Stages {
		ma.previous[name] = stage.Totals
	}
	ma.history = append(ma.history, report)
	if len(ma.history) > ma.maxHistory {
		ma.history = ma.history[1:]
	}
	callbacks := ma.reportCallbacks
	ma.mu.Unlock()

	for _, callback := range callbacks {
		callback(report)
	}

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"function": "MetricsAggregator.generateReport",
			"sequence": report.Sequence,
			"stages":   len(report.Stages),
		}).Debug("Generated metrics report")
	}
	return report
}

func (ma *MetricsAggregator) collectLocked(sequence uint64) Report {
	report := Report{
		Sequence:  sequence,
		Stages:    make(map[string]StageReport, len(ma.sources)),
		Timestamp: time.Now(),
		Interval:  ma.reportInterval,
	}

	for name, source := range ma.sources {
		totals := source.Counters().Clone()
		prev := ma.previous[name]
		delta := make(Counters, len(totals))
		for k, v := range totals {
			if p := prev[k]; v >= p {
				delta[k] = v - p
			}
		}
		report.Stages[name] = StageReport{Totals: totals, Delta: delta}
	}
	return report
}
