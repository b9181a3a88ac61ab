package av

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSource struct {
	mu     sync.Mutex
	values Counters
}

func newCounterSource(values Counters) *counterSource {
	return &counterSource{values: values}
}

func (c *counterSource) set(name string, v uint64) {
	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
}

func (c *counterSource) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

// TestNewMetricsAggregator verifies basic aggregator creation.
func TestNewMetricsAggregator(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"explicit", 3 * time.Second, 3 * time.Second},
		{"zero uses default", 0, DefaultReportInterval},
		{"negative uses default", -time.Second, DefaultReportInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aggregator := NewMetricsAggregator(tt.interval)
			require.NotNil(t, aggregator)
			assert.Equal(t, tt.want, aggregator.reportInterval)
			assert.False(t, aggregator.IsRunning())
			assert.Empty(t, aggregator.Sources())
		})
	}
}

func TestMetricsAggregator_Register(t *testing.T) {
	aggregator := NewMetricsAggregator(time.Second)
	src := newCounterSource(Counters{"frames": 1})

	require.NoError(t, aggregator.Register("encoder", src))
	require.NoError(t, aggregator.Register("decoder", src))
	assert.ErrorIs(t, aggregator.Register("encoder", src), ErrSourceExists)
	assert.ErrorIs(t, aggregator.Register("", src), ErrInvalidSource)
	assert.ErrorIs(t, aggregator.Register("queue", nil), ErrInvalidSource)

	assert.Equal(t, []string{"decoder", "encoder"}, aggregator.Sources())

	assert.True(t, aggregator.Unregister("decoder"))
	assert.False(t, aggregator.Unregister("decoder"))
	assert.Equal(t, []string{"encoder"}, aggregator.Sources())
}

// TestAggregatorStartStop verifies aggregator lifecycle.
func TestAggregatorStartStop(t *testing.T) {
	aggregator := NewMetricsAggregator(time.Second)

	require.NoError(t, aggregator.Start())
	assert.True(t, aggregator.IsRunning())
	assert.ErrorIs(t, aggregator.Start(), ErrAlreadyRunning)

	aggregator.Stop()
	assert.False(t, aggregator.IsRunning())
	aggregator.Stop()

	require.NoError(t, aggregator.Start(), "restart after stop")
	aggregator.Stop()
}

func TestMetricsAggregator_ReportDeltas(t *testing.T) {
	aggregator := NewMetricsAggregator(time.Second)
	encoder := newCounterSource(Counters{"encoded": 10, "buffered": 4})
	require.NoError(t, aggregator.Register("encoder", encoder))

	first := aggregator.generateReport()
	assert.EqualValues(t, 1, first.Sequence)
	assert.EqualValues(t, 10, first.Total("encoder", "encoded"))
	assert.EqualValues(t, 10, first.Delta("encoder", "encoded"))

	encoder.set("encoded", 25)
	encoder.set("buffered", 1)

	snapshot := aggregator.Snapshot()
	assert.EqualValues(t, 15, snapshot.Delta("encoder", "encoded"))
	assert.EqualValues(t, 1, snapshot.Sequence, "snapshot does not advance the sequence")

	second := aggregator.generateReport()
	assert.EqualValues(t, 2, second.Sequence)
	assert.EqualValues(t, 25, second.Total("encoder", "encoded"))
	assert.EqualValues(t, 15, second.Delta("encoder", "encoded"))
	assert.EqualValues(t, 0, second.Delta("encoder", "buffered"), "gauge went down")
	assert.EqualValues(t, 0, second.Total("missing", "encoded"))

	history := aggregator.History()
	require.Len(t, history, 2)
	assert.EqualValues(t, 1, history[0].Sequence)
	assert.Equal(t, []string{"encoder"}, second.StageNames())
}

func TestMetricsAggregator_HistoryIsBounded(t *testing.T) {
	aggregator := NewMetricsAggregator(time.Second)
	aggregator.maxHistory = 3

	for i := 0; i < 5; i++ {
		aggregator.generateReport()
	}

	history := aggregator.History()
	require.Len(t, history, 3)
	assert.EqualValues(t, 3, history[0].Sequence)
	assert.EqualValues(t, 5, history[2].Sequence)
}

func TestMetricsAggregator_PeriodicCallback(t *testing.T) {
	aggregator := NewMetricsAggregator(5 * time.Millisecond)
	require.NoError(t, aggregator.Register("queue", StatsSourceFunc(func() Counters {
		return Counters{"delivered": 3}
	})))

	var reports atomic.Int32
	var total atomic.Uint64
	aggregator.OnReport(func(r Report) {
		reports.Add(1)
		total.Store(r.Total("queue", "delivered"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- aggregator.Run(ctx) }()

	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 3, total.Load())

	cancel()
	require.NoError(t, <-errCh)
	assert.False(t, aggregator.IsRunning())
}

func TestMetricsAggregator_OnReportKeepsEveryCallback(t *testing.T) {
	aggregator := NewMetricsAggregator(time.Second)
	var first, second int
	aggregator.OnReport(func(Report) { first++ })
	aggregator.OnReport(nil)
	aggregator.OnReport(func(Report) { second++ })

	aggregator.generateReport()
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestCountersClone(t *testing.T) {
	c := Counters{"a": 1}
	clone := c.Clone()
	clone["a"] = 2
	assert.EqualValues(t, 1, c["a"])
}
