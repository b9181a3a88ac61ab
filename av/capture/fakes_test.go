package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedSample struct {
	sample *media.Sample
	mt     media.MediaType
}

type recorderLog struct {
	mu      sync.Mutex
	entries []recordedSample
	err     error
}

func (r *recorderLog) Record(s *media.Sample, mt media.MediaType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedSample{sample: s, mt: mt})
	return r.err
}

func (r *recorderLog) all() []recordedSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSample(nil), r.entries...)
}

type encoderLog struct {
	mu      sync.Mutex
	samples []*media.Sample
	err     error
}

func (e *encoderLog) EncodeSample(s *media.Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.samples = append(e.samples, s)
	return nil
}

func (e *encoderLog) all() []*media.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*media.Sample(nil), e.samples...)
}

// resizableEncoder also exposes the codec.Encoder configuration methods.
type resizableEncoder struct {
	encoderLog
	cfg        codec.EncoderConfig
	configured []codec.EncoderConfig
}

func (e *resizableEncoder) Config() (codec.EncoderConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, true
}

func (e *resizableEncoder) Configure(cfg codec.EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.configured = append(e.configured, cfg)
	return nil
}

type drawableLog struct {
	mu           sync.Mutex
	draws        []*media.VideoFrame
	renders      int
	renderErr    error
	orientations []Orientation
	positions    []Position
}

func (d *drawableLog) Draw(img *media.VideoFrame) {
	d.mu.Lock()
	d.draws = append(d.draws, img)
	d.mu.Unlock()
}

func (d *drawableLog) Render(img *media.VideoFrame, into *media.Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renders++
	if d.renderErr != nil {
		return d.renderErr
	}
	into.ReplaceImage(img)
	return nil
}

func (d *drawableLog) SetOrientation(o Orientation) {
	d.mu.Lock()
	d.orientations = append(d.orientations, o)
	d.mu.Unlock()
}

func (d *drawableLog) SetPosition(p Position) {
	d.mu.Lock()
	d.positions = append(d.positions, p)
	d.mu.Unlock()
}

func (d *drawableLog) drawCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.draws)
}

func newCamera(t *testing.T, id string, position Position) *SimDevice {
	t.Helper()
	d, err := NewSimDevice(NewSimCameraConfig(id, position))
	require.NoError(t, err)
	return d
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *MemorySession) {
	t.Helper()
	session := NewMemorySession()
	cfg := NewConfig()
	cfg.Queue.TimeProvider = newManualClock()
	return NewOrchestrator(session, cfg), session
}

func uniformFrame(luma byte) *media.VideoFrame {
	f := media.NewVideoFrame(16, 16)
	for i := range f.Y {
		f.Y[i] = luma
	}
	return f
}

func warnings(hook *logtest.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
