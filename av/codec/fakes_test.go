package codec

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/media"
)

var (
	errBadUnit   = errors.New("bad unit")
	errBadConfig = errors.New("bad config")
)

// fakeEncoder records the configuration active for every frame.
type fakeEncoder struct {
	mu        sync.Mutex
	cfg       EncoderConfig
	frameCfgs []EncoderConfig
	failPTS   map[time.Duration]bool
	closed    bool

	// reject fails the next reject Configure calls.
	reject     int
	configures int

	// gate, when set, blocks EncodeFrame until a value is received.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{failPTS: make(map[time.Duration]bool)}
}

func (f *fakeEncoder) Configure(cfg EncoderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configures++
	if f.reject > 0 {
		f.reject--
		return errBadConfig
	}
	f.cfg = cfg
	return nil
}

func (f *fakeEncoder) rejectNext(n int) {
	f.mu.Lock()
	f.reject = n
	f.mu.Unlock()
}

func (f *fakeEncoder) configureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configures
}

func (f *fakeEncoder) EncodeFrame(s *media.Sample, force bool) ([]byte, bool, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPTS[s.PTS()] {
		return nil, false, errBadUnit
	}
	f.frameCfgs = append(f.frameCfgs, f.cfg)
	return []byte{byte(s.PTS() / time.Millisecond)}, force, nil
}

func (f *fakeEncoder) Format() *media.FormatDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return media.NewVideoFormat("fake", f.cfg.Width, f.cfg.Height)
}

func (f *fakeEncoder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEncoder) configs() []EncoderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EncoderConfig(nil), f.frameCfgs...)
}

// fakeDecoder returns samples in pairs with the second unit first, emulating
// a codec that completes out of presentation order. Units whose first byte
// is 0xFF are malformed.
type fakeDecoder struct {
	format *media.FormatDescriptor
	held   *media.Sample
	resets int
	closed bool
}

func (f *fakeDecoder) DecodeFrame(s *media.Sample) ([]*media.Sample, error) {
	if len(s.Data) > 0 && s.Data[0] == 0xFF {
		return nil, errBadUnit
	}
	out := media.NewVideoSample(media.NewVideoFrame(16, 16), s.PTS(), s.Duration(), media.WithFormat(f.format))
	if f.held == nil {
		f.held = out
		return nil, nil
	}
	first := f.held
	f.held = nil
	return []*media.Sample{out, first}, nil
}

func (f *fakeDecoder) Reset() {
	f.held = nil
	f.resets++
}

func (f *fakeDecoder) Close() error {
	f.closed = true
	return nil
}

// recordingSink collects samples delivered by a stage.
type recordingSink struct {
	mu      sync.Mutex
	samples []*media.Sample
}

func (r *recordingSink) ConsumeSample(s *media.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *recordingSink) pts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.samples))
	for i, s := range r.samples {
		out[i] = s.PTS()
	}
	return out
}

func (r *recordingSink) get(i int) *media.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples[i]
}
