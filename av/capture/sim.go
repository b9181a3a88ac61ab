package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/video"
	"github.com/sirupsen/logrus"
)

// FrameSource is implemented by simulated inputs that a MemorySession can
// pump while running.
type FrameSource interface {
	NextFrame() *media.VideoFrame
	// NextAudio returns d worth of audio, or nil when the source has none.
	NextAudio(d time.Duration) *media.AudioBlock
	FrameInterval() time.Duration
}

// SimDeviceConfig describes the capabilities of a SimDevice.
type SimDeviceConfig struct {
	ID       string
	Position Position
	Width    uint16
	Height   uint16

	HasTorch                bool
	FocusModes              []FocusMode
	ExposureModes           []ExposureMode
	FocusPointOfInterest    bool
	ExposurePointOfInterest bool
	MaxZoom                 float64
	FrameRateRanges         []FrameRateRange

	// AudioSampleRate enables a 440Hz test tone when positive.
	AudioSampleRate int
	// AudioChannels is 1 or 2; the tone is duplicated across channels.
	AudioChannels int
}

// NewSimCameraConfig returns a typical camera: 640x480, 1-30 and 60 fps,
// full focus and exposure control, with a torch and 8x zoom on the back.
func NewSimCameraConfig(id string, position Position) SimDeviceConfig {
	cfg := SimDeviceConfig{
		ID:                      id,
		Position:                position,
		Width:                   640,
		Height:                  480,
		FocusModes:              []FocusMode{FocusLocked, FocusAuto, FocusContinuous},
		ExposureModes:           []ExposureMode{ExposureLocked, ExposureAuto, ExposureContinuous},
		FocusPointOfInterest:    true,
		ExposurePointOfInterest: true,
		MaxZoom:                 2,
		FrameRateRanges:         []FrameRateRange{{Min: 1, Max: 30}, {Min: 60, Max: 60}},
		AudioSampleRate:         48000,
		AudioChannels:           1,
	}
	if position == PositionBack {
		cfg.HasTorch = true
		cfg.MaxZoom = 8
	}
	return cfg
}

// SimDevice is an in-memory camera. It records every configuration call
// and counts setter calls made without the configuration lock.
type SimDevice struct {
	cfg     SimDeviceConfig
	pattern *video.TestPattern

	mu             sync.Mutex
	locked         bool
	failLock       bool
	calls          []string
	unlockedWrites int

	torch         TorchMode
	focus         FocusMode
	focusPoint    Point
	exposure      ExposureMode
	exposurePoint Point
	zoom          float64
	minDuration   time.Duration
	maxDuration   time.Duration
	tonePhase     float64
}

// NewSimDevice creates a simulated camera.
func NewSimDevice(cfg SimDeviceConfig) (*SimDevice, error) {
	pattern, err := video.NewTestPattern(cfg.Width, cfg.Height, 30)
	if err != nil {
		return nil, fmt.Errorf("sim device %s: %w", cfg.ID, err)
	}
	return &SimDevice{
		cfg:           cfg,
		pattern:       pattern,
		focusPoint:    Point{X: 0.5, Y: 0.5},
		exposurePoint: Point{X: 0.5, Y: 0.5},
		zoom:          1,
	}, nil
}

func (d *SimDevice) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *SimDevice) write(call string) {
	if !d.locked {
		d.unlockedWrites++
	}
	d.record(call)
}

// ID returns the device id.
func (d *SimDevice) ID() string { return d.cfg.ID }

// Position returns the configured position.
func (d *SimDevice) Position() Position { return d.cfg.Position }

// LockForConfiguration takes the configuration lock.
func (d *SimDevice) LockForConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failLock {
		d.record("lock-failed")
		return ErrConfigurationLocked
	}
	d.locked = true
	d.record("lock")
	return nil
}

// UnlockForConfiguration releases the configuration lock.
func (d *SimDevice) UnlockForConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	d.record("unlock")
}

// SetFailLock makes subsequent LockForConfiguration calls fail.
func (d *SimDevice) SetFailLock(fail bool) {
	d.mu.Lock()
	d.failLock = fail
	d.mu.Unlock()
}

func (d *SimDevice) HasTorch() bool { return d.cfg.HasTorch }

func (d *SimDevice) IsTorchModeSupported(mode TorchMode) bool {
	return d.cfg.HasTorch || mode == TorchOff
}

func (d *SimDevice) SetTorchMode(mode TorchMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write("torch:" + mode.String())
	d.torch = mode
}

func (d *SimDevice) IsFocusModeSupported(mode FocusMode) bool {
	for _, m := range d.cfg.FocusModes {
		if m == mode {
			return true
		}
	}
	return false
}

func (d *SimDevice) SetFocusMode(mode FocusMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("focus-mode:%d", mode))
	d.focus = mode
}

func (d *SimDevice) IsFocusPointOfInterestSupported() bool { return d.cfg.FocusPointOfInterest }

func (d *SimDevice) SetFocusPointOfInterest(p Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("focus-point:%.2f,%.2f", p.X, p.Y))
	d.focusPoint = p
}

func (d *SimDevice) IsExposureModeSupported(mode ExposureMode) bool {
	for _, m := range d.cfg.ExposureModes {
		if m == mode {
			return true
		}
	}
	return false
}

func (d *SimDevice) SetExposureMode(mode ExposureMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("exposure-mode:%d", mode))
	d.exposure = mode
}

func (d *SimDevice) IsExposurePointOfInterestSupported() bool { return d.cfg.ExposurePointOfInterest }

func (d *SimDevice) SetExposurePointOfInterest(p Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("exposure-point:%.2f,%.2f", p.X, p.Y))
	d.exposurePoint = p
}

func (d *SimDevice) MaxZoomFactor() float64 { return d.cfg.MaxZoom }

// RampZoom jumps straight to factor; the simulation has no optics to ramp.
func (d *SimDevice) RampZoom(factor, rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("zoom:%.2f@%.2f", factor, rate))
	d.zoom = factor
}

func (d *SimDevice) FrameRateRanges() []FrameRateRange {
	return append([]FrameRateRange(nil), d.cfg.FrameRateRanges...)
}

func (d *SimDevice) SetFrameDurations(min, max time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.write(fmt.Sprintf("frame-durations:%v,%v", min, max))
	d.minDuration, d.maxDuration = min, max
}

// Calls returns the configuration call log.
func (d *SimDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// UnlockedWrites counts setter calls made without the configuration lock.
func (d *SimDevice) UnlockedWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unlockedWrites
}

// Torch returns the current torch mode.
func (d *SimDevice) Torch() TorchMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.torch
}

// Zoom returns the current zoom factor.
func (d *SimDevice) Zoom() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.zoom
}

// FrameDurations returns the applied min and max frame durations.
func (d *SimDevice) FrameDurations() (time.Duration, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minDuration, d.maxDuration
}

// FrameInterval returns the applied frame duration, 30fps by default.
func (d *SimDevice) FrameInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.minDuration > 0 {
		return d.minDuration
	}
	return time.Second / 30
}

// NextFrame returns the next test pattern frame.
func (d *SimDevice) NextFrame() *media.VideoFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pattern.Next().Image()
}

// NextAudio returns length worth of 440Hz tone.
func (d *SimDevice) NextAudio(length time.Duration) *media.AudioBlock {
	rate := d.cfg.AudioSampleRate
	if rate <= 0 || length <= 0 {
		return nil
	}
	channels := d.cfg.AudioChannels
	if channels != 2 {
		channels = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	frames := int(length * time.Duration(rate) / time.Second)
	pcm := make([]int16, frames*channels)
	step := 2 * math.Pi * 440 / float64(rate)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(d.tonePhase))
		for c := 0; c < channels; c++ {
			pcm[i*channels+c] = v
		}
		d.tonePhase = math.Mod(d.tonePhase+step, 2*math.Pi)
	}
	return &media.AudioBlock{SampleRate: rate, Channels: channels, PCM: pcm}
}

// MemorySession is an in-memory capture session. It keeps a log of every
// operation and fans pushed samples out to its outputs. While running it
// pumps frames from the first input that is a FrameSource.
type MemorySession struct {
	mu          sync.Mutex
	settled     *sync.Cond // signalled when the last transaction commits
	inputs      []Device
	outputs     []*Output
	maxInputs   int
	refused     map[string]bool
	log         []string
	depth       int
	orientation Orientation

	running  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMemorySession creates a session accepting a single input.
func NewMemorySession() *MemorySession {
	m := &MemorySession{maxInputs: 1, refused: make(map[string]bool)}
	m.settled = sync.NewCond(&m.mu)
	return m
}

func (m *MemorySession) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
}

// RefuseInput makes CanAddInput reject the device with id.
func (m *MemorySession) RefuseInput(id string) {
	m.mu.Lock()
	m.refused[id] = true
	m.mu.Unlock()
}

func (m *MemorySession) BeginConfiguration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth++
	m.logf("begin")
}

func (m *MemorySession) CommitConfiguration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth > 0 {
		m.depth--
	}
	m.logf("commit")
	if m.depth == 0 {
		m.settled.Broadcast()
	}
}

func (m *MemorySession) CanAddInput(d Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAddLocked(d)
}

func (m *MemorySession) canAddLocked(d Device) bool {
	if d == nil || m.refused[d.ID()] || len(m.inputs) >= m.maxInputs {
		return false
	}
	for _, in := range m.inputs {
		if in == d {
			return false
		}
	}
	return true
}

func (m *MemorySession) AddInput(d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canAddLocked(d) {
		return ErrCannotAddInput
	}
	m.inputs = append(m.inputs, d)
	m.logf("add-input:%s", d.ID())
	return nil
}

func (m *MemorySession) RemoveInput(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.inputs {
		if in == d {
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			m.logf("remove-input:%s", d.ID())
			return
		}
	}
}

func (m *MemorySession) AddOutput(o *Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o == nil || o.Handler == nil {
		return fmt.Errorf("output without handler")
	}
	for _, out := range m.outputs {
		if out.ID == o.ID {
			return fmt.Errorf("output %s already added", o.ID)
		}
	}
	m.outputs = append(m.outputs, o)
	m.logf("add-output:%s", o.ID)
	return nil
}

func (m *MemorySession) RemoveOutput(o *Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, out := range m.outputs {
		if out == o {
			m.outputs = append(m.outputs[:i], m.outputs[i+1:]...)
			m.logf("remove-output:%s", o.ID)
			return
		}
	}
}

func (m *MemorySession) Inputs() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Device(nil), m.inputs...)
}

func (m *MemorySession) Outputs() []*Output {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Output(nil), m.outputs...)
}

func (m *MemorySession) SetVideoOrientation(o Orientation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orientation = o
	m.logf("orientation:%s", o)
}

// VideoOrientation returns the orientation applied to the output connection.
func (m *MemorySession) VideoOrientation() Orientation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orientation
}

// InTransaction reports whether a configuration transaction is open.
func (m *MemorySession) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}

// Log returns the operation log.
func (m *MemorySession) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.log...)
}

// ResetLog clears the operation log.
func (m *MemorySession) ResetLog() {
	m.mu.Lock()
	m.log = nil
	m.mu.Unlock()
}

// Push delivers s to every output and returns how many received it.
// While a configuration transaction is open Push waits for the commit and
// then delivers to the committed outputs. Handlers run on the calling
// goroutine without the session lock.
func (m *MemorySession) Push(s *media.Sample) int {
	outputs, ok := m.committedOutputs()
	if !ok {
		return 0
	}
	for _, o := range outputs {
		o.Handler.ConsumeSample(s)
	}
	return len(outputs)
}

// committedOutputs waits until no transaction is open. It gives up when
// the session stops first.
func (m *MemorySession) committedOutputs() ([]*Output, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.depth > 0 && !m.stopping {
		m.settled.Wait()
	}
	if m.depth > 0 {
		return nil, false
	}
	return append([]*Output(nil), m.outputs...), true
}

func (m *MemorySession) StartRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.logf("start")
	go m.pump(ctx, m.done)
}

func (m *MemorySession) StopRunning() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopping = true
	m.settled.Broadcast()
	cancel, done := m.cancel, m.done
	m.logf("stop")
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.stopping = false
	m.mu.Unlock()
}

func (m *MemorySession) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MemorySession) frameSource() FrameSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.inputs {
		if src, ok := in.(FrameSource); ok {
			return src
		}
	}
	return nil
}

// pump generates samples at the input's frame interval. Timestamps
// advance by the interval in effect when each frame is produced.
func (m *MemorySession) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	var pts time.Duration
	for {
		src := m.frameSource()
		interval := time.Second / 30
		if src != nil {
			interval = src.FrameInterval()
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if src == nil {
			continue
		}

		m.Push(media.NewVideoSample(src.NextFrame(), pts, interval))
		if block := src.NextAudio(interval); block != nil {
			m.Push(media.NewAudioSample(block, pts))
		}
		pts += interval
	}
}

// SimScreen is a simulated screen source producing test pattern frames.
type SimScreen struct {
	width, height uint16
	fps           float64

	mu       sync.Mutex
	startErr error
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSimScreen creates a screen source of the given size and rate.
func NewSimScreen(width, height uint16, fps float64) (*SimScreen, error) {
	if err := media.ValidateDimensions(int(width), int(height)); err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = 30
	}
	return &SimScreen{width: width, height: height, fps: fps}, nil
}

// SetStartError makes the next Start calls fail with err.
func (s *SimScreen) SetStartError(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
}

// Start begins producing frames into handler.
func (s *SimScreen) Start(handler media.FrameConsumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != nil {
		return s.startErr
	}
	if s.cancel != nil {
		return fmt.Errorf("screen capture already started")
	}
	pattern, err := video.NewTestPattern(s.width, s.height, s.fps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(pattern.FrameDuration())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				handler.ConsumeSample(pattern.Next())
			}
		}
	}(s.done)

	logrus.WithFields(logrus.Fields{
		"function": "SimScreen.Start",
		"width":    s.width,
		"height":   s.height,
		"fps":      s.fps,
	}).Debug("Screen capture started")
	return nil
}

// Stop halts frame production and waits for the producer to exit.
func (s *SimScreen) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether frames are being produced.
func (s *SimScreen) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
