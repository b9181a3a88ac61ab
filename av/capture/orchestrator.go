package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/video"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Stats counts samples moving through the orchestrator.
type Stats struct {
	Captured       uint64
	Recorded       uint64
	RecorderErrors uint64
	EffectErrors   uint64
	Submitted      uint64
	EncodeErrors   uint64
	Resized        uint64
	Retimed        uint64
	Previewed      uint64
	Decoded        uint64
	Late           uint64
	Presented      uint64
}

// reconfigurable is implemented by encoders whose frame size can follow
// the capture size.
type reconfigurable interface {
	Config() (codec.EncoderConfig, bool)
	Configure(cfg codec.EncoderConfig) error
}

// Orchestrator owns the capture session and device configuration. It
// routes captured samples through the effect chain to the encoders and
// decoded samples through the presentation queue to the drawable.
//
// Lock order is mu before sinkMu.
type Orchestrator struct {
	id      string
	cfg     Config
	session Session
	chain   *video.EffectChain
	queue   *clock.ClockedQueue

	mu        sync.Mutex
	state     DeviceState
	device    Device
	screen    ScreenSource
	output    *Output
	targetFPS float64
	disposed  bool

	sinkMu       sync.RWMutex
	videoEncoder SampleEncoder
	audioEncoder SampleEncoder
	audioOut     media.FrameConsumer
	drawable     Drawable
	recorder     Recorder

	captured       atomic.Uint64
	recorded       atomic.Uint64
	recorderErrors atomic.Uint64
	effectErrors   atomic.Uint64
	submitted      atomic.Uint64
	encodeErrors   atomic.Uint64
	resized        atomic.Uint64
	retimed        atomic.Uint64
	previewed      atomic.Uint64
	decoded        atomic.Uint64
	late           atomic.Uint64
	presented      atomic.Uint64

	warnLimiter *rate.Limiter
	disposeOnce sync.Once
}

// NewOrchestrator creates an orchestrator over session. A nil session is
// replaced by an empty MemorySession.
//
// Parameters:
//   - session: The capture session the orchestrator configures
//   - cfg: Frame rate target, orientation, torch and queue options
//
// Returns:
//   - *Orchestrator: An orchestrator with no input attached
func NewOrchestrator(session Session, cfg Config) *Orchestrator {
	if session == nil {
		session = NewMemorySession()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = NewConfig().FrameRate
	}
	if !cfg.Orientation.Valid() {
		cfg.Orientation = OrientationPortrait
	}

	o := &Orchestrator{
		id:        uuid.NewString(),
		cfg:       cfg,
		session:   session,
		chain:     video.NewEffectChain(),
		targetFPS: cfg.FrameRate,
		state: DeviceState{
			Orientation:   cfg.Orientation,
			Torch:         cfg.Torch,
			FocusPoint:    Point{X: 0.5, Y: 0.5},
			ExposurePoint: Point{X: 0.5, Y: 0.5},
			Zoom:          1,
		},
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	o.queue = clock.NewClockedQueue(media.FrameConsumerFunc(o.present), cfg.Queue)

	logrus.WithFields(logrus.Fields{
		"function":     "NewOrchestrator",
		"session_id":   o.id,
		"frame_rate":   cfg.FrameRate,
		"orientation":  cfg.Orientation.String(),
		"render_into":  cfg.RenderIntoBuffer,
		"follow_size":  cfg.FollowCaptureSize,
		"preview":      cfg.PreviewCapture,
		"play_latency": cfg.Queue.Latency,
	}).Info("Capture orchestrator created")
	return o
}

// ID returns the orchestrator's session id.
func (o *Orchestrator) ID() string { return o.id }

// Queue returns the presentation queue for decoded video.
func (o *Orchestrator) Queue() *clock.ClockedQueue { return o.queue }

// Start starts the capture session and the presentation queue driver.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return ErrDisposed
	}
	if !o.session.IsRunning() {
		o.session.StartRunning()
	}
	o.mu.Unlock()

	if err := o.queue.Start(); err != nil && !errors.Is(err, clock.ErrAlreadyRunning) {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Orchestrator.Start",
		"session_id": o.id,
	}).Info("Capture started")
	return nil
}

// AttachInput switches the capture input. Camera inputs are swapped in a
// single configuration transaction; screen capture and camera capture are
// mutually exclusive. Errors are returned and the previous input is kept
// where possible.
func (o *Orchestrator) AttachInput(src CaptureSource) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.disposed {
		return ErrDisposed
	}

	switch src.Kind() {
	case SourceCamera:
		return o.attachCameraLocked(src.Device())
	case SourceScreen:
		return o.attachScreenLocked(src.Screen())
	case SourceNone:
		o.teardownCameraLocked()
		o.stopScreenLocked()
		o.state.Source = SourceNone

		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.AttachInput",
			"session_id": o.id,
		}).Info("Capture input detached")
		return nil
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidSource, int(src.Kind()))
	}
}

// configure runs fn inside a session configuration transaction. The
// commit always happens, even when fn fails.
func (o *Orchestrator) configure(fn func() error) error {
	o.session.BeginConfiguration()
	defer o.session.CommitConfiguration()
	return fn()
}

func (o *Orchestrator) attachCameraLocked(d Device) error {
	if d == nil {
		return fmt.Errorf("%w: camera source without device", ErrInvalidSource)
	}

	oldDevice, oldOutput := o.device, o.output
	output := &Output{ID: uuid.NewString(), Handler: media.FrameConsumerFunc(o.HandleCapturedSample)}

	err := o.configure(func() error {
		if oldOutput != nil {
			o.session.RemoveOutput(oldOutput)
		}
		if oldDevice != nil {
			o.session.RemoveInput(oldDevice)
		}
		if !o.session.CanAddInput(d) {
			o.restoreLocked(oldDevice, oldOutput)
			return fmt.Errorf("%w: %s", ErrCannotAddInput, d.ID())
		}
		if err := o.session.AddInput(d); err != nil {
			o.restoreLocked(oldDevice, oldOutput)
			return fmt.Errorf("%w: %s: %v", ErrCannotAddInput, d.ID(), err)
		}
		if err := o.session.AddOutput(output); err != nil {
			o.session.RemoveInput(d)
			o.restoreLocked(oldDevice, oldOutput)
			return fmt.Errorf("add output for %s: %w", d.ID(), err)
		}
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.AttachInput",
			"session_id": o.id,
			"device":     d.ID(),
			"error":      err.Error(),
		}).Error("Camera attach failed")
		return err
	}

	o.stopScreenLocked()
	o.device = d
	o.output = output
	o.state.Source = SourceCamera
	o.state.DeviceID = d.ID()
	o.state.Position = d.Position()
	o.state.OutputID = output.ID
	o.state.FrameRate = 0
	o.state.Zoom = 1

	o.session.SetVideoOrientation(o.state.Orientation)
	o.applyFrameRateLocked(o.targetFPS)
	o.reassertTorchLocked()
	if dr := o.currentDrawable(); dr != nil {
		dr.SetPosition(o.state.Position)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Orchestrator.AttachInput",
		"session_id": o.id,
		"device":     d.ID(),
		"position":   o.state.Position.String(),
		"output":     output.ID,
		"frame_rate": o.state.FrameRate,
	}).Info("Camera attached")
	return nil
}

// restoreLocked puts the previous input and output back after a failed swap.
func (o *Orchestrator) restoreLocked(oldDevice Device, oldOutput *Output) {
	if oldDevice != nil && o.session.CanAddInput(oldDevice) {
		if err := o.session.AddInput(oldDevice); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Orchestrator.restoreLocked",
				"device":   oldDevice.ID(),
				"error":    err.Error(),
			}).Warn("Could not restore previous input")
			return
		}
	}
	if oldOutput != nil {
		if err := o.session.AddOutput(oldOutput); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Orchestrator.restoreLocked",
				"output":   oldOutput.ID,
				"error":    err.Error(),
			}).Warn("Could not restore previous output")
		}
	}
}

func (o *Orchestrator) attachScreenLocked(s ScreenSource) error {
	if s == nil {
		return fmt.Errorf("%w: screen source is nil", ErrInvalidSource)
	}
	if o.screen == s {
		return nil
	}

	o.teardownCameraLocked()
	o.stopScreenLocked()

	if err := s.Start(media.FrameConsumerFunc(o.HandleCapturedSample)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.AttachInput",
			"session_id": o.id,
			"error":      err.Error(),
		}).Error("Screen capture failed to start")
		return fmt.Errorf("%w: %v", ErrScreenStart, err)
	}

	o.screen = s
	o.state.Source = SourceScreen

	logrus.WithFields(logrus.Fields{
		"function":   "Orchestrator.AttachInput",
		"session_id": o.id,
	}).Info("Screen capture attached")
	return nil
}

func (o *Orchestrator) teardownCameraLocked() {
	if o.device == nil && o.output == nil {
		return
	}
	device, output := o.device, o.output
	_ = o.configure(func() error {
		if output != nil {
			o.session.RemoveOutput(output)
		}
		if device != nil {
			o.session.RemoveInput(device)
		}
		return nil
	})

	o.device = nil
	o.output = nil
	o.state.DeviceID = ""
	o.state.OutputID = ""
	o.state.Position = PositionUnspecified
	if o.state.Source == SourceCamera {
		o.state.Source = SourceNone
	}
}

func (o *Orchestrator) stopScreenLocked() {
	if o.screen == nil {
		return
	}
	o.screen.Stop()
	o.screen = nil
	if o.state.Source == SourceScreen {
		o.state.Source = SourceNone
	}
}

// HandleCapturedSample is the capture callback. The recorder sees the
// original sample; video then runs through the effect chain before both
// kinds are handed to their encoder.
func (o *Orchestrator) HandleCapturedSample(s *media.Sample) {
	if s == nil {
		return
	}
	o.captured.Add(1)

	o.sinkMu.RLock()
	recorder, drawable := o.recorder, o.drawable
	videoEncoder, audioEncoder := o.videoEncoder, o.audioEncoder
	o.sinkMu.RUnlock()

	if recorder != nil {
		if err := recorder.Record(s, s.Type); err != nil {
			o.recorderErrors.Add(1)
			o.warnLimited("Orchestrator.HandleCapturedSample", "Recorder rejected sample", err)
		} else {
			o.recorded.Add(1)
		}
	}

	switch s.Type {
	case media.MediaTypeAudio:
		if audioEncoder != nil {
			o.submit(audioEncoder, s)
		}
	case media.MediaTypeVideo:
		out := o.applyEffects(s, drawable)
		o.preview(drawable, out)
		o.followCaptureSize(videoEncoder, out)
		if videoEncoder != nil {
			o.submit(videoEncoder, out)
		}
	}
}

// applyEffects returns the sample to encode. With an empty chain that is
// s itself.
func (o *Orchestrator) applyEffects(s *media.Sample, drawable Drawable) *media.Sample {
	img := s.Image()
	if img == nil || o.chain.IsEmpty() {
		return s
	}

	transformed, err := o.chain.Apply(img)
	if err != nil {
		o.effectErrors.Add(1)
		o.warnLimited("Orchestrator.HandleCapturedSample", "Effect chain failed, passing frame through", err)
		return s
	}

	if !o.cfg.RenderIntoBuffer {
		return s.WithImage(transformed)
	}
	if drawable != nil {
		err := drawable.Render(transformed, s)
		if err == nil {
			return s
		}
		o.warnLimited("Orchestrator.HandleCapturedSample", "Drawable render failed, replacing image", err)
	}
	s.ReplaceImage(transformed)
	return s
}

func (o *Orchestrator) preview(drawable Drawable, s *media.Sample) {
	if !o.cfg.PreviewCapture || drawable == nil {
		return
	}
	if img := s.Image(); img != nil {
		drawable.Draw(img)
		o.previewed.Add(1)
	}
}

// retimeEncoder hands the applied capture rate to a reconfigurable video
// encoder. The encoder applies it between frames.
func (o *Orchestrator) retimeEncoder(fps float64) {
	o.sinkMu.RLock()
	enc := o.videoEncoder
	o.sinkMu.RUnlock()

	r, ok := enc.(reconfigurable)
	if !ok {
		return
	}
	cfg, ok := r.Config()
	if !ok || cfg.FrameRate == fps {
		return
	}
	cfg.FrameRate = fps
	if err := r.Configure(cfg); err != nil {
		o.warnLimited("Orchestrator.SetFrameRate", "Encoder rejected frame rate", err)
		return
	}
	o.retimed.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":   "Orchestrator.SetFrameRate",
		"session_id": o.id,
		"frame_rate": fps,
	}).Debug("Encoder follows capture frame rate")
}

func (o *Orchestrator) followCaptureSize(enc SampleEncoder, s *media.Sample) {
	if !o.cfg.FollowCaptureSize || enc == nil {
		return
	}
	r, ok := enc.(reconfigurable)
	img := s.Image()
	if !ok || img == nil {
		return
	}
	cfg, ok := r.Config()
	if !ok || (cfg.Width == int(img.Width) && cfg.Height == int(img.Height)) {
		return
	}

	cfg.Width, cfg.Height = int(img.Width), int(img.Height)
	if err := r.Configure(cfg); err != nil {
		o.warnLimited("Orchestrator.HandleCapturedSample", "Encoder resize failed", err)
		return
	}
	o.resized.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":   "Orchestrator.HandleCapturedSample",
		"session_id": o.id,
		"width":      cfg.Width,
		"height":     cfg.Height,
	}).Info("Encoder follows capture size")
}

func (o *Orchestrator) submit(enc SampleEncoder, s *media.Sample) {
	if err := enc.EncodeSample(s); err != nil {
		o.encodeErrors.Add(1)
		o.warnLimited("Orchestrator.HandleCapturedSample", "Encoder rejected sample", err)
		return
	}
	o.submitted.Add(1)
}

func (o *Orchestrator) warnLimited(function, msg string, err error) {
	if !o.warnLimiter.Allow() {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":   function,
		"session_id": o.id,
		"error":      err.Error(),
	}).Warn(msg)
}

// DecodedSink returns the consumer decoders deliver to. Video is scheduled
// on the presentation queue; audio goes to the audio output, if any.
func (o *Orchestrator) DecodedSink() media.FrameConsumer {
	return media.FrameConsumerFunc(o.handleDecoded)
}

func (o *Orchestrator) handleDecoded(s *media.Sample) {
	if s == nil {
		return
	}
	o.decoded.Add(1)

	switch s.Type {
	case media.MediaTypeVideo:
		if !o.queue.Enqueue(s) {
			o.late.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Orchestrator.handleDecoded",
				"pts":      s.PTS(),
				"state":    o.queue.State().String(),
			}).Debug("Presentation queue rejected sample")
		}
	case media.MediaTypeAudio:
		o.sinkMu.RLock()
		out := o.audioOut
		o.sinkMu.RUnlock()
		if out != nil {
			out.ConsumeSample(s)
		}
	}
}

// present is the presentation queue's consumer.
func (o *Orchestrator) present(s *media.Sample) {
	o.presented.Add(1)
	if d := o.currentDrawable(); d != nil {
		if img := s.Image(); img != nil {
			d.Draw(img)
		}
	}
}

func (o *Orchestrator) currentDrawable() Drawable {
	o.sinkMu.RLock()
	defer o.sinkMu.RUnlock()
	return o.drawable
}

// SetDrawable attaches the presentation target; nil detaches it. A new
// drawable receives the current orientation and camera position.
func (o *Orchestrator) SetDrawable(d Drawable) {
	o.mu.Lock()
	orientation, position := o.state.Orientation, o.state.Position
	o.mu.Unlock()

	o.sinkMu.Lock()
	o.drawable = d
	o.sinkMu.Unlock()

	if d != nil {
		d.SetOrientation(orientation)
		d.SetPosition(position)
	}
}

// SetRecorder attaches the recorder; nil detaches it.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.sinkMu.Lock()
	o.recorder = r
	o.sinkMu.Unlock()
}

// SetVideoEncoder sets the encoder for captured video. A reconfigurable
// encoder is moved to the frame rate currently applied on the device.
func (o *Orchestrator) SetVideoEncoder(e SampleEncoder) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sinkMu.Lock()
	o.videoEncoder = e
	o.sinkMu.Unlock()

	if o.state.FrameRate > 0 {
		o.retimeEncoder(o.state.FrameRate)
	}
}

// SetAudioEncoder sets the encoder for captured audio. Without one,
// captured audio only reaches the recorder.
func (o *Orchestrator) SetAudioEncoder(e SampleEncoder) {
	o.sinkMu.Lock()
	o.audioEncoder = e
	o.sinkMu.Unlock()
}

// SetAudioOutput sets the consumer for decoded audio.
func (o *Orchestrator) SetAudioOutput(c media.FrameConsumer) {
	o.sinkMu.Lock()
	o.audioOut = c
	o.sinkMu.Unlock()
}

// RegisterEffect adds effect to the chain. It returns false when the same
// instance is already registered.
func (o *Orchestrator) RegisterEffect(effect video.Effect) bool {
	return o.chain.Register(effect)
}

// UnregisterEffect removes effect from the chain.
func (o *Orchestrator) UnregisterEffect(effect video.Effect) bool {
	return o.chain.Unregister(effect)
}

// State returns a snapshot of the device configuration.
func (o *Orchestrator) State() DeviceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Captured:       o.captured.Load(),
		Recorded:       o.recorded.Load(),
		RecorderErrors: o.recorderErrors.Load(),
		EffectErrors:   o.effectErrors.Load(),
		Submitted:      o.submitted.Load(),
		EncodeErrors:   o.encodeErrors.Load(),
		Resized:        o.resized.Load(),
		Retimed:        o.retimed.Load(),
		Previewed:      o.previewed.Load(),
		Decoded:        o.decoded.Load(),
		Late:           o.late.Load(),
		Presented:      o.presented.Load(),
	}
}

// Dispose detaches the drawable, tears down the input, stops the session
// and drains the presentation queue. It waits for the queue to stop or
// ctx to end and may be called more than once.
func (o *Orchestrator) Dispose(ctx context.Context) error {
	o.disposeOnce.Do(func() {
		o.SetDrawable(nil)

		o.mu.Lock()
		o.disposed = true
		o.teardownCameraLocked()
		o.stopScreenLocked()
		o.state.Source = SourceNone
		o.session.StopRunning()
		o.mu.Unlock()

		o.queue.Drain()
		// Draining needs the driver to make progress.
		_ = o.queue.Start()

		logrus.WithFields(logrus.Fields{
			"function":   "Orchestrator.Dispose",
			"session_id": o.id,
			"buffered":   o.queue.Len(),
		}).Info("Capture orchestrator disposed")
	})
	return o.queue.Wait(ctx)
}
