package avio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/avio/av"
	"github.com/opd-ai/avio/av/audio"
	"github.com/opd-ai/avio/av/capture"
	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/rtp"
	"github.com/opd-ai/avio/av/video"
	pionrtp "github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Metric stage names registered by a Pipeline.
const (
	StageCapture        = "capture"
	StageVideoEncoder   = "video_encoder"
	StageVideoDecoder   = "video_decoder"
	StagePresentation   = "presentation"
	StageLink           = "link"
	StageAudioProcessor = "audio_processor"
	StageAudioDecoder   = "audio_decoder"
	StageAudioRTP       = "audio_rtp"
)

// Pipeline wires a simulated capture source through the full outbound and
// inbound paths:
//
//	capture -> effects -> yuvd encoder -> RTP packetizer -> link
//	link -> RTP depacketizer -> decoder -> presentation queue -> drawable
//
// Audio takes the parallel path through the audio processor and an RTP
// session when enabled.
type Pipeline struct {
	opts     Options
	registry *codec.Registry

	session      *capture.MemorySession
	camera       *capture.SimDevice
	screen       *capture.SimScreen
	orchestrator *capture.Orchestrator

	videoEncoder *codec.Encoder
	videoSink    *video.RTPSink
	depacketizer *video.RTPDepacketizer
	videoDecoder *codec.Decoder
	link         *rtp.Link

	audioProcessor *audio.Processor
	audioSession   *rtp.Session
	audioDecoder   *codec.Decoder

	metrics *av.MetricsAggregator
	adapter *av.BitrateAdapter

	mu          sync.Mutex
	started     bool
	linkRunning bool
	linkStopped chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// NewPipeline creates a pipeline from opts. Nothing runs until Start or Run.
//
// Parameters:
//   - opts: Pipeline options; nil uses NewOptions()
//
// Returns:
//   - *Pipeline: The wired pipeline
//   - error: ErrInvalidOptions or any stage setup error
func NewPipeline(opts *Options) (*Pipeline, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPipeline",
			"error":    err.Error(),
		}).Error("Invalid pipeline options")
		return nil, err
	}

	p := &Pipeline{
		opts:        *opts,
		registry:    codec.NewRegistry(),
		session:     capture.NewMemorySession(),
		link:        rtp.NewLink(opts.LinkBuffer),
		metrics:     av.NewMetricsAggregator(opts.MetricsInterval),
		linkStopped: make(chan struct{}),
	}
	video.Register(p.registry)
	audio.Register(p.registry)

	cfg := capture.NewConfig()
	cfg.FrameRate = opts.FrameRate
	cfg.FollowCaptureSize = true
	cfg.PreviewCapture = opts.Preview
	cfg.Queue = opts.Queue
	p.orchestrator = capture.NewOrchestrator(p.session, cfg)

	steps := []func() error{
		p.setupVideo,
		p.setupAudio,
		p.setupEffects,
		p.setupInput,
		p.setupMetrics,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			p.teardown()
			return nil, err
		}
	}

	if opts.Drawable != nil {
		p.orchestrator.SetDrawable(opts.Drawable)
	}
	if opts.Recorder != nil {
		p.orchestrator.SetRecorder(opts.Recorder)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewPipeline",
		"session_id": p.orchestrator.ID(),
		"source":     opts.Source,
		"width":      opts.Width,
		"height":     opts.Height,
		"frame_rate": opts.FrameRate,
		"audio":      opts.AudioEnabled,
		"effects":    len(opts.Effects),
	}).Info("Pipeline created")

	return p, nil
}

// setupVideo builds the video path from the back of the chain forward so
// each stage has its consumer when created.
func (p *Pipeline) setupVideo() error {
	name := "video"
	p.videoDecoder = codec.NewDecoder(p.registry, p.orchestrator.DecodedSink(), codec.DecoderOptions{
		QueueSize:  p.opts.DecoderQueueSize,
		DropPolicy: p.opts.DropPolicy,
		Name:       name,
		OnFatal: func(err error) {
			logrus.WithFields(logrus.Fields{
				"function":   "Pipeline.videoDecoder",
				"session_id": p.orchestrator.ID(),
				"error":      err.Error(),
			}).Error("Video decoder cannot continue")
		},
	})

	format := media.NewVideoFormat(media.CodecYUVDelta, int(p.opts.Width), int(p.opts.Height))
	if err := p.videoDecoder.SetFormat(format); err != nil {
		return fmt.Errorf("configure video decoder: %w", err)
	}
	p.depacketizer = video.NewRTPDepacketizer(format)
	p.link.Route(video.DefaultPayloadType, p.handleVideoPacket)

	ssrc, err := rtp.NewSSRC()
	if err != nil {
		return fmt.Errorf("allocate video ssrc: %w", err)
	}
	packetizer := video.NewRTPPacketizer(ssrc)
	if err := packetizer.SetMaxPacketSize(p.opts.MaxPacketSize); err != nil {
		return fmt.Errorf("configure video packetizer: %w", err)
	}
	p.videoSink = video.NewRTPSink(packetizer, p.link)

	p.videoEncoder = codec.NewEncoder(video.NewYUVDeltaEncoder(), p.videoSink, codec.EncoderOptions{
		QueueSize:  p.opts.EncoderQueueSize,
		DropPolicy: p.opts.DropPolicy,
		Name:       name,
	})
	if err := p.videoEncoder.Configure(codec.EncoderConfig{
		Width:            int(p.opts.Width),
		Height:           int(p.opts.Height),
		FrameRate:        p.opts.FrameRate,
		BitRate:          p.opts.bitRate(),
		KeyframeInterval: p.opts.KeyframeInterval,
	}); err != nil {
		return fmt.Errorf("configure video encoder: %w", err)
	}
	p.orchestrator.SetVideoEncoder(p.videoEncoder)
	return nil
}

// handleVideoPacket feeds the depacketizer and hands completed frames to
// the decoder.
func (p *Pipeline) handleVideoPacket(pkt *pionrtp.Packet) error {
	sample, err := p.depacketizer.Push(pkt)
	if err != nil {
		return err
	}
	if sample == nil {
		return nil
	}
	return p.videoDecoder.Decode(sample)
}

func (p *Pipeline) setupAudio() error {
	if !p.opts.AudioEnabled {
		return nil
	}

	format := media.NewAudioFormat(media.CodecPCM, p.opts.AudioSampleRate, p.opts.AudioChannels)
	p.audioDecoder = codec.NewDecoder(p.registry, p.orchestrator.DecodedSink(), codec.DecoderOptions{
		QueueSize:  p.opts.DecoderQueueSize,
		DropPolicy: p.opts.DropPolicy,
		Name:       "audio",
	})
	if err := p.audioDecoder.SetFormat(format); err != nil {
		return fmt.Errorf("configure audio decoder: %w", err)
	}

	sessionOpts := rtp.NewSessionOptions(format)
	sessionOpts.MaxPacketSize = p.opts.MaxPacketSize
	session, err := rtp.NewSession(sessionOpts, p.link, p.audioDecoder)
	if err != nil {
		return fmt.Errorf("create audio session: %w", err)
	}
	p.audioSession = session
	p.link.Route(session.PayloadType(), session.HandlePacket)

	processor, err := audio.NewProcessor(session, audio.ProcessorOptions{
		SampleRate: p.opts.AudioSampleRate,
		Channels:   p.opts.AudioChannels,
	})
	if err != nil {
		return fmt.Errorf("create audio processor: %w", err)
	}
	p.audioProcessor = processor
	p.orchestrator.SetAudioEncoder(processor)

	if p.opts.AudioOutput != nil {
		p.orchestrator.SetAudioOutput(p.opts.AudioOutput)
	}
	return nil
}

func (p *Pipeline) setupEffects() error {
	for _, spec := range p.opts.Effects {
		effect, err := video.ParseEffect(spec)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		p.orchestrator.RegisterEffect(effect)
	}
	return nil
}

func (p *Pipeline) setupInput() error {
	if p.opts.Source == SourceScreen {
		screen, err := capture.NewSimScreen(p.opts.Width, p.opts.Height, p.opts.FrameRate)
		if err != nil {
			return fmt.Errorf("create screen source: %w", err)
		}
		p.screen = screen
		return p.orchestrator.AttachInput(capture.ScreenCapture(screen))
	}

	position, err := capture.ParsePosition(p.opts.Camera)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	cfg := capture.NewSimCameraConfig("sim-"+position.String(), position)
	cfg.Width, cfg.Height = p.opts.Width, p.opts.Height
	cfg.AudioChannels = p.opts.AudioChannels
	if !p.opts.AudioEnabled {
		cfg.AudioSampleRate = 0
	}
	camera, err := capture.NewSimDevice(cfg)
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	p.camera = camera
	return p.orchestrator.AttachInput(capture.CameraSource(camera))
}

func (p *Pipeline) setupMetrics() error {
	sources := map[string]av.StatsSource{
		StageCapture:      av.CaptureSource(p.orchestrator),
		StageVideoEncoder: av.EncoderSource(p.videoEncoder),
		StageVideoDecoder: av.DecoderSource(p.videoDecoder),
		StagePresentation: av.QueueSource(p.orchestrator.Queue()),
		StageLink:         av.LinkSource(p.link),
	}
	if p.opts.AudioEnabled {
		sources[StageAudioProcessor] = av.AudioSource(p.audioProcessor)
		sources[StageAudioDecoder] = av.DecoderSource(p.audioDecoder)
		sources[StageAudioRTP] = av.SessionSource(p.audioSession)
	}
	for name, src := range sources {
		if err := p.metrics.Register(name, src); err != nil {
			return err
		}
	}

	if p.opts.Adaptive {
		p.adapter = av.NewBitrateAdapter(p.opts.Adaptation, p.opts.bitRate())
		p.adapter.SetCallbacks(p.applyBitRate, nil)
	}
	p.metrics.OnReport(p.handleReport)
	return nil
}

// handleReport turns a metrics report into an observation for the bitrate
// adapter. Frames dropped by the encoder or the link and frames the
// presentation queue delivered late or skipped count as lost.
func (p *Pipeline) handleReport(r av.Report) {
	logrus.WithFields(logrus.Fields{
		"function":   "Pipeline.handleReport",
		"session_id": p.orchestrator.ID(),
		"sequence":   r.Sequence,
		"captured":   r.Delta(StageCapture, "captured"),
		"encoded":    r.Delta(StageVideoEncoder, "encoded"),
		"presented":  r.Delta(StageCapture, "presented"),
		"late":       r.Delta(StagePresentation, "late"),
	}).Debug("Pipeline report")

	if p.adapter == nil {
		return
	}
	p.adapter.Observe(ObservationFromReport(r))
}

// ObservationFromReport summarizes the video path of a pipeline report.
func ObservationFromReport(r av.Report) av.Observation {
	lost := r.Delta(StageVideoEncoder, "dropped") +
		r.Delta(StageLink, "dropped") +
		r.Delta(StagePresentation, "late") +
		r.Delta(StagePresentation, "skipped")
	return av.Observation{
		Submitted: r.Delta(StageVideoEncoder, "submitted"),
		Lost:      lost,
		Jitter:    time.Duration(r.Total(StageAudioRTP, "jitter_us")) * time.Microsecond,
		At:        r.Timestamp,
	}
}

func (p *Pipeline) applyBitRate(bps uint32) {
	cfg, ok := p.videoEncoder.Config()
	if !ok {
		return
	}
	cfg.BitRate = bps
	if err := p.videoEncoder.Configure(cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Pipeline.applyBitRate",
			"session_id": p.orchestrator.ID(),
			"bit_rate":   bps,
			"error":      err.Error(),
		}).Warn("Failed to apply adapted bitrate")
	}
}

// ID returns the pipeline session id.
func (p *Pipeline) ID() string { return p.orchestrator.ID() }

// Orchestrator returns the capture orchestrator for device control.
func (p *Pipeline) Orchestrator() *capture.Orchestrator { return p.orchestrator }

// Metrics returns the pipeline metrics aggregator.
func (p *Pipeline) Metrics() *av.MetricsAggregator { return p.metrics }

// Camera returns the simulated camera, or nil for screen capture.
func (p *Pipeline) Camera() *capture.SimDevice { return p.camera }

// Adapter returns the bitrate adapter, or nil when adaptation is off.
func (p *Pipeline) Adapter() *av.BitrateAdapter { return p.adapter }

// Link returns the packet link between the outbound and inbound paths.
func (p *Pipeline) Link() *rtp.Link { return p.link }

// Start starts capture and presentation. Packets are only delivered while
// Run is active.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if err := p.orchestrator.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	p.started = true

	logrus.WithFields(logrus.Fields{
		"function":   "Pipeline.Start",
		"session_id": p.orchestrator.ID(),
	}).Info("Pipeline started")
	return nil
}

// Run starts the pipeline and blocks until ctx is done or a stage fails.
// The packet link, the metrics loop and the presentation queue run in one
// errgroup; on return the pipeline has been closed and drained within
// Options.DrainTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.linkRunning = true
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(p.linkStopped)
		// The link stops when Close closes it, after draining.
		return p.link.Run(context.Background())
	})
	g.Go(func() error {
		return p.metrics.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-p.orchestrator.Queue().Done():
		}
		// Stops the metrics loop when the queue finished on its own.
		defer cancel()
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), p.opts.DrainTimeout)
		defer cancelDrain()
		return p.Close(drainCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil
		}
	}
	return err
}

// Close stops capture and drains the pipeline front to back: the encoders
// stop, the link delivers what it holds, the decoders stop and the
// presentation queue drains. ctx bounds the waits. Close is idempotent.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.shutdown(ctx)
	})
	return p.closeErr
}

func (p *Pipeline) shutdown(ctx context.Context) error {
	id := p.orchestrator.ID()
	p.session.StopRunning()

	var errs []error
	if err := p.videoEncoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close video encoder: %w", err))
	}
	if p.audioProcessor != nil {
		if err := p.audioProcessor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio processor: %w", err))
		}
	}

	_ = p.link.Close()
	p.mu.Lock()
	linkRunning := p.linkRunning
	// A closed pipeline cannot be started again.
	p.started = true
	p.mu.Unlock()
	if linkRunning {
		select {
		case <-p.linkStopped:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("drain link: %w", ctx.Err()))
		}
	}

	if err := p.videoDecoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close video decoder: %w", err))
	}
	if p.audioDecoder != nil {
		if err := p.audioDecoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio decoder: %w", err))
		}
	}
	if p.audioSession != nil {
		_ = p.audioSession.Close()
	}

	if err := p.orchestrator.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose capture: %w", err))
	}
	p.metrics.Stop()

	stats := p.orchestrator.Stats()
	logrus.WithFields(logrus.Fields{
		"function":   "Pipeline.Close",
		"session_id": id,
		"captured":   stats.Captured,
		"presented":  stats.Presented,
		"late":       stats.Late,
	}).Info("Pipeline closed")

	return errors.Join(errs...)
}

// teardown releases stages created before a failed setup step.
func (p *Pipeline) teardown() {
	if p.videoEncoder != nil {
		_ = p.videoEncoder.Close()
	}
	if p.videoDecoder != nil {
		_ = p.videoDecoder.Close()
	}
	if p.audioDecoder != nil {
		_ = p.audioDecoder.Close()
	}
	if p.audioSession != nil {
		_ = p.audioSession.Close()
	}
	_ = p.link.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.orchestrator.Dispose(ctx)
}
