package avio

import (
	"fmt"
	"time"

	"github.com/opd-ai/avio/av"
	"github.com/opd-ai/avio/av/capture"
	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/video"
	"github.com/opd-ai/avio/limits"
)

// Capture source names accepted by Options.Source.
const (
	SourceCamera = "camera"
	SourceScreen = "screen"
)

// Options contains the configuration for a new Pipeline.
type Options struct {
	// Source selects the simulated input: SourceCamera or SourceScreen.
	Source string
	// Camera is the camera position, "back" or "front".
	Camera string

	Width     uint16
	Height    uint16
	FrameRate float64

	// Preview also draws captured frames on the drawable. By default the
	// drawable only shows frames that made the round trip.
	Preview bool

	// BitRate is the initial video bitrate. Zero picks one from the
	// resolution.
	BitRate          uint32
	KeyframeInterval int

	// Effects are effect specs such as "grayscale" or "brightness=20",
	// applied in order.
	Effects []string

	AudioEnabled    bool
	AudioSampleRate int
	AudioChannels   int

	DropPolicy       codec.DropPolicy
	EncoderQueueSize int
	DecoderQueueSize int

	// Queue configures the presentation queue.
	Queue clock.Options

	LinkBuffer    int
	MaxPacketSize int

	MetricsInterval time.Duration
	// Adaptive enables bitrate adaptation from the metrics reports.
	Adaptive   bool
	Adaptation av.AdaptationConfig

	// DrainTimeout bounds the shutdown drain performed by Run.
	DrainTimeout time.Duration

	// Optional sinks. Nil values leave the corresponding output unset.
	Drawable    capture.Drawable
	Recorder    capture.Recorder
	AudioOutput media.FrameConsumer
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		Source:           SourceCamera,
		Camera:           "back",
		Width:            640,
		Height:           480,
		FrameRate:        30,
		KeyframeInterval: 60,
		AudioEnabled:     true,
		AudioSampleRate:  48000,
		AudioChannels:    1,
		DropPolicy:       codec.DropOldest,
		EncoderQueueSize: codec.NewEncoderOptions().QueueSize,
		DecoderQueueSize: codec.NewDecoderOptions().QueueSize,
		Queue:            clock.NewOptions(),
		LinkBuffer:       256,
		MaxPacketSize:    limits.MaxRTPPacket,
		MetricsInterval:  av.DefaultReportInterval,
		Adaptive:         true,
		Adaptation:       av.DefaultAdaptationConfig(),
		DrainTimeout:     2 * time.Second,
	}
}

// Validate reports the first invalid option.
func (o *Options) Validate() error {
	if o.Source != SourceCamera && o.Source != SourceScreen {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidOptions, o.Source)
	}
	if _, err := capture.ParsePosition(o.Camera); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := media.ValidateDimensions(int(o.Width), int(o.Height)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.FrameRate <= 0 || o.FrameRate > codec.MaxFrameRate {
		return fmt.Errorf("%w: frame rate %.2f", ErrInvalidOptions, o.FrameRate)
	}
	if o.KeyframeInterval < 0 {
		return fmt.Errorf("%w: negative keyframe interval", ErrInvalidOptions)
	}
	if o.AudioEnabled {
		if o.AudioSampleRate <= 0 {
			return fmt.Errorf("%w: audio sample rate %d", ErrInvalidOptions, o.AudioSampleRate)
		}
		if o.AudioChannels < 1 || o.AudioChannels > 2 {
			return fmt.Errorf("%w: audio channels %d", ErrInvalidOptions, o.AudioChannels)
		}
	}
	if err := limits.ValidateRTPPacketSize(o.MaxPacketSize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if o.MetricsInterval <= 0 {
		return fmt.Errorf("%w: metrics interval %v", ErrInvalidOptions, o.MetricsInterval)
	}
	if o.DrainTimeout <= 0 {
		return fmt.Errorf("%w: drain timeout %v", ErrInvalidOptions, o.DrainTimeout)
	}
	for _, spec := range o.Effects {
		if _, err := video.ParseEffect(spec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

func (o *Options) bitRate() uint32 {
	if o.BitRate != 0 {
		return o.BitRate
	}
	return video.GetBitrateForResolution(video.Resolution{Width: o.Width, Height: o.Height})
}
