// Package config loads avio settings from defaults, an optional config.yaml
// and AVIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/avio"
	"github.com/opd-ai/avio/av/codec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. AVIO_CAPTURE_WIDTH
// for capture.width.
const EnvPrefix = "AVIO"

// Config is the typed view of the loaded settings.
type Config struct {
	LogLevel  string
	LogFormat string

	Source    string
	Camera    string
	Width     int
	Height    int
	FrameRate float64
	Preview   bool

	BitRate          int
	KeyframeInterval int
	Effects          []string

	AudioEnabled    bool
	AudioSampleRate int
	AudioChannels   int

	DropPolicy       string
	EncoderQueueSize int
	DecoderQueueSize int

	QueueLatency      time.Duration
	QueueTolerance    time.Duration
	QueueMaxHeadWait  time.Duration
	QueueFlushOnStop  bool
	QueueTickInterval time.Duration

	LinkBuffer    int
	MaxPacketSize int

	MetricsInterval time.Duration
	Adaptive        bool
	DrainTimeout    time.Duration

	// File is the config file that was read, empty when none was found.
	File string
}

func setDefaults(v *viper.Viper) {
	opts := avio.NewOptions()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("capture.source", opts.Source)
	v.SetDefault("capture.camera", opts.Camera)
	v.SetDefault("capture.width", int(opts.Width))
	v.SetDefault("capture.height", int(opts.Height))
	v.SetDefault("capture.fps", opts.FrameRate)
	v.SetDefault("capture.preview", opts.Preview)

	v.SetDefault("video.bitrate", int(opts.BitRate))
	v.SetDefault("video.keyframe_interval", opts.KeyframeInterval)
	v.SetDefault("video.effects", []string{})

	v.SetDefault("audio.enabled", opts.AudioEnabled)
	v.SetDefault("audio.sample_rate", opts.AudioSampleRate)
	v.SetDefault("audio.channels", opts.AudioChannels)

	v.SetDefault("codec.drop_policy", opts.DropPolicy.String())
	v.SetDefault("codec.encoder_queue", opts.EncoderQueueSize)
	v.SetDefault("codec.decoder_queue", opts.DecoderQueueSize)

	v.SetDefault("queue.latency", opts.Queue.Latency)
	v.SetDefault("queue.tolerance", opts.Queue.Tolerance)
	v.SetDefault("queue.max_head_wait", opts.Queue.MaxHeadWait)
	v.SetDefault("queue.flush_on_stop", opts.Queue.FlushOnStop)
	v.SetDefault("queue.tick_interval", opts.Queue.TickInterval)

	v.SetDefault("link.buffer", opts.LinkBuffer)
	v.SetDefault("link.max_packet_size", opts.MaxPacketSize)

	v.SetDefault("metrics.interval", opts.MetricsInterval)
	v.SetDefault("metrics.adaptive", opts.Adaptive)
	v.SetDefault("pipeline.drain_timeout", opts.DrainTimeout)
}

// New returns a viper instance with defaults and environment binding. When
// file is empty config.yaml is searched in ".", "$HOME/.avio" and
// "/etc/avio".
func New(file string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return v
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.avio", "/etc/avio"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// Load reads the configuration. A missing config file is not an error when
// file is empty; an explicitly named file must exist.
//
// Parameters:
//   - file: Config file path, or empty to search the default locations
//
// Returns:
//   - *Config: The loaded configuration
//   - error: Any error reading or parsing the file
func Load(file string) (*Config, error) {
	v := New(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := FromViper(v)

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"file":     cfg.File,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		Source:            v.GetString("capture.source"),
		Camera:            v.GetString("capture.camera"),
		Width:             v.GetInt("capture.width"),
		Height:            v.GetInt("capture.height"),
		FrameRate:         v.GetFloat64("capture.fps"),
		Preview:           v.GetBool("capture.preview"),
		BitRate:           v.GetInt("video.bitrate"),
		KeyframeInterval:  v.GetInt("video.keyframe_interval"),
		Effects:           v.GetStringSlice("video.effects"),
		AudioEnabled:      v.GetBool("audio.enabled"),
		AudioSampleRate:   v.GetInt("audio.sample_rate"),
		AudioChannels:     v.GetInt("audio.channels"),
		DropPolicy:        v.GetString("codec.drop_policy"),
		EncoderQueueSize:  v.GetInt("codec.encoder_queue"),
		DecoderQueueSize:  v.GetInt("codec.decoder_queue"),
		QueueLatency:      v.GetDuration("queue.latency"),
		QueueTolerance:    v.GetDuration("queue.tolerance"),
		QueueMaxHeadWait:  v.GetDuration("queue.max_head_wait"),
		QueueFlushOnStop:  v.GetBool("queue.flush_on_stop"),
		QueueTickInterval: v.GetDuration("queue.tick_interval"),
		LinkBuffer:        v.GetInt("link.buffer"),
		MaxPacketSize:     v.GetInt("link.max_packet_size"),
		MetricsInterval:   v.GetDuration("metrics.interval"),
		Adaptive:          v.GetBool("metrics.adaptive"),
		DrainTimeout:      v.GetDuration("pipeline.drain_timeout"),
		File:              v.ConfigFileUsed(),
	}
}

// Options converts the configuration to pipeline options.
func (c *Config) Options() (*avio.Options, error) {
	if c.Width < 0 || c.Width > 0xFFFF || c.Height < 0 || c.Height > 0xFFFF {
		return nil, fmt.Errorf("%w: size %dx%d", avio.ErrInvalidOptions, c.Width, c.Height)
	}
	if c.BitRate < 0 {
		return nil, fmt.Errorf("%w: negative bitrate", avio.ErrInvalidOptions)
	}
	policy, err := codec.ParseDropPolicy(c.DropPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", avio.ErrInvalidOptions, err)
	}

	opts := avio.NewOptions()
	opts.Source = c.Source
	opts.Camera = c.Camera
	opts.Width = uint16(c.Width)
	opts.Height = uint16(c.Height)
	opts.FrameRate = c.FrameRate
	opts.Preview = c.Preview
	opts.BitRate = uint32(c.BitRate)
	opts.KeyframeInterval = c.KeyframeInterval
	opts.Effects = append([]string(nil), c.Effects...)
	opts.AudioEnabled = c.AudioEnabled
	opts.AudioSampleRate = c.AudioSampleRate
	opts.AudioChannels = c.AudioChannels
	opts.DropPolicy = policy
	opts.EncoderQueueSize = c.EncoderQueueSize
	opts.DecoderQueueSize = c.DecoderQueueSize
	opts.Queue.Latency = c.QueueLatency
	opts.Queue.Tolerance = c.QueueTolerance
	opts.Queue.MaxHeadWait = c.QueueMaxHeadWait
	opts.Queue.FlushOnStop = c.QueueFlushOnStop
	opts.Queue.TickInterval = c.QueueTickInterval
	opts.LinkBuffer = c.LinkBuffer
	opts.MaxPacketSize = c.MaxPacketSize
	opts.MetricsInterval = c.MetricsInterval
	opts.Adaptive = c.Adaptive
	opts.DrainTimeout = c.DrainTimeout

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// ApplyLogging sets the global logrus level and formatter.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
