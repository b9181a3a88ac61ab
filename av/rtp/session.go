package rtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/video"
	"github.com/opd-ai/avio/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SessionOptions configures an audio RTP session.
type SessionOptions struct {
	// Format describes the stream in both directions.
	Format *media.FormatDescriptor
	// PayloadType is written into outbound packets.
	PayloadType uint8
	// MaxPacketSize limits outbound packets, header included.
	MaxPacketSize int
	// TimeProvider timestamps packet arrival for jitter estimation.
	TimeProvider clock.TimeProvider
}

// NewSessionOptions returns options for format with the default payload
// type and packet size.
func NewSessionOptions(format *media.FormatDescriptor) SessionOptions {
	return SessionOptions{
		Format:        format,
		PayloadType:   DefaultAudioPayloadType,
		MaxPacketSize: limits.MaxRTPPacket,
		TimeProvider:  clock.RealTimeProvider{},
	}
}

// Statistics summarizes one session.
type Statistics struct {
	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsLost     uint64
	PacketsLate     uint64
	SendErrors      uint64
	// Jitter is the RFC 3550 interarrival jitter estimate.
	Jitter time.Duration
	// Bandwidth is the received payload rate in bits per second.
	Bandwidth uint64
}

// Session is one audio RTP stream. Outbound samples given to ConsumeSample
// are packetized and written to the PacketWriter; inbound packets given to
// HandlePacket are depacketized and delivered to the delegate.
type Session struct {
	packetizer   *AudioPacketizer
	depacketizer *AudioDepacketizer
	writer       video.PacketWriter
	delegate     media.FrameConsumer
	timeProvider clock.TimeProvider
	clockRate    float64
	warnLimiter  *rate.Limiter

	mu           sync.Mutex
	stats        Statistics
	jitter       float64 // in clock units
	hasTransit   bool
	lastTransit  float64
	firstArrival time.Time
	closed       bool
}

// NewSession creates a new audio RTP session.
//
// Parameters:
//   - opts: Stream format and packetization settings
//   - writer: Destination of outbound packets
//   - delegate: Receiver of inbound samples, usually a codec.Decoder
//
// Returns:
//   - *Session: The new session
//   - error: Any error that occurred during setup
func NewSession(opts SessionOptions, writer video.PacketWriter, delegate media.FrameConsumer) (*Session, error) {
	if writer == nil {
		return nil, fmt.Errorf("packet writer cannot be nil")
	}
	if delegate == nil {
		delegate = media.Discard
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = clock.RealTimeProvider{}
	}

	depacketizer, err := NewAudioDepacketizer(opts.Format)
	if err != nil {
		return nil, err
	}
	packetizer, err := NewAudioPacketizer(uint32(opts.Format.SampleRate), opts.PayloadType)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio packetizer: %w", err)
	}
	if opts.MaxPacketSize != 0 {
		if err := packetizer.SetMaxPacketSize(opts.MaxPacketSize); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewSession",
		"format":       opts.Format.String(),
		"ssrc":         packetizer.SSRC(),
		"payload_type": opts.PayloadType,
	}).Info("RTP session created")

	return &Session{
		packetizer:   packetizer,
		depacketizer: depacketizer,
		writer:       writer,
		delegate:     delegate,
		timeProvider: opts.TimeProvider,
		clockRate:    float64(opts.Format.SampleRate),
		warnLimiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// PayloadType returns the outbound payload type, used to route inbound
// packets back to HandlePacket.
func (s *Session) PayloadType() uint8 { return s.packetizer.PayloadType() }

// ConsumeSample packetizes and sends an outbound sample. Failures are
// counted and logged at a limited rate.
func (s *Session) ConsumeSample(sample *media.Sample) {
	if err := s.Send(sample); err != nil {
		s.mu.Lock()
		s.stats.SendErrors++
		s.mu.Unlock()
		if s.warnLimiter.Allow() {
			logrus.WithFields(logrus.Fields{
				"function": "Session.ConsumeSample",
				"error":    err.Error(),
			}).Warn("Failed to send audio sample")
		}
	}
}

// Send packetizes sample and writes every packet.
func (s *Session) Send(sample *media.Sample) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	packets, err := s.packetizer.Packetize(sample)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		if err := s.writer.WritePacket(buf); err != nil {
			return fmt.Errorf("failed to send audio RTP packet: %w", err)
		}
		s.mu.Lock()
		s.stats.PacketsSent++
		s.stats.BytesSent += uint64(len(pkt.Payload))
		s.mu.Unlock()
	}
	return nil
}

// HandlePacket processes an incoming RTP packet and delivers the resulting
// sample to the delegate.
func (s *Session) HandlePacket(pkt *rtp.Packet) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	arrival := s.timeProvider.Now()
	sample, err := s.depacketizer.Push(pkt)

	s.mu.Lock()
	dstats := s.depacketizer.Stats()
	s.stats.PacketsLost = dstats.Lost
	s.stats.PacketsLate = dstats.Late
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to process audio packet: %w", err)
	}
	s.stats.PacketsReceived++
	s.stats.BytesReceived += uint64(len(pkt.Payload))
	s.updateJitterLocked(arrival, pkt.Timestamp)
	s.updateBandwidthLocked(arrival)
	s.mu.Unlock()

	s.delegate.ConsumeSample(sample)
	return nil
}

// updateJitterLocked applies the RFC 3550 estimator J += (|D| - J) / 16.
func (s *Session) updateJitterLocked(arrival time.Time, timestamp uint32) {
	transit := float64(arrival.UnixNano())/float64(time.Second)*s.clockRate - float64(timestamp)
	if s.hasTransit {
		d := transit - s.lastTransit
		if d < 0 {
			d = -d
		}
		s.jitter += (d - s.jitter) / 16
	}
	s.lastTransit, s.hasTransit = transit, true
	s.stats.Jitter = time.Duration(s.jitter / s.clockRate * float64(time.Second))
}

func (s *Session) updateBandwidthLocked(arrival time.Time) {
	if s.firstArrival.IsZero() {
		s.firstArrival = arrival
		return
	}
	if elapsed := arrival.Sub(s.firstArrival).Seconds(); elapsed > 0 {
		s.stats.Bandwidth = uint64(float64(s.stats.BytesReceived*8) / elapsed)
	}
}

// GetStatistics returns current session statistics.
func (s *Session) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the session. Later sends and packets are rejected.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	logrus.WithFields(logrus.Fields{
		"function":         "Session.Close",
		"packets_sent":     s.stats.PacketsSent,
		"packets_received": s.stats.PacketsReceived,
		"packets_lost":     s.stats.PacketsLost,
	}).Info("RTP session closed")
	return nil
}
