package rtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/avio/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultLinkBuffer is the packet capacity of a Link created with a
// non-positive size.
const DefaultLinkBuffer = 256

// PacketHandler receives unmarshalled packets routed by a Link.
type PacketHandler func(pkt *rtp.Packet) error

// LinkStats counts link activity.
type LinkStats struct {
	Written    uint64
	Delivered  uint64
	Dropped    uint64
	Unroutable uint64
	Malformed  uint64
	Errors     uint64
}

// Link is an in-memory packet path between an outbound and an inbound
// pipeline. Packets written to it are copied into a bounded buffer; Run
// unmarshals each one and routes it to the handler registered for its
// payload type.
type Link struct {
	packets chan []byte

	mu       sync.RWMutex
	handlers map[uint8]PacketHandler
	stats    LinkStats
	closed   bool

	closeOnce   sync.Once
	done        chan struct{}
	warnLimiter *rate.Limiter
}

// NewLink creates a link buffering up to size packets.
func NewLink(size int) *Link {
	if size <= 0 {
		size = DefaultLinkBuffer
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewLink",
		"buffer":   size,
	}).Info("Packet link created")

	return &Link{
		packets:     make(chan []byte, size),
		handlers:    make(map[uint8]PacketHandler),
		done:        make(chan struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Route registers handler for payloadType, replacing any previous one.
// A nil handler removes the route.
func (l *Link) Route(payloadType uint8, handler PacketHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if handler == nil {
		delete(l.handlers, payloadType)
		return
	}
	l.handlers[payloadType] = handler

	logrus.WithFields(logrus.Fields{
		"function":     "Link.Route",
		"payload_type": payloadType,
	}).Debug("Packet route registered")
}

// WritePacket copies buf into the link. It never blocks: when the buffer
// is full the packet is dropped and ErrLinkFull is returned.
func (l *Link) WritePacket(buf []byte) error {
	if err := limits.ValidatePayloadSize(buf, limits.MaxRTPPacketCeiling); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	select {
	case l.packets <- append([]byte(nil), buf...):
		l.stats.Written++
		return nil
	default:
		l.stats.Dropped++
		return ErrLinkFull
	}
}

// Run delivers packets until ctx is done or the link is closed. Packets
// still buffered when the link is closed are delivered before Run returns.
func (l *Link) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Link.Run",
	}).Debug("Packet link running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case buf, ok := <-l.packets:
			if !ok {
				return nil
			}
			l.deliver(buf)
		}
	}
}

func (l *Link) deliver(buf []byte) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		l.count(func(s *LinkStats) { s.Malformed++ })
		l.warn("Malformed packet on link", fmt.Errorf("unmarshal rtp packet: %w", err), 0)
		return
	}

	l.mu.RLock()
	handler := l.handlers[pkt.PayloadType]
	l.mu.RUnlock()

	if handler == nil {
		l.count(func(s *LinkStats) { s.Unroutable++ })
		l.warn("Packet without route", ErrNoRoute, pkt.PayloadType)
		return
	}
	if err := handler(pkt); err != nil {
		l.count(func(s *LinkStats) { s.Errors++ })
		l.warn("Packet handler failed", err, pkt.PayloadType)
		return
	}
	l.count(func(s *LinkStats) { s.Delivered++ })
}

func (l *Link) count(fn func(s *LinkStats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *Link) warn(msg string, err error, payloadType uint8) {
	if !l.warnLimiter.Allow() {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":     "Link.deliver",
		"payload_type": payloadType,
		"error":        err.Error(),
	}).Warn(msg)
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() LinkStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Close stops accepting packets. Run drains what is buffered and returns.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.packets)
		stats := l.stats
		l.mu.Unlock()
		close(l.done)

		logrus.WithFields(logrus.Fields{
			"function": "Link.Close",
			"written":  stats.Written,
			"dropped":  stats.Dropped,
		}).Info("Packet link closed")
	})
	return nil
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} { return l.done }
