package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/audio"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAudioPayloadType is the dynamic payload type used for audio.
	DefaultAudioPayloadType = 97

	rtpHeaderSize = 12
)

// NewSSRC returns a random synchronization source identifier.
func NewSSRC() (uint32, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return 0, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

func ticksFromPTS(pts time.Duration, clockRate uint32) int64 {
	rate := int64(clockRate)
	sec := int64(pts / time.Second)
	rem := int64(pts % time.Second)
	return sec*rate + rem*rate/int64(time.Second)
}

func ptsFromTicks(ticks int64, clockRate uint32) time.Duration {
	rate := int64(clockRate)
	return time.Duration(ticks/rate)*time.Second +
		time.Duration(ticks%rate)*time.Second/time.Duration(rate)
}

// AudioPacketizer converts audio samples into RTP packets.
//
// PCM payloads are split on frame boundaries so that no packet exceeds the
// maximum packet size. Other codecs are sent one sample per packet.
type AudioPacketizer struct {
	mu             sync.Mutex
	ssrc           uint32
	sequenceNumber uint16
	clockRate      uint32
	payloadType    uint8
	maxPacketSize  int
	started        bool
}

// NewAudioPacketizer creates a new audio RTP packetizer.
//
// Parameters:
//   - clockRate: RTP clock rate in Hz, the stream sample rate
//   - payloadType: Dynamic payload type, 0..127
//
// Returns:
//   - *AudioPacketizer: New packetizer with a random SSRC
//   - error: Any error that occurred during setup
func NewAudioPacketizer(clockRate uint32, payloadType uint8) (*AudioPacketizer, error) {
	if clockRate == 0 {
		return nil, ErrInvalidClockRate
	}
	if payloadType > 127 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayloadType, payloadType)
	}

	ssrc, err := NewSSRC()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewAudioPacketizer",
			"error":    err.Error(),
		}).Error("Failed to generate SSRC")
		return nil, err
	}

	ap := &AudioPacketizer{
		ssrc:          ssrc,
		clockRate:     clockRate,
		payloadType:   payloadType,
		maxPacketSize: limits.MaxRTPPacket,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewAudioPacketizer",
		"ssrc":         ssrc,
		"clock_rate":   clockRate,
		"payload_type": payloadType,
	}).Info("Audio packetizer created")

	return ap, nil
}

// SSRC returns the synchronization source of the stream.
func (ap *AudioPacketizer) SSRC() uint32 { return ap.ssrc }

// PayloadType returns the payload type written into each packet.
func (ap *AudioPacketizer) PayloadType() uint8 { return ap.payloadType }

// SetMaxPacketSize changes the packet size limit, header included.
func (ap *AudioPacketizer) SetMaxPacketSize(size int) error {
	if err := limits.ValidateRTPPacketSize(size); err != nil {
		return err
	}
	ap.mu.Lock()
	ap.maxPacketSize = size
	ap.mu.Unlock()
	return nil
}

// Packetize converts an audio sample into RTP packets. The marker bit is
// set on the first packet of the stream.
//
// Parameters:
//   - s: Audio sample, raw PCM or encoded payload
//
// Returns:
//   - []*rtp.Packet: Packets in sequence order
//   - error: Any error that occurred during packetization
func (ap *AudioPacketizer) Packetize(s *media.Sample) ([]*rtp.Packet, error) {
	if s == nil {
		return nil, media.ErrNilFrame
	}
	if s.Type != media.MediaTypeAudio {
		return nil, ErrNotAudio
	}
	payload := s.Bytes()
	if err := limits.ValidateProcessingBuffer(payload); err != nil {
		return nil, fmt.Errorf("packetize audio: %w", err)
	}

	ap.mu.Lock()
	defer ap.mu.Unlock()

	maxPayload := ap.maxPacketSize - rtpHeaderSize
	frameBytes, splittable := pcmFrameBytes(s)
	if !splittable {
		if len(payload) > maxPayload {
			return nil, fmt.Errorf("packetize audio: %w: %d bytes exceeds %d", limits.ErrPayloadTooLarge, len(payload), maxPayload)
		}
		frameBytes, maxPayload = len(payload), len(payload)
	}
	chunk := maxPayload - maxPayload%frameBytes
	if chunk == 0 {
		return nil, fmt.Errorf("packetize audio: %w: frame of %d bytes exceeds %d", limits.ErrPayloadTooLarge, frameBytes, maxPayload)
	}

	base := uint32(ticksFromPTS(s.PTS(), ap.clockRate))
	packets := make([]*rtp.Packet, 0, (len(payload)+chunk-1)/chunk)
	for offset := 0; offset < len(payload); offset += chunk {
		end := min(offset+chunk, len(payload))
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         !ap.started,
				PayloadType:    ap.payloadType,
				SequenceNumber: ap.sequenceNumber,
				Timestamp:      base + uint32(offset/frameBytes),
				SSRC:           ap.ssrc,
			},
			Payload: payload[offset:end],
		})
		ap.sequenceNumber++
		ap.started = true
	}

	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.WithFields(logrus.Fields{
			"function":  "AudioPacketizer.Packetize",
			"pts":       s.PTS(),
			"bytes":     len(payload),
			"packets":   len(packets),
			"timestamp": base,
		}).Debug("Audio sample packetized")
	}
	return packets, nil
}

// pcmFrameBytes returns the size of one interleaved PCM frame and whether
// the sample can be split on frame boundaries.
func pcmFrameBytes(s *media.Sample) (int, bool) {
	if block := s.Audio(); block != nil && s.Data == nil {
		return 2 * max(block.Channels, 1), true
	}
	fd := s.Format()
	if fd == nil || fd.Codec != media.CodecPCM {
		return 0, false
	}
	return 2 * max(fd.Channels, 1), true
}

// DepacketizerStats counts depacketizer activity.
type DepacketizerStats struct {
	Packets uint64
	Lost    uint64
	Late    uint64
	Foreign uint64
}

// AudioDepacketizer turns audio RTP packets back into samples.
//
// The first SSRC seen is accepted for the lifetime of the depacketizer.
// Sequence gaps are counted as losses; late and duplicate packets are
// dropped.
type AudioDepacketizer struct {
	mu        sync.Mutex
	format    *media.FormatDescriptor
	clockRate uint32

	ssrc    uint32
	hasSSRC bool
	lastSeq uint16
	hasSeq  bool

	haveTimestamp bool
	lastTimestamp uint32
	lastExtended  int64

	stats DepacketizerStats
}

// NewAudioDepacketizer creates a depacketizer that tags samples with
// format. The RTP clock rate is the format sample rate.
func NewAudioDepacketizer(format *media.FormatDescriptor) (*AudioDepacketizer, error) {
	if format == nil || format.Type != media.MediaTypeAudio {
		return nil, fmt.Errorf("audio depacketizer: %w", ErrNotAudio)
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio depacketizer: %w", ErrInvalidClockRate)
	}
	return &AudioDepacketizer{format: format, clockRate: uint32(format.SampleRate)}, nil
}

// Format returns the descriptor attached to samples.
func (ad *AudioDepacketizer) Format() *media.FormatDescriptor { return ad.format }

// PushBytes unmarshals a wire packet and pushes it.
func (ad *AudioDepacketizer) PushBytes(buf []byte) (*media.Sample, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}
	return ad.Push(pkt)
}

// Push validates a packet and returns its payload as a sample.
//
// Parameters:
//   - pkt: Incoming RTP packet
//
// Returns:
//   - *media.Sample: Audio sample carrying the payload, tagged with the format
//   - error: ErrUnexpectedSSRC, ErrStalePacket or payload errors
func (ad *AudioDepacketizer) Push(pkt *rtp.Packet) (*media.Sample, error) {
	if pkt == nil {
		return nil, media.ErrNilFrame
	}
	if err := limits.ValidatePayloadSize(pkt.Payload, limits.MaxRTPPacketCeiling); err != nil {
		return nil, err
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()

	if !ad.hasSSRC {
		ad.ssrc, ad.hasSSRC = pkt.SSRC, true
		logrus.WithFields(logrus.Fields{
			"function": "AudioDepacketizer.Push",
			"ssrc":     pkt.SSRC,
		}).Info("Accepted new SSRC for stream")
	} else if pkt.SSRC != ad.ssrc {
		ad.stats.Foreign++
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedSSRC, ad.ssrc, pkt.SSRC)
	}

	if ad.hasSeq {
		diff := int16(pkt.SequenceNumber - ad.lastSeq)
		if diff <= 0 {
			ad.stats.Late++
			return nil, fmt.Errorf("%w: sequence %d after %d", ErrStalePacket, pkt.SequenceNumber, ad.lastSeq)
		}
		if diff > 1 {
			ad.stats.Lost += uint64(diff - 1)
			logrus.WithFields(logrus.Fields{
				"function": "AudioDepacketizer.Push",
				"expected": ad.lastSeq + 1,
				"received": pkt.SequenceNumber,
			}).Debug("Sequence gap detected in RTP stream")
		}
	}
	ad.lastSeq, ad.hasSeq = pkt.SequenceNumber, true
	ad.stats.Packets++

	pts := ptsFromTicks(ad.extendTimestamp(pkt.Timestamp), ad.clockRate)
	payload := append([]byte(nil), pkt.Payload...)
	return media.NewSample(media.MediaTypeAudio, payload, pts, ad.payloadDuration(payload),
		media.WithFormat(ad.format)), nil
}

func (ad *AudioDepacketizer) payloadDuration(payload []byte) time.Duration {
	switch ad.format.Codec {
	case media.CodecPCM:
		frames := len(payload) / (2 * max(ad.format.Channels, 1))
		return time.Duration(frames) * time.Second / time.Duration(ad.format.SampleRate)
	case media.CodecOpus:
		if d, err := audio.OpusPacketDuration(payload); err == nil {
			return d
		}
	}
	return media.InvalidDuration
}

func (ad *AudioDepacketizer) extendTimestamp(ts uint32) int64 {
	if !ad.haveTimestamp {
		ad.haveTimestamp = true
		ad.lastTimestamp = ts
		ad.lastExtended = int64(ts)
		return ad.lastExtended
	}
	ext := ad.lastExtended + int64(int32(ts-ad.lastTimestamp))
	ad.lastTimestamp = ts
	ad.lastExtended = ext
	return ext
}

// Stats returns a snapshot of the depacketizer counters.
func (ad *AudioDepacketizer) Stats() DepacketizerStats {
	ad.mu.Lock()
	defer ad.mu.Unlock()
	return ad.stats
}
