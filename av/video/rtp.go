package video

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// RTP errors.
var (
	// ErrDescriptorTooShort indicates a payload shorter than the descriptor.
	ErrDescriptorTooShort = errors.New("rtp payload shorter than descriptor")

	// ErrDescriptorInvalid indicates a payload descriptor without the X bit.
	ErrDescriptorInvalid = errors.New("rtp payload descriptor invalid")
)

// DefaultPayloadType is the RTP payload type of packetized video.
const DefaultPayloadType = 96

const (
	// rtpClockRate is the video RTP timestamp rate.
	rtpClockRate = 90000

	rtpHeaderSize     = 12
	descriptorSize    = 3
	durationFieldSize = 3

	descExtended    = 0x80 // X
	descStart       = 0x10 // S
	descIndependent = 0x08 // K
	descDuration    = 0x04 // D

	maxDurationTicks = 1<<24 - 1

	assemblyTimeout = 5 * time.Second
	maxAssemblies   = 10
)

// PTSToRTPTimestamp converts a presentation timestamp to 90 kHz ticks,
// truncated to 32 bits.
func PTSToRTPTimestamp(pts time.Duration) uint32 {
	return uint32(ticksFromPTS(pts))
}

func ticksFromPTS(pts time.Duration) int64 {
	sec := int64(pts / time.Second)
	rem := int64(pts % time.Second)
	return sec*rtpClockRate + rem*rtpClockRate/int64(time.Second)
}

func ptsFromTicks(ticks int64) time.Duration {
	return time.Duration(ticks/rtpClockRate)*time.Second +
		time.Duration(ticks%rtpClockRate)*time.Second/rtpClockRate
}

// RTPPacketizer fragments encoded samples into RTP packets.
//
// Every fragment carries a 3-byte payload descriptor:
//
//	byte 0: X|R|R|S|K|D|R|R   (X always set, S on the first fragment, K on independent frames)
//	byte 1: 1|picture id high 7 bits
//	byte 2: picture id low 8 bits
//
// When D is set the start fragment carries three more bytes: the frame
// duration in 90 kHz ticks, big endian.
type RTPPacketizer struct {
	mu             sync.Mutex
	ssrc           uint32
	sequenceNumber uint16
	pictureID      uint16
	payloadType    uint8
	maxPacketSize  int
}

// NewRTPPacketizer creates a packetizer for the given synchronization source.
func NewRTPPacketizer(ssrc uint32) *RTPPacketizer {
	rp := &RTPPacketizer{
		ssrc:           ssrc,
		sequenceNumber: 1,
		payloadType:    DefaultPayloadType,
		maxPacketSize:  limits.MaxRTPPacket,
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewRTPPacketizer",
		"ssrc":            ssrc,
		"payload_type":    rp.payloadType,
		"max_packet_size": rp.maxPacketSize,
	}).Info("RTP packetizer created")

	return rp
}

// Packetize converts an encoded sample into RTP packets. The picture id
// advances once per sample. A valid sample duration travels in the start
// fragment.
//
// Parameters:
//   - s: Encoded sample; its Data is the frame payload
//
// Returns:
//   - []*rtp.Packet: Fragments in sequence order, marker set on the last
//   - error: Any error that occurred during packetization
func (rp *RTPPacketizer) Packetize(s *media.Sample) ([]*rtp.Packet, error) {
	if s == nil {
		return nil, media.ErrNilFrame
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	packets, err := rp.packetizeLocked(s.Data, PTSToRTPTimestamp(s.PTS()), rp.pictureID, !s.DependsOnOthers(), s.Duration())
	if err != nil {
		return nil, err
	}
	rp.pictureID = (rp.pictureID + 1) & 0x7FFF
	return packets, nil
}

// PacketizeFrame fragments raw frame bytes with an explicit timestamp and
// picture id. No duration is carried.
func (rp *RTPPacketizer) PacketizeFrame(frameData []byte, timestamp uint32, pictureID uint16, independent bool) ([]*rtp.Packet, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.packetizeLocked(frameData, timestamp, pictureID, independent, media.InvalidDuration)
}

func (rp *RTPPacketizer) packetizeLocked(frameData []byte, timestamp uint32, pictureID uint16, independent bool, duration time.Duration) ([]*rtp.Packet, error) {
	if err := limits.ValidatePayloadSize(frameData, limits.MaxEncodedFrame); err != nil {
		return nil, fmt.Errorf("packetize: %w", err)
	}

	durationTicks := int64(-1)
	if duration > 0 {
		durationTicks = ticksFromPTS(duration)
		if durationTicks > maxDurationTicks {
			durationTicks = maxDurationTicks
		}
	}

	maxPayloadSize := rp.maxPacketSize - rtpHeaderSize - descriptorSize
	packets := make([]*rtp.Packet, 0, (len(frameData)+maxPayloadSize-1)/maxPayloadSize+1)

	for offset := 0; offset < len(frameData); {
		first := offset == 0
		header := descriptorSize
		if first && durationTicks >= 0 {
			header += durationFieldSize
		}
		end := offset + rp.maxPacketSize - rtpHeaderSize - header
		if end > len(frameData) {
			end = len(frameData)
		}

		payload := make([]byte, header+end-offset)
		payload[0] = descExtended
		if first {
			payload[0] |= descStart
		}
		if independent {
			payload[0] |= descIndependent
		}
		payload[1] = 0x80 | byte((pictureID>>8)&0x7F)
		payload[2] = byte(pictureID)
		if header > descriptorSize {
			payload[0] |= descDuration
			payload[3] = byte(durationTicks >> 16)
			payload[4] = byte(durationTicks >> 8)
			payload[5] = byte(durationTicks)
		}
		copy(payload[header:], frameData[offset:end])

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         end == len(frameData),
				PayloadType:    rp.payloadType,
				SequenceNumber: rp.sequenceNumber,
				Timestamp:      timestamp,
				SSRC:           rp.ssrc,
			},
			Payload: payload,
		})
		rp.sequenceNumber++
		offset = end
	}

	logrus.WithFields(logrus.Fields{
		"function":   "RTPPacketizer.Packetize",
		"timestamp":  timestamp,
		"picture_id": pictureID,
		"bytes":      len(frameData),
		"packets":    len(packets),
	}).Debug("Frame packetized")

	return packets, nil
}

// SetMaxPacketSize configures the maximum RTP packet size including headers.
func (rp *RTPPacketizer) SetMaxPacketSize(size int) error {
	if err := limits.ValidateRTPPacketSize(size); err != nil {
		return err
	}
	rp.mu.Lock()
	rp.maxPacketSize = size
	rp.mu.Unlock()
	return nil
}

// GetStats returns the next sequence number and picture id.
func (rp *RTPPacketizer) GetStats() (sequenceNumber, pictureID uint16) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.sequenceNumber, rp.pictureID
}

// frameAssembly is a frame being reassembled from RTP packets.
type frameAssembly struct {
	timestamp    uint32
	pictureID    uint16
	independent  bool
	duration     time.Duration
	packets      []*rtp.Packet
	hasStart     bool
	startSeq     uint16
	lastActivity time.Time
}

// RTPDepacketizer reassembles packets produced by RTPPacketizer into
// encoded samples.
type RTPDepacketizer struct {
	mu           sync.Mutex
	assemblies   map[uint32]*frameAssembly
	maxFrames    int
	timeProvider clock.TimeProvider
	format       *media.FormatDescriptor

	haveTimestamp bool
	lastTimestamp uint32
	lastExtended  int64

	haveEmitted bool
	lastEmitted int64
}

// NewRTPDepacketizer creates a depacketizer that tags samples with format.
func NewRTPDepacketizer(format *media.FormatDescriptor) *RTPDepacketizer {
	return NewRTPDepacketizerWithTimeProvider(format, nil)
}

// NewRTPDepacketizerWithTimeProvider creates a depacketizer with a custom
// clock for assembly expiry. A nil provider uses the system clock.
func NewRTPDepacketizerWithTimeProvider(format *media.FormatDescriptor, tp clock.TimeProvider) *RTPDepacketizer {
	if tp == nil {
		tp = clock.RealTimeProvider{}
	}
	return &RTPDepacketizer{
		assemblies:   make(map[uint32]*frameAssembly),
		maxFrames:    maxAssemblies,
		timeProvider: tp,
		format:       format,
	}
}

// SetFormat changes the descriptor attached to subsequent samples.
func (rd *RTPDepacketizer) SetFormat(fd *media.FormatDescriptor) {
	rd.mu.Lock()
	rd.format = fd
	rd.mu.Unlock()
}

// Format returns the descriptor attached to samples.
func (rd *RTPDepacketizer) Format() *media.FormatDescriptor {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.format
}

// PushBytes unmarshals a wire packet and pushes it.
func (rd *RTPDepacketizer) PushBytes(buf []byte) (*media.Sample, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("unmarshal rtp packet: %w", err)
	}
	return rd.Push(pkt)
}

// Push adds a packet and returns the completed sample, if any.
//
// A frame completes once its start fragment, its marker fragment and every
// sequence number between them have arrived, in any order. The sample takes
// the duration carried in the start fragment; without one it takes the
// timestamp distance to the previous reassembled frame.
//
// Parameters:
//   - pkt: Incoming RTP packet
//
// Returns:
//   - *media.Sample: Reassembled encoded sample, nil while incomplete
//   - error: Descriptor or size errors
func (rd *RTPDepacketizer) Push(pkt *rtp.Packet) (*media.Sample, error) {
	if pkt == nil {
		return nil, ErrDescriptorTooShort
	}
	start, independent, pictureID, err := parseDescriptor(pkt.Payload)
	if err != nil {
		return nil, err
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()

	assembly := rd.assemblyFor(pkt.Timestamp, pictureID)
	assembly.packets = append(assembly.packets, pkt)
	assembly.lastActivity = rd.timeProvider.Now()
	if start {
		assembly.hasStart = true
		assembly.startSeq = pkt.SequenceNumber
		assembly.independent = independent
		assembly.duration = descriptorDuration(pkt.Payload)
	}

	ordered, ok := assembly.complete()
	if !ok {
		return nil, nil
	}
	delete(rd.assemblies, assembly.timestamp)

	var data []byte
	for _, p := range ordered {
		data = append(data, p.Payload[payloadOffset(p.Payload):]...)
	}
	if err := limits.ValidateEncodedFrame(data); err != nil {
		return nil, fmt.Errorf("reassembled frame: %w", err)
	}

	ext := rd.extendTimestamp(assembly.timestamp)
	duration := assembly.duration
	if duration < 0 && rd.haveEmitted && ext > rd.lastEmitted {
		duration = ptsFromTicks(ext - rd.lastEmitted)
	}
	if !rd.haveEmitted || ext > rd.lastEmitted {
		rd.haveEmitted = true
		rd.lastEmitted = ext
	}

	pts := ptsFromTicks(ext)
	logrus.WithFields(logrus.Fields{
		"function":   "RTPDepacketizer.Push",
		"timestamp":  assembly.timestamp,
		"picture_id": assembly.pictureID,
		"packets":    len(ordered),
		"pts":        pts,
		"duration":   duration,
	}).Debug("Frame reassembled")

	return media.NewEncodedSample(data, pts, duration, !assembly.independent, rd.format), nil
}

// extendTimestamp unwraps a 32-bit RTP timestamp against the previous one.
func (rd *RTPDepacketizer) extendTimestamp(ts uint32) int64 {
	if !rd.haveTimestamp {
		rd.haveTimestamp = true
		rd.lastTimestamp = ts
		rd.lastExtended = int64(ts)
		return rd.lastExtended
	}
	ext := rd.lastExtended + int64(int32(ts-rd.lastTimestamp))
	if ext > rd.lastExtended {
		rd.lastTimestamp = ts
		rd.lastExtended = ext
	}
	return ext
}

func (rd *RTPDepacketizer) assemblyFor(timestamp uint32, pictureID uint16) *frameAssembly {
	if a, ok := rd.assemblies[timestamp]; ok {
		return a
	}
	if len(rd.assemblies) >= rd.maxFrames {
		rd.cleanupOldFrames()
		if len(rd.assemblies) >= rd.maxFrames {
			rd.removeOldestFrame()
		}
	}
	a := &frameAssembly{timestamp: timestamp, pictureID: pictureID, duration: media.InvalidDuration}
	rd.assemblies[timestamp] = a
	return a
}

// complete returns the fragments from start to marker when none is missing.
func (a *frameAssembly) complete() ([]*rtp.Packet, bool) {
	if !a.hasStart {
		return nil, false
	}
	bySeq := make(map[uint16]*rtp.Packet, len(a.packets))
	for _, p := range a.packets {
		bySeq[p.SequenceNumber] = p
	}

	ordered := make([]*rtp.Packet, 0, len(bySeq))
	for seq := a.startSeq; ; seq++ {
		p, ok := bySeq[seq]
		if !ok {
			return nil, false
		}
		ordered = append(ordered, p)
		if p.Marker {
			return ordered, true
		}
		if len(ordered) == len(bySeq) {
			return nil, false
		}
	}
}

func (rd *RTPDepacketizer) cleanupOldFrames() {
	cutoff := rd.timeProvider.Now().Add(-assemblyTimeout)
	for ts, a := range rd.assemblies {
		if a.lastActivity.Before(cutoff) {
			delete(rd.assemblies, ts)
		}
	}
}

func (rd *RTPDepacketizer) removeOldestFrame() {
	var oldest *frameAssembly
	for _, a := range rd.assemblies {
		if oldest == nil || a.lastActivity.Before(oldest.lastActivity) {
			oldest = a
		}
	}
	if oldest == nil {
		return
	}
	delete(rd.assemblies, oldest.timestamp)

	logrus.WithFields(logrus.Fields{
		"function":  "RTPDepacketizer.removeOldestFrame",
		"timestamp": oldest.timestamp,
		"packets":   len(oldest.packets),
	}).Warn("Evicting incomplete frame")
}

// GetBufferedFrameCount returns the number of frames being assembled.
func (rd *RTPDepacketizer) GetBufferedFrameCount() int {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return len(rd.assemblies)
}

func parseDescriptor(payload []byte) (start, independent bool, pictureID uint16, err error) {
	if len(payload) < descriptorSize {
		return false, false, 0, fmt.Errorf("%w: %d bytes", ErrDescriptorTooShort, len(payload))
	}
	if payload[0]&descExtended == 0 {
		return false, false, 0, ErrDescriptorInvalid
	}
	if len(payload) < payloadOffset(payload) {
		return false, false, 0, fmt.Errorf("%w: %d bytes with duration", ErrDescriptorTooShort, len(payload))
	}
	start = payload[0]&descStart != 0
	independent = payload[0]&descIndependent != 0
	pictureID = uint16(payload[1]&0x7F)<<8 | uint16(payload[2])
	return start, independent, pictureID, nil
}

// payloadOffset returns where frame bytes begin in a validated payload.
func payloadOffset(payload []byte) int {
	if payload[0]&descDuration != 0 {
		return descriptorSize + durationFieldSize
	}
	return descriptorSize
}

// descriptorDuration returns the duration field of a validated payload, or
// media.InvalidDuration when it has none.
func descriptorDuration(payload []byte) time.Duration {
	if payload[0]&descDuration == 0 {
		return media.InvalidDuration
	}
	ticks := int64(payload[3])<<16 | int64(payload[4])<<8 | int64(payload[5])
	return ptsFromTicks(ticks)
}

// PacketWriter receives marshalled RTP packets.
type PacketWriter interface {
	WritePacket(buf []byte) error
}

// PacketWriterFunc adapts a function to PacketWriter.
type PacketWriterFunc func(buf []byte) error

// WritePacket calls f(buf).
func (f PacketWriterFunc) WritePacket(buf []byte) error { return f(buf) }

// RTPSinkStats counts sink activity.
type RTPSinkStats struct {
	Frames  uint64
	Packets uint64
	Errors  uint64
}

// RTPSink packetizes encoded samples and writes them to a PacketWriter. It
// is a media.FrameConsumer so an Encoder can deliver to it directly.
type RTPSink struct {
	packetizer *RTPPacketizer
	writer     PacketWriter

	mu    sync.Mutex
	stats RTPSinkStats
}

// NewRTPSink creates a sink writing to w.
func NewRTPSink(p *RTPPacketizer, w PacketWriter) *RTPSink {
	return &RTPSink{packetizer: p, writer: w}
}

// ConsumeSample packetizes s and writes each packet. Errors are logged and
// counted.
func (s *RTPSink) ConsumeSample(sample *media.Sample) {
	packets, err := s.packetizer.Packetize(sample)
	if err != nil {
		s.fail("RTPSink.ConsumeSample", err)
		return
	}

	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err != nil {
			s.fail("RTPSink.ConsumeSample", err)
			return
		}
		if err := s.writer.WritePacket(buf); err != nil {
			s.fail("RTPSink.ConsumeSample", err)
			return
		}
	}

	s.mu.Lock()
	s.stats.Frames++
	s.stats.Packets += uint64(len(packets))
	s.mu.Unlock()
}

func (s *RTPSink) fail(fn string, err error) {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": fn,
		"error":    err.Error(),
	}).Warn("Failed to send frame")
}

// Stats returns a snapshot of the sink counters.
func (s *RTPSink) Stats() RTPSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
