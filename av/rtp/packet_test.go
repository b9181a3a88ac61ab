package rtp

import (
	"testing"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/limits"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmSample(t *testing.T, frames, channels int, pts time.Duration) *media.Sample {
	t.Helper()
	block := &media.AudioBlock{SampleRate: 48000, Channels: channels, PCM: make([]int16, frames*channels)}
	for i := range block.PCM {
		block.PCM[i] = int16(i)
	}
	return media.NewSample(media.MediaTypeAudio, block.LittleEndian(), pts, block.Duration(),
		media.WithFormat(media.NewAudioFormat(media.CodecPCM, 48000, channels)))
}

func TestNewAudioPacketizer(t *testing.T) {
	tests := []struct {
		name        string
		clockRate   uint32
		payloadType uint8
		wantErr     error
	}{
		{"valid", 48000, DefaultAudioPayloadType, nil},
		{"zero clock rate", 0, DefaultAudioPayloadType, ErrInvalidClockRate},
		{"payload type too large", 48000, 128, ErrInvalidPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ap, err := NewAudioPacketizer(tt.clockRate, tt.payloadType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ap)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.payloadType, ap.PayloadType())
		})
	}
}

func TestAudioPacketizer_SplitsOnFrameBoundaries(t *testing.T) {
	ap, err := NewAudioPacketizer(48000, DefaultAudioPayloadType)
	require.NoError(t, err)
	require.NoError(t, ap.SetMaxPacketSize(110)) // 98 byte payload

	// 20ms stereo: 960 frames of 4 bytes.
	s := pcmSample(t, 960, 2, 10*time.Millisecond)
	packets, err := ap.Packetize(s)
	require.NoError(t, err)

	// 98 bytes rounds down to 96 (24 frames), 3840/96 = 40 packets.
	require.Len(t, packets, 40)
	base := packets[0].Timestamp
	assert.EqualValues(t, 480, base, "10ms at 48kHz")
	for i, pkt := range packets {
		assert.Len(t, pkt.Payload, 96)
		assert.Equal(t, base+uint32(24*i), pkt.Timestamp)
		assert.Equal(t, packets[0].SequenceNumber+uint16(i), pkt.SequenceNumber)
		assert.Equal(t, i == 0, pkt.Marker, "marker only on the first packet of the stream")
		assert.Equal(t, ap.SSRC(), pkt.SSRC)
	}

	next, err := ap.Packetize(pcmSample(t, 24, 2, 30*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.False(t, next[0].Marker)
	assert.Equal(t, packets[39].SequenceNumber+1, next[0].SequenceNumber)
}

func TestAudioPacketizer_RawBlock(t *testing.T) {
	ap, err := NewAudioPacketizer(16000, DefaultAudioPayloadType)
	require.NoError(t, err)

	block := &media.AudioBlock{SampleRate: 16000, Channels: 1, PCM: make([]int16, 1000)}
	packets, err := ap.Packetize(media.NewAudioSample(block, 0))
	require.NoError(t, err)

	// 1188 byte payloads hold 594 mono frames.
	require.Len(t, packets, 2)
	assert.Len(t, packets[0].Payload, 1188)
	assert.Len(t, packets[1].Payload, 812)
	assert.EqualValues(t, 594, packets[1].Timestamp)
}

func TestAudioPacketizer_Rejects(t *testing.T) {
	ap, err := NewAudioPacketizer(48000, DefaultAudioPayloadType)
	require.NoError(t, err)

	_, err = ap.Packetize(nil)
	assert.ErrorIs(t, err, media.ErrNilFrame)

	_, err = ap.Packetize(media.NewVideoSample(media.NewVideoFrame(16, 16), 0, time.Millisecond))
	assert.ErrorIs(t, err, ErrNotAudio)

	empty := media.NewSample(media.MediaTypeAudio, nil, 0, 0)
	_, err = ap.Packetize(empty)
	assert.ErrorIs(t, err, limits.ErrPayloadEmpty)

	opus := media.NewSample(media.MediaTypeAudio, make([]byte, 2000), 0, 0,
		media.WithFormat(media.NewAudioFormat(media.CodecOpus, 48000, 1)))
	_, err = ap.Packetize(opus)
	assert.ErrorIs(t, err, limits.ErrPayloadTooLarge, "encoded audio is never split")

	assert.Error(t, ap.SetMaxPacketSize(50))
	assert.Error(t, ap.SetMaxPacketSize(limits.MaxRTPPacketCeiling+1))
}

func TestAudioDepacketizer_RoundTrip(t *testing.T) {
	format := media.NewAudioFormat(media.CodecPCM, 48000, 2)
	ap, err := NewAudioPacketizer(48000, DefaultAudioPayloadType)
	require.NoError(t, err)
	ad, err := NewAudioDepacketizer(format)
	require.NoError(t, err)

	in := pcmSample(t, 240, 2, 40*time.Millisecond)
	packets, err := ap.Packetize(in)
	require.NoError(t, err)

	var payload []byte
	var first *media.Sample
	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		require.NoError(t, err)
		out, err := ad.PushBytes(buf)
		require.NoError(t, err)
		if first == nil {
			first = out
		}
		payload = append(payload, out.Data...)
		assert.Same(t, format, out.Format())
		assert.Equal(t, media.MediaTypeAudio, out.Type)
	}

	assert.Equal(t, in.Data, payload)
	assert.Equal(t, 40*time.Millisecond, first.PTS())
	assert.Equal(t, 5*time.Millisecond, first.Duration(), "240 stereo frames at 48kHz")
	assert.EqualValues(t, 1, ad.Stats().Packets)
}

func TestAudioDepacketizer_SequenceHandling(t *testing.T) {
	ad, err := NewAudioDepacketizer(media.NewAudioFormat(media.CodecPCM, 8000, 1))
	require.NoError(t, err)

	packet := func(seq uint16, ssrc uint32) *rtp.Packet {
		return &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: uint32(seq) * 80, SSRC: ssrc},
			Payload: make([]byte, 160),
		}
	}

	_, err = ad.Push(packet(65534, 7))
	require.NoError(t, err)
	_, err = ad.Push(packet(65535, 7))
	require.NoError(t, err)

	// Wraps to 2: 0 and 1 are lost.
	_, err = ad.Push(packet(2, 7))
	require.NoError(t, err)

	_, err = ad.Push(packet(1, 7))
	assert.ErrorIs(t, err, ErrStalePacket)
	_, err = ad.Push(packet(2, 7))
	assert.ErrorIs(t, err, ErrStalePacket, "duplicate")

	_, err = ad.Push(packet(3, 9))
	assert.ErrorIs(t, err, ErrUnexpectedSSRC)

	stats := ad.Stats()
	assert.EqualValues(t, 3, stats.Packets)
	assert.EqualValues(t, 2, stats.Lost)
	assert.EqualValues(t, 2, stats.Late)
	assert.EqualValues(t, 1, stats.Foreign)
}

func TestAudioDepacketizer_ExtendsTimestamps(t *testing.T) {
	ad, err := NewAudioDepacketizer(media.NewAudioFormat(media.CodecPCM, 8000, 1))
	require.NoError(t, err)

	first, err := ad.Push(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 1, Timestamp: 0xFFFFFF00},
		Payload: make([]byte, 2),
	})
	require.NoError(t, err)
	second, err := ad.Push(&rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 2, Timestamp: 0x00000100},
		Payload: make([]byte, 2),
	})
	require.NoError(t, err)

	assert.Equal(t, 512*time.Second/8000, second.PTS()-first.PTS())
}

func TestNewAudioDepacketizer_Rejects(t *testing.T) {
	_, err := NewAudioDepacketizer(nil)
	assert.ErrorIs(t, err, ErrNotAudio)

	_, err = NewAudioDepacketizer(media.NewVideoFormat(media.CodecYUVDelta, 16, 16))
	assert.ErrorIs(t, err, ErrNotAudio)

	_, err = NewAudioDepacketizer(media.NewAudioFormat(media.CodecPCM, 0, 1))
	assert.ErrorIs(t, err, ErrInvalidClockRate)
}
