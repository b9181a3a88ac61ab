package media

import (
	"encoding/binary"
	"time"
)

// AudioBlock is a block of interleaved signed 16-bit PCM.
type AudioBlock struct {
	SampleRate int
	Channels   int
	PCM        []int16
}

// Frames returns the number of sample frames (samples per channel).
func (b *AudioBlock) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.PCM) / b.Channels
}

// Duration returns the playback length of the block, or InvalidDuration when
// the sample rate is unknown.
func (b *AudioBlock) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return InvalidDuration
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// LittleEndian serializes the PCM samples as int16 little-endian.
func (b *AudioBlock) LittleEndian() []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b.PCM)*2)
	for i, v := range b.PCM {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// AudioBlockFromLittleEndian is the inverse of LittleEndian. A trailing odd
// byte is ignored.
func AudioBlockFromLittleEndian(data []byte, sampleRate, channels int) *AudioBlock {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return &AudioBlock{SampleRate: sampleRate, Channels: channels, PCM: pcm}
}
