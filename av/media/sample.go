package media

import (
	"sync"
	"time"
)

// MediaType discriminates video and audio samples.
type MediaType uint8

const (
	// MediaTypeVideo tags image samples and compressed video.
	MediaTypeVideo MediaType = iota
	// MediaTypeAudio tags PCM blocks and compressed audio.
	MediaTypeAudio
)

// String returns the media type name.
func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// InvalidDuration marks a sample whose duration is unknown.
const InvalidDuration time.Duration = -1

// AttachmentDependsOnOthers is the attachment key that marks a sample which
// cannot be decoded without earlier samples.
const AttachmentDependsOnOthers = "DependsOnOthers"

// Attachments is one entry of a sample's attachment list.
type Attachments map[string]any

// Sample is a timed unit of media data.
//
// Exactly one of Data, Image or Audio is normally set. All fields other than
// the image payload are fixed after construction; see ReplaceImage.
type Sample struct {
	Type MediaType

	// Data is an opaque payload, usually compressed.
	Data []byte

	pts      time.Duration
	dts      time.Duration
	hasDTS   bool
	duration time.Duration

	attachments []Attachments
	format      *FormatDescriptor

	mu    sync.RWMutex
	image *VideoFrame
	audio *AudioBlock
}

// SampleOption customizes a sample at construction.
type SampleOption func(*Sample)

// WithDecodeTimestamp sets an explicit decode timestamp.
func WithDecodeTimestamp(dts time.Duration) SampleOption {
	return func(s *Sample) {
		s.dts = dts
		s.hasDTS = true
	}
}

// WithFormat attaches a format descriptor.
func WithFormat(fd *FormatDescriptor) SampleOption {
	return func(s *Sample) { s.format = fd }
}

// WithDependsOnOthers records the dependency flag as the first attachment.
func WithDependsOnOthers(depends bool) SampleOption {
	return func(s *Sample) {
		if len(s.attachments) == 0 {
			s.attachments = append(s.attachments, Attachments{})
		}
		s.attachments[0][AttachmentDependsOnOthers] = depends
	}
}

// WithAttachments replaces the attachment list.
func WithAttachments(list ...Attachments) SampleOption {
	return func(s *Sample) { s.attachments = list }
}

// NewSample builds a sample of the given type around an opaque payload.
func NewSample(mt MediaType, data []byte, pts, duration time.Duration, opts ...SampleOption) *Sample {
	s := &Sample{Type: mt, Data: data, pts: pts, duration: duration}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewVideoSample wraps a raw frame.
func NewVideoSample(frame *VideoFrame, pts, duration time.Duration, opts ...SampleOption) *Sample {
	s := NewSample(MediaTypeVideo, nil, pts, duration, opts...)
	s.image = frame
	return s
}

// NewEncodedSample wraps a compressed video payload.
func NewEncodedSample(data []byte, pts, duration time.Duration, dependsOnOthers bool, fd *FormatDescriptor) *Sample {
	return NewSample(MediaTypeVideo, data, pts, duration,
		WithDependsOnOthers(dependsOnOthers), WithFormat(fd))
}

// NewAudioSample wraps a PCM block. The duration is derived from the block.
func NewAudioSample(block *AudioBlock, pts time.Duration, opts ...SampleOption) *Sample {
	s := NewSample(MediaTypeAudio, nil, pts, block.Duration(), opts...)
	s.audio = block
	return s
}

// PTS returns the presentation timestamp.
func (s *Sample) PTS() time.Duration { return s.pts }

// DecodeTimestamp returns the decode timestamp, or the presentation timestamp
// when none was set.
func (s *Sample) DecodeTimestamp() time.Duration {
	if !s.hasDTS {
		return s.pts
	}
	return s.dts
}

// HasDecodeTimestamp reports whether an explicit decode timestamp was set.
func (s *Sample) HasDecodeTimestamp() bool { return s.hasDTS }

// Duration returns the sample duration, possibly InvalidDuration.
func (s *Sample) Duration() time.Duration { return s.duration }

// HasValidDuration reports whether the duration is known.
func (s *Sample) HasValidDuration() bool { return s.duration >= 0 }

// Format returns the format descriptor or nil.
func (s *Sample) Format() *FormatDescriptor { return s.format }

// Attachments returns the attachment list.
func (s *Sample) Attachments() []Attachments { return s.attachments }

// DependsOnOthers reports whether the sample needs earlier samples to decode.
// Only the first attachment entry is consulted.
func (s *Sample) DependsOnOthers() bool {
	if len(s.attachments) == 0 {
		return false
	}
	v, ok := s.attachments[0][AttachmentDependsOnOthers].(bool)
	return ok && v
}

// Image returns the raw video frame, if any.
func (s *Sample) Image() *VideoFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.image
}

// Audio returns the PCM block, if any.
func (s *Sample) Audio() *AudioBlock { return s.audio }

// ReplaceImage swaps the image payload in place. A nil image is ignored.
func (s *Sample) ReplaceImage(img *VideoFrame) {
	if img == nil {
		return
	}
	s.mu.Lock()
	s.image = img
	s.mu.Unlock()
}

// WithImage returns a shallow copy of the sample carrying img instead.
func (s *Sample) WithImage(img *VideoFrame) *Sample {
	d := s.shallowCopy()
	d.image = img
	return d
}

// Clone returns a deep copy of the sample and its payload.
func (s *Sample) Clone() *Sample {
	d := s.shallowCopy()
	if s.Data != nil {
		d.Data = append([]byte(nil), s.Data...)
	}
	d.image = s.Image().Clone()
	if s.audio != nil {
		d.audio = &AudioBlock{
			SampleRate: s.audio.SampleRate,
			Channels:   s.audio.Channels,
			PCM:        append([]int16(nil), s.audio.PCM...),
		}
	}
	return d
}

func (s *Sample) shallowCopy() *Sample {
	return &Sample{
		Type:        s.Type,
		Data:        s.Data,
		pts:         s.pts,
		dts:         s.dts,
		hasDTS:      s.hasDTS,
		duration:    s.duration,
		attachments: s.attachments,
		format:      s.format,
		image:       s.Image(),
		audio:       s.audio,
	}
}

// Bytes returns the payload as a fresh byte slice. It never fails: a sample
// without a payload yields an empty slice.
func (s *Sample) Bytes() []byte {
	if s == nil {
		return []byte{}
	}
	switch {
	case s.Data != nil:
		return append([]byte{}, s.Data...)
	case s.Image() != nil:
		return s.Image().PlaneBytes()
	case s.audio != nil:
		return s.audio.LittleEndian()
	default:
		return []byte{}
	}
}
