package video

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
)

// Codec errors.
var (
	// ErrMissingReference indicates a delta frame arrived without a usable
	// reference frame, e.g. after a format change or a lost keyframe.
	ErrMissingReference = errors.New("delta frame without reference")

	// ErrMalformedFrame indicates a payload that is not a yuvd frame.
	ErrMalformedFrame = errors.New("malformed yuvd frame")

	// ErrNoImage indicates a sample without a raw image was given to the encoder.
	ErrNoImage = errors.New("sample carries no image")
)

// yuvd wire format:
//
//	[magic 'Y'][flags][width:2 LE][height:2 LE][Y][U][V]
//
// Keyframes carry the planes verbatim. Delta frames carry each plane XORed
// with the previous frame.
const (
	yuvdMagic        = 'Y'
	yuvdHeaderSize   = 6
	yuvdFlagKeyframe = 0x01
)

// YUVDeltaEncoder is the built-in codec.FrameEncoder. It scales incoming
// frames to the configured size before encoding.
type YUVDeltaEncoder struct {
	cfg       codec.EncoderConfig
	scaler    *Scaler
	reference *media.VideoFrame
}

// NewYUVDeltaEncoder creates an unconfigured encoder backend.
func NewYUVDeltaEncoder() *YUVDeltaEncoder {
	return &YUVDeltaEncoder{scaler: NewScaler()}
}

// Configure applies cfg and drops the reference frame.
func (e *YUVDeltaEncoder) Configure(cfg codec.EncoderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	e.reference = nil

	logrus.WithFields(logrus.Fields{
		"function":  "YUVDeltaEncoder.Configure",
		"width":     cfg.Width,
		"height":    cfg.Height,
		"bit_rate":  cfg.BitRate,
		"keyframes": cfg.KeyframeInterval,
	}).Debug("yuvd encoder configured")
	return nil
}

// EncodeFrame encodes the sample's image. The first frame after Configure is
// always a keyframe.
func (e *YUVDeltaEncoder) EncodeFrame(s *media.Sample, forceKeyframe bool) ([]byte, bool, error) {
	img := s.Image()
	if img == nil {
		return nil, false, ErrNoImage
	}
	if err := img.Validate(); err != nil {
		return nil, false, err
	}

	w, h := uint16(e.cfg.Width), uint16(e.cfg.Height)
	frame := img
	if e.scaler.IsScalingRequired(img.Width, img.Height, w, h) {
		scaled, err := e.scaler.Scale(img, w, h)
		if err != nil {
			return nil, false, fmt.Errorf("scale to %dx%d: %w", w, h, err)
		}
		frame = scaled
	}

	keyframe := forceKeyframe || e.reference == nil
	planes := [3][]byte{frame.Y, frame.U, frame.V}
	var refs [3][]byte
	if !keyframe {
		refs = [3][]byte{e.reference.Y, e.reference.U, e.reference.V}
	}

	data := make([]byte, yuvdHeaderSize, yuvdHeaderSize+len(frame.Y)+len(frame.U)+len(frame.V))
	data[0] = yuvdMagic
	if keyframe {
		data[1] = yuvdFlagKeyframe
	}
	binary.LittleEndian.PutUint16(data[2:], frame.Width)
	binary.LittleEndian.PutUint16(data[4:], frame.Height)

	for i, plane := range planes {
		size := planeSize(frame.Width, frame.Height, i)
		if keyframe {
			data = append(data, plane[:size]...)
			continue
		}
		for j := 0; j < size; j++ {
			data = append(data, plane[j]^refs[i][j])
		}
	}

	e.reference = frame.Clone()
	return data, keyframe, nil
}

// Format describes the produced stream.
func (e *YUVDeltaEncoder) Format() *media.FormatDescriptor {
	return media.NewVideoFormat(media.CodecYUVDelta, e.cfg.Width, e.cfg.Height)
}

// Close releases the reference frame.
func (e *YUVDeltaEncoder) Close() error {
	e.reference = nil
	return nil
}

// YUVDeltaDecoder is the built-in codec.FrameDecoder for yuvd streams.
type YUVDeltaDecoder struct {
	format    *media.FormatDescriptor
	reference *media.VideoFrame
}

// NewYUVDeltaDecoder creates a decoder for fd.
func NewYUVDeltaDecoder(fd *media.FormatDescriptor) (*YUVDeltaDecoder, error) {
	if fd == nil || fd.Codec != media.CodecYUVDelta {
		return nil, fmt.Errorf("yuvd decoder cannot handle %s", fd.String())
	}
	return &YUVDeltaDecoder{format: fd}, nil
}

// DecodeFrame reconstructs one frame. It never reorders.
func (d *YUVDeltaDecoder) DecodeFrame(s *media.Sample) ([]*media.Sample, error) {
	data := s.Data
	if len(data) < yuvdHeaderSize || data[0] != yuvdMagic {
		return nil, ErrMalformedFrame
	}

	keyframe := data[1]&yuvdFlagKeyframe != 0
	width := binary.LittleEndian.Uint16(data[2:])
	height := binary.LittleEndian.Uint16(data[4:])
	if err := media.ValidateDimensions(int(width), int(height)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	ySize := planeSize(width, height, 0)
	uvSize := planeSize(width, height, 1)
	if len(data) != yuvdHeaderSize+ySize+2*uvSize {
		return nil, fmt.Errorf("%w: payload %d bytes for %dx%d", ErrMalformedFrame, len(data), width, height)
	}

	if !keyframe && (d.reference == nil || d.reference.Width != width || d.reference.Height != height) {
		return nil, ErrMissingReference
	}

	frame := media.NewVideoFrame(width, height)
	body := data[yuvdHeaderSize:]
	planes := [3][]byte{frame.Y, frame.U, frame.V}
	for i, plane := range planes {
		size := len(plane)
		copy(plane, body[:size])
		body = body[size:]
		if keyframe {
			continue
		}
		ref := [3][]byte{d.reference.Y, d.reference.U, d.reference.V}[i]
		for j := range plane {
			plane[j] ^= ref[j]
		}
	}
	d.reference = frame.Clone()

	opts := []media.SampleOption{media.WithFormat(d.format)}
	if s.HasDecodeTimestamp() {
		opts = append(opts, media.WithDecodeTimestamp(s.DecodeTimestamp()))
	}
	return []*media.Sample{media.NewVideoSample(frame, s.PTS(), s.Duration(), opts...)}, nil
}

// Reset drops the reference frame.
func (d *YUVDeltaDecoder) Reset() {
	d.reference = nil
}

// Close releases the reference frame.
func (d *YUVDeltaDecoder) Close() error {
	d.reference = nil
	return nil
}

// Register adds the yuvd decoder to r.
func Register(r *codec.Registry) {
	r.Register(media.CodecYUVDelta, func(fd *media.FormatDescriptor) (codec.FrameDecoder, error) {
		return NewYUVDeltaDecoder(fd)
	})
}

func planeSize(width, height uint16, plane int) int {
	if plane == 0 {
		return int(width) * int(height)
	}
	return int(width) / 2 * (int(height) / 2)
}

// Resolution represents a video resolution.
type Resolution struct {
	Width  uint16
	Height uint16
}

// String returns a string representation of the resolution.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// CommonResolutions lists the capture sizes offered by the simulated devices.
var CommonResolutions = []Resolution{
	{Width: 160, Height: 120},
	{Width: 320, Height: 240},
	{Width: 640, Height: 480},
	{Width: 1280, Height: 720},
	{Width: 1920, Height: 1080},
}

// GetBitrateForResolution returns a default bit rate for a resolution.
func GetBitrateForResolution(resolution Resolution) uint32 {
	pixels := uint32(resolution.Width) * uint32(resolution.Height)

	switch {
	case pixels <= 19200: // 160x120
		return 64000
	case pixels <= 76800: // 320x240
		return 128000
	case pixels <= 307200: // 640x480
		return 512000
	case pixels <= 921600: // 1280x720
		return 2000000
	case pixels <= 2073600: // 1920x1080
		return 4000000
	default:
		return 8000000
	}
}
