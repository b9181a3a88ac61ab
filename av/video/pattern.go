package video

import (
	"time"

	"github.com/opd-ai/avio/av/media"
)

// TestPattern generates a moving gradient in YUV420. Each call to Next
// shifts the luma ramp and rotates the chroma so consecutive frames differ.
type TestPattern struct {
	width, height uint16
	frameDuration time.Duration
	index         int
}

// NewTestPattern creates a generator for width x height frames at fps.
func NewTestPattern(width, height uint16, fps float64) (*TestPattern, error) {
	if err := media.ValidateDimensions(int(width), int(height)); err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:         width,
		height:        height,
		frameDuration: time.Duration(float64(time.Second) / fps),
	}, nil
}

// FrameDuration returns the presentation length of each generated frame.
func (p *TestPattern) FrameDuration() time.Duration {
	return p.frameDuration
}

// Next returns the next frame as a raw video sample with PTS index*duration.
func (p *TestPattern) Next() *media.Sample {
	frame := media.NewVideoFrame(p.width, p.height)
	shift := p.index * 4
	w, h := int(p.width), int(p.height)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.Y[y*frame.YStride+x] = byte((x + y + shift) * 255 / (w + h))
		}
	}
	cw, ch := w/2, h/2
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			frame.U[y*frame.UStride+x] = byte(128 + (x*64/cw+shift)%64 - 32)
			frame.V[y*frame.VStride+x] = byte(128 + (y*64/ch+shift)%64 - 32)
		}
	}

	pts := time.Duration(p.index) * p.frameDuration
	p.index++
	return media.NewVideoSample(frame, pts, p.frameDuration)
}
