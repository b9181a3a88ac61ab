package video

import (
	"fmt"

	"github.com/opd-ai/avio/av/media"
)

// Scaler resizes YUV420 frames with bilinear interpolation.
//
// The encoder uses it to bring captured frames to the configured output size
// when the capture format and the encoder configuration disagree.
type Scaler struct{}

// NewScaler creates a new video frame scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// Scale resizes frame to targetWidth x targetHeight.
//
// Parameters:
//   - frame: Source video frame to scale
//   - targetWidth: Target width (even, 16..16383)
//   - targetHeight: Target height (even, 16..16383)
//
// Returns:
//   - *media.VideoFrame: Scaled frame, or a copy when no scaling is needed
//   - error: Any error that occurred during scaling
func (s *Scaler) Scale(frame *media.VideoFrame, targetWidth, targetHeight uint16) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, fmt.Errorf("source frame cannot be nil")
	}
	if err := media.ValidateDimensions(int(targetWidth), int(targetHeight)); err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	if !s.IsScalingRequired(frame.Width, frame.Height, targetWidth, targetHeight) {
		return frame.Clone(), nil
	}

	result := media.NewVideoFrame(targetWidth, targetHeight)
	planes := []struct {
		name     string
		src, dst []byte
		srcW     int
		srcH     int
		stride   int
		dstW     int
		dstH     int
	}{
		{"Y", frame.Y, result.Y, int(frame.Width), int(frame.Height), frame.YStride, int(targetWidth), int(targetHeight)},
		{"U", frame.U, result.U, int(frame.Width) / 2, int(frame.Height) / 2, frame.UStride, int(targetWidth) / 2, int(targetHeight) / 2},
		{"V", frame.V, result.V, int(frame.Width) / 2, int(frame.Height) / 2, frame.VStride, int(targetWidth) / 2, int(targetHeight) / 2},
	}

	for _, p := range planes {
		stride := p.stride
		if stride == 0 {
			stride = p.srcW
		}
		if err := scalePlane(p.src, p.srcW, p.srcH, stride, p.dst, p.dstW, p.dstH); err != nil {
			return nil, fmt.Errorf("failed to scale %s plane: %w", p.name, err)
		}
	}
	return result, nil
}

// scalePlane writes a tightly packed dstW x dstH plane sampled from src.
func scalePlane(src []byte, srcW, srcH, srcStride int, dst []byte, dstW, dstH int) error {
	if len(src) < (srcH-1)*srcStride+srcW {
		return fmt.Errorf("source buffer too small: %d bytes for %dx%d stride %d", len(src), srcW, srcH, srcStride)
	}
	if len(dst) < dstW*dstH {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), dstW*dstH)
	}

	xRatio := float64(srcW) / float64(dstW)
	yRatio := float64(srcH) / float64(dstH)

	for y := 0; y < dstH; y++ {
		sy := float64(y) * yRatio
		y1 := int(sy)
		y2 := min(y1+1, srcH-1)
		fy := sy - float64(y1)

		for x := 0; x < dstW; x++ {
			sx := float64(x) * xRatio
			x1 := int(sx)
			x2 := min(x1+1, srcW-1)
			fx := sx - float64(x1)

			top := float64(src[y1*srcStride+x1])*(1-fx) + float64(src[y1*srcStride+x2])*fx
			bottom := float64(src[y2*srcStride+x1])*(1-fx) + float64(src[y2*srcStride+x2])*fx
			dst[y*dstW+x] = byte(top*(1-fy) + bottom*fy + 0.5)
		}
	}
	return nil
}

// IsScalingRequired checks if scaling is needed for given dimensions.
func (s *Scaler) IsScalingRequired(srcWidth, srcHeight, dstWidth, dstHeight uint16) bool {
	return srcWidth != dstWidth || srcHeight != dstHeight
}
