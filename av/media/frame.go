package media

import "fmt"

// Frame dimension bounds shared by every video stage.
const (
	MinFrameDimension = 16
	MaxFrameDimension = 16383
)

// VideoFrame represents a video frame in planar YUV420 format.
//
// The Y plane is full resolution; U and V are subsampled by two in both
// directions. Strides of zero mean the plane is tightly packed.
type VideoFrame struct {
	Width   uint16
	Height  uint16
	Y       []byte // Luminance plane
	U       []byte // Chrominance U plane
	V       []byte // Chrominance V plane
	YStride int    // Stride for Y plane
	UStride int    // Stride for U plane
	VStride int    // Stride for V plane
}

// NewVideoFrame allocates a tightly packed frame with neutral chroma.
func NewVideoFrame(width, height uint16) *VideoFrame {
	ySize := int(width) * int(height)
	uvSize := ySize / 4

	frame := &VideoFrame{
		Width:   width,
		Height:  height,
		Y:       make([]byte, ySize),
		U:       make([]byte, uvSize),
		V:       make([]byte, uvSize),
		YStride: int(width),
		UStride: int(width) / 2,
		VStride: int(width) / 2,
	}
	for i := range frame.U {
		frame.U[i] = 128
		frame.V[i] = 128
	}
	return frame
}

// ValidateDimensions checks that width and height are even and within
// MinFrameDimension..MaxFrameDimension.
func ValidateDimensions(width, height int) error {
	if width < MinFrameDimension || height < MinFrameDimension ||
		width > MaxFrameDimension || height > MaxFrameDimension {
		return fmt.Errorf("%w: %dx%d (allowed %d..%d)", ErrInvalidDimensions,
			width, height, MinFrameDimension, MaxFrameDimension)
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("%w: %dx%d must be even", ErrInvalidDimensions, width, height)
	}
	return nil
}

// Validate checks dimensions and plane sizes for YUV420.
func (f *VideoFrame) Validate() error {
	if f == nil {
		return ErrNilFrame
	}
	if err := ValidateDimensions(int(f.Width), int(f.Height)); err != nil {
		return err
	}

	ySize := int(f.Width) * int(f.Height)
	uvSize := ySize / 4
	if len(f.Y) < ySize || len(f.U) < uvSize || len(f.V) < uvSize {
		return fmt.Errorf("%w: Y=%d U=%d V=%d, need Y>=%d UV>=%d", ErrPlaneSize,
			len(f.Y), len(f.U), len(f.V), ySize, uvSize)
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f *VideoFrame) Clone() *VideoFrame {
	if f == nil {
		return nil
	}
	dst := &VideoFrame{
		Width:   f.Width,
		Height:  f.Height,
		Y:       make([]byte, len(f.Y)),
		U:       make([]byte, len(f.U)),
		V:       make([]byte, len(f.V)),
		YStride: f.YStride,
		UStride: f.UStride,
		VStride: f.VStride,
	}
	copy(dst.Y, f.Y)
	copy(dst.U, f.U)
	copy(dst.V, f.V)
	return dst
}

// PlaneBytes concatenates the Y, U and V planes.
func (f *VideoFrame) PlaneBytes() []byte {
	if f == nil {
		return []byte{}
	}
	out := make([]byte, 0, len(f.Y)+len(f.U)+len(f.V))
	out = append(out, f.Y...)
	out = append(out, f.U...)
	out = append(out, f.V...)
	return out
}

// CopyFrom overwrites the receiver's planes with src. Both frames must share
// the same dimensions.
func (f *VideoFrame) CopyFrom(src *VideoFrame) error {
	if f == nil || src == nil {
		return ErrNilFrame
	}
	if f.Width != src.Width || f.Height != src.Height {
		return fmt.Errorf("%w: %dx%d into %dx%d", ErrInvalidDimensions,
			src.Width, src.Height, f.Width, f.Height)
	}
	f.Y = append(f.Y[:0], src.Y...)
	f.U = append(f.U[:0], src.U...)
	f.V = append(f.V[:0], src.V...)
	f.YStride, f.UStride, f.VStride = src.YStride, src.UStride, src.VStride
	return nil
}
