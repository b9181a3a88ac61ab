package video

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/opd-ai/avio/av/media"
	"github.com/sirupsen/logrus"
)

// ErrNilFrame is returned by effects given a nil frame.
var ErrNilFrame = errors.New("input frame cannot be nil")

// Effect represents a video effect that can be applied to frames.
//
// Implementations must not modify the input frame and must be comparable
// (pointer receivers are the usual choice) so the chain can track them by
// identity.
type Effect interface {
	// Apply processes a video frame and returns the modified frame
	Apply(frame *media.VideoFrame) (*media.VideoFrame, error)
	// GetName returns the effect name for identification
	GetName() string
}

// EffectChain is an ordered set of effects applied in registration order.
//
// Register and Unregister may be called from any goroutine while Apply runs
// on the capture goroutine. Apply works on a snapshot taken under the read
// lock, so a mutation never interleaves with an in-progress fold.
type EffectChain struct {
	mu      sync.RWMutex
	effects []Effect
}

// NewEffectChain creates an empty chain. An empty chain passes frames through.
func NewEffectChain() *EffectChain {
	return &EffectChain{
		effects: make([]Effect, 0),
	}
}

// Register appends effect to the chain. It returns false without changing the
// chain when the same effect instance is already registered, or when the
// effect is nil or not comparable.
func (ec *EffectChain) Register(effect Effect) bool {
	if effect == nil || !reflect.TypeOf(effect).Comparable() {
		logrus.WithFields(logrus.Fields{
			"function": "EffectChain.Register",
		}).Warn("Rejecting nil or non-comparable effect")
		return false
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.indexOf(effect) >= 0 {
		return false
	}
	ec.effects = append(ec.effects, effect)

	logrus.WithFields(logrus.Fields{
		"function": "EffectChain.Register",
		"effect":   effect.GetName(),
		"count":    len(ec.effects),
	}).Debug("Effect registered")
	return true
}

// Unregister removes effect by identity and reports whether it was present.
func (ec *EffectChain) Unregister(effect Effect) bool {
	if effect == nil || !reflect.TypeOf(effect).Comparable() {
		return false
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	i := ec.indexOf(effect)
	if i < 0 {
		return false
	}

	// Copy so snapshots handed out by Apply stay intact.
	next := make([]Effect, 0, len(ec.effects)-1)
	next = append(next, ec.effects[:i]...)
	next = append(next, ec.effects[i+1:]...)
	ec.effects = next

	logrus.WithFields(logrus.Fields{
		"function": "EffectChain.Unregister",
		"effect":   effect.GetName(),
		"count":    len(ec.effects),
	}).Debug("Effect unregistered")
	return true
}

func (ec *EffectChain) indexOf(effect Effect) int {
	for i, e := range ec.effects {
		if e == effect {
			return i
		}
	}
	return -1
}

// Apply folds the chain left to right over frame. An empty chain returns the
// input frame itself. The first failing effect aborts the fold.
func (ec *EffectChain) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	effects := ec.Effects()
	if len(effects) == 0 {
		return frame, nil
	}
	if frame == nil {
		return nil, ErrNilFrame
	}

	current := frame
	for i, effect := range effects {
		result, err := effect.Apply(current)
		if err != nil {
			return nil, fmt.Errorf("effect %d (%s) failed: %w", i, effect.GetName(), err)
		}
		current = result
	}
	return current, nil
}

// Effects returns a snapshot of the registered effects in order.
func (ec *EffectChain) Effects() []Effect {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.effects[:len(ec.effects):len(ec.effects)]
}

// GetEffectCount returns the number of effects in the chain.
func (ec *EffectChain) GetEffectCount() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.effects)
}

// IsEmpty reports whether the chain has no effects.
func (ec *EffectChain) IsEmpty() bool {
	return ec.GetEffectCount() == 0
}

// Clear removes all effects from the chain.
func (ec *EffectChain) Clear() {
	ec.mu.Lock()
	ec.effects = make([]Effect, 0)
	ec.mu.Unlock()
}

// BrightnessEffect adjusts the brightness of video frames.
type BrightnessEffect struct {
	adjustment int // -255 to +255
}

// NewBrightnessEffect creates a brightness adjustment effect.
// adjustment: -255 (darkest) to +255 (brightest), 0 = no change
func NewBrightnessEffect(adjustment int) *BrightnessEffect {
	return &BrightnessEffect{adjustment: clampInt(adjustment, -255, 255)}
}

// Apply shifts every luma sample by the adjustment.
func (be *BrightnessEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	result := frame.Clone()
	for i, pixel := range result.Y {
		result.Y[i] = clampByte(float64(int(pixel) + be.adjustment))
	}
	return result, nil
}

// GetName returns the effect name.
func (be *BrightnessEffect) GetName() string {
	return fmt.Sprintf("Brightness(%+d)", be.adjustment)
}

// ContrastEffect scales luma around mid gray.
type ContrastEffect struct {
	factor float64 // 0.0 = gray, 1.0 = normal, 3.0 = maximum
}

// NewContrastEffect creates a contrast adjustment effect. The factor is
// clamped to 0..3.
func NewContrastEffect(factor float64) *ContrastEffect {
	return &ContrastEffect{factor: clampFloat(factor, 0, 3)}
}

// Apply adjusts the contrast of the Y plane around 128.
func (ce *ContrastEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	const midpoint = 128.0

	result := frame.Clone()
	for i, pixel := range result.Y {
		result.Y[i] = clampByte(midpoint + (float64(pixel)-midpoint)*ce.factor + 0.5)
	}
	return result, nil
}

// GetName returns the effect name.
func (ce *ContrastEffect) GetName() string {
	return fmt.Sprintf("Contrast(%.2f)", ce.factor)
}

// GrayscaleEffect neutralizes the chroma planes.
type GrayscaleEffect struct{}

// NewGrayscaleEffect creates a grayscale conversion effect.
func NewGrayscaleEffect() *GrayscaleEffect {
	return &GrayscaleEffect{}
}

// Apply sets U and V to 128.
func (ge *GrayscaleEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	result := frame.Clone()
	fill(result.U, 128)
	fill(result.V, 128)
	return result, nil
}

// GetName returns the effect name.
func (ge *GrayscaleEffect) GetName() string {
	return "Grayscale"
}

// BlurEffect applies a box blur to the luminance plane.
type BlurEffect struct {
	radius int // 1-5
}

// NewBlurEffect creates a blur effect. radius is clamped to 1..5.
func NewBlurEffect(radius int) *BlurEffect {
	return &BlurEffect{radius: clampInt(radius, 1, 5)}
}

// Apply averages each luma sample with its neighbours inside the radius.
func (ble *BlurEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	result := frame.Clone()
	width, height := int(frame.Width), int(frame.Height)
	src := frame.Y

	for y := 0; y < height; y++ {
		y0, y1 := max(0, y-ble.radius), min(height-1, y+ble.radius)
		for x := 0; x < width; x++ {
			x0, x1 := max(0, x-ble.radius), min(width-1, x+ble.radius)

			sum := 0
			for ny := y0; ny <= y1; ny++ {
				row := src[ny*width:]
				for nx := x0; nx <= x1; nx++ {
					sum += int(row[nx])
				}
			}
			result.Y[y*width+x] = byte(sum / ((y1 - y0 + 1) * (x1 - x0 + 1)))
		}
	}
	return result, nil
}

// GetName returns the effect name.
func (ble *BlurEffect) GetName() string {
	return fmt.Sprintf("Blur(%d)", ble.radius)
}

// SharpenEffect applies a 3x3 sharpening kernel to the luminance plane.
type SharpenEffect struct {
	strength float64 // 0.0 = none, 2.0 = strong
}

// NewSharpenEffect creates a sharpening effect. strength is clamped to 0..2.
func NewSharpenEffect(strength float64) *SharpenEffect {
	return &SharpenEffect{strength: clampFloat(strength, 0, 2)}
}

// Apply sharpens interior luma samples; the one pixel border is unchanged.
func (se *SharpenEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	result := frame.Clone()
	width, height := int(frame.Width), int(frame.Height)
	src := frame.Y

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			idx := y*width + x
			neighbours := float64(src[idx-width]) + float64(src[idx+width]) +
				float64(src[idx-1]) + float64(src[idx+1])
			v := float64(src[idx])*(1+4*se.strength) - neighbours*se.strength
			result.Y[idx] = clampByte(v + 0.5)
		}
	}
	return result, nil
}

// GetName returns the effect name.
func (se *SharpenEffect) GetName() string {
	return fmt.Sprintf("Sharpen(%.2f)", se.strength)
}

// ColorTemperatureEffect shifts chroma towards warm (red) or cool (blue) tones.
type ColorTemperatureEffect struct {
	temperature int // -100 (cool) to +100 (warm)
}

// NewColorTemperatureEffect creates a color temperature effect. temperature is
// clamped to -100..100; zero leaves the frame unchanged.
func NewColorTemperatureEffect(temperature int) *ColorTemperatureEffect {
	return &ColorTemperatureEffect{temperature: clampInt(temperature, -100, 100)}
}

// Apply moves V (red difference) with the temperature and U (blue
// difference) against it. Luma is untouched.
func (ct *ColorTemperatureEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	result := frame.Clone()
	shift := float64(ct.temperature) * 0.3
	for i := range result.U {
		result.U[i] = clampByte(float64(result.U[i]) - shift)
	}
	for i := range result.V {
		result.V[i] = clampByte(float64(result.V[i]) + shift)
	}
	return result, nil
}

// GetName returns the effect name.
func (ct *ColorTemperatureEffect) GetName() string {
	switch {
	case ct.temperature > 0:
		return fmt.Sprintf("ColorTemperature(Warm+%d)", ct.temperature)
	case ct.temperature < 0:
		return fmt.Sprintf("ColorTemperature(Cool%d)", ct.temperature)
	default:
		return "ColorTemperature(Neutral)"
	}
}

// ParseEffect builds an effect from a short textual form such as
// "brightness=20", "contrast=1.5", "grayscale", "blur=2", "sharpen=0.5" or
// "temperature=-30". It is used by configuration loaders.
func ParseEffect(spec string) (Effect, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(spec), "=")
	switch name {
	case "grayscale":
		return NewGrayscaleEffect(), nil
	case "brightness", "blur", "temperature":
		var v int
		if !hasArg {
			return nil, fmt.Errorf("effect %q requires an integer argument", name)
		}
		if _, err := fmt.Sscanf(arg, "%d", &v); err != nil {
			return nil, fmt.Errorf("effect %q: %w", name, err)
		}
		switch name {
		case "brightness":
			return NewBrightnessEffect(v), nil
		case "blur":
			return NewBlurEffect(v), nil
		default:
			return NewColorTemperatureEffect(v), nil
		}
	case "contrast", "sharpen":
		var v float64
		if !hasArg {
			return nil, fmt.Errorf("effect %q requires a numeric argument", name)
		}
		if _, err := fmt.Sscanf(arg, "%g", &v); err != nil {
			return nil, fmt.Errorf("effect %q: %w", name, err)
		}
		if name == "contrast" {
			return NewContrastEffect(v), nil
		}
		return NewSharpenEffect(v), nil
	default:
		return nil, fmt.Errorf("unknown effect %q", spec)
	}
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func clampFloat(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
