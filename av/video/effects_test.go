package video

import (
	"errors"
	"sync"
	"testing"

	"github.com/opd-ai/avio/av/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestFrame builds a frame with a horizontal luma ramp and neutral chroma.
func createTestFrame(width, height uint16) *media.VideoFrame {
	frame := media.NewVideoFrame(width, height)
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			frame.Y[y*int(width)+x] = byte(x * 255 / int(width))
		}
	}
	return frame
}

// stepEffect applies op to every luma sample and records its tag.
type stepEffect struct {
	tag string
	op  func(byte) byte
	log *[]string
	mu  *sync.Mutex
}

func (s *stepEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) {
	if s.log != nil {
		s.mu.Lock()
		*s.log = append(*s.log, s.tag)
		s.mu.Unlock()
	}
	out := frame.Clone()
	for i := range out.Y {
		out.Y[i] = s.op(out.Y[i])
	}
	return out, nil
}

func (s *stepEffect) GetName() string { return s.tag }

type failingEffect struct{}

var errEffectFailed = errors.New("effect failed")

func (f *failingEffect) Apply(*media.VideoFrame) (*media.VideoFrame, error) {
	return nil, errEffectFailed
}

func (f *failingEffect) GetName() string { return "Failing" }

// valueEffect is not comparable because of the slice field.
type valueEffect struct{ lut []byte }

func (v valueEffect) Apply(frame *media.VideoFrame) (*media.VideoFrame, error) { return frame, nil }
func (v valueEffect) GetName() string                                          { return "Value" }

func TestEffectChain_Register(t *testing.T) {
	chain := NewEffectChain()
	brightness := NewBrightnessEffect(10)
	blur := NewBlurEffect(1)

	assert.True(t, chain.Register(brightness))
	assert.True(t, chain.Register(blur))
	assert.False(t, chain.Register(brightness), "duplicate register must be rejected")
	assert.False(t, chain.Register(nil))
	assert.False(t, chain.Register(valueEffect{}))
	assert.Equal(t, 2, chain.GetEffectCount())

	// A second instance with identical parameters is a distinct effect.
	assert.True(t, chain.Register(NewBrightnessEffect(10)))
	assert.Equal(t, 3, chain.GetEffectCount())
}

func TestEffectChain_Unregister(t *testing.T) {
	chain := NewEffectChain()
	a := NewBrightnessEffect(10)
	b := NewContrastEffect(1.5)
	c := NewBlurEffect(2)
	for _, e := range []Effect{a, b, c} {
		require.True(t, chain.Register(e))
	}

	snapshot := chain.Effects()
	assert.True(t, chain.Unregister(b))
	assert.False(t, chain.Unregister(b))
	assert.False(t, chain.Unregister(nil))

	assert.Equal(t, []Effect{a, c}, chain.Effects())
	assert.Equal(t, []Effect{a, b, c}, snapshot, "snapshots are unaffected by later mutation")
}

func TestEffectChain_ApplyIsLeftFold(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	addOne := &stepEffect{tag: "add", op: func(v byte) byte { return v + 1 }, log: &log, mu: &mu}
	double := &stepEffect{tag: "double", op: func(v byte) byte { return v * 2 }, log: &log, mu: &mu}

	tests := []struct {
		name    string
		effects []Effect
		want    byte
		order   []string
	}{
		{name: "add then double", effects: []Effect{addOne, double}, want: (10 + 1) * 2, order: []string{"add", "double"}},
		{name: "double then add", effects: []Effect{double, addOne}, want: 10*2 + 1, order: []string{"double", "add"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log = nil
			chain := NewEffectChain()
			for _, e := range tt.effects {
				require.True(t, chain.Register(e))
			}

			frame := media.NewVideoFrame(16, 16)
			fill(frame.Y, 10)

			out, err := chain.Apply(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Y[0])
			assert.Equal(t, byte(10), frame.Y[0], "input must not be modified")
			assert.Equal(t, tt.order, log)
		})
	}
}

func TestEffectChain_EmptyChainPassesThrough(t *testing.T) {
	chain := NewEffectChain()
	frame := createTestFrame(32, 32)

	out, err := chain.Apply(frame)
	require.NoError(t, err)
	assert.Same(t, frame, out)
	assert.True(t, chain.IsEmpty())

	out, err = chain.Apply(nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEffectChain_ErrorAbortsFold(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	chain := NewEffectChain()
	require.True(t, chain.Register(&failingEffect{}))
	require.True(t, chain.Register(&stepEffect{tag: "after", op: func(v byte) byte { return v }, log: &log, mu: &mu}))

	_, err := chain.Apply(createTestFrame(32, 32))
	assert.ErrorIs(t, err, errEffectFailed)
	assert.Contains(t, err.Error(), "Failing")
	assert.Empty(t, log)

	_, err = chain.Apply(nil)
	assert.ErrorIs(t, err, ErrNilFrame)
}

func TestEffectChain_Clear(t *testing.T) {
	chain := NewEffectChain()
	chain.Register(NewGrayscaleEffect())
	chain.Register(NewSharpenEffect(1))
	chain.Clear()
	assert.True(t, chain.IsEmpty())
}

func TestEffectChain_ConcurrentMutation(t *testing.T) {
	chain := NewEffectChain()
	frame := createTestFrame(32, 32)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e := NewBrightnessEffect(j)
				chain.Register(e)
				chain.Unregister(e)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := chain.Apply(frame)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.True(t, chain.IsEmpty())
}

func TestBuiltinEffects(t *testing.T) {
	tests := []struct {
		name     string
		effect   Effect
		wantName string
		check    func(t *testing.T, in, out *media.VideoFrame)
	}{
		{
			name:     "brightness raises luma",
			effect:   NewBrightnessEffect(20),
			wantName: "Brightness(+20)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Equal(t, in.Y[10]+20, out.Y[10])
				assert.Equal(t, "Brightness(+255)", NewBrightnessEffect(300).GetName())
			},
		},
		{
			name:     "contrast zero flattens to mid gray",
			effect:   NewContrastEffect(0),
			wantName: "Contrast(0.00)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				for _, v := range out.Y {
					require.Equal(t, byte(128), v)
				}
			},
		},
		{
			name:     "grayscale neutralizes chroma",
			effect:   NewGrayscaleEffect(),
			wantName: "Grayscale",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Equal(t, in.Y, out.Y)
				for i := range out.U {
					require.Equal(t, byte(128), out.U[i])
					require.Equal(t, byte(128), out.V[i])
				}
			},
		},
		{
			name:     "blur smooths a ramp",
			effect:   NewBlurEffect(9),
			wantName: "Blur(5)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Greater(t, out.Y[0], in.Y[0])
			},
		},
		{
			name:     "sharpen keeps the border",
			effect:   NewSharpenEffect(1),
			wantName: "Sharpen(1.00)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Equal(t, in.Y[0], out.Y[0])
			},
		},
		{
			name:     "warm temperature shifts chroma",
			effect:   NewColorTemperatureEffect(50),
			wantName: "ColorTemperature(Warm+50)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Equal(t, in.Y, out.Y)
				assert.Less(t, out.U[0], byte(128))
				assert.Greater(t, out.V[0], byte(128))
			},
		},
		{
			name:     "cool temperature is clamped",
			effect:   NewColorTemperatureEffect(-250),
			wantName: "ColorTemperature(Cool-100)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Greater(t, out.U[0], byte(128))
				assert.Less(t, out.V[0], byte(128))
			},
		},
		{
			name:     "neutral temperature is identity",
			effect:   NewColorTemperatureEffect(0),
			wantName: "ColorTemperature(Neutral)",
			check: func(t *testing.T, in, out *media.VideoFrame) {
				assert.Equal(t, in.U, out.U)
				assert.Equal(t, in.V, out.V)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createTestFrame(32, 32)
			original := in.Clone()

			out, err := tt.effect.Apply(in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tt.effect.GetName())
			assert.Equal(t, original, in, "effects must not modify their input")
			tt.check(t, in, out)

			_, err = tt.effect.Apply(nil)
			assert.ErrorIs(t, err, ErrNilFrame)
		})
	}
}

func TestParseEffect(t *testing.T) {
	tests := []struct {
		spec     string
		wantName string
		wantErr  bool
	}{
		{spec: "grayscale", wantName: "Grayscale"},
		{spec: "brightness=20", wantName: "Brightness(+20)"},
		{spec: " blur=2 ", wantName: "Blur(2)"},
		{spec: "temperature=-30", wantName: "ColorTemperature(Cool-30)"},
		{spec: "contrast=1.5", wantName: "Contrast(1.50)"},
		{spec: "sharpen=0.5", wantName: "Sharpen(0.50)"},
		{spec: "brightness", wantErr: true},
		{spec: "contrast=high", wantErr: true},
		{spec: "sepia", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			effect, err := ParseEffect(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, effect.GetName())
		})
	}
}

func BenchmarkEffectChain_Multiple(b *testing.B) {
	chain := NewEffectChain()
	chain.Register(NewBrightnessEffect(10))
	chain.Register(NewContrastEffect(1.2))
	chain.Register(NewColorTemperatureEffect(20))
	frame := createTestFrame(640, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = chain.Apply(frame)
	}
}
