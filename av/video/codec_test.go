package video

import (
	"testing"
	"time"

	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yuvdConfig(w, h int) codec.EncoderConfig {
	return codec.EncoderConfig{Width: w, Height: h, FrameRate: 30, BitRate: 512000}
}

func newYUVDPair(t *testing.T, w, h int) (*YUVDeltaEncoder, *YUVDeltaDecoder) {
	t.Helper()
	enc := NewYUVDeltaEncoder()
	require.NoError(t, enc.Configure(yuvdConfig(w, h)))
	dec, err := NewYUVDeltaDecoder(enc.Format())
	require.NoError(t, err)
	return enc, dec
}

func encodeSample(t *testing.T, enc *YUVDeltaEncoder, frame *media.VideoFrame, pts time.Duration, force bool) *media.Sample {
	t.Helper()
	data, key, err := enc.EncodeFrame(media.NewVideoSample(frame, pts, 33*time.Millisecond), force)
	require.NoError(t, err)
	return media.NewEncodedSample(data, pts, 33*time.Millisecond, !key, enc.Format())
}

func TestYUVDelta_RoundTrip(t *testing.T) {
	enc, dec := newYUVDPair(t, 64, 48)
	pattern, err := NewTestPattern(64, 48, 30)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		src := pattern.Next()
		encoded := encodeSample(t, enc, src.Image(), src.PTS(), false)
		assert.Equal(t, i > 0, encoded.DependsOnOthers(), "only the first frame is a keyframe")

		out, err := dec.DecodeFrame(encoded)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, src.PTS(), out[0].PTS())
		assert.Equal(t, src.Image().Y, out[0].Image().Y)
		assert.Equal(t, src.Image().U, out[0].Image().U)
		assert.Equal(t, src.Image().V, out[0].Image().V)
		assert.True(t, out[0].Format().Equal(enc.Format()))
	}
}

func TestYUVDelta_EncoderScalesToConfiguredSize(t *testing.T) {
	enc, dec := newYUVDPair(t, 32, 32)

	encoded := encodeSample(t, enc, createTestFrame(64, 64), 0, false)
	out, err := dec.DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint16(32), out[0].Image().Width)
	assert.Equal(t, uint16(32), out[0].Image().Height)
}

func TestYUVDelta_DeltaWithoutReference(t *testing.T) {
	enc, dec := newYUVDPair(t, 32, 32)

	encodeSample(t, enc, createTestFrame(32, 32), 0, false)
	delta := encodeSample(t, enc, createTestFrame(32, 32), time.Millisecond, false)
	require.True(t, delta.DependsOnOthers())

	_, err := dec.DecodeFrame(delta)
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestYUVDelta_ResetDropsReference(t *testing.T) {
	enc, dec := newYUVDPair(t, 32, 32)

	key := encodeSample(t, enc, createTestFrame(32, 32), 0, false)
	_, err := dec.DecodeFrame(key)
	require.NoError(t, err)

	dec.Reset()
	delta := encodeSample(t, enc, createTestFrame(32, 32), time.Millisecond, false)
	_, err = dec.DecodeFrame(delta)
	assert.ErrorIs(t, err, ErrMissingReference)

	// A forced keyframe recovers.
	recovered := encodeSample(t, enc, createTestFrame(32, 32), 2*time.Millisecond, true)
	assert.False(t, recovered.DependsOnOthers())
	_, err = dec.DecodeFrame(recovered)
	assert.NoError(t, err)
}

func TestYUVDelta_MalformedPayloads(t *testing.T) {
	_, dec := newYUVDPair(t, 32, 32)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "wrong magic", data: []byte{'X', 1, 32, 0, 32, 0}},
		{name: "truncated planes", data: []byte{'Y', 1, 32, 0, 32, 0, 1, 2, 3}},
		{name: "odd dimensions", data: []byte{'Y', 1, 33, 0, 32, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.DecodeFrame(media.NewEncodedSample(tt.data, 0, 0, false, nil))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestYUVDelta_EncoderRejectsSampleWithoutImage(t *testing.T) {
	enc := NewYUVDeltaEncoder()
	require.NoError(t, enc.Configure(yuvdConfig(32, 32)))

	_, _, err := enc.EncodeFrame(media.NewSample(media.MediaTypeVideo, []byte{1}, 0, 0), false)
	assert.ErrorIs(t, err, ErrNoImage)
	assert.NoError(t, enc.Close())
}

func TestYUVDelta_DecoderRejectsForeignFormat(t *testing.T) {
	_, err := NewYUVDeltaDecoder(media.NewVideoFormat(media.CodecH264, 64, 48))
	assert.Error(t, err)
	_, err = NewYUVDeltaDecoder(nil)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	r := codec.NewRegistry()
	Register(r)

	factory, ok := r.Lookup(media.CodecYUVDelta)
	require.True(t, ok)
	backend, err := factory(media.NewVideoFormat(media.CodecYUVDelta, 32, 32))
	require.NoError(t, err)
	assert.IsType(t, &YUVDeltaDecoder{}, backend)
}

func TestYUVDelta_ThroughAsyncStages(t *testing.T) {
	registry := codec.NewRegistry()
	Register(registry)

	var (
		decoded = make(chan *media.Sample, 8)
	)
	dec := codec.NewDecoder(registry, media.FrameConsumerFunc(func(s *media.Sample) { decoded <- s }), codec.NewDecoderOptions())
	defer dec.Close()

	enc := codec.NewEncoder(NewYUVDeltaEncoder(), dec, codec.NewEncoderOptions())
	defer enc.Close()
	require.NoError(t, enc.Configure(yuvdConfig(32, 32)))

	pattern, err := NewTestPattern(32, 32, 30)
	require.NoError(t, err)
	sources := make([]*media.Sample, 3)
	for i := range sources {
		sources[i] = pattern.Next()
		require.NoError(t, enc.EncodeSample(sources[i]))
	}

	for i := range sources {
		select {
		case s := <-decoded:
			assert.Equal(t, sources[i].PTS(), s.PTS())
			assert.Equal(t, sources[i].Image().Y, s.Image().Y)
		case <-time.After(time.Second):
			t.Fatalf("frame %d not decoded", i)
		}
	}
}

func TestResolutionString(t *testing.T) {
	assert.Equal(t, "640x480", Resolution{Width: 640, Height: 480}.String())
}

func TestGetBitrateForResolution(t *testing.T) {
	tests := []struct {
		res  Resolution
		want uint32
	}{
		{Resolution{160, 120}, 64000},
		{Resolution{320, 240}, 128000},
		{Resolution{640, 480}, 512000},
		{Resolution{1280, 720}, 2000000},
		{Resolution{1920, 1080}, 4000000},
		{Resolution{3840, 2160}, 8000000},
	}

	for _, tt := range tests {
		t.Run(tt.res.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, GetBitrateForResolution(tt.res))
		})
	}
}
