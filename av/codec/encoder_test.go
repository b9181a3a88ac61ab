package codec

import (
	"testing"
	"time"

	"github.com/opd-ai/avio/av/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() EncoderConfig {
	return EncoderConfig{Width: 64, Height: 48, FrameRate: 30, BitRate: 256000}
}

func TestEncoderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EncoderConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*EncoderConfig) {}, wantErr: false},
		{name: "odd width", mutate: func(c *EncoderConfig) { c.Width = 63 }, wantErr: true},
		{name: "too small", mutate: func(c *EncoderConfig) { c.Height = 8 }, wantErr: true},
		{name: "zero frame rate", mutate: func(c *EncoderConfig) { c.FrameRate = 0 }, wantErr: true},
		{name: "excessive frame rate", mutate: func(c *EncoderConfig) { c.FrameRate = 500 }, wantErr: true},
		{name: "zero bit rate", mutate: func(c *EncoderConfig) { c.BitRate = 0 }, wantErr: true},
		{name: "negative keyframe interval", mutate: func(c *EncoderConfig) { c.KeyframeInterval = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncoder_ConfigureFailsFast(t *testing.T) {
	enc := NewEncoder(newFakeEncoder(), nil, NewEncoderOptions())
	defer enc.Close()

	cfg := validConfig()
	cfg.Width = 0
	assert.ErrorIs(t, enc.Configure(cfg), ErrInvalidConfig)

	_, ok := enc.Config()
	assert.False(t, ok)
}

func TestEncoder_EncodeBeforeConfigure(t *testing.T) {
	enc := NewEncoder(newFakeEncoder(), nil, NewEncoderOptions())
	defer enc.Close()

	err := enc.Encode(media.NewVideoFrame(64, 48), 0, 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, enc.Encode(nil, 0, 0), ErrNilSample)
}

func TestEncoder_PreservesTimestamps(t *testing.T) {
	sink := &recordingSink{}
	enc := NewEncoder(newFakeEncoder(), sink, NewEncoderOptions())
	defer enc.Close()

	require.NoError(t, enc.Configure(validConfig()))

	in := media.NewVideoSample(media.NewVideoFrame(64, 48), 40*time.Millisecond, 33*time.Millisecond,
		media.WithDecodeTimestamp(20*time.Millisecond))
	require.NoError(t, enc.EncodeSample(in))

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, time.Millisecond)
	out := sink.get(0)
	assert.Equal(t, 40*time.Millisecond, out.PTS())
	assert.Equal(t, 20*time.Millisecond, out.DecodeTimestamp())
	assert.Equal(t, 33*time.Millisecond, out.Duration())
	assert.False(t, out.DependsOnOthers(), "first frame after configure is a keyframe")
	require.NotNil(t, out.Format())
	assert.Equal(t, 64, out.Format().Width)
}

func TestEncoder_ConfigureIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	enc := NewEncoder(newFakeEncoder(), sink, NewEncoderOptions())
	defer enc.Close()

	require.NoError(t, enc.Configure(validConfig()))
	require.NoError(t, enc.Configure(validConfig()))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0))

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), enc.Stats().Reconfigured)
}

func TestEncoder_ReconfigureAtFrameBoundary(t *testing.T) {
	fe := newFakeEncoder()
	fe.gate = make(chan struct{})
	fe.entered = make(chan struct{}, 8)

	sink := &recordingSink{}
	enc := NewEncoder(fe, sink, NewEncoderOptions())
	defer enc.Close()

	first := validConfig()
	require.NoError(t, enc.Configure(first))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0))
	<-fe.entered

	// Frame 0 is inside the backend; the new configuration must wait.
	second := validConfig()
	second.Width, second.Height = 128, 96
	require.NoError(t, enc.Configure(second))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 33*time.Millisecond, 0))

	close(fe.gate)
	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, time.Millisecond)

	cfgs := fe.configs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, 64, cfgs[0].Width)
	assert.Equal(t, 128, cfgs[1].Width)
	assert.False(t, sink.get(1).DependsOnOthers(), "reconfiguration forces a keyframe")
}

func TestEncoder_RetriesRejectedConfiguration(t *testing.T) {
	fe := newFakeEncoder()
	sink := &recordingSink{}
	enc := NewEncoder(fe, sink, NewEncoderOptions())
	defer enc.Close()

	// Nothing applied yet: the rejected request is forgotten.
	fe.rejectNext(1)
	first := validConfig()
	require.NoError(t, enc.Configure(first))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0))
	require.Eventually(t, func() bool { return enc.Stats().Failed == 2 }, time.Second, time.Millisecond)
	_, ok := enc.Config()
	assert.False(t, ok)
	assert.ErrorIs(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0), ErrNotConfigured)

	require.NoError(t, enc.Configure(first))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 33*time.Millisecond, 0))
	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, fe.configureCount())

	// A rejected change falls back to the applied configuration.
	fe.rejectNext(1)
	second := validConfig()
	second.FrameRate = 60
	require.NoError(t, enc.Configure(second))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 66*time.Millisecond, 0))
	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, time.Millisecond)
	cfg, ok := enc.Config()
	require.True(t, ok)
	assert.Equal(t, first, cfg)

	require.NoError(t, enc.Configure(second))
	require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 99*time.Millisecond, 0))
	require.Eventually(t, func() bool { return sink.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 4, fe.configureCount())

	cfgs := fe.configs()
	require.Len(t, cfgs, 3)
	assert.Equal(t, 30.0, cfgs[1].FrameRate)
	assert.Equal(t, 60.0, cfgs[2].FrameRate)
	assert.Equal(t, uint64(2), enc.Stats().Reconfigured)
}

func TestEncoder_KeyframeInterval(t *testing.T) {
	sink := &recordingSink{}
	enc := NewEncoder(newFakeEncoder(), sink, NewEncoderOptions())
	defer enc.Close()

	cfg := validConfig()
	cfg.KeyframeInterval = 3
	require.NoError(t, enc.Configure(cfg))

	for i := 0; i < 6; i++ {
		require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), time.Duration(i)*time.Millisecond, 0))
		require.Eventually(t, func() bool { return sink.len() == i+1 }, time.Second, time.Millisecond)
	}

	var depends []bool
	for i := 0; i < 6; i++ {
		depends = append(depends, sink.get(i).DependsOnOthers())
	}
	assert.Equal(t, []bool{false, true, true, false, true, true}, depends)
}

func TestEncoder_DropPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   DropPolicy
		expected []time.Duration
	}{
		{
			name:     "drop oldest keeps the latest frames",
			policy:   DropOldest,
			expected: []time.Duration{0, 3 * time.Millisecond, 4 * time.Millisecond},
		},
		{
			name:     "drop newest keeps the queued frames",
			policy:   DropNewest,
			expected: []time.Duration{0, 1 * time.Millisecond, 2 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := newFakeEncoder()
			fe.gate = make(chan struct{})
			fe.entered = make(chan struct{}, 8)

			sink := &recordingSink{}
			enc := NewEncoder(fe, sink, EncoderOptions{QueueSize: 2, DropPolicy: tt.policy, Name: "test"})
			defer enc.Close()
			require.NoError(t, enc.Configure(validConfig()))

			require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0))
			<-fe.entered

			start := time.Now()
			for i := 1; i <= 4; i++ {
				require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), time.Duration(i)*time.Millisecond, 0))
			}
			assert.Less(t, time.Since(start), 100*time.Millisecond, "Encode must not block on a full queue")

			close(fe.gate)
			require.Eventually(t, func() bool { return sink.len() == 3 }, time.Second, time.Millisecond)
			assert.Equal(t, tt.expected, sink.pts())

			stats := enc.Stats()
			assert.Equal(t, uint64(5), stats.Submitted)
			assert.Equal(t, uint64(2), stats.Dropped)
			assert.Equal(t, uint64(3), stats.Encoded)
		})
	}
}

func TestEncoder_FrameFailureIsSkipped(t *testing.T) {
	fe := newFakeEncoder()
	fe.failPTS[time.Millisecond] = true

	sink := &recordingSink{}
	enc := NewEncoder(fe, sink, NewEncoderOptions())
	defer enc.Close()
	require.NoError(t, enc.Configure(validConfig()))

	for i := 0; i < 3; i++ {
		require.NoError(t, enc.Encode(media.NewVideoFrame(64, 48), time.Duration(i)*time.Millisecond, 0))
	}

	require.Eventually(t, func() bool { return enc.Stats().Failed == 1 && sink.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []time.Duration{0, 2 * time.Millisecond}, sink.pts())
}

func TestEncoder_Close(t *testing.T) {
	fe := newFakeEncoder()
	enc := NewEncoder(fe, nil, NewEncoderOptions())
	require.NoError(t, enc.Configure(validConfig()))

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())
	assert.True(t, fe.closed)

	assert.ErrorIs(t, enc.Encode(media.NewVideoFrame(64, 48), 0, 0), ErrEncoderClosed)
	assert.ErrorIs(t, enc.Configure(validConfig()), ErrEncoderClosed)
}

func TestParseDropPolicy(t *testing.T) {
	p, err := ParseDropPolicy("drop-newest")
	require.NoError(t, err)
	assert.Equal(t, DropNewest, p)

	p, err = ParseDropPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)

	_, err = ParseDropPolicy("random")
	assert.Error(t, err)
}
