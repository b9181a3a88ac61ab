package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/avio/av/clock"
	"github.com/opd-ai/avio/av/codec"
	"github.com/opd-ai/avio/av/media"
	"github.com/opd-ai/avio/av/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_AttachSwapsInputInOneTransaction(t *testing.T) {
	o, session := newTestOrchestrator(t)
	a := newCamera(t, "cam-a", PositionBack)
	b := newCamera(t, "cam-b", PositionFront)

	require.NoError(t, o.AttachInput(CameraSource(a)))
	first := o.State()
	assert.Equal(t, SourceCamera, first.Source)
	assert.Equal(t, "cam-a", first.DeviceID)

	session.ResetLog()
	require.NoError(t, o.AttachInput(CameraSource(b)))
	second := o.State()

	assert.Equal(t, []string{
		"begin",
		"remove-output:" + first.OutputID,
		"remove-input:cam-a",
		"add-input:cam-b",
		"add-output:" + second.OutputID,
		"commit",
		"orientation:portrait",
	}, session.Log())

	require.Len(t, session.Inputs(), 1)
	assert.Same(t, b, session.Inputs()[0])
	require.Len(t, session.Outputs(), 1)
	assert.Equal(t, second.OutputID, session.Outputs()[0].ID)
	assert.NotEqual(t, first.OutputID, second.OutputID)
	assert.Equal(t, PositionFront, second.Position)
	assert.False(t, session.InTransaction())
}

func TestOrchestrator_AttachRefusedKeepsPreviousInput(t *testing.T) {
	o, session := newTestOrchestrator(t)
	a := newCamera(t, "cam-a", PositionBack)
	b := newCamera(t, "cam-b", PositionFront)

	require.NoError(t, o.AttachInput(CameraSource(a)))
	before := o.State()

	session.RefuseInput("cam-b")
	err := o.AttachInput(CameraSource(b))
	assert.ErrorIs(t, err, ErrCannotAddInput)

	assert.Equal(t, before, o.State())
	require.Len(t, session.Inputs(), 1)
	assert.Same(t, a, session.Inputs()[0])
	require.Len(t, session.Outputs(), 1)
	assert.Equal(t, before.OutputID, session.Outputs()[0].ID)
	assert.False(t, session.InTransaction())
}

func TestOrchestrator_AttachInvalidSources(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	assert.ErrorIs(t, o.AttachInput(CameraSource(nil)), ErrInvalidSource)
	assert.ErrorIs(t, o.AttachInput(ScreenCapture(nil)), ErrInvalidSource)
	assert.ErrorIs(t, o.AttachInput(CaptureSource{kind: SourceKind(9)}), ErrInvalidSource)
	assert.Equal(t, SourceNone, o.State().Source)
}

func TestOrchestrator_ScreenAndCameraAreExclusive(t *testing.T) {
	o, session := newTestOrchestrator(t)
	enc := &encoderLog{}
	o.SetVideoEncoder(enc)

	cam := newCamera(t, "cam", PositionBack)
	require.NoError(t, o.AttachInput(CameraSource(cam)))

	screen, err := NewSimScreen(32, 32, 200)
	require.NoError(t, err)
	require.NoError(t, o.AttachInput(ScreenCapture(screen)))

	assert.Equal(t, SourceScreen, o.State().Source)
	assert.Empty(t, session.Inputs())
	assert.Empty(t, session.Outputs())
	assert.True(t, screen.Running())
	require.Eventually(t, func() bool { return len(enc.all()) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, o.AttachInput(CameraSource(cam)))
	assert.False(t, screen.Running())
	assert.Equal(t, SourceCamera, o.State().Source)

	require.NoError(t, o.AttachInput(NoSource()))
	assert.Equal(t, SourceNone, o.State().Source)
	assert.Empty(t, session.Inputs())
	assert.Empty(t, session.Outputs())
}

func TestOrchestrator_ScreenStartFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	screen, err := NewSimScreen(32, 32, 30)
	require.NoError(t, err)
	screen.SetStartError(errors.New("permission denied"))

	err = o.AttachInput(ScreenCapture(screen))
	assert.ErrorIs(t, err, ErrScreenStart)
	assert.Equal(t, SourceNone, o.State().Source)
}

func TestOrchestrator_RecorderSeesOriginalSamples(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	rec := &recorderLog{}
	videoEnc, audioEnc := &encoderLog{}, &encoderLog{}
	o.SetRecorder(rec)
	o.SetVideoEncoder(videoEnc)
	o.SetAudioEncoder(audioEnc)
	require.True(t, o.RegisterEffect(video.NewBrightnessEffect(50)))

	original := uniformFrame(100)
	v := media.NewVideoSample(original, 0, time.Millisecond)
	a := media.NewAudioSample(&media.AudioBlock{SampleRate: 48000, Channels: 1, PCM: []int16{1, 2}}, 0)

	o.HandleCapturedSample(v)
	o.HandleCapturedSample(a)

	entries := rec.all()
	require.Len(t, entries, 2)
	assert.Same(t, v, entries[0].sample)
	assert.Equal(t, media.MediaTypeVideo, entries[0].mt)
	assert.Same(t, a, entries[1].sample)
	assert.Equal(t, media.MediaTypeAudio, entries[1].mt)

	require.Len(t, videoEnc.all(), 1)
	require.Len(t, audioEnc.all(), 1)
	assert.Same(t, a, audioEnc.all()[0])

	assert.Equal(t, uint64(2), o.Stats().Recorded)
	assert.Equal(t, uint64(2), o.Stats().Submitted)
}

func TestOrchestrator_EffectsRendering(t *testing.T) {
	tests := []struct {
		name          string
		renderInto    bool
		withDrawable  bool
		wantSame      bool
		wantRenders   int
		wantOrigLuma  byte
		wantOutLuma   byte
		registerChain bool
	}{
		{name: "empty chain passes through", renderInto: true, wantSame: true, wantOrigLuma: 100, wantOutLuma: 100},
		{name: "render into buffer", renderInto: true, registerChain: true, wantSame: true, wantOrigLuma: 150, wantOutLuma: 150},
		{name: "render through drawable", renderInto: true, withDrawable: true, registerChain: true, wantSame: true, wantRenders: 1, wantOrigLuma: 150, wantOutLuma: 150},
		{name: "derived sample", renderInto: false, registerChain: true, wantSame: false, wantOrigLuma: 100, wantOutLuma: 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.RenderIntoBuffer = tt.renderInto
			o := NewOrchestrator(NewMemorySession(), cfg)
			enc := &encoderLog{}
			o.SetVideoEncoder(enc)

			drawable := &drawableLog{}
			if tt.withDrawable {
				o.SetDrawable(drawable)
			}
			if tt.registerChain {
				require.True(t, o.RegisterEffect(video.NewBrightnessEffect(50)))
			}

			s := media.NewVideoSample(uniformFrame(100), 0, time.Millisecond)
			o.HandleCapturedSample(s)

			got := enc.all()
			require.Len(t, got, 1)
			if tt.wantSame {
				assert.Same(t, s, got[0])
			} else {
				assert.NotSame(t, s, got[0])
			}
			assert.Equal(t, tt.wantOrigLuma, s.Image().Y[0])
			assert.Equal(t, tt.wantOutLuma, got[0].Image().Y[0])
			assert.Equal(t, tt.wantRenders, drawable.renders)
		})
	}
}

func TestOrchestrator_FailuresDoNotStopTheFrame(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	rec := &recorderLog{err: errors.New("disk full")}
	enc := &encoderLog{}
	o.SetRecorder(rec)
	o.SetVideoEncoder(enc)

	drawable := &drawableLog{renderErr: errors.New("no surface")}
	o.SetDrawable(drawable)
	require.True(t, o.RegisterEffect(video.NewBrightnessEffect(10)))

	s := media.NewVideoSample(uniformFrame(100), 0, time.Millisecond)
	o.HandleCapturedSample(s)

	require.Len(t, enc.all(), 1)
	assert.Equal(t, byte(110), enc.all()[0].Image().Y[0], "falls back to replacing the image")

	stats := o.Stats()
	assert.Equal(t, uint64(1), stats.RecorderErrors)
	assert.Equal(t, uint64(1), stats.Submitted)

	enc.err = errors.New("closed")
	o.HandleCapturedSample(media.NewVideoSample(uniformFrame(1), time.Millisecond, time.Millisecond))
	assert.Equal(t, uint64(1), o.Stats().EncodeErrors)
}

func TestOrchestrator_PreviewDrawsCapturedFrames(t *testing.T) {
	tests := []struct {
		name      string
		preview   bool
		wantDraws int
	}{
		{name: "preview on", preview: true, wantDraws: 3},
		{name: "preview off", preview: false, wantDraws: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.PreviewCapture = tt.preview
			o := NewOrchestrator(NewMemorySession(), cfg)
			enc := &encoderLog{}
			o.SetVideoEncoder(enc)
			drawable := &drawableLog{}
			o.SetDrawable(drawable)
			require.True(t, o.RegisterEffect(video.NewBrightnessEffect(50)))

			for i := 0; i < 3; i++ {
				o.HandleCapturedSample(media.NewVideoSample(uniformFrame(100), time.Duration(i)*time.Millisecond, time.Millisecond))
			}
			o.HandleCapturedSample(media.NewAudioSample(&media.AudioBlock{SampleRate: 8000, Channels: 1, PCM: []int16{1}}, 0))

			require.Equal(t, tt.wantDraws, drawable.drawCount())
			assert.EqualValues(t, tt.wantDraws, o.Stats().Previewed)
			if tt.wantDraws > 0 {
				assert.Equal(t, byte(150), drawable.draws[0].Y[0], "preview shows the frame after effects")
			}
			assert.Len(t, enc.all(), 3)
		})
	}
}

func TestOrchestrator_FollowCaptureSize(t *testing.T) {
	cfg := NewConfig()
	cfg.FollowCaptureSize = true
	o := NewOrchestrator(NewMemorySession(), cfg)

	enc := &resizableEncoder{cfg: codec.EncoderConfig{Width: 320, Height: 240, BitRate: 1}}
	o.SetVideoEncoder(enc)

	o.HandleCapturedSample(media.NewVideoSample(media.NewVideoFrame(64, 48), 0, time.Millisecond))
	o.HandleCapturedSample(media.NewVideoSample(media.NewVideoFrame(64, 48), time.Millisecond, time.Millisecond))

	require.Len(t, enc.configured, 1)
	assert.Equal(t, 64, enc.configured[0].Width)
	assert.Equal(t, 48, enc.configured[0].Height)
	assert.Equal(t, uint64(1), o.Stats().Resized)
	assert.Len(t, enc.all(), 2)
}

func TestOrchestrator_DecodedSinkSchedulesVideo(t *testing.T) {
	tp := newManualClock()
	cfg := NewConfig()
	cfg.Queue.TimeProvider = tp
	o := NewOrchestrator(NewMemorySession(), cfg)

	drawable := &drawableLog{}
	o.SetDrawable(drawable)
	audioOut := &encoderLog{}
	o.SetAudioOutput(media.FrameConsumerFunc(func(s *media.Sample) { _ = audioOut.EncodeSample(s) }))

	sink := o.DecodedSink()
	for _, pts := range []time.Duration{20, 0, 10} {
		sink.ConsumeSample(media.NewVideoSample(uniformFrame(byte(pts)), pts*time.Millisecond, 10*time.Millisecond))
	}
	sink.ConsumeSample(media.NewAudioSample(&media.AudioBlock{SampleRate: 8000, Channels: 1, PCM: []int16{1}}, 0))

	assert.Equal(t, 0, o.Queue().Poll(), "nothing is due before the playout latency")
	tp.Advance(time.Second)
	assert.Equal(t, 3, o.Queue().Poll())

	require.Equal(t, 3, drawable.drawCount())
	assert.Equal(t, []byte{0, 10, 20}, []byte{drawable.draws[0].Y[0], drawable.draws[1].Y[0], drawable.draws[2].Y[0]})
	assert.Len(t, audioOut.all(), 1)

	// Behind the delivery cursor.
	sink.ConsumeSample(media.NewVideoSample(uniformFrame(1), 5*time.Millisecond, 10*time.Millisecond))
	stats := o.Stats()
	assert.Equal(t, uint64(5), stats.Decoded)
	assert.Equal(t, uint64(1), stats.Late)
	assert.Equal(t, uint64(3), stats.Presented)
}

func TestOrchestrator_SetDrawablePushesState(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	require.NoError(t, o.AttachInput(CameraSource(newCamera(t, "cam", PositionFront))))
	o.SetOrientation(OrientationLandscapeLeft)

	d := &drawableLog{}
	o.SetDrawable(d)
	assert.Equal(t, []Orientation{OrientationLandscapeLeft}, d.orientations)
	assert.Equal(t, []Position{PositionFront}, d.positions)

	o.SetOrientation(OrientationPortrait)
	assert.Equal(t, []Orientation{OrientationLandscapeLeft, OrientationPortrait}, d.orientations)

	require.NoError(t, o.AttachInput(CameraSource(newCamera(t, "back", PositionBack))))
	assert.Equal(t, []Position{PositionFront, PositionBack}, d.positions)

	o.SetDrawable(nil)
	o.SetOrientation(OrientationLandscapeRight)
	assert.Len(t, d.orientations, 2, "detached drawable gets no updates")
}

func TestOrchestrator_EffectRegistration(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	effect := video.NewContrastEffect(1.5)

	assert.True(t, o.RegisterEffect(effect))
	assert.False(t, o.RegisterEffect(effect))
	assert.True(t, o.UnregisterEffect(effect))
	assert.False(t, o.UnregisterEffect(effect))
}

func TestOrchestrator_StartAndDispose(t *testing.T) {
	cfg := NewConfig()
	cfg.Queue.Latency = 100 * time.Millisecond
	cfg.Queue.TickInterval = time.Millisecond
	cfg.PreviewCapture = false
	session := NewMemorySession()
	o := NewOrchestrator(session, cfg)

	cam := newCamera(t, "cam", PositionBack)
	require.NoError(t, o.AttachInput(CameraSource(cam)))

	enc := &encoderLog{}
	o.SetVideoEncoder(enc)
	drawable := &drawableLog{}
	o.SetDrawable(drawable)

	require.NoError(t, o.Start())
	require.NoError(t, o.Start())
	assert.True(t, session.IsRunning())
	require.Eventually(t, func() bool { return len(enc.all()) >= 2 }, 2*time.Second, time.Millisecond)

	sink := o.DecodedSink()
	for i := 0; i < 3; i++ {
		sink.ConsumeSample(media.NewVideoSample(uniformFrame(1), time.Duration(i)*10*time.Millisecond, 10*time.Millisecond))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Dispose(ctx))
	require.NoError(t, o.Dispose(ctx))

	assert.False(t, session.IsRunning())
	assert.Empty(t, session.Inputs())
	assert.Empty(t, session.Outputs())
	assert.Equal(t, clock.StateStopped, o.Queue().State())
	assert.Equal(t, uint64(3), o.Stats().Presented)
	assert.Zero(t, drawable.drawCount(), "drawable is detached before draining")

	assert.ErrorIs(t, o.AttachInput(CameraSource(cam)), ErrDisposed)
	assert.ErrorIs(t, o.Start(), ErrDisposed)
	assert.Zero(t, cam.UnlockedWrites())
}

func TestOrchestrator_NilSessionAndDefaults(t *testing.T) {
	o := NewOrchestrator(nil, Config{Orientation: Orientation(42)})
	assert.NotEmpty(t, o.ID())

	state := o.State()
	assert.Equal(t, OrientationPortrait, state.Orientation)
	assert.Equal(t, 1.0, state.Zoom)
	assert.Equal(t, Point{X: 0.5, Y: 0.5}, state.FocusPoint)

	require.NoError(t, o.AttachInput(CameraSource(newCamera(t, "cam", PositionBack))))
	assert.Equal(t, 30.0, o.State().FrameRate)
}
