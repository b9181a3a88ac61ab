// Package media defines the timed units that flow between every stage of the
// capture and playback pipeline.
//
// A Sample carries one unit of media (a raw YUV420 image, a block of PCM audio,
// or an opaque compressed payload) together with its presentation timestamp,
// optional decode timestamp, duration and an ordered attachment list. Samples
// are created by a capture or decode stage and are treated as read-only after
// that point; the single exception is ReplaceImage, which swaps the image
// payload in place when an effect is baked into the capture buffer.
//
// # Timestamps
//
// The presentation timestamp is always defined. The decode timestamp is
// optional and falls back to the presentation timestamp:
//
//	s := media.NewVideoSample(frame, 40*time.Millisecond, 33*time.Millisecond)
//	s.DecodeTimestamp() // 40ms
//
// A duration of InvalidDuration marks an unknown duration.
//
// # Format Descriptors
//
// FormatDescriptor describes the codec and geometry of a stream. H.264
// descriptors can be built from parameter sets with ParseH264Format, which
// uses the SPS parser from mediacommon.
//
// # Consumers
//
// Stages hand samples to each other through the FrameConsumer interface. Use
// FrameConsumerFunc to adapt a plain function.
package media
