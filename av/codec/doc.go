// Package codec provides the asynchronous encode and decode stages of the
// media pipeline.
//
// Both stages wrap a pluggable backend. The stage owns the goroutine, the
// bounded input queue, the drop policy and the counters; the backend only
// turns one sample into compressed bytes (FrameEncoder) or compressed bytes
// into zero or more raw samples (FrameDecoder).
//
// # Encoder
//
//	enc := codec.NewEncoder(backend, sink, codec.NewEncoderOptions())
//	if err := enc.Configure(codec.EncoderConfig{Width: 640, Height: 480, FrameRate: 30, BitRate: 512000}); err != nil {
//	    return err // invalid configuration fails fast
//	}
//	enc.Encode(frame, pts, duration) // never blocks
//
// Configure may be called at any time. The new configuration is applied by
// the worker before the next frame it encodes, never in the middle of one.
//
// # Decoder
//
//	dec := codec.NewDecoder(codec.DefaultRegistry, delegate, codec.NewDecoderOptions())
//	if err := dec.SetFormat(media.NewVideoFormat(media.CodecYUVDelta, 640, 480)); err != nil {
//	    return err // format negotiation failures are fatal
//	}
//	dec.Decode(sample)
//
// Decoded samples reach the delegate in the order the backend completes
// them, which is not necessarily presentation order.
package codec
