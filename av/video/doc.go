// Package video holds the video stages that sit around the codec layer.
//
// # Effects
//
// An EffectChain is an ordered set of Effect values folded left to right
// over a media.VideoFrame. Effects never modify their input. Registration is
// by identity, so registering the same instance twice is rejected:
//
//	chain := video.NewEffectChain()
//	chain.Register(video.NewBrightnessEffect(20))
//	chain.Register(video.NewColorTemperatureEffect(-30))
//	out, err := chain.Apply(frame)
//
// ParseEffect builds effects from the short textual form used by the CLI
// and configuration files ("grayscale", "blur=2", "temperature=-30").
//
// # YUV Delta Codec
//
// YUVDeltaEncoder and YUVDeltaDecoder implement the codec.FrameEncoder and
// codec.FrameDecoder contracts for the "yuvd" format. Keyframes carry the
// planes verbatim; delta frames carry each plane XORed with the previous
// frame, so a decoder that lost its reference reports ErrMissingReference
// until the next keyframe. Register adds the decoder to a codec.Registry.
//
// # RTP
//
// RTPPacketizer fragments encoded samples into github.com/pion/rtp packets
// with a 90 kHz timestamp and a 3-byte payload descriptor (start bit,
// independent frame bit, 15-bit picture id). RTPDepacketizer reverses it,
// tolerating reordered fragments and evicting frames that never complete.
// RTPSink lets an Encoder deliver straight into a PacketWriter.
//
// # Scaling And Test Content
//
// Scaler resizes frames with bilinear interpolation. TestPattern produces a
// moving gradient for loopback runs and tests.
package video
