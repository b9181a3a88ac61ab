// Package audio carries the audio side of the pipeline.
//
// Outbound, a Processor takes captured media.AudioBlock samples, resamples
// them to the session rate, runs the gain effects and packs the result as
// little-endian "pcm" samples for the next stage:
//
//	proc, err := audio.NewProcessor(sink, audio.NewProcessorOptions())
//	proc.AddEffect(audio.NewAutoGainEffect())
//	err = proc.EncodeSample(captured)
//
// Inbound, PCMDecoder and OpusDecoder implement codec.FrameDecoder. Register
// adds both to a codec.Registry so a codec.Decoder can select them by the
// format descriptor's codec name. Opus decoding uses github.com/pion/opus;
// the descriptor's sample rate must map onto an Opus bandwidth.
package audio
