package audio

import "errors"

var (
	// ErrEmptyPCM indicates a block without samples.
	ErrEmptyPCM = errors.New("empty PCM data")

	// ErrChannelMismatch indicates a sample count that is not a multiple
	// of the channel count.
	ErrChannelMismatch = errors.New("PCM length not aligned to channel count")

	// ErrInvalidChannels indicates a channel count other than 1 or 2.
	ErrInvalidChannels = errors.New("channel count must be 1 or 2")

	// ErrUnsupportedSampleRate indicates a rate the codec cannot carry.
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")

	// ErrNoAudio indicates a sample without an audio block.
	ErrNoAudio = errors.New("sample carries no audio block")

	// ErrInvalidGain indicates a gain outside 0..4.
	ErrInvalidGain = errors.New("gain must be between 0 and 4")
)
