package codec

import "errors"

// Configuration errors.
var (
	// ErrInvalidConfig indicates an encoder configuration outside the supported range.
	ErrInvalidConfig = errors.New("invalid encoder configuration")

	// ErrNotConfigured indicates Encode was called before Configure.
	ErrNotConfigured = errors.New("encoder not configured")

	// ErrFormatNegotiation indicates the decoder could not be set up for a format.
	// It is fatal for the stream.
	ErrFormatNegotiation = errors.New("format negotiation failed")

	// ErrNoFormat indicates Decode was called before a successful SetFormat.
	ErrNoFormat = errors.New("decoder format not set")
)

// Lifecycle errors.
var (
	// ErrEncoderClosed indicates the encoder has been closed.
	ErrEncoderClosed = errors.New("encoder closed")

	// ErrDecoderClosed indicates the decoder has been closed.
	ErrDecoderClosed = errors.New("decoder closed")
)

// Input errors.
var (
	// ErrNilSample indicates a nil sample or frame was submitted.
	ErrNilSample = errors.New("sample cannot be nil")
)
