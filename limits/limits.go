package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxRTPPacket is the default RTP packet size including the 12 byte header.
	MaxRTPPacket = 1200

	// MinRTPPacket is the smallest configurable RTP packet size.
	MinRTPPacket = 100

	// MaxRTPPacketCeiling is the largest configurable RTP packet size.
	MaxRTPPacketCeiling = 9000

	// MaxEncodedFrame bounds a single compressed frame.
	MaxEncodedFrame = 8 * 1024 * 1024

	// MaxProcessingBuffer is the absolute maximum for any operation.
	MaxProcessingBuffer = 32 * 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its limit
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidatePayloadSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateEncodedFrame validates a compressed frame against MaxEncodedFrame.
func ValidateEncodedFrame(data []byte) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > MaxEncodedFrame {
		return fmt.Errorf("%w: encoded frame size %d exceeds limit %d", ErrPayloadTooLarge, len(data), MaxEncodedFrame)
	}
	return nil
}

// ValidateProcessingBuffer validates data against MaxProcessingBuffer.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrPayloadTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}

// ValidateRTPPacketSize reports whether size is a usable packet budget.
func ValidateRTPPacketSize(size int) error {
	if size < MinRTPPacket || size > MaxRTPPacketCeiling {
		return fmt.Errorf("invalid packet size: %d (must be %d-%d)", size, MinRTPPacket, MaxRTPPacketCeiling)
	}
	return nil
}
