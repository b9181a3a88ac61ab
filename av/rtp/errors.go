package rtp

import "errors"

// Packetizer errors.
var (
	// ErrInvalidClockRate indicates a zero RTP clock rate.
	ErrInvalidClockRate = errors.New("clock rate cannot be zero")

	// ErrInvalidPayloadType indicates a payload type outside 0..127.
	ErrInvalidPayloadType = errors.New("payload type must be in 0..127")

	// ErrNotAudio indicates a non-audio sample was given to the audio path.
	ErrNotAudio = errors.New("sample is not audio")
)

// Depacketizer errors.
var (
	// ErrUnexpectedSSRC indicates a packet from a source other than the
	// one the stream locked onto.
	ErrUnexpectedSSRC = errors.New("unexpected ssrc")

	// ErrStalePacket indicates a late or duplicate packet.
	ErrStalePacket = errors.New("stale rtp packet")

	// ErrSessionClosed indicates use of a closed session.
	ErrSessionClosed = errors.New("rtp session closed")
)

// Link errors.
var (
	// ErrLinkClosed indicates a write to a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrLinkFull indicates the link buffer had no room for the packet.
	ErrLinkFull = errors.New("link buffer full")

	// ErrNoRoute indicates a packet whose payload type has no handler.
	ErrNoRoute = errors.New("no route for payload type")
)
