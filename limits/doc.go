// Package limits provides centralized payload size constants and validation
// functions for the media pipeline. Every stage that accepts bytes from an
// untrusted boundary (the RTP depacketizer, the decoder input queue) checks
// them here before allocating.
//
// # Size Hierarchy
//
//   - MaxRTPPacket (1200 bytes): default packet budget for the RTP boundary
//     adapter, leaving room for IP/UDP headers under a 1500 byte MTU.
//
//   - MaxRTPPacketCeiling (9000 bytes): the largest packet size the packetizer
//     may be configured with (jumbo frames).
//
//   - MaxEncodedFrame (8 MiB): the largest compressed frame accepted by the
//     packetizer, depacketizer and decoder.
//
//   - MaxProcessingBuffer (32 MiB): the absolute maximum for any buffer.
//
// # Validation
//
//	if err := limits.ValidateEncodedFrame(data); err != nil {
//	    // ErrPayloadEmpty or ErrPayloadTooLarge
//	}
//
// For custom limits use ValidatePayloadSize.
package limits
