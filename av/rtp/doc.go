// Package rtp carries pipeline media over RTP packets.
//
// It provides the audio side of the RTP boundary adapter and the packet
// link that connects an outbound pipeline to an inbound one. Video
// fragmentation lives in av/video; this package reuses its PacketWriter
// contract so both media types can share a Link.
//
// # Audio Packetization
//
// Each audio sample is split on frame boundaries into packets no larger
// than the configured packet size. Timestamps run at the sample rate of
// the stream:
//
//	packetizer, err := rtp.NewAudioPacketizer(48000, rtp.DefaultAudioPayloadType)
//	packets, err := packetizer.Packetize(sample)
//
// The AudioDepacketizer accepts the first SSRC it sees, counts sequence
// gaps as losses, drops late and duplicate packets, and returns samples
// tagged with the stream format so a codec.Decoder can decode them.
//
// # Sessions
//
// A Session pairs a packetizer and a depacketizer for one audio stream and
// tracks RFC 3550 style statistics (packets, losses, interarrival jitter,
// received bandwidth):
//
//	session, err := rtp.NewSession(rtp.NewSessionOptions(format), link, decoder)
//	processor, err := audio.NewProcessor(session, audio.NewProcessorOptions())
//
// # Link
//
// A Link is an in-memory packet path. Writers marshal packets into it,
// and Run unmarshals each one and routes it by payload type to the handler
// registered with Route:
//
//	link := rtp.NewLink(256)
//	link.Route(96, videoHandler)
//	link.Route(rtp.DefaultAudioPayloadType, session.HandlePacket)
//	go link.Run(ctx)
//
// A full link drops the newest packet and counts it.
package rtp
