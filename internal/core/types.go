// Package core defines core data structures shared by sources, parsers and
// sinks.
package core

import (
	"net/netip"
	"time"
)

// IP protocol numbers carried in DecodedPacket.Transport.Protocol.
const (
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
	ProtoSCTP uint8 = 132
)

// RawPacket is one frame read from a capture.
type RawPacket struct {
	Frame      uint64 // 1-based position in the capture
	Data       []byte
	Timestamp  time.Time
	CaptureLen uint32
	OrigLen    uint32
}

// IPHeader represents the L3 header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // TCP=6, UDP=17, SCTP=132
	TTL      uint8
}

// TransportHeader represents the L4 header.
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	// SCTP DATA chunk fields (only populated for SCTP)
	PPID     uint32
	StreamID uint16

	// Segment is the raw TCP header and payload, for stream reassembly.
	Segment []byte
}
