package core

import (
	"net/netip"
	"time"

	"firestige.xyz/dissect/pkg/dissect"
)

// DecodedPacket is one application payload ready for a parser: a UDP
// datagram, an SCTP DATA chunk or a run of reassembled TCP stream bytes.
type DecodedPacket struct {
	Frame     uint64
	Timestamp time.Time
	IP        IPHeader
	Transport TransportHeader
	Payload   []byte

	Reassembled bool // payload went through IP fragment reassembly
	Stream      bool // payload is TCP stream data in sequence order
	StreamEnd   bool // the TCP stream closed; Payload is empty
}

// Src returns the source endpoint.
func (p *DecodedPacket) Src() netip.AddrPort {
	return netip.AddrPortFrom(p.IP.SrcIP, p.Transport.SrcPort)
}

// Dst returns the destination endpoint.
func (p *DecodedPacket) Dst() netip.AddrPort {
	return netip.AddrPortFrom(p.IP.DstIP, p.Transport.DstPort)
}

// Record is one top-level decode delivered to sinks.
type Record struct {
	Frame     uint64          `json:"frame" yaml:"frame"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Src       string          `json:"src,omitempty" yaml:"src,omitempty"`
	Dst       string          `json:"dst,omitempty" yaml:"dst,omitempty"`
	Transport string          `json:"transport,omitempty" yaml:"transport,omitempty"`
	Protocol  string          `json:"protocol" yaml:"protocol"`
	Labels    Labels          `json:"labels,omitempty" yaml:"labels,omitempty"`
	Result    *dissect.Result `json:"result" yaml:"result"`
}

// NewRecord builds a record for res decoded from pkt.
func NewRecord(pkt *DecodedPacket, res *dissect.Result, labels Labels) *Record {
	r := &Record{
		Frame:     pkt.Frame,
		Timestamp: pkt.Timestamp,
		Protocol:  res.Protocol,
		Labels:    labels,
		Result:    res,
	}
	if pkt.IP.SrcIP.IsValid() {
		r.Src = pkt.Src().String()
		r.Dst = pkt.Dst().String()
	}
	switch pkt.Transport.Protocol {
	case ProtoTCP:
		r.Transport = "tcp"
	case ProtoUDP:
		r.Transport = "udp"
	case ProtoSCTP:
		r.Transport = "sctp"
	}
	return r
}
