// Package rdt decodes RealNetworks Data Transport datagrams: concatenated
// data and control packets, or RTP packets sent on an RDT channel.
package rdt

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/protocols/rtp"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

// Name is the decoder handle name.
const Name = "rdt"

const (
	controlTypeMin = 0xff00

	streamIDExpansion   = 31
	asmRuleExpansion    = 63
	controlHeaderLen    = 3
	rtpLookalikeVersion = 2
)

// control packet layout: fixed fields after the header; variable packets
// without a length field run to the end of the datagram.
type field struct {
	name string
	size int
}

type controlType struct {
	name     string
	fields   []field
	variable bool
}

var controlTypes = map[uint16]controlType{
	0xff00: {name: "ASMACTION", fields: []field{{"rel_seq", 2}}, variable: true},
	0xff01: {name: "BANDWIDTHREPORT", fields: []field{{"interval", 2}, {"bandwidth", 4}, {"sequence", 1}}},
	0xff02: {name: "ACK", variable: true},
	0xff03: {name: "RTTREQUEST"},
	0xff04: {name: "RTTRESPONSE", fields: []field{{"timestamp_sec", 4}, {"timestamp_usec", 4}}},
	0xff05: {name: "CONGESTION", fields: []field{{"xmit_multiplier", 4}, {"recv_multiplier", 4}}},
	0xff06: {name: "STREAMENDPACKET", fields: []field{{"seq", 2}, {"timestamp", 4}}},
	0xff07: {name: "REPORT", variable: true},
	0xff08: {name: "LATENCYREPORT", fields: []field{{"server_out_time", 4}}},
	0xff09: {name: "TRANSPORTINFO", variable: true},
	0xff0a: {name: "TRANSPORTINFORESPONSE", variable: true},
	0xff0b: {name: "BWPROBING", fields: []field{{"seq", 1}, {"timestamp", 4}}, variable: true},
}

// AddAddress binds UDP traffic towards addr:port to the RDT decoder, as
// negotiated by signaling in frame.
func AddAddress(table *conversation.Table, frame uint64, addr netip.Addr, port uint16, setupMethod string) bool {
	key := conversation.Wildcard(conversation.ProtoUDP, netip.AddrPortFrom(addr, port))
	return table.BindMethod(frame, key, Name, frame, setupMethod)
}

// IsRTPLookalike reports whether b starts with an RTP version 2 header
// rather than an RDT packet. Control packet types take precedence.
func IsRTPLookalike(b []byte) bool {
	if len(b) == 0 || b[0]>>6 != rtpLookalikeVersion {
		return false
	}
	return len(b) < controlHeaderLen || binary.BigEndian.Uint16(b[1:3]) < controlTypeMin
}

// Decode decodes all RDT packets of one datagram.
func Decode(b []byte) *dissect.Result {
	root := dissect.Group(Name, 0, len(b))
	var labels []string
	off := 0
	for off < len(b) {
		rest := b[off:]
		if IsRTPLookalike(rest) {
			res := rtp.Decode(rest)
			res.Root.Shift(off)
			root.Add(res.Root)
			labels = append(labels, "RTP "+res.Summary)
			break
		}
		if len(rest) < controlHeaderLen {
			n := dissect.Raw("data", off, rest)
			n.Annotate(diag.New(diag.Truncated, "RDT packet header needs %d bytes, have %d", controlHeaderLen, len(rest)))
			root.Add(n)
			break
		}

		var n *dissect.Node
		var size int
		var label string
		if typ := binary.BigEndian.Uint16(rest[1:3]); typ >= controlTypeMin {
			n, size, label = control(off, rest, typ)
		} else {
			n, size, label = data(off, rest)
		}
		root.Add(n)
		labels = append(labels, label)
		if size <= 0 {
			break
		}
		off += size
	}
	return dissect.NewResult(Name, root, strings.Join(labels, ", "))
}

// reader walks the fields of one packet and records truncation.
type reader struct {
	n    *dissect.Node
	b    []byte
	base int
	pos  int
	err  bool
}

func (r *reader) uint(name string, size int) (uint64, bool) {
	if r.err {
		return 0, false
	}
	if r.pos+size > len(r.b) {
		t := dissect.Raw(name, r.base+r.pos, r.b[r.pos:])
		t.Annotate(diag.New(diag.Truncated, "%s needs %d bytes, have %d", name, size, len(r.b)-r.pos))
		r.n.Add(t)
		r.err = true
		return 0, false
	}
	var v uint64
	for _, c := range r.b[r.pos : r.pos+size] {
		v = v<<8 | uint64(c)
	}
	r.n.Add(dissect.Uint(name, r.base+r.pos, size, v))
	r.pos += size
	return v, true
}

// body adds the bytes up to end as payload, clamping to the packet.
func (r *reader) body(name string, end int) {
	if r.err {
		return
	}
	if end > len(r.b) {
		t := dissect.Raw(name, r.base+r.pos, r.b[r.pos:])
		t.Annotate(diag.New(diag.Truncated, "packet length %d exceeds datagram, have %d bytes", end, len(r.b)))
		r.n.Add(t)
		r.err = true
		r.pos = len(r.b)
		return
	}
	if end > r.pos {
		r.n.Add(dissect.Raw(name, r.base+r.pos, r.b[r.pos:end]))
		r.pos = end
	}
}

// size is the number of bytes to advance, zero once the packet is broken.
func (r *reader) size() int {
	if r.err {
		return 0
	}
	return r.pos
}

// packetEnd resolves the length field of a packet whose header is hdr bytes.
func (r *reader) packetEnd(length uint64, hdr int) int {
	if int(length) < hdr {
		r.n.Annotate(diag.New(diag.Malformation, "packet length %d shorter than its %d byte header", length, hdr))
		r.err = true
		return hdr
	}
	return int(length)
}

func data(off int, b []byte) (*dissect.Node, int, string) {
	n := dissect.Group("data_packet", off, 0)
	r := &reader{n: n, b: b, base: off}
	flags := b[0]
	lenIncluded := flags&0x80 != 0
	needReliable := flags&0x40 != 0
	streamID := uint64(flags>>1) & 0x1f
	n.Add(
		dissect.Flag("len_included", off, 1, lenIncluded),
		dissect.Flag("need_reliable", off, 1, needReliable),
		dissect.Uint("stream_id", off, 1, streamID),
		dissect.Flag("is_reliable", off, 1, flags&0x01 != 0),
	)
	r.pos = 1
	seq, _ := r.uint("seq", 2)
	var length uint64
	if lenIncluded {
		length, _ = r.uint("packet_length", 2)
	}
	if r.pos < len(b) {
		rule := b[r.pos]
		n.Add(
			dissect.Flag("back_to_back", off+r.pos, 1, rule&0x80 != 0),
			dissect.Flag("slow_data", off+r.pos, 1, rule&0x40 != 0),
			dissect.Uint("asm_rule", off+r.pos, 1, uint64(rule&0x3f)),
		)
		r.pos++
		r.uint("timestamp", 4)
		if streamID == streamIDExpansion {
			r.uint("stream_id_expansion", 2)
		}
		if needReliable {
			r.uint("total_reliable", 2)
		}
		if rule&0x3f == asmRuleExpansion {
			r.uint("asm_rule_expansion", 2)
		}
	} else {
		r.uint("asm_rule", 1)
	}

	end := len(b)
	if lenIncluded && !r.err {
		end = r.packetEnd(length, r.pos)
	}
	r.body("payload", end)
	n.Length = r.pos
	return n, r.size(), fmt.Sprintf("DATA seq=%d", seq)
}

func control(off int, b []byte, typ uint16) (*dissect.Node, int, string) {
	ct, known := controlTypes[typ]
	name := ct.name
	if !known {
		name = fmt.Sprintf("UNKNOWN(0x%04x)", typ)
	}
	n := dissect.Group("control_packet", off, 0)
	r := &reader{n: n, b: b, base: off, pos: controlHeaderLen}
	lenIncluded := b[0]&0x80 != 0
	pt := dissect.Named("packet_type", off+1, 2, uint64(typ), name)
	if !known {
		pt.Annotate(diag.New(diag.Undecoded, "RDT control packet type 0x%04x", typ))
	}
	n.Add(
		dissect.Uint("flags", off, 1, uint64(b[0])),
		dissect.Flag("len_included", off, 1, lenIncluded),
		pt,
	)

	var length uint64
	if lenIncluded {
		length, _ = r.uint("packet_length", 2)
	}
	for _, f := range ct.fields {
		r.uint(f.name, f.size)
	}

	end := r.pos
	switch {
	case lenIncluded && !r.err:
		end = r.packetEnd(length, r.pos)
	case ct.variable || !known:
		end = len(b)
	}
	r.body("data", end)
	n.Length = r.pos
	return n, r.size(), name
}
