// Package rtp decodes RTP and RTCP headers (RFC 3550). Payloads are kept as
// raw bytes.
package rtp

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

// Decoder handle names.
const (
	Name     = "rtp"
	NameRTCP = "rtcp"
)

const (
	version       = 2
	rtpHeaderLen  = 12
	rtcpHeaderLen = 8
	extHeaderLen  = 4

	rtcpPayloadTypeMin = 200
	rtcpPayloadTypeMax = 209
)

var rtcpTypes = map[uint64]string{
	200: "SR",
	201: "RR",
	202: "SDES",
	203: "BYE",
	204: "APP",
	205: "RTPFB",
	206: "PSFB",
	207: "XR",
	208: "AVB",
	209: "RSI",
}

// LooksLikeRTP reports whether payload passes the RTP or RTCP fixed header
// checks: version 2 and enough bytes for the header.
func LooksLikeRTP(payload []byte) bool {
	if len(payload) < rtcpHeaderLen || payload[0]>>6 != version {
		return false
	}
	if IsRTCP(payload) {
		return true
	}
	return len(payload) >= rtpHeaderLen
}

// IsRTCP reports whether the second octet holds an RTCP packet type.
func IsRTCP(payload []byte) bool {
	return len(payload) >= 2 && payload[1] >= rtcpPayloadTypeMin && payload[1] <= rtcpPayloadTypeMax
}

// AddAddress binds UDP traffic towards addr:port to the RTP decoder, as
// negotiated by signaling in frame.
func AddAddress(table *conversation.Table, frame uint64, addr netip.Addr, port uint16, setupMethod string) bool {
	key := conversation.Wildcard(conversation.ProtoUDP, netip.AddrPortFrom(addr, port))
	return table.BindMethod(frame, key, Name, frame, setupMethod)
}

func truncated(root *dissect.Node, off int, b []byte, need int) {
	n := dissect.Raw("data", off, b)
	n.Annotate(diag.New(diag.Truncated, "need %d bytes, have %d", need, len(b)))
	root.Add(n)
}

// Decode decodes one RTP packet.
func Decode(b []byte) *dissect.Result {
	root := dissect.Group(Name, 0, len(b))
	if len(b) < rtpHeaderLen {
		truncated(root, 0, b, rtpHeaderLen)
		return dissect.NewResult(Name, root, "")
	}

	v := dissect.Uint("version", 0, 1, uint64(b[0]>>6))
	if b[0]>>6 != version {
		v.Annotate(diag.New(diag.Malformation, "RTP version %d", b[0]>>6).WithSeverity(diag.Warning))
	}
	padding := b[0]&0x20 != 0
	extension := b[0]&0x10 != 0
	cc := int(b[0] & 0x0f)
	pt := b[1] & 0x7f
	seq := binary.BigEndian.Uint16(b[2:4])
	ssrc := binary.BigEndian.Uint32(b[8:12])

	root.Add(v,
		dissect.Flag("padding", 0, 1, padding),
		dissect.Flag("extension", 0, 1, extension),
		dissect.Uint("csrc_count", 0, 1, uint64(cc)),
		dissect.Flag("marker", 1, 1, b[1]&0x80 != 0),
		dissect.Uint("payload_type", 1, 1, uint64(pt)),
		dissect.Uint("seq", 2, 2, uint64(seq)),
		dissect.Uint("timestamp", 4, 4, uint64(binary.BigEndian.Uint32(b[4:8]))),
		dissect.Uint("ssrc", 8, 4, uint64(ssrc)),
	)
	summary := fmt.Sprintf("PT=%d, SSRC=0x%08X, Seq=%d", pt, ssrc, seq)

	off := rtpHeaderLen
	if cc > 0 {
		if len(b) < off+4*cc {
			truncated(root, off, b[off:], 4*cc)
			return dissect.NewResult(Name, root, summary)
		}
		list := dissect.Group("csrc", off, 4*cc)
		for i := 0; i < cc; i++ {
			list.Add(dissect.Uint("csrc", off, 4, uint64(binary.BigEndian.Uint32(b[off:off+4]))))
			off += 4
		}
		root.Add(list)
	}

	if extension {
		if len(b) < off+extHeaderLen {
			truncated(root, off, b[off:], extHeaderLen)
			return dissect.NewResult(Name, root, summary)
		}
		words := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		size := extHeaderLen + 4*words
		if len(b) < off+size {
			truncated(root, off, b[off:], size)
			return dissect.NewResult(Name, root, summary)
		}
		root.Add(dissect.Group("header_extension", off, size,
			dissect.Uint("profile", off, 2, uint64(binary.BigEndian.Uint16(b[off:off+2]))),
			dissect.Uint("length", off+2, 2, uint64(words)),
			dissect.Raw("data", off+extHeaderLen, b[off+extHeaderLen:off+size]),
		))
		off += size
	}

	end := len(b)
	if padding && end > off {
		pad := int(b[end-1])
		if pad == 0 || off+pad > end {
			n := dissect.Uint("padding_count", end-1, 1, uint64(pad))
			n.Annotate(diag.New(diag.ValueOutOfRange, "padding count %d exceeds payload", pad))
			root.Add(n)
			return dissect.NewResult(Name, root, summary)
		}
		end -= pad
		root.Add(dissect.Uint("padding_count", len(b)-1, 1, uint64(pad)))
	}
	root.Add(dissect.Raw("payload", off, b[off:end]))
	return dissect.NewResult(Name, root, summary)
}

// DecodeRTCP decodes a compound RTCP packet.
func DecodeRTCP(b []byte) *dissect.Result {
	root := dissect.Group(NameRTCP, 0, len(b))
	var summary string
	off := 0
	for off < len(b) {
		rest := b[off:]
		if len(rest) < 4 {
			truncated(root, off, rest, 4)
			break
		}
		pt := uint64(rest[1])
		words := int(binary.BigEndian.Uint16(rest[2:4]))
		size := 4 * (words + 1)
		name, known := rtcpTypes[pt]
		if !known {
			name = fmt.Sprintf("unknown(%d)", pt)
		}
		pkt := dissect.Group(name, off, min(size, len(rest)))
		v := dissect.Uint("version", off, 1, uint64(rest[0]>>6))
		if rest[0]>>6 != version {
			v.Annotate(diag.New(diag.Malformation, "RTCP version %d", rest[0]>>6).WithSeverity(diag.Warning))
		}
		ptNode := dissect.Named("packet_type", off+1, 1, pt, name)
		if !known {
			ptNode.Annotate(diag.New(diag.Undecoded, "RTCP packet type %d", pt))
		}
		pkt.Add(v,
			dissect.Flag("padding", off, 1, rest[0]&0x20 != 0),
			dissect.Uint("count", off, 1, uint64(rest[0]&0x1f)),
			ptNode,
			dissect.Uint("length", off+2, 2, uint64(words)),
		)
		root.Add(pkt)
		if summary == "" {
			summary = name
		} else {
			summary += "+" + name
		}

		if len(rest) < size {
			truncated(pkt, off+4, rest[4:], size-4)
			break
		}
		if size >= rtcpHeaderLen {
			pkt.Add(dissect.Uint("ssrc", off+4, 4, uint64(binary.BigEndian.Uint32(rest[4:8]))))
			if size > rtcpHeaderLen {
				pkt.Add(dissect.Raw("body", off+rtcpHeaderLen, rest[rtcpHeaderLen:size]))
			}
		}
		off += size
	}
	return dissect.NewResult(NameRTCP, root, summary)
}
