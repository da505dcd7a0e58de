package hep

// HEPv3 frame layout:
//
//	Offset  Size  Description
//	------  ----  -----------
//	0       4     Magic: "HEP3"
//	4       2     Total frame length (big-endian, includes these 6 bytes)
//	6       …     Chunks
//
// Each chunk is vendor (2), type (2), total length (2) and the value.
// Only vendor 0x0000 chunks are written.

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/dissect/internal/core"
)

const (
	hepMagic       = "HEP3"
	chunkHeaderLen = 6
	vendorGeneric  = uint16(0x0000)
	maxFrameLen    = 0xFFFF
)

// Chunk type IDs.
const (
	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)
)

const (
	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)

	// records travel as JSON documents
	protoTypeJSON = uint8(100)
)

// EncodeOptions carries the per-agent chunks.
type EncodeOptions struct {
	CaptureID uint32 // chunk 12
	AuthKey   string // chunk 14, omitted if empty
	NodeName  string // chunk 19, omitted if empty
}

// Encode serialises rec as a HEPv3 frame whose payload is the JSON form of
// the record. Records without endpoints cannot be encapsulated.
func Encode(rec *core.Record, opts EncodeOptions) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("hep: nil record")
	}
	src, err := netip.ParseAddrPort(rec.Src)
	if err != nil {
		return nil, fmt.Errorf("hep: frame %d has no source endpoint: %w", rec.Frame, err)
	}
	dst, err := netip.ParseAddrPort(rec.Dst)
	if err != nil {
		return nil, fmt.Errorf("hep: frame %d has no destination endpoint: %w", rec.Frame, err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("hep: marshal frame %d: %w", rec.Frame, err)
	}

	buf := make([]byte, 0, 128+len(payload))
	buf = append(buf, hepMagic...)
	buf = append(buf, 0, 0) // total length, filled in last

	srcIP, dstIP := src.Addr().Unmap(), dst.Addr().Unmap()
	if srcIP.Is4() {
		buf = appendUint8(buf, chunkIPFamily, ipFamilyV4)
		buf = appendUint8(buf, chunkIPProto, ipProtocol(rec.Transport))
		s4, d4 := srcIP.As4(), dstIP.As4()
		buf = appendBytes(buf, chunkSrcIPv4, s4[:])
		buf = appendBytes(buf, chunkDstIPv4, d4[:])
	} else {
		buf = appendUint8(buf, chunkIPFamily, ipFamilyV6)
		buf = appendUint8(buf, chunkIPProto, ipProtocol(rec.Transport))
		s16, d16 := srcIP.As16(), dstIP.As16()
		buf = appendBytes(buf, chunkSrcIPv6, s16[:])
		buf = appendBytes(buf, chunkDstIPv6, d16[:])
	}
	buf = appendUint16(buf, chunkSrcPort, src.Port())
	buf = appendUint16(buf, chunkDstPort, dst.Port())

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	buf = appendUint32(buf, chunkTimeSec, uint32(ts.Unix()))
	buf = appendUint32(buf, chunkTimeUsec, uint32(ts.Nanosecond()/1_000))

	buf = appendUint8(buf, chunkProtoType, protoTypeJSON)
	buf = appendUint32(buf, chunkCaptureID, opts.CaptureID)
	if opts.AuthKey != "" {
		buf = appendBytes(buf, chunkAuthKey, []byte(opts.AuthKey))
	}
	buf = appendBytes(buf, chunkPayload, payload)
	buf = appendBytes(buf, chunkCorrID, []byte(CorrelationID(rec)))
	if opts.NodeName != "" {
		buf = appendBytes(buf, chunkNodeName, []byte(opts.NodeName))
	}

	if len(buf) > maxFrameLen {
		return nil, fmt.Errorf("hep: frame %d too large (%d bytes, max %d)", rec.Frame, len(buf), maxFrameLen)
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	return buf, nil
}

// CorrelationID groups the records of one media stream or one connection.
// RTP and RTCP use their SSRC, everything else the endpoint pair in a
// direction-independent order.
func CorrelationID(rec *core.Record) string {
	if v := rec.Labels[core.LabelRTPSSRC]; v != "" {
		return v
	}
	if v := rec.Labels[core.LabelRTCPSSRC]; v != "" {
		return v
	}
	a, b := rec.Src, rec.Dst
	if b < a {
		a, b = b, a
	}
	return rec.Transport + ":" + a + "-" + b
}

func ipProtocol(transport string) uint8 {
	switch transport {
	case "tcp":
		return core.ProtoTCP
	case "udp":
		return core.ProtoUDP
	case "sctp":
		return core.ProtoSCTP
	}
	return 0
}

func appendChunkHeader(buf []byte, chunkType uint16, valueLen int) []byte {
	var h [chunkHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], vendorGeneric)
	binary.BigEndian.PutUint16(h[2:4], chunkType)
	binary.BigEndian.PutUint16(h[4:6], uint16(chunkHeaderLen+valueLen))
	return append(buf, h[:]...)
}

func appendBytes(buf []byte, chunkType uint16, value []byte) []byte {
	buf = appendChunkHeader(buf, chunkType, len(value))
	return append(buf, value...)
}

func appendUint8(buf []byte, chunkType uint16, value uint8) []byte {
	buf = appendChunkHeader(buf, chunkType, 1)
	return append(buf, value)
}

func appendUint16(buf []byte, chunkType uint16, value uint16) []byte {
	buf = appendChunkHeader(buf, chunkType, 2)
	return binary.BigEndian.AppendUint16(buf, value)
}

func appendUint32(buf []byte, chunkType uint16, value uint32) []byte {
	buf = appendChunkHeader(buf, chunkType, 4)
	return binary.BigEndian.AppendUint32(buf, value)
}
