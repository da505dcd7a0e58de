package pipeline

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"

	"firestige.xyz/dissect/internal/core"
)

// segmentContext hands the frame being assembled to the stream callbacks.
type segmentContext struct {
	ci  gopacket.CaptureInfo
	pkt *core.DecodedPacket
}

func (c *segmentContext) GetCaptureInfo() gopacket.CaptureInfo { return c.ci }

// streamFactory creates one tcpStream per connection seen by the assembler.
type streamFactory struct {
	emit func(*core.DecodedPacket)
}

func (f *streamFactory) New(_, _ gopacket.Flow, _ *layers.TCP, ac reassembly.AssemblerContext) reassembly.Stream {
	s := &tcpStream{emit: f.emit}
	if c, ok := ac.(*segmentContext); ok {
		s.ip = c.pkt.IP
		s.srcPort = c.pkt.Transport.SrcPort
		s.dstPort = c.pkt.Transport.DstPort
	}
	s.touch(ac)
	return s
}

// tcpStream turns reassembled bytes of one connection into stream packets.
// Endpoints are kept in the orientation of the first segment seen, which
// the assembler treats as client to server.
type tcpStream struct {
	emit func(*core.DecodedPacket)

	ip      core.IPHeader
	srcPort uint16
	dstPort uint16

	// frame and timestamp of the latest segment; stream data is reported
	// in the frame that completed it
	frame uint64
	ts    time.Time
}

func (s *tcpStream) touch(ac reassembly.AssemblerContext) {
	if c, ok := ac.(*segmentContext); ok && c != nil {
		s.frame = c.pkt.Frame
		s.ts = c.pkt.Timestamp
	}
}

// Accept takes every segment. Captures often start mid-connection, so a
// half without a SYN starts at its first segment.
func (s *tcpStream) Accept(_ *layers.TCP, _ gopacket.CaptureInfo, _ reassembly.TCPFlowDirection,
	_ reassembly.Sequence, start *bool, ac reassembly.AssemblerContext) bool {
	*start = true
	s.touch(ac)
	return true
}

func (s *tcpStream) ReassembledSG(sg reassembly.ScatterGather, ac reassembly.AssemblerContext) {
	s.touch(ac)
	length, _ := sg.Lengths()
	if length == 0 {
		return
	}
	dir, _, _, _ := sg.Info()
	pkt := s.packet(dir)
	pkt.Stream = true
	pkt.Payload = append([]byte(nil), sg.Fetch(length)...)
	s.emit(&pkt)
}

// ReassemblyComplete reports the end of both directions. The assembler
// passes a nil context when flushing.
func (s *tcpStream) ReassemblyComplete(ac reassembly.AssemblerContext) bool {
	s.touch(ac)
	for _, dir := range []reassembly.TCPFlowDirection{reassembly.TCPDirClientToServer, reassembly.TCPDirServerToClient} {
		pkt := s.packet(dir)
		pkt.StreamEnd = true
		s.emit(&pkt)
	}
	return true
}

func (s *tcpStream) packet(dir reassembly.TCPFlowDirection) core.DecodedPacket {
	pkt := core.DecodedPacket{
		Frame:     s.frame,
		Timestamp: s.ts,
		IP:        s.ip,
		Transport: core.TransportHeader{SrcPort: s.srcPort, DstPort: s.dstPort, Protocol: core.ProtoTCP},
	}
	if dir == reassembly.TCPDirServerToClient {
		pkt.IP.SrcIP, pkt.IP.DstIP = pkt.IP.DstIP, pkt.IP.SrcIP
		pkt.Transport.SrcPort, pkt.Transport.DstPort = pkt.Transport.DstPort, pkt.Transport.SrcPort
	}
	return pkt
}
