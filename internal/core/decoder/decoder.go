// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/dissect/internal/core"
)

// Decoder decodes raw frames into application payloads. A frame yields no
// payload and core.ErrFragmentPending while an IP datagram is incomplete,
// and several payloads when an SCTP packet bundles DATA chunks.
type Decoder interface {
	Decode(raw core.RawPacket) ([]core.DecodedPacket, error)
}

// Config contains decoder configuration.
type Config struct {
	LinkType        layers.LinkType // zero means Ethernet
	FragmentTimeout time.Duration   // default 30s
}

// StandardDecoder decodes link and network layers with a
// gopacket.DecodingLayerParser and the transport layer by hand so that
// reassembled IPv4 datagrams take the same path.
type StandardDecoder struct {
	parser *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	sll     layers.LinuxSLL
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	tcp     layers.TCP
	decoded []gopacket.LayerType

	defrag *defragmenter
}

// NewStandardDecoder creates a decoder for frames of cfg.LinkType.
func NewStandardDecoder(cfg Config) (*StandardDecoder, error) {
	first, err := firstLayer(cfg.LinkType)
	if err != nil {
		return nil, err
	}
	d := &StandardDecoder{defrag: newDefragmenter(cfg.FragmentTimeout)}
	d.parser = gopacket.NewDecodingLayerParser(first,
		&d.eth, &d.dot1q, &d.sll, &d.ip4, &d.ip6)
	d.parser.IgnoreUnsupported = true
	return d, nil
}

func firstLayer(lt layers.LinkType) (gopacket.LayerType, error) {
	switch lt {
	case 0, layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4, nil
	case layers.LinkTypeIPv6:
		return layers.LayerTypeIPv6, nil
	}
	return 0, fmt.Errorf("%w: %s", core.ErrUnsupportedLink, lt)
}

// Decode decodes one frame.
func (d *StandardDecoder) Decode(raw core.RawPacket) ([]core.DecodedPacket, error) {
	d.decoded = d.decoded[:0]
	if err := d.parser.DecodeLayers(raw.Data, &d.decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrPacketTooShort, err)
	}

	pkt := core.DecodedPacket{Frame: raw.Frame, Timestamp: raw.Timestamp}
	var proto layers.IPProtocol
	var l4 []byte
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			pkt.IP = core.IPHeader{
				Version: 4,
				SrcIP:   addr(d.ip4.SrcIP),
				DstIP:   addr(d.ip4.DstIP),
				TTL:     d.ip4.TTL,
			}
			proto, l4 = d.ip4.Protocol, d.ip4.Payload
			if d.ip4.Flags&layers.IPv4MoreFragments != 0 || d.ip4.FragOffset != 0 {
				whole, err := d.defrag.add(&d.ip4, raw.Timestamp)
				if err != nil {
					return nil, err
				}
				proto, l4 = whole.Protocol, whole.Payload
				pkt.Reassembled = true
			}
		case layers.LayerTypeIPv6:
			pkt.IP = core.IPHeader{
				Version: 6,
				SrcIP:   addr(d.ip6.SrcIP),
				DstIP:   addr(d.ip6.DstIP),
				TTL:     d.ip6.HopLimit,
			}
			proto, l4 = d.ip6.NextHeader, d.ip6.Payload
		}
	}
	if !pkt.IP.SrcIP.IsValid() {
		return nil, fmt.Errorf("%w: no IP layer", core.ErrUnsupportedProto)
	}
	pkt.IP.Protocol = uint8(proto)
	return d.transport(pkt, proto, l4)
}

func (d *StandardDecoder) transport(pkt core.DecodedPacket, proto layers.IPProtocol, l4 []byte) ([]core.DecodedPacket, error) {
	switch proto {
	case layers.IPProtocolUDP:
		if err := d.udp.DecodeFromBytes(l4, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: udp: %v", core.ErrPacketTooShort, err)
		}
		pkt.Transport = core.TransportHeader{
			SrcPort:  uint16(d.udp.SrcPort),
			DstPort:  uint16(d.udp.DstPort),
			Protocol: core.ProtoUDP,
		}
		pkt.Payload = d.udp.Payload
		return []core.DecodedPacket{pkt}, nil

	case layers.IPProtocolTCP:
		if err := d.tcp.DecodeFromBytes(l4, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("%w: tcp: %v", core.ErrPacketTooShort, err)
		}
		pkt.Transport = core.TransportHeader{
			SrcPort:  uint16(d.tcp.SrcPort),
			DstPort:  uint16(d.tcp.DstPort),
			Protocol: core.ProtoTCP,
			Segment:  l4,
		}
		pkt.Payload = d.tcp.Payload
		return []core.DecodedPacket{pkt}, nil

	case layers.IPProtocolSCTP:
		return sctpChunks(pkt, l4)
	}
	return nil, fmt.Errorf("%w: ip protocol %d", core.ErrUnsupportedProto, proto)
}

// sctpChunks returns one packet per unfragmented DATA chunk.
func sctpChunks(pkt core.DecodedPacket, l4 []byte) ([]core.DecodedPacket, error) {
	p := gopacket.NewPacket(l4, layers.LayerTypeSCTP, gopacket.NoCopy)
	sl := p.Layer(layers.LayerTypeSCTP)
	if sl == nil {
		return nil, fmt.Errorf("%w: sctp", core.ErrPacketTooShort)
	}
	sctp := sl.(*layers.SCTP)
	var out []core.DecodedPacket
	for _, l := range p.Layers() {
		data, ok := l.(*layers.SCTPData)
		if !ok || !data.BeginFragment || !data.EndFragment {
			continue
		}
		chunk := pkt
		chunk.Transport = core.TransportHeader{
			SrcPort:  uint16(sctp.SrcPort),
			DstPort:  uint16(sctp.DstPort),
			Protocol: core.ProtoSCTP,
			PPID:     uint32(data.PayloadProtocol),
			StreamID: data.StreamId,
		}
		chunk.Payload = data.LayerPayload()
		out = append(out, chunk)
	}
	return out, nil
}

func addr(ip []byte) netip.Addr {
	a, _ := netip.AddrFromSlice(ip)
	return a.Unmap()
}
