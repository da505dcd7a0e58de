// Package t38 implements the T.38 fax relay decoder: UDPTL packets over UDP,
// TPKT framed IFP packets over TCP, HDLC reassembly and T.30 control frames.
package t38

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"strconv"
	"strings"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/reassembly"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

// Name is the protocol name.
const Name = "t38"

// Modulus is the UDPTL sequence number space.
const Modulus = 1 << 16

const (
	tpktVersion   = 3
	tpktHeaderLen = 4
)

// Reassembly stream names within a conversation.
const (
	StreamHDLC = "hdlc"
	StreamT4   = "t4"
)

var ErrNotTPKT = errors.New("t38: not a TPKT header")

// Register creates the T.38 decoder. T.38 resolves no open types through
// reg; it is taken so all decoders share one registry.
func Register(reg *dissect.Registry) (*dissect.Decoder, error) {
	return dissect.NewDecoder(dissect.Protocol{
		Name:      Name,
		Schema:    Schema(),
		Root:      "UDPTLPacket",
		Aligned:   true,
		Registry:  reg,
		Summarize: Summary,
	})
}

// AddAddress binds UDP traffic towards addr:port to the T.38 decoder, as
// negotiated by signaling in frame. The peer is left as a wildcard.
func AddAddress(table *conversation.Table, frame uint64, addr netip.Addr, port uint16, setupMethod string) bool {
	key := conversation.Wildcard(conversation.ProtoUDP, netip.AddrPortFrom(addr, port))
	return table.BindMethod(frame, key, Name, frame, setupMethod)
}

// Reassembled is one HDLC frame or T.4 block completed by a packet.
type Reassembled struct {
	Stream string
	*reassembly.Result
	// FCS is "OK" or "BAD" for HDLC frames closed by an FCS indication.
	FCS string
	// T30 holds the decoded control message of HDLC frames.
	T30 *dissect.Result
}

// Packet is the decode of one UDPTL or TPKT packet.
type Packet struct {
	*dissect.Result
	Reassembled []Reassembled
}

// Dissector decodes T.38 packets and reassembles their data fields.
type Dissector struct {
	dec    *dissect.Decoder
	engine *reassembly.Engine
}

// New creates a dissector. engine must be configured with Modulus.
func New(dec *dissect.Decoder, engine *reassembly.Engine) *Dissector {
	return &Dissector{dec: dec, engine: engine}
}

// Decoder returns the underlying PER decoder.
func (d *Dissector) Decoder() *dissect.Decoder { return d.dec }

// DecodeUDPTL decodes one UDPTL datagram of frame on conversation conv and
// feeds the primary IFP data fields to the reassembly engine.
func (d *Dissector) DecodeUDPTL(frame uint64, conv string, buf []byte) *Packet {
	res := d.dec.DecodeWith(buf, dissect.Context{Protocol: Name, Frame: frame})
	pkt := &Packet{Result: res}
	seq := res.Root.Child("seq-number")
	ifp := res.Root.Find("primary-ifp-packet", "IFPPacket")
	if seq != nil && ifp != nil && d.engine != nil {
		d.reassemble(pkt, frame, conv, uint32(seq.Int), ifp)
		pkt.Diagnostics = pkt.Root.Diagnostics()
	}
	return pkt
}

// DecodeTPKT decodes one TPKT framed IFP packet. TCP carries no sequence
// numbers, so data fields are not reassembled.
func (d *Dissector) DecodeTPKT(frame uint64, buf []byte) *Packet {
	root := dissect.Group("tpkt", 0, len(buf))
	if len(buf) < tpktHeaderLen {
		data := dissect.Raw("data", 0, buf)
		data.Annotate(diag.New(diag.Truncated, "TPKT header needs %d bytes, have %d", tpktHeaderLen, len(buf)))
		root.Add(data)
		return &Packet{Result: dissect.NewResult(Name, root, "")}
	}
	length := int(binary.BigEndian.Uint16(buf[2:4]))
	version := dissect.Uint("version", 0, 1, uint64(buf[0]))
	if buf[0] != tpktVersion {
		version.Annotate(diag.New(diag.Malformation, "TPKT version %d", buf[0]))
	}
	root.Add(version,
		dissect.Uint("reserved", 1, 1, uint64(buf[1])),
		dissect.Uint("length", 2, 2, uint64(length)))

	payload := buf[tpktHeaderLen:]
	switch {
	case length < tpktHeaderLen:
		root.Children[2].Annotate(diag.New(diag.Malformation, "TPKT length %d below header size", length))
		return &Packet{Result: dissect.NewResult(Name, root, "")}
	case length > len(buf):
		root.Children[2].Annotate(diag.New(diag.Truncated, "TPKT length %d, have %d bytes", length, len(buf)))
	default:
		payload = buf[tpktHeaderLen:length]
	}

	res, err := d.dec.DecodeType("IFPPacket", payload, dissect.Context{Protocol: Name, Frame: frame})
	if err != nil {
		// the schema always has IFPPacket
		panic(err)
	}
	res.Root.Shift(tpktHeaderLen)
	root.Add(res.Root)
	out := dissect.NewResult(Name, root, res.Summary)
	if res.Status == dissect.StatusAborted {
		out.Status = dissect.StatusAborted
	}
	return &Packet{Result: out}
}

// ScanTPKT is a bufio.SplitFunc returning one TPKT packet per token. A
// partial packet at EOF is returned as is.
func ScanTPKT(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	if data[0] != tpktVersion {
		return 0, nil, ErrNotTPKT
	}
	if len(data) < tpktHeaderLen {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	n := int(binary.BigEndian.Uint16(data[2:4]))
	if n < tpktHeaderLen {
		return 0, nil, ErrNotTPKT
	}
	if len(data) < n {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	return n, data[:n], nil
}

func streamOf(fieldType int64) (stream string, terminal, ok bool) {
	switch fieldType {
	case FieldHDLCData:
		return StreamHDLC, false, true
	case FieldHDLCSigEnd, FieldHDLCFCSOK, FieldHDLCFCSBad, FieldHDLCFCSOKSigEnd, FieldHDLCFCSBadSigEnd:
		return StreamHDLC, true, true
	case FieldT4NonECMData:
		return StreamT4, false, true
	case FieldT4NonECMSigEnd:
		return StreamT4, true, true
	}
	return "", false, false
}

func fcsOf(fieldType int64) string {
	switch fieldType {
	case FieldHDLCFCSOK, FieldHDLCFCSOKSigEnd:
		return "OK"
	case FieldHDLCFCSBad, FieldHDLCFCSBadSigEnd:
		return "BAD"
	}
	return ""
}

// reassemble feeds the data fields of ifp. Consecutive data fields of one
// stream inside a packet share the sequence number and are joined into one
// fragment.
func (d *Dissector) reassemble(pkt *Packet, frame uint64, conv string, seq uint32, ifp *dissect.Node) {
	fields := ifp.Child("data-field")
	if fields == nil {
		return
	}
	type pending struct {
		data []byte
		item *dissect.Node
		idx  int
	}
	open := map[string]*pending{}

	feed := func(stream string, idx int, item *dissect.Node, frag reassembly.Fragment, fieldType int64) {
		key := reassembly.Key{Conversation: conv, Stream: stream}
		out := d.engine.Feed(reassembly.Ref{Frame: frame, Index: idx}, key, frag)
		for _, dg := range out.Diagnostics {
			item.Add(dissect.Group("reassembly", item.Offset, item.Length).Annotate(dg))
		}
		if out.Result == nil {
			return
		}
		item.Add(dissect.Str("reassembled", item.Offset, item.Length, out.Result.String()))
		r := Reassembled{Stream: stream, Result: out.Result}
		if stream == StreamHDLC {
			r.FCS = fcsOf(fieldType)
			r.T30 = DecodeT30(out.Result.Data)
		}
		pkt.Reassembled = append(pkt.Reassembled, r)
	}

	for i, item := range fields.Children {
		ft := item.Child("field-type")
		if ft == nil {
			continue
		}
		stream, terminal, ok := streamOf(ft.Int)
		if !ok {
			continue
		}
		var data []byte
		if fd := item.Child("field-data"); fd != nil {
			data = fd.Bytes
		}
		p := open[stream]
		if !terminal {
			if p == nil {
				p = &pending{}
				open[stream] = p
			}
			p.data = append(p.data, data...)
			p.item, p.idx = item, i
			continue
		}
		if p != nil {
			data = append(p.data, data...)
			delete(open, stream)
		}
		key := reassembly.Key{Conversation: conv, Stream: stream}
		// a bare signal end after a completed frame closes nothing
		if len(data) == 0 && fcsOf(ft.Int) == "" && d.engine.Pending(key) == 0 {
			continue
		}
		feed(stream, i, item, reassembly.Fragment{Seq: seq, Payload: data, Terminal: true}, ft.Int)
	}
	for _, stream := range []string{StreamHDLC, StreamT4} {
		if p := open[stream]; p != nil && len(p.data) > 0 {
			feed(stream, p.idx, p.item, reassembly.Fragment{Seq: seq, Payload: p.data}, FieldHDLCData)
		}
	}
}

// Summary labels a UDPTL packet or an IFP packet, e.g.
// "t4-non-ecm-data:v17-14400 seq 12".
func Summary(root *dissect.Node) string {
	switch root.Name {
	case "IFPPacket":
		return summarizeIFP(root)
	case "UDPTLPacket":
		label := summarizeIFP(root.Find("primary-ifp-packet", "IFPPacket"))
		if seq := root.Child("seq-number"); seq != nil {
			label += " seq " + strconv.FormatInt(seq.Int, 10)
		}
		return strings.TrimSpace(label)
	}
	return ""
}

func summarizeIFP(ifp *dissect.Node) string {
	msg := ifp.Child("type-of-msg")
	if msg == nil || len(msg.Children) == 0 {
		return ""
	}
	head := msg.Text
	if fields := ifp.Child("data-field"); fields != nil && len(fields.Children) > 0 {
		types := make([]string, 0, len(fields.Children))
		for _, item := range fields.Children {
			if ft := item.Child("field-type"); ft != nil {
				types = append(types, ft.Text)
			}
		}
		head = strings.Join(types, ",")
	}
	return head + ":" + msg.Children[0].Text
}
