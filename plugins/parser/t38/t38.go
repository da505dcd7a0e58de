// Package t38 implements the T.38 parser plugin.
//
// UDPTL datagrams are accepted on conversations bound to T.38 by signaling
// and on the configured UDP ports. Their data fields are reassembled into
// HDLC frames and T.4 blocks; every completed HDLC frame is reported as a
// separate T.30 record. TPKT framed IFP packets are accepted on the
// configured TCP ports and split from the reassembled byte stream.
package t38

import (
	"context"
	"fmt"
	"strconv"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/internal/protocols/t38"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/parser/api"
)

// Config is the parser configuration.
type Config struct {
	UDPPorts []uint16 `mapstructure:"udp_ports"`
	TCPPorts []uint16 `mapstructure:"tcp_ports"`
}

// Parser decodes T.38 packets.
//
// It implements plugin.Parser, plugin.ProtocolsAware and
// plugin.ConversationAware.
type Parser struct {
	udp   api.Ports
	tcp   api.Ports
	set   *protocols.Set
	table *conversation.Table

	// pending TPKT bytes per stream direction
	streams map[conversation.Key][]byte
}

// NewParser creates a new Parser instance.
func NewParser() plugin.Parser {
	return &Parser{streams: make(map[conversation.Key][]byte)}
}

func (p *Parser) Name() string { return t38.Name }

func (p *Parser) Init(cfg map[string]any) error {
	var c Config
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	p.udp = api.NewPorts(c.UDPPorts)
	p.tcp = api.NewPorts(c.TCPPorts)
	return nil
}

func (p *Parser) Start(_ context.Context) error {
	if p.set == nil {
		return api.ErrNoProtocols
	}
	return nil
}

func (p *Parser) Stop(_ context.Context) error {
	clear(p.streams)
	return nil
}

// SetProtocols satisfies plugin.ProtocolsAware.
func (p *Parser) SetProtocols(set *protocols.Set) { p.set = set }

// SetConversationTable satisfies plugin.ConversationAware.
func (p *Parser) SetConversationTable(table *conversation.Table) { p.table = table }

func (p *Parser) CanHandle(pkt *core.DecodedPacket) bool {
	switch pkt.Transport.Protocol {
	case core.ProtoUDP:
		if p.table != nil {
			if st, ok := p.table.Lookup(api.Key(pkt)); ok {
				return st.Handle == t38.Name
			}
		}
		return p.udp.Match(pkt)
	case core.ProtoTCP:
		return (pkt.Stream || pkt.StreamEnd) && p.tcp.Match(pkt)
	}
	return false
}

func (p *Parser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	if pkt.Transport.Protocol == core.ProtoTCP {
		return p.handleStream(pkt)
	}
	if len(pkt.Payload) == 0 {
		return nil, api.ErrEmptyPayload
	}

	key := api.Key(pkt)
	var labels core.Labels
	if p.table != nil {
		if st, ok := p.table.Lookup(key); ok {
			labels = api.SetupLabels(labels, st)
		}
	}
	res := p.set.T38().DecodeUDPTL(pkt.Frame, key.String(), pkt.Payload)
	if labels == nil {
		labels = core.Labels{}
	}
	if seq := res.Root.Child("seq-number"); seq != nil {
		labels[core.LabelT38Seq] = strconv.FormatInt(seq.Int, 10)
	}

	outs := []plugin.Output{{Result: res.Result, Labels: labels}}
	for _, r := range res.Reassembled {
		outs = append(outs, reassembled(r, labels[core.LabelT38Seq]))
	}
	return outs, nil
}

// reassembled reports a completed HDLC frame as T.30 and a T.4 block as
// raw image data.
func reassembled(r t38.Reassembled, seq string) plugin.Output {
	labels := core.Labels{core.LabelT38Reassembled: r.Stream, core.LabelT38Seq: seq}
	if r.T30 != nil {
		if fcf := r.T30.Root.Child("fcf"); fcf != nil {
			labels[core.LabelT30FCF] = fcf.Text
		}
		if r.FCS != "" {
			labels[core.LabelT30FCS] = r.FCS
		}
		return plugin.Output{Result: r.T30, Labels: labels}
	}
	root := dissect.Group(r.Stream, 0, len(r.Data),
		dissect.Raw("data", 0, r.Data),
		dissect.Uint("fragments", 0, 0, uint64(r.Fragments)),
		dissect.Uint("packets_lost", 0, 0, uint64(r.PacketsLost)))
	return plugin.Output{Result: dissect.NewResult(t38.Name, root, r.Result.String()), Labels: labels}
}

// handleStream splits TPKT packets out of one direction of a TCP stream.
func (p *Parser) handleStream(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	key := api.Key(pkt)
	buf := append(p.streams[key], pkt.Payload...)
	atEOF := pkt.StreamEnd

	var outs []plugin.Output
	for len(buf) > 0 {
		n, token, err := t38.ScanTPKT(buf, atEOF)
		if err != nil {
			delete(p.streams, key)
			return outs, fmt.Errorf("%s frame %d: %w", key, pkt.Frame, err)
		}
		if n == 0 {
			break
		}
		res := p.set.T38().DecodeTPKT(pkt.Frame, token)
		outs = append(outs, plugin.Output{Result: res.Result, Labels: core.Labels{}})
		buf = buf[n:]
	}

	if atEOF || len(buf) == 0 {
		delete(p.streams, key)
	} else {
		p.streams[key] = append([]byte(nil), buf...)
	}
	return outs, nil
}
