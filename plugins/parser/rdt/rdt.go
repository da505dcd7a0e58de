// Package rdt implements the RDT parser plugin. RDT datagrams are only
// recognized on conversations bound by a RealMedia SETUP or on configured
// ports; the format has no reliable signature.
package rdt

import (
	"context"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols/rdt"
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/parser/api"
)

// Config is the parser configuration.
type Config struct {
	Ports []uint16 `mapstructure:"ports"`
}

// Parser decodes RDT datagrams.
//
// It implements plugin.Parser and plugin.ConversationAware.
type Parser struct {
	ports api.Ports
	table *conversation.Table
}

// NewParser creates a new Parser instance.
func NewParser() plugin.Parser {
	return &Parser{}
}

func (p *Parser) Name() string { return rdt.Name }

func (p *Parser) Init(cfg map[string]any) error {
	var c Config
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	p.ports = api.NewPorts(c.Ports)
	return nil
}

func (p *Parser) Start(_ context.Context) error { return nil }

func (p *Parser) Stop(_ context.Context) error { return nil }

// SetConversationTable satisfies plugin.ConversationAware.
func (p *Parser) SetConversationTable(table *conversation.Table) { p.table = table }

func (p *Parser) CanHandle(pkt *core.DecodedPacket) bool {
	if pkt.Transport.Protocol != core.ProtoUDP {
		return false
	}
	if st, ok := p.lookup(pkt); ok {
		return st.Handle == rdt.Name
	}
	return p.ports.Match(pkt)
}

func (p *Parser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	if len(pkt.Payload) == 0 {
		return nil, api.ErrEmptyPayload
	}
	res := rdt.Decode(pkt.Payload)
	labels := core.Labels{core.LabelRDTPackets: res.Summary}
	if st, ok := p.lookup(pkt); ok {
		labels = api.SetupLabels(labels, st)
	}
	return []plugin.Output{{Result: res, Labels: labels}}, nil
}

func (p *Parser) lookup(pkt *core.DecodedPacket) (conversation.State, bool) {
	if p.table == nil {
		return conversation.State{}, false
	}
	return p.table.Lookup(api.Key(pkt))
}
