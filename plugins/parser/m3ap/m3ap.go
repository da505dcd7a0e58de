// Package m3ap implements the M3AP parser plugin. M3AP PDUs travel in SCTP
// DATA chunks with payload protocol identifier 43 or on the registered port.
package m3ap

import (
	"context"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/internal/protocols/m3ap"
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/parser/api"
)

// Config is the parser configuration.
type Config struct {
	Ports []uint16 `mapstructure:"ports"`
	PPID  uint32   `mapstructure:"ppid"`
}

// Parser decodes M3AP PDUs.
//
// It implements plugin.Parser and plugin.ProtocolsAware.
type Parser struct {
	ports api.Ports
	ppid  uint32
	set   *protocols.Set
}

// NewParser creates a new Parser instance.
func NewParser() plugin.Parser {
	return &Parser{}
}

func (p *Parser) Name() string { return m3ap.Name }

// Init reads the port list and PPID; both default to the registered values.
func (p *Parser) Init(cfg map[string]any) error {
	c := Config{Ports: []uint16{m3ap.SCTPPort}, PPID: m3ap.PPID}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	p.ports = api.NewPorts(c.Ports)
	p.ppid = c.PPID
	return nil
}

func (p *Parser) Start(_ context.Context) error {
	if p.set == nil {
		return api.ErrNoProtocols
	}
	return nil
}

func (p *Parser) Stop(_ context.Context) error { return nil }

// SetProtocols satisfies plugin.ProtocolsAware.
func (p *Parser) SetProtocols(set *protocols.Set) { p.set = set }

// CanHandle accepts SCTP chunks with the M3AP PPID or port.
func (p *Parser) CanHandle(pkt *core.DecodedPacket) bool {
	if pkt.Transport.Protocol != core.ProtoSCTP {
		return false
	}
	return pkt.Transport.PPID == p.ppid || p.ports.Match(pkt)
}

// Handle decodes one PDU and labels it with its message name.
func (p *Parser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	if len(pkt.Payload) == 0 {
		return nil, api.ErrEmptyPayload
	}
	res := p.set.DecodeM3APFrame(pkt.Frame, pkt.Payload)
	labels := core.Labels{}
	if res.Summary != "" {
		labels[core.LabelM3APProcedure] = res.Summary
	}
	return []plugin.Output{{Result: res, Labels: labels}}, nil
}
