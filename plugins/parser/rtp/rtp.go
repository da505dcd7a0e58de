// Package rtp implements an RTP/RTCP protocol parser.
//
// The parser correlates media flows with the signaling that negotiated them
// via the shared conversation table, populated by the RTSP parser when it
// processes a SETUP exchange. Two operating modes:
//
//  1. Conversation hit (fast path): the flow was bound by signaling, so the
//     parser knows immediately whether the datagram is RTP or RTCP and which
//     frame set it up.
//
//  2. Heuristic fallback: no binding. When enabled, the parser applies
//     lightweight header checks (V=2, minimum length) to decide whether the
//     datagram looks like RTP or RTCP.
//
// RTCP is distinguished from RTP by packet types 200-209 (SR, RR, SDES, BYE...).
package rtp

import (
	"context"
	"fmt"
	"strconv"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols/rtp"
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/parser/api"
)

// Config is the parser configuration.
type Config struct {
	// Heuristic enables header checks on UDP flows that no signaling bound.
	Heuristic bool `mapstructure:"heuristic"`
}

// RTPParser parses RTP and RTCP datagrams.
//
// It implements plugin.Parser and plugin.ConversationAware.
type RTPParser struct {
	heuristic bool
	table     *conversation.Table
}

// NewRTPParser creates a new RTPParser instance.
func NewRTPParser() plugin.Parser {
	return &RTPParser{}
}

// Name returns the plugin identifier used in configuration.
func (p *RTPParser) Name() string { return rtp.Name }

func (p *RTPParser) Init(cfg map[string]any) error {
	var c Config
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	p.heuristic = c.Heuristic
	return nil
}

// Start is a no-op; RTPParser has no goroutines or background resources.
func (p *RTPParser) Start(_ context.Context) error { return nil }

// Stop is a no-op for the same reason.
func (p *RTPParser) Stop(_ context.Context) error { return nil }

// SetConversationTable satisfies plugin.ConversationAware.
func (p *RTPParser) SetConversationTable(table *conversation.Table) {
	p.table = table
}

// CanHandle decides whether the packet should be processed by this parser.
//
// Decision order (cheapest first):
//  1. A conversation bound to RTP or RTCP answers definitely.
//  2. Otherwise, with the heuristic enabled, check the fixed header fields.
func (p *RTPParser) CanHandle(pkt *core.DecodedPacket) bool {
	if pkt.Transport.Protocol != core.ProtoUDP {
		return false
	}
	if st, ok := p.lookup(pkt); ok {
		return st.Handle == rtp.Name || st.Handle == rtp.NameRTCP
	}
	return p.heuristic && rtp.LooksLikeRTP(pkt.Payload)
}

// Handle decodes the datagram and labels it with its header fields.
func (p *RTPParser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	if len(pkt.Payload) < 2 {
		return nil, fmt.Errorf("rtp: payload too short (%d bytes)", len(pkt.Payload))
	}

	st, bound := p.lookup(pkt)

	// a flow bound to RTP may still multiplex RTCP on the same port
	var out plugin.Output
	if st.Handle == rtp.NameRTCP || rtp.IsRTCP(pkt.Payload) {
		out = handleRTCP(pkt.Payload)
	} else {
		out = handleRTP(pkt.Payload)
	}
	if bound {
		out.Labels = api.SetupLabels(out.Labels, st)
	}
	return []plugin.Output{out}, nil
}

func (p *RTPParser) lookup(pkt *core.DecodedPacket) (conversation.State, bool) {
	if p.table == nil {
		return conversation.State{}, false
	}
	return p.table.Lookup(api.Key(pkt))
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// handleRTP labels the fixed RTP header fields.
func handleRTP(b []byte) plugin.Output {
	res := rtp.Decode(b)
	labels := core.Labels{}
	if n := res.Root.Child("payload_type"); n != nil {
		labels[core.LabelRTPPayloadType] = strconv.FormatInt(n.Int, 10)
	}
	if n := res.Root.Child("ssrc"); n != nil {
		labels[core.LabelRTPSSRC] = fmt.Sprintf("0x%08X", uint32(n.Int))
	}
	if n := res.Root.Child("seq"); n != nil {
		labels[core.LabelRTPSeq] = strconv.FormatInt(n.Int, 10)
	}
	return plugin.Output{Result: res, Labels: labels}
}

// handleRTCP labels the first packet of a compound RTCP datagram.
func handleRTCP(b []byte) plugin.Output {
	res := rtp.DecodeRTCP(b)
	labels := core.Labels{}
	if len(res.Root.Children) > 0 {
		first := res.Root.Children[0]
		if n := first.Child("packet_type"); n != nil {
			labels[core.LabelRTCPPacketType] = n.Text
		}
		if n := first.Child("ssrc"); n != nil {
			labels[core.LabelRTCPSSRC] = fmt.Sprintf("0x%08X", uint32(n.Int))
		}
	}
	return plugin.Output{Result: res, Labels: labels}
}
