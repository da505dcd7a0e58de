// Package rtsp implements the RTSP parser plugin.
//
// Each direction of a TCP stream on the configured ports is demultiplexed
// into RTSP messages and interleaved binary frames. SETUP exchanges bind
// the negotiated media transport in the conversation table; interleaved
// frames are decoded by the decoder bound to their channel.
package rtsp

import (
	"context"
	"strconv"
	"time"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/internal/protocols/rtsp"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/parser/api"
)

// Config is the parser configuration.
type Config struct {
	Ports      []uint16      `mapstructure:"ports"`
	SetupTTL   time.Duration `mapstructure:"setup_ttl"`
	MaxMessage int           `mapstructure:"max_message"`
}

// Parser decodes RTSP streams.
//
// It implements plugin.Parser, plugin.ProtocolsAware and
// plugin.ConversationAware.
type Parser struct {
	ports      api.Ports
	setupTTL   time.Duration
	maxMessage int

	set     *protocols.Set
	table   *conversation.Table
	tracker *rtsp.Tracker
	demux   map[conversation.Key]*rtsp.Demuxer
}

// NewParser creates a new Parser instance.
func NewParser() plugin.Parser {
	return &Parser{demux: make(map[conversation.Key]*rtsp.Demuxer)}
}

func (p *Parser) Name() string { return rtsp.Name }

func (p *Parser) Init(cfg map[string]any) error {
	c := Config{
		Ports:      []uint16{554, 8554},
		SetupTTL:   rtsp.DefaultSetupTTL,
		MaxMessage: rtsp.DefaultMaxMessage,
	}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	p.ports = api.NewPorts(c.Ports)
	p.setupTTL = c.SetupTTL
	p.maxMessage = c.MaxMessage
	return nil
}

func (p *Parser) Start(_ context.Context) error {
	if p.set == nil {
		return api.ErrNoProtocols
	}
	if p.table == nil {
		return api.ErrNoTable
	}
	p.tracker = rtsp.NewTracker(p.table, p.setupTTL)
	return nil
}

func (p *Parser) Stop(_ context.Context) error {
	if p.tracker != nil {
		p.tracker.Flush()
	}
	clear(p.demux)
	return nil
}

// SetProtocols satisfies plugin.ProtocolsAware.
func (p *Parser) SetProtocols(set *protocols.Set) { p.set = set }

// SetConversationTable satisfies plugin.ConversationAware.
func (p *Parser) SetConversationTable(table *conversation.Table) { p.table = table }

// CanHandle accepts reassembled TCP stream data on the RTSP ports.
func (p *Parser) CanHandle(pkt *core.DecodedPacket) bool {
	return pkt.Transport.Protocol == core.ProtoTCP && (pkt.Stream || pkt.StreamEnd) && p.ports.Match(pkt)
}

func (p *Parser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	key := api.Key(pkt)
	d, ok := p.demux[key]
	if !ok {
		d = rtsp.NewDemuxer(p.maxMessage)
		p.demux[key] = d
	}

	var units []rtsp.Unit
	if pkt.StreamEnd {
		units = d.Flush()
		delete(p.demux, key)
	} else {
		units = d.Feed(pkt.Payload)
	}

	outs := make([]plugin.Output, 0, len(units))
	for _, u := range units {
		switch u := u.(type) {
		case *rtsp.Message:
			outs = append(outs, p.message(pkt.Frame, key, u))
		case *rtsp.Frame:
			outs = append(outs, p.frame(key, u))
		case *rtsp.Skipped:
			log.GetLogger().WithField("frame", pkt.Frame).
				WithField("offset", u.Offset).
				Debugf("rtsp: skipped %d bytes on %s", len(u.Data), key)
		}
	}
	return outs, nil
}

// message decodes one RTSP message and applies any binding it completes.
func (p *Parser) message(frame uint64, key conversation.Key, msg *rtsp.Message) plugin.Output {
	res := rtsp.DecodeMessage(msg)
	labels := core.Labels{}
	if msg.IsResponse() {
		labels[core.LabelRTSPStatus] = strconv.Itoa(msg.StatusCode())
	} else {
		labels[core.LabelRTSPMethod] = msg.Method()
	}
	if cseq, ok := msg.Header.CSeq(); ok {
		labels[core.LabelRTSPCSeq] = strconv.Itoa(cseq)
	}

	for _, b := range p.tracker.Observe(frame, key, msg) {
		if prev := labels[core.LabelRTSPBinding]; prev != "" {
			labels[core.LabelRTSPBinding] = prev + "; " + b.String()
		} else {
			labels[core.LabelRTSPBinding] = b.String()
		}
		log.GetLogger().WithField("frame", frame).Debugf("rtsp: bound %s", b)
	}
	return plugin.Output{Result: res, Labels: labels}
}

// frame decodes one interleaved binary frame with the decoder bound to its
// channel.
func (p *Parser) frame(key conversation.Key, f *rtsp.Frame) plugin.Output {
	labels := core.Labels{core.LabelRTSPChannel: strconv.Itoa(int(f.Channel))}
	if handle, ok := p.table.LookupSubchannel(key, f.Channel); ok {
		if fn, ok := p.set.Lookup(handle); ok {
			if st, ok := p.table.Lookup(key); ok {
				labels = api.SetupLabels(labels, st)
			}
			return plugin.Output{Result: fn(f.Payload), Labels: labels}
		}
	}
	data := dissect.Raw("data", 0, f.Payload)
	data.Annotate(diag.New(diag.Undecoded, "no decoder bound to interleaved channel %d", f.Channel))
	root := dissect.Group("interleaved", 0, len(f.Payload), data)
	return plugin.Output{Result: dissect.NewResult(rtsp.Name, root, "Interleaved channel "+labels[core.LabelRTSPChannel]), Labels: labels}
}
