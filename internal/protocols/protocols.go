// Package protocols assembles the protocol decoders around one registry that
// is populated once at startup and then frozen.
package protocols

import (
	"fmt"
	"sort"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols/h460"
	"firestige.xyz/dissect/internal/protocols/m3ap"
	"firestige.xyz/dissect/internal/protocols/rdt"
	"firestige.xyz/dissect/internal/protocols/rtp"
	"firestige.xyz/dissect/internal/protocols/rtsp"
	"firestige.xyz/dissect/internal/protocols/t38"
	"firestige.xyz/dissect/internal/reassembly"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/schema"
)

// NameT30 is the handle of the T.30 control message decoder.
const NameT30 = "t30"

// Config bounds the decoders of a Set.
type Config struct {
	MaxDepth   int
	Reassembly reassembly.Config
}

// DecodeFn decodes one self-contained payload.
type DecodeFn func(buf []byte) *dissect.Result

// Set holds every decoder of the process. It is safe for concurrent use
// except for the T.38 reassembly state, which belongs to a single pipeline.
type Set struct {
	registry *dissect.Registry
	m3ap     *dissect.Decoder
	h460     *dissect.Decoder
	t38      *t38.Dissector
	engine   *reassembly.Engine
	maxDepth int
	decoders map[string]DecodeFn
}

// New registers all protocols and freezes the registry.
func New(cfg Config) (*Set, error) {
	reg := dissect.NewRegistry()
	s := &Set{registry: reg, maxDepth: cfg.MaxDepth}

	var err error
	if s.m3ap, err = m3ap.Register(reg); err != nil {
		return nil, fmt.Errorf("register %s: %w", m3ap.Name, err)
	}
	if s.h460, err = h460.Register(reg); err != nil {
		return nil, fmt.Errorf("register %s: %w", h460.Name, err)
	}
	t38dec, err := t38.Register(reg)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", t38.Name, err)
	}
	reg.Freeze()

	rc := cfg.Reassembly
	rc.Modulus = t38.Modulus
	s.engine = reassembly.New(rc)
	s.t38 = t38.New(t38dec, s.engine)

	s.decoders = map[string]DecodeFn{
		m3ap.Name: s.DecodeM3AP,
		h460.Name: s.DecodeH460,
		t38.Name: func(buf []byte) *dissect.Result {
			return t38dec.DecodeWith(buf, s.context(t38.Name, 0))
		},
		NameT30:      t38.DecodeT30,
		rtp.Name:     rtp.Decode,
		rtp.NameRTCP: rtp.DecodeRTCP,
		rdt.Name:     rdt.Decode,
		rtsp.Name:    decodeRTSP,
	}
	return s, nil
}

func (s *Set) context(protocol string, frame uint64) dissect.Context {
	return dissect.Context{Protocol: protocol, Frame: frame, MaxDepth: s.maxDepth}
}

// Registry returns the frozen registry shared by the PER decoders.
func (s *Set) Registry() *dissect.Registry { return s.registry }

// T38 returns the T.38 dissector with its reassembly engine.
func (s *Set) T38() *t38.Dissector { return s.t38 }

// Reassembly returns the engine collecting T.38 data fields.
func (s *Set) Reassembly() *reassembly.Engine { return s.engine }

// DecodeM3AP decodes one M3AP PDU.
func (s *Set) DecodeM3AP(buf []byte) *dissect.Result {
	return s.m3ap.DecodeWith(buf, s.context(m3ap.Name, 0))
}

// DecodeM3APFrame decodes one M3AP PDU carried in frame.
func (s *Set) DecodeM3APFrame(frame uint64, buf []byte) *dissect.Result {
	return s.m3ap.DecodeWith(buf, s.context(m3ap.Name, frame))
}

// DecodeH460 decodes one H.460 generic data element.
func (s *Set) DecodeH460(buf []byte) *dissect.Result {
	return s.h460.DecodeWith(buf, s.context(h460.Name, 0))
}

// Names returns the decodable protocol names in order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.decoders))
	for name := range s.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the decoder of a protocol or conversation handle.
func (s *Set) Lookup(name string) (DecodeFn, bool) {
	fn, ok := s.decoders[name]
	return fn, ok
}

// Decode decodes buf as one message of the named protocol. T.38 packets
// decoded this way are not reassembled.
func (s *Set) Decode(name string, buf []byte) (*dissect.Result, error) {
	fn, ok := s.decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrParserNotFound, name)
	}
	return fn(buf), nil
}

// Schema returns the ASN.1 schema of a PER-encoded protocol.
func (s *Set) Schema(name string) (*schema.Schema, bool) {
	switch name {
	case m3ap.Name:
		return s.m3ap.Schema(), true
	case h460.Name:
		return s.h460.Schema(), true
	case t38.Name:
		return s.t38.Decoder().Schema(), true
	}
	return nil, false
}

// decodeRTSP decodes the first RTSP message of buf. A buffer holding no
// complete message yields a tree with an Undecoded diagnostic.
func decodeRTSP(buf []byte) *dissect.Result {
	d := rtsp.NewDemuxer(0)
	units := append(d.Feed(buf), d.Flush()...)
	for _, u := range units {
		if msg, ok := u.(*rtsp.Message); ok {
			return rtsp.DecodeMessage(msg)
		}
	}
	data := dissect.Raw("data", 0, buf)
	data.Annotate(diag.New(diag.Undecoded, "no RTSP message in %d bytes", len(buf)))
	return dissect.NewResult(rtsp.Name, dissect.Group(rtsp.Name, 0, len(buf), data), "")
}
