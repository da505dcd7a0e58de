package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/pkg/dissect"
)

// Mock implementations for testing interface compliance

type mockPlugin struct {
	name string
}

func (m *mockPlugin) Name() string                    { return m.name }
func (m *mockPlugin) Init(cfg map[string]any) error   { return nil }
func (m *mockPlugin) Start(ctx context.Context) error { return nil }
func (m *mockPlugin) Stop(ctx context.Context) error  { return nil }

type mockCapturer struct {
	mockPlugin
	stats CaptureStats
}

func (m *mockCapturer) Capture(ctx context.Context, output chan<- core.RawPacket) error { return nil }
func (m *mockCapturer) LinkType() layers.LinkType                                       { return layers.LinkTypeEthernet }
func (m *mockCapturer) Stats() CaptureStats                                             { return m.stats }

type mockParser struct {
	mockPlugin
	outputs []Output
}

func (m *mockParser) CanHandle(pkt *core.DecodedPacket) bool { return true }
func (m *mockParser) Handle(pkt *core.DecodedPacket) ([]Output, error) {
	return m.outputs, nil
}

type mockProcessor struct {
	mockPlugin
	shouldKeep bool
}

func (m *mockProcessor) Process(rec *core.Record) bool { return m.shouldKeep }

type mockReporter struct {
	mockPlugin
	reported []*core.Record
}

func (m *mockReporter) Report(ctx context.Context, rec *core.Record) error {
	m.reported = append(m.reported, rec)
	return nil
}
func (m *mockReporter) Flush(ctx context.Context) error { return nil }

var (
	_ Capturer  = (*mockCapturer)(nil)
	_ Parser    = (*mockParser)(nil)
	_ Processor = (*mockProcessor)(nil)
	_ Reporter  = (*mockReporter)(nil)
)

func TestParserOutputs(t *testing.T) {
	res := dissect.NewResult("rtp", dissect.Group("rtp", 0, 12), "PT=0")
	p := &mockParser{
		mockPlugin: mockPlugin{name: "rtp"},
		outputs:    []Output{{Result: res, Labels: core.Labels{core.LabelRTPSeq: "1"}}},
	}
	outs, err := p.Handle(&core.DecodedPacket{})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(outs) != 1 || outs[0].Result.Protocol != "rtp" {
		t.Errorf("unexpected outputs %+v", outs)
	}
	if outs[0].Labels[core.LabelRTPSeq] != "1" {
		t.Errorf("expected seq label, got %v", outs[0].Labels)
	}
}

func TestDecodeConfig(t *testing.T) {
	type parserConfig struct {
		Ports    []uint16      `mapstructure:"ports"`
		TTL      time.Duration `mapstructure:"ttl"`
		Required bool          `mapstructure:"required"`
	}

	t.Run("weakly typed", func(t *testing.T) {
		var cfg parserConfig
		err := DecodeConfig(map[string]any{
			"ports":    []any{"4000", 4002},
			"ttl":      "5s",
			"required": "true",
		}, &cfg)
		if err != nil {
			t.Fatalf("DecodeConfig failed: %v", err)
		}
		if len(cfg.Ports) != 2 || cfg.Ports[0] != 4000 || cfg.Ports[1] != 4002 {
			t.Errorf("ports = %v", cfg.Ports)
		}
		if cfg.TTL != 5*time.Second || !cfg.Required {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("nil map", func(t *testing.T) {
		var cfg parserConfig
		if err := DecodeConfig(nil, &cfg); err != nil {
			t.Errorf("DecodeConfig(nil) failed: %v", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		var cfg parserConfig
		err := DecodeConfig(map[string]any{"prots": []int{1}}, &cfg)
		if !errors.Is(err, core.ErrPluginInitFailed) {
			t.Errorf("expected ErrPluginInitFailed, got %v", err)
		}
	})
}
