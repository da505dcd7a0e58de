package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/pkg/dissect"
)

func TestConsoleReporter_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
		wantFmt string
	}{
		{
			name:    "nil config defaults to text",
			config:  nil,
			wantErr: false,
			wantFmt: "text",
		},
		{
			name:    "json format",
			config:  map[string]any{"format": "json"},
			wantErr: false,
			wantFmt: "json",
		},
		{
			name:    "yaml format",
			config:  map[string]any{"format": "yaml"},
			wantErr: false,
			wantFmt: "yaml",
		},
		{
			name:    "invalid format",
			config:  map[string]any{"format": "xml"},
			wantErr: true,
			wantFmt: "text",
		},
		{
			name:    "unknown key",
			config:  map[string]any{"colour": true},
			wantErr: true,
			wantFmt: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewConsoleReporter().(*ConsoleReporter)
			err := r.Init(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if r.format != tt.wantFmt {
				t.Errorf("Init() format = %v, want %v", r.format, tt.wantFmt)
			}
		})
	}
}

func testRecord() *core.Record {
	root := dissect.Group("rtp", 0, 12,
		dissect.Uint("payload_type", 1, 1, 0),
		dissect.Uint("seq", 2, 2, 7))
	return &core.Record{
		Frame:     3,
		Timestamp: time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
		Src:       "10.0.0.1:5000",
		Dst:       "10.0.0.2:5002",
		Transport: "udp",
		Protocol:  "rtp",
		Labels:    core.Labels{core.LabelRTPSeq: "7", core.LabelRTPPayloadType: "0"},
		Result:    dissect.NewResult("rtp", root, "PT=0, SSRC=0x00000001, Seq=7"),
	}
}

func report(t *testing.T, config map[string]any) string {
	t.Helper()
	var buf bytes.Buffer
	r := NewWriterReporter(&buf)
	if err := r.Init(config); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Report(ctx, testRecord()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if r.Reported() != 1 {
		t.Errorf("Reported() = %d, want 1", r.Reported())
	}
	return buf.String()
}

func TestConsoleReporter_Text(t *testing.T) {
	out := report(t, nil)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	want := []string{
		"Frame 3 10:30:00.000000 udp 10.0.0.1:5000 -> 10.0.0.2:5002 rtp.payload_type=0 rtp.seq=7",
		"rtp, PT=0, SSRC=0x00000001, Seq=7",
		"    rtp",
		"        payload_type: 0",
		"        seq: 7",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestConsoleReporter_Summary(t *testing.T) {
	out := report(t, map[string]any{"summary": true})
	if !strings.HasSuffix(out, "    rtp, PT=0, SSRC=0x00000001, Seq=7\n") {
		t.Errorf("unexpected summary output:\n%s", out)
	}
	if strings.Contains(out, "payload_type:") {
		t.Error("summary output should not contain the tree")
	}
}

func TestConsoleReporter_JSON(t *testing.T) {
	out := report(t, map[string]any{"format": "json"})
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not one JSON document: %v", err)
	}
	if decoded["protocol"] != "rtp" {
		t.Errorf("protocol = %v", decoded["protocol"])
	}
	result, ok := decoded["result"].(map[string]any)
	if !ok || result["status"] != "complete" {
		t.Errorf("result = %v", decoded["result"])
	}
}

func TestConsoleReporter_YAML(t *testing.T) {
	out := report(t, map[string]any{"format": "yaml"})
	if !strings.HasPrefix(out, "---\n") {
		t.Errorf("missing document separator:\n%s", out)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded["frame"] != 3 {
		t.Errorf("frame = %v", decoded["frame"])
	}
}

func TestConsoleReporter_NilRecord(t *testing.T) {
	r := NewConsoleReporter()
	if err := r.Report(context.Background(), nil); err == nil {
		t.Error("Report(nil) should fail")
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
