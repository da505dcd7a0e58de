package protocolfilter

import (
	"testing"

	"firestige.xyz/dissect/internal/core"
)

func TestFilter_Process(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		keep   map[string]bool
	}{
		{
			name:   "empty config keeps everything",
			config: nil,
			keep:   map[string]bool{"rtp": true, "rtsp": true, "t30": true},
		},
		{
			name:   "allow list",
			config: map[string]any{"protocols": []string{"t38", "t30"}},
			keep:   map[string]bool{"rtp": false, "t38": true, "t30": true},
		},
		{
			name:   "exclude wins",
			config: map[string]any{"protocols": []string{"rtp", "rtcp"}, "exclude": []string{"rtcp"}},
			keep:   map[string]bool{"rtp": true, "rtcp": false, "rtsp": false},
		},
		{
			name:   "single string",
			config: map[string]any{"exclude": "rtcp"},
			keep:   map[string]bool{"rtp": true, "rtcp": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter().(*Filter)
			if err := f.Init(tt.config); err != nil {
				t.Fatalf("Init() error: %v", err)
			}
			dropped := 0
			for proto, want := range tt.keep {
				if got := f.Process(&core.Record{Protocol: proto}); got != want {
					t.Errorf("Process(%s) = %v, want %v", proto, got, want)
				}
				if !want {
					dropped++
				}
			}
			if f.Dropped() != uint64(dropped) {
				t.Errorf("Dropped() = %d, want %d", f.Dropped(), dropped)
			}
		})
	}
}

func TestFilter_InitUnknownKey(t *testing.T) {
	if err := NewFilter().Init(map[string]any{"protocol": "rtp"}); err == nil {
		t.Error("Init() should reject an unknown key")
	}
}
