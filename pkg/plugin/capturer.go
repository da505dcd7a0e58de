package plugin

import (
	"context"

	"github.com/google/gopacket/layers"

	"firestige.xyz/dissect/internal/core"
)

// Capturer reads raw frames and sends them to output in capture order.
// Capture returns nil once the source is exhausted.
type Capturer interface {
	Plugin
	Capture(ctx context.Context, output chan<- core.RawPacket) error
	LinkType() layers.LinkType
	Stats() CaptureStats
}

// CaptureStats represents capture statistics.
type CaptureStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
	BytesReceived   uint64
}
