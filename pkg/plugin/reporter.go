package plugin

import (
	"context"

	"firestige.xyz/dissect/internal/core"
)

// Reporter sends decoded records to external systems.
type Reporter interface {
	Plugin
	Report(ctx context.Context, rec *core.Record) error
	Flush(ctx context.Context) error
}

// BatchReporter is an optional interface that Reporter plugins can implement
// to receive records in batches for higher throughput (e.g., Kafka batch
// writes). Reporters that don't implement it get records one by one via
// Report().
type BatchReporter interface {
	Reporter
	ReportBatch(ctx context.Context, recs []*core.Record) error
}
