package pipeline

import (
	"context"
	"time"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/metrics"
	"firestige.xyz/dissect/pkg/plugin"
)

const (
	defaultWrapperBatchSize    = 1
	defaultWrapperBatchTimeout = 50 * time.Millisecond
	defaultWrapperChanCap      = 10000
)

// ReporterWrapper wraps a Reporter with batching and optional fallback.
// It sits between the pipeline and the actual Reporter plugin:
//
//	emit → ReporterWrapper.Send() → batchLoop → Reporter.ReportBatch()/Report()
//	                                          └→ fallback Reporter (on primary failure)
//
// Records reach the reporter in the order they were sent.
type ReporterWrapper struct {
	primary  plugin.Reporter
	fallback plugin.Reporter // nil if no fallback configured

	batchSize    int
	batchTimeout time.Duration
	counters     *Metrics

	batchCh chan *core.Record
	doneCh  chan struct{}
}

// WrapperConfig contains configuration for creating a ReporterWrapper.
type WrapperConfig struct {
	Primary      plugin.Reporter
	Fallback     plugin.Reporter // nil if no fallback
	BatchSize    int
	BatchTimeout time.Duration
	Metrics      *Metrics // optional, counts report errors
}

// NewReporterWrapper creates a new wrapper around a Reporter.
func NewReporterWrapper(cfg WrapperConfig) *ReporterWrapper {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultWrapperBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultWrapperBatchTimeout
	}
	counters := cfg.Metrics
	if counters == nil {
		counters = NewMetrics(cfg.Primary.Name())
	}

	return &ReporterWrapper{
		primary:      cfg.Primary,
		fallback:     cfg.Fallback,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		counters:     counters,
		batchCh:      make(chan *core.Record, defaultWrapperChanCap),
		doneCh:       make(chan struct{}),
	}
}

// Start starts the batchLoop goroutine. Does NOT start the underlying reporters
// (those are started by the pipeline with the other plugins).
func (w *ReporterWrapper) Start(ctx context.Context) {
	go w.batchLoop(ctx)
}

// Send enqueues a record for batched delivery. It blocks while the buffer
// is full.
func (w *ReporterWrapper) Send(rec *core.Record) {
	w.batchCh <- rec
}

// Close closes the batch channel and waits for all pending records to flush.
func (w *ReporterWrapper) Close() {
	close(w.batchCh)
	<-w.doneCh
}

// batchLoop collects records into batches and flushes on size or timeout.
func (w *ReporterWrapper) batchLoop(ctx context.Context) {
	defer close(w.doneCh)

	batch := make([]*core.Record, 0, w.batchSize)
	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.sendBatch(ctx, batch); err != nil {
			log.GetLogger().WithFields(map[string]interface{}{
				"reporter":   w.primary.Name(),
				"batch_size": len(batch),
			}).WithError(err).Warn("primary reporter batch failed")
			// Fallback: send each record to fallback reporter
			if w.fallback != nil {
				for _, rec := range batch {
					if fbErr := w.fallback.Report(ctx, rec); fbErr != nil {
						w.failed(w.fallback.Name(), "fallback")
						log.GetLogger().WithField("reporter", w.fallback.Name()).
							WithError(fbErr).Warn("fallback reporter also failed")
					}
				}
			}
		}
		// the reporter may keep the slice
		batch = make([]*core.Record, 0, w.batchSize)
	}

	for {
		select {
		case rec, ok := <-w.batchCh:
			if !ok {
				// Channel closed: flush remaining and exit
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// sendBatch sends a batch of records using BatchReporter if available,
// otherwise falls back to calling Report() one-by-one.
func (w *ReporterWrapper) sendBatch(ctx context.Context, batch []*core.Record) error {
	reporterName := w.primary.Name()

	// Prefer BatchReporter interface for high-throughput reporters (e.g., Kafka)
	if br, ok := w.primary.(plugin.BatchReporter); ok && w.batchSize > 1 {
		metrics.SinkBatchSize.WithLabelValues(reporterName).Observe(float64(len(batch)))
		if err := br.ReportBatch(ctx, batch); err != nil {
			w.failed(reporterName, "batch")
			return err
		}
		return nil
	}

	// Sequential Report() calls
	var lastErr error
	for _, rec := range batch {
		if err := w.primary.Report(ctx, rec); err != nil {
			w.failed(reporterName, "report")
			lastErr = err
		}
	}
	return lastErr
}

func (w *ReporterWrapper) failed(name, kind string) {
	w.counters.ReportErrors.Add(1)
	metrics.SinkErrorsTotal.WithLabelValues(name, kind).Inc()
}
