package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/dissect/internal/core"
)

// failingReporter rejects every record.
type failingReporter struct {
	lifecycle
}

func (failingReporter) Report(context.Context, *core.Record) error { return errors.New("broker down") }
func (failingReporter) Flush(context.Context) error                { return nil }

func records(n int) []*core.Record {
	recs := make([]*core.Record, n)
	for i := range recs {
		recs[i] = &core.Record{Frame: uint64(i + 1), Protocol: "rtp"}
	}
	return recs
}

func TestReporterWrapper_Sequential(t *testing.T) {
	primary := &MockReporter{lifecycle: lifecycle{"collect"}}
	w := NewReporterWrapper(WrapperConfig{Primary: primary})
	w.Start(context.Background())
	for _, rec := range records(3) {
		w.Send(rec)
	}
	w.Close()

	got := primary.Records()
	if assert.Len(t, got, 3) {
		for i, rec := range got {
			assert.Equal(t, uint64(i+1), rec.Frame)
		}
	}
}

func TestReporterWrapper_FlushOnTimeout(t *testing.T) {
	primary := &MockBatchReporter{MockReporter: MockReporter{lifecycle: lifecycle{"batch"}}}
	w := NewReporterWrapper(WrapperConfig{Primary: primary, BatchSize: 10, BatchTimeout: 10 * time.Millisecond})
	w.Start(context.Background())
	w.Send(records(1)[0])

	assert.Eventually(t, func() bool { return len(primary.Records()) == 1 }, time.Second, 5*time.Millisecond)
	w.Close()
}

func TestReporterWrapper_Fallback(t *testing.T) {
	fallback := &MockReporter{lifecycle: lifecycle{"fallback"}}
	counters := NewMetrics("test")
	w := NewReporterWrapper(WrapperConfig{
		Primary:  failingReporter{lifecycle{"kafka"}},
		Fallback: fallback,
		Metrics:  counters,
	})
	w.Start(context.Background())
	for _, rec := range records(2) {
		w.Send(rec)
	}
	w.Close()

	assert.Len(t, fallback.Records(), 2)
	assert.Equal(t, uint64(2), counters.Stats().ReportErrors)
}

func TestPipeline_FallbackReporter(t *testing.T) {
	fallback := &MockReporter{lifecycle: lifecycle{"fallback"}}
	p := NewBuilder().
		WithCapturer(NewMockCapturer([]byte("one"), []byte("two"))).
		WithDecoder(&MockDecoder{}).
		WithParsers(NewMockParser("mock", acceptAll)).
		WithReporters(failingReporter{lifecycle{"kafka"}}).
		WithFallback(fallback).
		Build()
	assert.NoError(t, p.Run(context.Background()))

	assert.Len(t, fallback.Records(), 2)
	assert.Equal(t, 1, fallback.flushed)
	assert.Equal(t, uint64(2), p.Stats().ReportErrors)
}
