package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters. The Prometheus collectors in
// internal/metrics aggregate across pipelines; these are read back by
// Stats for the replay summary.
type Metrics struct {
	Name string

	// Packet counters (using atomic for thread-safety)
	Received         atomic.Uint64
	Decoded          atomic.Uint64
	DecodeErrors     atomic.Uint64
	FragmentsPending atomic.Uint64
	StreamSegments   atomic.Uint64
	Parsed           atomic.Uint64
	ParseErrors      atomic.Uint64
	Unhandled        atomic.Uint64
	Processed        atomic.Uint64
	Dropped          atomic.Uint64
	Reported         atomic.Uint64
	ReportErrors     atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(name string) *Metrics {
	return &Metrics{Name: name}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Decoded.Store(0)
	m.DecodeErrors.Store(0)
	m.FragmentsPending.Store(0)
	m.StreamSegments.Store(0)
	m.Parsed.Store(0)
	m.ParseErrors.Store(0)
	m.Unhandled.Store(0)
	m.Processed.Store(0)
	m.Dropped.Store(0)
	m.Reported.Store(0)
	m.ReportErrors.Store(0)
}

// Stats returns a snapshot of the counters.
func (m *Metrics) Stats() Stats {
	return Stats{
		Received:         m.Received.Load(),
		Decoded:          m.Decoded.Load(),
		DecodeErrors:     m.DecodeErrors.Load(),
		FragmentsPending: m.FragmentsPending.Load(),
		StreamSegments:   m.StreamSegments.Load(),
		Parsed:           m.Parsed.Load(),
		ParseErrors:      m.ParseErrors.Load(),
		Unhandled:        m.Unhandled.Load(),
		Processed:        m.Processed.Load(),
		Dropped:          m.Dropped.Load(),
		Reported:         m.Reported.Load(),
		ReportErrors:     m.ReportErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received         uint64 `json:"received" yaml:"received"`
	Decoded          uint64 `json:"decoded" yaml:"decoded"`
	DecodeErrors     uint64 `json:"decode_errors" yaml:"decode_errors"`
	FragmentsPending uint64 `json:"fragments_pending" yaml:"fragments_pending"`
	StreamSegments   uint64 `json:"stream_segments" yaml:"stream_segments"`
	Parsed           uint64 `json:"parsed" yaml:"parsed"`
	ParseErrors      uint64 `json:"parse_errors" yaml:"parse_errors"`
	Unhandled        uint64 `json:"unhandled" yaml:"unhandled"`
	Processed        uint64 `json:"processed" yaml:"processed"`
	Dropped          uint64 `json:"dropped" yaml:"dropped"`
	Reported         uint64 `json:"reported" yaml:"reported"`
	ReportErrors     uint64 `json:"report_errors" yaml:"report_errors"`
}
