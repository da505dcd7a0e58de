// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames read from a capture by transport
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissect_frames_total",
			Help: "Total number of frames read from captures",
		},
		[]string{"transport"},
	)

	// DecodesTotal counts top-level decodes by protocol and terminal status
	DecodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissect_decodes_total",
			Help: "Total number of top-level decodes",
		},
		[]string{"protocol", "status"},
	)

	// DiagnosticsTotal counts diagnostics attached to decode trees
	DiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissect_diagnostics_total",
			Help: "Total number of diagnostics emitted",
		},
		[]string{"protocol", "kind"},
	)

	// DecodeLatencySeconds measures decode latency per protocol
	DecodeLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dissect_decode_latency_seconds",
			Help:    "Latency of top-level decodes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"protocol"},
	)

	// ReassemblyActiveStreams tracks streams collecting fragments
	ReassemblyActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dissect_reassembly_active_streams",
			Help: "Number of streams currently collecting fragments",
		},
	)

	// ReassemblyCompletedTotal counts flushed streams
	ReassemblyCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dissect_reassembly_completed_total",
			Help: "Total number of reassembled payloads",
		},
	)

	// Conversations tracks the size of the conversation table
	Conversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dissect_conversations",
			Help: "Current number of bound conversations",
		},
	)

	// SinkBatchSize tracks Kafka batch size distribution
	SinkBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dissect_sink_batch_size",
			Help:    "Number of records written per sink batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"sink"},
	)

	// SinkErrorsTotal counts sink errors by name and error type
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissect_sink_errors_total",
			Help: "Total number of sink errors",
		},
		[]string{"sink", "error_type"},
	)

	// RemoteRequestsTotal counts remote endpoint commands
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dissect_remote_requests_total",
			Help: "Total number of remote endpoint requests",
		},
		[]string{"command", "status"},
	)
)
