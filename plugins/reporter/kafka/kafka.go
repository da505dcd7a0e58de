// Package kafka implements the Kafka reporter plugin.
// Sends decoded records to Kafka as JSON with batching, compression and
// retry support.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// messageWriter is the part of kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends records to Kafka.
//
// It implements plugin.BatchReporter.
type KafkaReporter struct {
	name   string
	writer messageWriter
	config Config

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
}

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{
		name: "kafka",
	}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // records of one conversation share a partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}

	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	case "zstd":
		writerConfig.CompressionCodec = compress.Zstd.Codec()
	default:
		return fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	r.config = cfg
	r.writer = kafka.NewWriter(writerConfig)
	return nil
}

// Start starts the reporter.
func (r *KafkaReporter) Start(ctx context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":       r.config.Brokers,
		"topic":         r.config.Topic,
		"batch_size":    r.config.BatchSize,
		"batch_timeout": r.config.BatchTimeout,
		"compression":   r.config.Compression,
	}).Info("kafka reporter started")
	return nil
}

// Stop flushes pending messages and closes the writer.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			log.GetLogger().WithError(err).Error("error closing kafka writer")
			return err
		}
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"total_reported": r.reportedCount.Load(),
		"total_errors":   r.errorCount.Load(),
	}).Info("kafka reporter stopped")
	return nil
}

// Report sends one record to Kafka.
func (r *KafkaReporter) Report(ctx context.Context, rec *core.Record) error {
	return r.ReportBatch(ctx, []*core.Record{rec})
}

// ReportBatch sends records in one write.
func (r *KafkaReporter) ReportBatch(ctx context.Context, recs []*core.Record) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			return fmt.Errorf("nil record")
		}
		msg, err := message(rec)
		if err != nil {
			r.errorCount.Add(1)
			return fmt.Errorf("serialize frame %d failed: %w", rec.Frame, err)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errorCount.Add(uint64(failed(err, len(msgs))))
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reportedCount.Add(uint64(len(msgs)))
	return nil
}

// message builds the Kafka message of rec. Records are keyed by protocol
// and endpoints so one conversation stays ordered within a partition.
func message(rec *core.Record) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%s-%s", rec.Protocol, rec.Src, rec.Dst)),
		Value: value,
		Time:  rec.Timestamp,
	}
	if len(rec.Labels) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(rec.Labels))
		for k, v := range rec.Labels {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	return msg, nil
}

// failed counts the messages a write error covers.
func failed(err error, total int) int {
	var werr kafka.WriteErrors
	if errors.As(err, &werr) {
		return werr.Count()
	}
	return total
}

// Flush is a no-op; writes are synchronous and the writer batches by
// BatchSize and BatchTimeout.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	return nil
}
