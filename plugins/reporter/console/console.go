// Package console implements the console reporter.
// Writes decoded records to stdout as text trees, JSON lines or YAML
// documents.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/plugin"
)

// ConsoleReporter outputs records to a writer.
type ConsoleReporter struct {
	name    string
	format  string
	summary bool

	mu sync.Mutex
	w  io.Writer

	reportedCount atomic.Uint64
}

// Config represents console reporter configuration.
type Config struct {
	Format  string `mapstructure:"format"`  // "text", "json" or "yaml", default "text"
	Summary bool   `mapstructure:"summary"` // text format: one line per record, no tree
}

// NewConsoleReporter creates a new console reporter writing to stdout.
func NewConsoleReporter() plugin.Reporter {
	return NewWriterReporter(os.Stdout)
}

// NewWriterReporter creates a console reporter writing to w.
func NewWriterReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{
		name:   "console",
		format: dissect.FormatText,
		w:      w,
	}
}

// Name returns the plugin name.
func (r *ConsoleReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	cfg := Config{Format: r.format}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	switch cfg.Format {
	case dissect.FormatText, dissect.FormatJSON, dissect.FormatYAML:
	default:
		return fmt.Errorf("invalid format %q, must be text, json or yaml", cfg.Format)
	}
	r.format = cfg.Format
	r.summary = cfg.Summary
	return nil
}

// Start starts the reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	log.GetLogger().WithField("format", r.format).Debug("console reporter started")
	return nil
}

// Stop stops the reporter.
func (r *ConsoleReporter) Stop(ctx context.Context) error {
	log.GetLogger().WithField("total_reported", r.reportedCount.Load()).Debug("console reporter stopped")
	return nil
}

// Reported returns the number of records written.
func (r *ConsoleReporter) Reported() uint64 { return r.reportedCount.Load() }

// Report writes one record.
func (r *ConsoleReporter) Report(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}

	var (
		out []byte
		err error
	)
	switch r.format {
	case dissect.FormatJSON:
		out, err = json.Marshal(rec)
		out = append(out, '\n')
	case dissect.FormatYAML:
		out, err = yaml.Marshal(rec)
		out = append([]byte("---\n"), out...)
	default:
		out, err = r.text(rec)
	}
	if err != nil {
		return fmt.Errorf("render frame %d: %w", rec.Frame, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(out); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

// text renders a header line followed by the indented decode tree.
func (r *ConsoleReporter) text(rec *core.Record) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Frame %d", rec.Frame)
	if !rec.Timestamp.IsZero() {
		fmt.Fprintf(&b, " %s", rec.Timestamp.Format("15:04:05.000000"))
	}
	if rec.Src != "" {
		fmt.Fprintf(&b, " %s %s -> %s", rec.Transport, rec.Src, rec.Dst)
	}
	if len(rec.Labels) > 0 {
		keys := make([]string, 0, len(rec.Labels))
		for k := range rec.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, rec.Labels[k])
		}
	}
	b.WriteByte('\n')

	if r.summary {
		fmt.Fprintf(&b, "    %s, %s\n", rec.Protocol, rec.Result.Summary)
		return []byte(b.String()), nil
	}
	if err := dissect.WriteText(&b, rec.Result); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Flush is a no-op; every record is written synchronously.
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}
