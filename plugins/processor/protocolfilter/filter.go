// Package protocolfilter implements a processor that keeps only records of
// selected protocols.
package protocolfilter

import (
	"context"
	"sync/atomic"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/pkg/plugin"
)

// Name is the plugin name.
const Name = "protocol-filter"

// Config is the processor configuration. An empty Protocols list keeps
// everything not excluded.
type Config struct {
	Protocols []string `mapstructure:"protocols"`
	Exclude   []string `mapstructure:"exclude"`
}

// Filter drops records by protocol name.
type Filter struct {
	keep    map[string]bool
	exclude map[string]bool

	dropped atomic.Uint64
}

// NewFilter creates a new Filter instance.
func NewFilter() plugin.Processor {
	return &Filter{}
}

func (f *Filter) Name() string { return Name }

func (f *Filter) Init(cfg map[string]any) error {
	var c Config
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	f.keep = set(c.Protocols)
	f.exclude = set(c.Exclude)
	return nil
}

func (f *Filter) Start(_ context.Context) error { return nil }

func (f *Filter) Stop(_ context.Context) error {
	if n := f.dropped.Load(); n > 0 {
		log.GetLogger().WithField("dropped", n).Debug("protocol filter stopped")
	}
	return nil
}

// Process reports whether rec passes the filter.
func (f *Filter) Process(rec *core.Record) bool {
	if f.exclude[rec.Protocol] || (len(f.keep) > 0 && !f.keep[rec.Protocol]) {
		f.dropped.Add(1)
		return false
	}
	return true
}

// Dropped returns the number of records filtered out.
func (f *Filter) Dropped() uint64 { return f.dropped.Load() }

func set(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
