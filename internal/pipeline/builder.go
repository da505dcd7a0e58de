package pipeline

import (
	"fmt"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core/decoder"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/plugin"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: 1024, // default
		},
	}
}

// WithName sets the pipeline name used in logs.
func (b *Builder) WithName(name string) *Builder {
	b.config.Name = name
	return b
}

// WithCapturer sets the packet capturer.
func (b *Builder) WithCapturer(c plugin.Capturer) *Builder {
	b.config.Capturer = c
	return b
}

// WithDecoder sets the packet decoder.
func (b *Builder) WithDecoder(d decoder.Decoder) *Builder {
	b.config.Decoder = d
	return b
}

// WithParsers sets the parser chain. The first parser accepting a payload
// handles it.
func (b *Builder) WithParsers(parsers ...plugin.Parser) *Builder {
	b.config.Parsers = parsers
	return b
}

// WithProcessors sets the processor chain.
func (b *Builder) WithProcessors(processors ...plugin.Processor) *Builder {
	b.config.Processors = processors
	return b
}

// WithReporters sets the reporters.
func (b *Builder) WithReporters(reporters ...plugin.Reporter) *Builder {
	b.config.Reporters = reporters
	return b
}

// WithTable sets the conversation table shared by the parsers.
func (b *Builder) WithTable(t *conversation.Table) *Builder {
	b.config.Table = t
	return b
}

// WithProtocols sets the decoder set handed to the parsers.
func (b *Builder) WithProtocols(s *protocols.Set) *Builder {
	b.config.Set = s
	return b
}

// WithBufferSize sets the raw packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// WithBatchSize sets how many records batch reporters receive at once.
func (b *Builder) WithBatchSize(size int) *Builder {
	b.config.BatchSize = size
	return b
}

// WithFallback sets the reporter that receives the records a reporter
// failed to deliver.
func (b *Builder) WithFallback(r plugin.Reporter) *Builder {
	b.config.Fallback = r
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}

// PluginSpec names a registered plugin and its raw configuration.
type PluginSpec struct {
	Name   string
	Config map[string]any
}

// Spec describes a pipeline by registered plugin names.
type Spec struct {
	Capture    PluginSpec
	Parsers    []PluginSpec
	Processors []PluginSpec
	Reporters  []PluginSpec
	Fallback   *PluginSpec // optional
}

// FromSpec resolves every plugin of spec before creating any instance, then
// constructs and initializes them in order. The returned builder still
// needs a decoder and the decoder set.
func FromSpec(spec Spec) (*Builder, error) {
	// ========== Resolve ==========
	capFactory, err := plugin.GetCapturerFactory(spec.Capture.Name)
	if err != nil {
		return nil, fmt.Errorf("capturer %q: %w", spec.Capture.Name, err)
	}
	parserFactories := make([]plugin.ParserFactory, len(spec.Parsers))
	for i, pc := range spec.Parsers {
		if parserFactories[i], err = plugin.GetParserFactory(pc.Name); err != nil {
			return nil, fmt.Errorf("parser %q: %w", pc.Name, err)
		}
	}
	processorFactories := make([]plugin.ProcessorFactory, len(spec.Processors))
	for i, pc := range spec.Processors {
		if processorFactories[i], err = plugin.GetProcessorFactory(pc.Name); err != nil {
			return nil, fmt.Errorf("processor %q: %w", pc.Name, err)
		}
	}
	repFactories := make([]plugin.ReporterFactory, len(spec.Reporters))
	for i, rc := range spec.Reporters {
		if repFactories[i], err = plugin.GetReporterFactory(rc.Name); err != nil {
			return nil, fmt.Errorf("reporter %q: %w", rc.Name, err)
		}
	}
	var fbFactory plugin.ReporterFactory
	if spec.Fallback != nil {
		if fbFactory, err = plugin.GetReporterFactory(spec.Fallback.Name); err != nil {
			return nil, fmt.Errorf("fallback reporter %q: %w", spec.Fallback.Name, err)
		}
	}

	// ========== Construct and Init ==========
	b := NewBuilder()

	capturer := capFactory()
	if err := capturer.Init(spec.Capture.Config); err != nil {
		return nil, fmt.Errorf("capturer %q init: %w", spec.Capture.Name, err)
	}
	b.WithCapturer(capturer)

	parsers := make([]plugin.Parser, len(parserFactories))
	for i, f := range parserFactories {
		parsers[i] = f()
		if err := parsers[i].Init(spec.Parsers[i].Config); err != nil {
			return nil, fmt.Errorf("parser %q init: %w", spec.Parsers[i].Name, err)
		}
	}
	b.WithParsers(parsers...)

	processors := make([]plugin.Processor, len(processorFactories))
	for i, f := range processorFactories {
		processors[i] = f()
		if err := processors[i].Init(spec.Processors[i].Config); err != nil {
			return nil, fmt.Errorf("processor %q init: %w", spec.Processors[i].Name, err)
		}
	}
	b.WithProcessors(processors...)

	reporters := make([]plugin.Reporter, len(repFactories))
	for i, f := range repFactories {
		reporters[i] = f()
		if err := reporters[i].Init(spec.Reporters[i].Config); err != nil {
			return nil, fmt.Errorf("reporter %q init: %w", spec.Reporters[i].Name, err)
		}
	}
	b.WithReporters(reporters...)

	if fbFactory != nil {
		fallback := fbFactory()
		if err := fallback.Init(spec.Fallback.Config); err != nil {
			return nil, fmt.Errorf("fallback reporter %q init: %w", spec.Fallback.Name, err)
		}
		b.WithFallback(fallback)
	}

	return b, nil
}
