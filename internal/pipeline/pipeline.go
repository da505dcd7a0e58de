// Package pipeline implements the packet processing pipeline engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/core/decoder"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/metrics"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/plugin"
)

// Pipeline represents a single-threaded packet processing chain. Frames are
// decoded and parsed strictly in capture order: a signaling message binds
// its conversation before any later frame of that conversation is parsed.
type Pipeline struct {
	name       string
	capturer   plugin.Capturer
	decoder    decoder.Decoder
	parsers    []plugin.Parser
	processors []plugin.Processor
	reporters  []plugin.Reporter
	fallback   plugin.Reporter
	table      *conversation.Table
	set        *protocols.Set
	metrics    *Metrics

	bufferSize int
	batchSize  int
	wrappers   []*ReporterWrapper

	assembler *reassembly.Assembler
}

// Config contains pipeline configuration.
type Config struct {
	Name       string
	Capturer   plugin.Capturer
	Decoder    decoder.Decoder // nil decodes the capturer's link type
	Parsers    []plugin.Parser
	Processors []plugin.Processor
	Reporters  []plugin.Reporter
	Table      *conversation.Table // nil creates an empty table
	Set        *protocols.Set
	BufferSize int // Raw packet channel buffer size

	// Reporter batching, see ReporterWrapper
	BatchSize    int // records per ReportBatch call; 1 or less reports one at a time
	BatchTimeout time.Duration
	Fallback     plugin.Reporter // receives the records a reporter failed to take
}

// New creates a new pipeline and hands the conversation table and decoder
// set to the parsers that need them.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024 // Default buffer size
	}
	if cfg.Name == "" {
		cfg.Name = "replay"
	}
	if cfg.Table == nil {
		cfg.Table = conversation.New()
	}

	p := &Pipeline{
		name:       cfg.Name,
		capturer:   cfg.Capturer,
		decoder:    cfg.Decoder,
		parsers:    cfg.Parsers,
		processors: cfg.Processors,
		reporters:  cfg.Reporters,
		fallback:   cfg.Fallback,
		table:      cfg.Table,
		set:        cfg.Set,
		metrics:    NewMetrics(cfg.Name),
		bufferSize: cfg.BufferSize,
		batchSize:  cfg.BatchSize,
	}
	for _, r := range cfg.Reporters {
		p.wrappers = append(p.wrappers, NewReporterWrapper(WrapperConfig{
			Primary:      r,
			Fallback:     cfg.Fallback,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Metrics:      p.metrics,
		}))
	}
	for _, parser := range p.parsers {
		if ca, ok := parser.(plugin.ConversationAware); ok {
			ca.SetConversationTable(p.table)
		}
		if pa, ok := parser.(plugin.ProtocolsAware); ok && p.set != nil {
			pa.SetProtocols(p.set)
		}
	}
	p.assembler = reassembly.NewAssembler(reassembly.NewStreamPool(&streamFactory{emit: p.dispatch}))
	return p
}

// Table returns the conversation table shared by the parsers.
func (p *Pipeline) Table() *conversation.Table { return p.table }

// Run starts the plugins, processes the capture until it is exhausted or
// ctx is cancelled, flushes open TCP streams and reporters, and stops the
// plugins again.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := log.GetLogger().WithField("pipeline", p.name)
	if p.capturer == nil {
		return fmt.Errorf("%w: pipeline %s needs a capturer", core.ErrConfigInvalid, p.name)
	}

	started, err := p.startPlugins(ctx)
	defer p.stopPlugins(context.WithoutCancel(ctx), started)
	if err != nil {
		return err
	}

	// The link type is known once the capturer has started
	if p.decoder == nil {
		if p.decoder, err = decoder.NewStandardDecoder(decoder.Config{LinkType: p.capturer.LinkType()}); err != nil {
			return err
		}
	}

	logger.Info("pipeline starting")
	begin := time.Now()

	sendCtx := context.WithoutCancel(ctx)
	for _, w := range p.wrappers {
		w.Start(sendCtx)
	}

	rawPacketChan := make(chan core.RawPacket, p.bufferSize)
	g, gctx := errgroup.WithContext(ctx)

	// Capture goroutine: the channel closes when the capture ends
	g.Go(func() error {
		defer close(rawPacketChan)
		if err := p.capturer.Capture(gctx, rawPacketChan); err != nil && gctx.Err() == nil {
			return fmt.Errorf("capture: %w", err)
		}
		return nil
	})

	// Processing goroutine
	g.Go(func() error {
		for raw := range rawPacketChan {
			if gctx.Err() != nil {
				continue // drain so the capturer can finish
			}
			p.processPacket(raw)
		}
		return nil
	})

	runErr := g.Wait()
	p.finish(sendCtx)

	st := p.metrics.Stats()
	logger.WithFields(map[string]interface{}{
		"received": st.Received,
		"parsed":   st.Parsed,
		"reported": st.Reported,
		"elapsed":  time.Since(begin).String(),
	}).Info("pipeline stopped")

	if runErr != nil {
		return runErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPipelineStopped, err)
	}
	return nil
}

func (p *Pipeline) plugins() []plugin.Plugin {
	all := []plugin.Plugin{p.capturer}
	for _, pa := range p.parsers {
		all = append(all, pa)
	}
	for _, pr := range p.processors {
		all = append(all, pr)
	}
	for _, r := range p.reporters {
		all = append(all, r)
	}
	if p.fallback != nil {
		all = append(all, p.fallback)
	}
	return all
}

// startPlugins starts sinks before the stages feeding them. It returns the
// plugins that started.
func (p *Pipeline) startPlugins(ctx context.Context) ([]plugin.Plugin, error) {
	all := p.plugins()
	started := make([]plugin.Plugin, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if err := all[i].Start(ctx); err != nil {
			return started, fmt.Errorf("start %s: %w", all[i].Name(), err)
		}
		started = append(started, all[i])
	}
	return started, nil
}

func (p *Pipeline) stopPlugins(ctx context.Context, started []plugin.Plugin) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			log.GetLogger().WithError(err).WithField("plugin", started[i].Name()).Warn("plugin stop failed")
		}
	}
}

// processPacket processes a single frame through the entire pipeline.
func (p *Pipeline) processPacket(raw core.RawPacket) {
	p.metrics.Received.Add(1)

	// Step 1: Decode L2-L4
	pkts, err := p.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, core.ErrFragmentPending) {
			p.metrics.FragmentsPending.Add(1)
			return
		}
		p.metrics.DecodeErrors.Add(1)
		metrics.FramesTotal.WithLabelValues("other").Inc()
		log.GetLogger().WithField("frame", raw.Frame).WithError(err).Debug("frame not decoded")
		return
	}
	p.metrics.Decoded.Add(1)
	if len(pkts) > 0 {
		metrics.FramesTotal.WithLabelValues(transportName(pkts[0].Transport.Protocol)).Inc()
	}

	// Step 2: TCP goes through stream reassembly, everything else straight
	// to the parsers
	for i := range pkts {
		pkt := &pkts[i]
		if pkt.Transport.Protocol == core.ProtoTCP {
			p.assemble(raw, pkt)
			continue
		}
		p.dispatch(pkt)
	}
}

// assemble feeds a TCP segment to the assembler when some parser wants the
// connection's stream.
func (p *Pipeline) assemble(raw core.RawPacket, pkt *core.DecodedPacket) {
	probe := *pkt
	probe.Stream = true
	if p.findParser(&probe) == nil {
		p.metrics.Unhandled.Add(1)
		return
	}

	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(pkt.Transport.Segment, gopacket.NilDecodeFeedback); err != nil {
		p.metrics.DecodeErrors.Add(1)
		log.GetLogger().WithField("frame", raw.Frame).WithError(err).Debug("tcp segment not decoded")
		return
	}
	endpoint := layers.EndpointIPv4
	if pkt.IP.Version == 6 {
		endpoint = layers.EndpointIPv6
	}
	flow := gopacket.NewFlow(endpoint, pkt.IP.SrcIP.AsSlice(), pkt.IP.DstIP.AsSlice())

	p.metrics.StreamSegments.Add(1)
	p.assembler.AssembleWithContext(flow, &tcp, &segmentContext{
		ci: gopacket.CaptureInfo{
			Timestamp:     raw.Timestamp,
			CaptureLength: int(raw.CaptureLen),
			Length:        int(raw.OrigLen),
		},
		pkt: pkt,
	})
}

// findParser returns the first parser accepting pkt.
func (p *Pipeline) findParser(pkt *core.DecodedPacket) plugin.Parser {
	for _, parser := range p.parsers {
		if parser.CanHandle(pkt) {
			return parser
		}
	}
	return nil
}

// dispatch parses one payload and delivers its records. It runs on the
// processing goroutine, also when called back by the assembler.
func (p *Pipeline) dispatch(pkt *core.DecodedPacket) {
	parser := p.findParser(pkt)
	if parser == nil {
		if !pkt.StreamEnd {
			p.metrics.Unhandled.Add(1)
		}
		return
	}

	start := time.Now()
	outputs, err := parser.Handle(pkt)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.ParseErrors.Add(1)
		log.GetLogger().WithFields(map[string]interface{}{
			"parser": parser.Name(),
			"frame":  pkt.Frame,
		}).WithError(err).Debug("parser failed")
	}
	for _, out := range outputs {
		p.emit(pkt, out, elapsed)
	}
	metrics.Conversations.Set(float64(p.table.Len()))
}

func (p *Pipeline) emit(pkt *core.DecodedPacket, out plugin.Output, elapsed time.Duration) {
	res := out.Result
	if res == nil {
		return
	}
	p.metrics.Parsed.Add(1)
	metrics.DecodesTotal.WithLabelValues(res.Protocol, res.Status.String()).Inc()
	metrics.DecodeLatencySeconds.WithLabelValues(res.Protocol).Observe(elapsed.Seconds())
	for _, d := range res.Diagnostics {
		metrics.DiagnosticsTotal.WithLabelValues(res.Protocol, d.Kind.String()).Inc()
	}

	// Step 3: Build the record
	rec := core.NewRecord(pkt, res, out.Labels)

	// Step 4: Process through processors
	for _, processor := range p.processors {
		keep := processor.Process(rec)
		p.metrics.Processed.Add(1)
		if !keep {
			p.metrics.Dropped.Add(1)
			return
		}
	}

	// Step 5: Report to all reporters
	p.report(rec)
}

func (p *Pipeline) report(rec *core.Record) {
	for _, w := range p.wrappers {
		w.Send(rec)
	}
	p.metrics.Reported.Add(1)
}

// finish closes every open TCP connection, which reports the buffered tail
// of each stream, drains the reporter wrappers and flushes the reporters.
func (p *Pipeline) finish(ctx context.Context) {
	if closed := p.assembler.FlushAll(); closed > 0 {
		log.GetLogger().WithField("pipeline", p.name).Debugf("closed %d tcp connections", closed)
	}
	for _, w := range p.wrappers {
		w.Close()
	}
	reporters := p.reporters
	if p.fallback != nil {
		reporters = append(reporters[:len(reporters):len(reporters)], p.fallback)
	}
	for _, reporter := range reporters {
		if err := reporter.Flush(ctx); err != nil {
			p.metrics.ReportErrors.Add(1)
			metrics.SinkErrorsTotal.WithLabelValues(reporter.Name(), "flush").Inc()
			log.GetLogger().WithError(err).WithField("reporter", reporter.Name()).Error("reporter flush failed")
		}
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Stats()
}

// CaptureStats returns the capturer's counters.
func (p *Pipeline) CaptureStats() plugin.CaptureStats {
	return p.capturer.Stats()
}

func transportName(proto uint8) string {
	switch proto {
	case core.ProtoTCP:
		return "tcp"
	case core.ProtoUDP:
		return "udp"
	case core.ProtoSCTP:
		return "sctp"
	}
	return "other"
}
