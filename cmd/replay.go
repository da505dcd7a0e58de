package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/dissect/internal/config"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/pipeline"
	"firestige.xyz/dissect/plugins/processor/protocolfilter"
)

// m3apPPID is the SCTP payload protocol identifier of M3AP.
const m3apPPID = 43

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Decode every frame of a pcap or pcapng capture",
	Long: `Replay a capture file through the parsers in frame order.

Signaling is decoded before the media it sets up: an RTSP SETUP reply binds
the RTP, RTCP, RDT or T.38 conversation it negotiates, and later frames of
that conversation are decoded accordingly. Records go to the configured sink.

Examples:
  dissect replay call.pcapng
  dissect replay --only m3ap --format json mbms.pcap
  dissect replay --sink kafka -c dissect.yaml fax.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReplay(ctx, globalConfig, args[0], replayOpts, cmd.ErrOrStderr())
	},
}

type replayOptions struct {
	format    string
	summary   bool
	sink      string
	only      []string
	exclude   []string
	filter    string
	limit     uint64
	heuristic bool
	stats     bool
}

var replayOpts replayOptions

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayOpts.format, "format", "o", "", "record format: text, json or yaml (default from config)")
	f.BoolVar(&replayOpts.summary, "summary", false, "text format: one line per record")
	f.StringVar(&replayOpts.sink, "sink", "", "sink: console, kafka or hep (default from config)")
	f.StringSliceVar(&replayOpts.only, "only", nil, "report only these protocols")
	f.StringSliceVar(&replayOpts.exclude, "exclude", nil, "do not report these protocols")
	f.StringVar(&replayOpts.filter, "filter", "", "file with a compiled BPF filter ('tcpdump -dd' output)")
	f.Uint64Var(&replayOpts.limit, "limit", 0, "stop after this many frames")
	f.BoolVar(&replayOpts.heuristic, "rtp-heuristic", false, "decode unbound UDP that looks like RTP")
	f.BoolVar(&replayOpts.stats, "stats", false, "print pipeline statistics as JSON when done")
}

func runReplay(ctx context.Context, cfg *config.GlobalConfig, path string, opts replayOptions, stderr io.Writer) error {
	spec, err := replaySpec(cfg, path, opts)
	if err != nil {
		return err
	}
	set, err := newProtocols(cfg)
	if err != nil {
		return err
	}

	b, err := pipeline.FromSpec(spec)
	if err != nil {
		return err
	}
	batch := 0
	if spec.Reporters[0].Name == "kafka" {
		batch = cfg.Sink.Kafka.BatchSize
	}
	p := b.WithName(path).WithProtocols(set).WithBatchSize(batch).Build()

	runErr := p.Run(ctx)
	if opts.stats {
		out, err := json.MarshalIndent(struct {
			Pipeline pipeline.Stats     `json:"pipeline"`
			Capture  captureStatsOutput `json:"capture"`
		}{p.Stats(), captureStatsOutput(p.CaptureStats())}, "", "  ")
		if err == nil {
			fmt.Fprintln(stderr, string(out))
		}
	}
	return runErr
}

type captureStatsOutput struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	BytesReceived   uint64 `json:"bytes_received"`
}

// replaySpec maps the configuration and flags onto plugin configurations.
func replaySpec(cfg *config.GlobalConfig, path string, opts replayOptions) (pipeline.Spec, error) {
	capture := map[string]any{"path": path}
	if opts.filter != "" {
		b, err := os.ReadFile(opts.filter)
		if err != nil {
			return pipeline.Spec{}, fmt.Errorf("read filter: %w", err)
		}
		capture["filter"] = string(b)
	}
	if opts.limit > 0 {
		capture["limit"] = opts.limit
	}

	spec := pipeline.Spec{
		Capture: pipeline.PluginSpec{Name: "pcapfile", Config: capture},
		// Signaling parsers first: they bind the conversations the media
		// parsers look up.
		Parsers: []pipeline.PluginSpec{
			{Name: "m3ap", Config: map[string]any{"ports": cfg.Ports.M3APSCTP, "ppid": m3apPPID}},
			{Name: "rtsp", Config: map[string]any{
				"ports":       cfg.Ports.RTSPTCP,
				"setup_ttl":   cfg.RTSP.SetupTTLDuration(),
				"max_message": cfg.RTSP.MaxMessage,
			}},
			{Name: "t38", Config: map[string]any{"udp_ports": cfg.Ports.T38UDP, "tcp_ports": cfg.Ports.T38TCP}},
			{Name: "rdt", Config: map[string]any{"ports": cfg.Ports.RDTUDP}},
			{Name: "rtp", Config: map[string]any{"heuristic": cfg.RTP.Heuristic || opts.heuristic}},
		},
	}

	if len(opts.only) > 0 || len(opts.exclude) > 0 {
		spec.Processors = append(spec.Processors, pipeline.PluginSpec{
			Name:   protocolfilter.Name,
			Config: map[string]any{"protocols": opts.only, "exclude": opts.exclude},
		})
	}

	sink := cfg.Sink.Type
	if opts.sink != "" {
		sink = opts.sink
	}
	format := cfg.Sink.Format
	if opts.format != "" {
		format = opts.format
	}
	switch sink {
	case "console":
		spec.Reporters = []pipeline.PluginSpec{{Name: "console", Config: map[string]any{
			"format":  format,
			"summary": opts.summary,
		}}}
	case "kafka":
		k := cfg.Sink.Kafka
		if len(k.Brokers) == 0 {
			return pipeline.Spec{}, fmt.Errorf("%w: sink.kafka.brokers is required for the kafka sink", core.ErrConfigInvalid)
		}
		spec.Reporters = []pipeline.PluginSpec{{Name: "kafka", Config: map[string]any{
			"brokers":       k.Brokers,
			"topic":         k.Topic,
			"compression":   k.Compression,
			"batch_size":    k.BatchSize,
			"batch_timeout": k.BatchTimeout,
		}}}
	case "hep":
		h := cfg.Sink.HEP
		if len(h.Servers) == 0 {
			return pipeline.Spec{}, fmt.Errorf("%w: sink.hep.servers is required for the hep sink", core.ErrConfigInvalid)
		}
		spec.Reporters = []pipeline.PluginSpec{{Name: "hep", Config: map[string]any{
			"servers":    h.Servers,
			"capture_id": h.CaptureID,
			"auth_key":   h.AuthKey,
			"node_name":  h.NodeName,
		}}}
	default:
		return pipeline.Spec{}, fmt.Errorf("%w: unsupported sink %q (must be console/kafka/hep)", core.ErrConfigInvalid, sink)
	}
	if cfg.Sink.Fallback == "console" && sink != "console" {
		spec.Fallback = &pipeline.PluginSpec{Name: "console", Config: map[string]any{"format": format}}
	}
	return spec, nil
}
