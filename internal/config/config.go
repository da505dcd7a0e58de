// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/dissect/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `dissect:` root key in YAML.
type GlobalConfig struct {
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Decoder    DecoderConfig    `mapstructure:"decoder"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Ports      PortsConfig      `mapstructure:"ports"`
	RTSP       RTSPConfig       `mapstructure:"rtsp"`
	RTP        RTPConfig        `mapstructure:"rtp"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Sink       SinkConfig       `mapstructure:"sink"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `mapstructure:"level"`  // trace / debug / info / warn / error
	Format string        `mapstructure:"format"` // json / text
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures the rotating log file.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Decoding ───

// DecoderConfig bounds the structural decoder.
type DecoderConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// ReassemblyConfig bounds fragment reassembly per stream.
type ReassemblyConfig struct {
	MaxFragments int `mapstructure:"max_fragments"`
	MaxBytes     int `mapstructure:"max_bytes"`
}

// PortsConfig is the static transport port map used when no signaling bound
// a conversation.
type PortsConfig struct {
	M3APSCTP []uint16 `mapstructure:"m3ap_sctp"`
	T38UDP   []uint16 `mapstructure:"t38_udp"`
	T38TCP   []uint16 `mapstructure:"t38_tcp"`
	RTSPTCP  []uint16 `mapstructure:"rtsp_tcp"`
	RDTUDP   []uint16 `mapstructure:"rdt_udp"`
}

// RTSPConfig configures RTSP session tracking.
type RTSPConfig struct {
	SetupTTL string `mapstructure:"setup_ttl"`
	// MaxMessage bounds a buffered RTSP text message in bytes.
	MaxMessage int `mapstructure:"max_message"`
}

// SetupTTLDuration parses SetupTTL; Load guarantees it is valid.
func (c RTSPConfig) SetupTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.SetupTTL)
	return d
}

// RTPConfig configures RTP detection on unbound UDP flows.
type RTPConfig struct {
	// Heuristic decodes unbound UDP payloads that look like RTP or RTCP.
	Heuristic bool `mapstructure:"heuristic"`
}

// ─── Remote endpoint ───

// RemoteConfig configures the ZeroMQ dissection endpoint.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// ─── Sink ───

// SinkConfig selects where decoded records go.
type SinkConfig struct {
	Type     string          `mapstructure:"type"`     // console / kafka / hep
	Format   string          `mapstructure:"format"`   // text / json / yaml
	Fallback string          `mapstructure:"fallback"` // "" or console: where undeliverable records go
	Kafka    KafkaSinkConfig `mapstructure:"kafka"`
	HEP      HEPSinkConfig   `mapstructure:"hep"`
}

// HEPSinkConfig is the HEPv3 collector config.
type HEPSinkConfig struct {
	Servers   []string `mapstructure:"servers"`
	CaptureID uint32   `mapstructure:"capture_id"`
	AuthKey   string   `mapstructure:"auth_key"`
	NodeName  string   `mapstructure:"node_name"`
}

// KafkaSinkConfig is the Kafka sink connection config.
type KafkaSinkConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	Compression  string   `mapstructure:"compression"` // none / gzip / snappy / lz4 / zstd
	BatchSize    int      `mapstructure:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `dissect: ...`.
type configRoot struct {
	Dissect GlobalConfig `mapstructure:"dissect"`
}

// Load loads configuration from file. An empty path loads the defaults.
// The YAML file uses `dissect:` as root key; env vars use the DISSECT_ prefix
// (e.g. DISSECT_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `dissect.` key prefix maps to `DISSECT_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Dissect

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use the "dissect." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("dissect.log.level", "info")
	v.SetDefault("dissect.log.format", "text")
	v.SetDefault("dissect.log.file.enabled", false)
	v.SetDefault("dissect.log.file.path", "/var/log/dissect/dissect.log")
	v.SetDefault("dissect.log.file.max_size_mb", 100)
	v.SetDefault("dissect.log.file.max_backups", 5)
	v.SetDefault("dissect.log.file.max_age_days", 30)
	v.SetDefault("dissect.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("dissect.metrics.enabled", false)
	v.SetDefault("dissect.metrics.listen", ":9091")
	v.SetDefault("dissect.metrics.path", "/metrics")

	// Decoding defaults
	v.SetDefault("dissect.decoder.max_depth", 64)
	v.SetDefault("dissect.reassembly.max_fragments", 4096)
	v.SetDefault("dissect.reassembly.max_bytes", 1<<20)

	// Port map defaults
	v.SetDefault("dissect.ports.m3ap_sctp", []uint16{36444})
	v.SetDefault("dissect.ports.t38_udp", []uint16{})
	v.SetDefault("dissect.ports.t38_tcp", []uint16{})
	v.SetDefault("dissect.ports.rtsp_tcp", []uint16{554, 8554})
	v.SetDefault("dissect.ports.rdt_udp", []uint16{})

	v.SetDefault("dissect.rtsp.setup_ttl", "30s")
	v.SetDefault("dissect.rtsp.max_message", 64<<10)
	v.SetDefault("dissect.rtp.heuristic", false)

	v.SetDefault("dissect.remote.endpoint", "ipc:///tmp/dissect0")

	// Sink defaults
	v.SetDefault("dissect.sink.type", "console")
	v.SetDefault("dissect.sink.format", "text")
	v.SetDefault("dissect.sink.kafka.brokers", []string{})
	v.SetDefault("dissect.sink.kafka.topic", "dissect")
	v.SetDefault("dissect.sink.kafka.compression", "snappy")
	v.SetDefault("dissect.sink.kafka.batch_size", 100)
	v.SetDefault("dissect.sink.kafka.batch_timeout", "1s")
	v.SetDefault("dissect.sink.fallback", "")
	v.SetDefault("dissect.sink.hep.servers", []string{})
	v.SetDefault("dissect.sink.hep.capture_id", 0)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. Errors wrap core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when log.file.enabled=true", core.ErrConfigInvalid)
	}

	// ── Decoding ──
	if cfg.Decoder.MaxDepth <= 0 {
		return fmt.Errorf("%w: decoder.max_depth must be positive", core.ErrConfigInvalid)
	}
	if cfg.Reassembly.MaxFragments <= 0 || cfg.Reassembly.MaxBytes <= 0 {
		return fmt.Errorf("%w: reassembly limits must be positive", core.ErrConfigInvalid)
	}
	if _, err := time.ParseDuration(cfg.RTSP.SetupTTL); err != nil {
		return fmt.Errorf("%w: rtsp.setup_ttl: %v", core.ErrConfigInvalid, err)
	}

	// ── Sink ──
	switch cfg.Sink.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("%w: sink format %q (must be text/json/yaml)", core.ErrConfigInvalid, cfg.Sink.Format)
	}
	switch cfg.Sink.Type {
	case "console":
	case "kafka":
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sink.kafka.brokers is required when sink.type=kafka", core.ErrConfigInvalid)
		}
		if cfg.Sink.Kafka.Topic == "" {
			return fmt.Errorf("%w: sink.kafka.topic is required when sink.type=kafka", core.ErrConfigInvalid)
		}
		if _, err := time.ParseDuration(cfg.Sink.Kafka.BatchTimeout); err != nil {
			return fmt.Errorf("%w: sink.kafka.batch_timeout: %v", core.ErrConfigInvalid, err)
		}
	case "hep":
		if len(cfg.Sink.HEP.Servers) == 0 {
			return fmt.Errorf("%w: sink.hep.servers is required when sink.type=hep", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported sink.type %q (must be console/kafka/hep)", core.ErrConfigInvalid, cfg.Sink.Type)
	}
	switch cfg.Sink.Fallback {
	case "", "console":
	default:
		return fmt.Errorf("%w: unsupported sink.fallback %q (must be console or empty)", core.ErrConfigInvalid, cfg.Sink.Fallback)
	}
	return nil
}
