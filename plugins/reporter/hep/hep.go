// Package hep implements a HEPv3 UDP reporter plugin.
//
// Each record is encapsulated as a HEPv3 frame carrying the record as JSON
// and sent to one of the configured capture servers (Homer and compatible
// collectors). Servers are picked from a consistent hash ring keyed by the
// record's correlation ID, so one media stream or connection always reaches
// the same server.
//
// Example configuration:
//
//	reporters:
//	  - name: hep
//	    config:
//	      servers: ["10.0.0.1:9060", "10.0.0.2:9060"]
//	      capture_id: 2001
//	      auth_key: "mysecret"
package hep

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/pkg/plugin"
)

// HEPReporter sends records as HEPv3 frames via UDP.
type HEPReporter struct {
	name   string
	config Config

	ring  *hashring.HashRing
	conns map[string]*net.UDPConn // by server, dialed in Start

	sentCount    atomic.Uint64
	skippedCount atomic.Uint64
	errorCount   atomic.Uint64
}

// Config holds HEP reporter configuration.
type Config struct {
	Servers   []string `mapstructure:"servers"`    // host:port, at least one
	CaptureID uint32   `mapstructure:"capture_id"` // agent ID, chunk 12
	AuthKey   string   `mapstructure:"auth_key"`   // chunk 14, optional
	NodeName  string   `mapstructure:"node_name"`  // chunk 19, optional
}

// NewHEPReporter creates a new HEP reporter instance.
func NewHEPReporter() plugin.Reporter {
	return &HEPReporter{name: "hep"}
}

// Name returns the plugin identifier.
func (r *HEPReporter) Name() string { return r.name }

// Init validates and applies configuration.
func (r *HEPReporter) Init(config map[string]any) error {
	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return fmt.Errorf("hep reporter: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("%w: hep reporter needs at least one server", core.ErrConfigInvalid)
	}
	r.config = cfg
	r.ring = hashring.New(cfg.Servers)
	return nil
}

// Start opens UDP connections to all configured servers.
func (r *HEPReporter) Start(_ context.Context) error {
	r.conns = make(map[string]*net.UDPConn, len(r.config.Servers))
	for _, srv := range r.config.Servers {
		addr, err := net.ResolveUDPAddr("udp", srv)
		if err != nil {
			r.closeConns()
			return fmt.Errorf("hep reporter: resolve %q: %w", srv, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			r.closeConns()
			return fmt.Errorf("hep reporter: dial %q: %w", srv, err)
		}
		r.conns[srv] = conn
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"servers":    r.config.Servers,
		"capture_id": r.config.CaptureID,
	}).Info("hep reporter started")
	return nil
}

// Stop closes all UDP connections.
func (r *HEPReporter) Stop(_ context.Context) error {
	r.closeConns()
	log.GetLogger().WithFields(map[string]interface{}{
		"sent":    r.sentCount.Load(),
		"skipped": r.skippedCount.Load(),
		"errors":  r.errorCount.Load(),
	}).Info("hep reporter stopped")
	return nil
}

func (r *HEPReporter) closeConns() {
	for _, c := range r.conns {
		_ = c.Close()
	}
	r.conns = nil
}

// Report encodes rec and sends it to the server owning its correlation ID.
// Records without endpoints, as produced by standalone decodes, are skipped.
func (r *HEPReporter) Report(_ context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("hep reporter: nil record")
	}
	if rec.Src == "" {
		r.skippedCount.Add(1)
		return nil
	}

	frame, err := Encode(rec, EncodeOptions{
		CaptureID: r.config.CaptureID,
		AuthKey:   r.config.AuthKey,
		NodeName:  r.config.NodeName,
	})
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("hep reporter: %w", err)
	}

	conn, err := r.selectConn(rec)
	if err != nil {
		r.errorCount.Add(1)
		return err
	}
	if _, err = conn.Write(frame); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("hep reporter: send to %s: %w", conn.RemoteAddr(), err)
	}
	r.sentCount.Add(1)
	return nil
}

// Flush is a no-op, frames are sent immediately.
func (r *HEPReporter) Flush(_ context.Context) error { return nil }

// Sent returns the number of frames written.
func (r *HEPReporter) Sent() uint64 { return r.sentCount.Load() }

func (r *HEPReporter) selectConn(rec *core.Record) (*net.UDPConn, error) {
	server, ok := r.ring.GetNode(CorrelationID(rec))
	if !ok {
		return nil, fmt.Errorf("hep reporter: no server for frame %d", rec.Frame)
	}
	conn, ok := r.conns[server]
	if !ok {
		return nil, fmt.Errorf("%w: hep reporter is not started", core.ErrSinkClosed)
	}
	return conn, nil
}
