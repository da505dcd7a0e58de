// Package pcapfile implements the capture file replay plugin.
//
// Frames are read in file order from pcap or pcapng captures with
// gopacket/pcapgo, so no libpcap is needed. An optional filter given as
// compiled BPF (the output of `tcpdump -dd <expr>`) is run on every frame
// with the golang.org/x/net/bpf virtual machine.
package pcapfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/pkg/plugin"
)

const pluginName = "pcapfile"

// pcapng files start with a section header block.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Config represents capture file configuration.
type Config struct {
	Path   string `mapstructure:"path"`   // required
	Filter string `mapstructure:"filter"` // optional, `tcpdump -dd` output
	Limit  uint64 `mapstructure:"limit"`  // optional, stop after this many frames
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Capturer replays one capture file.
type Capturer struct {
	name   string
	config Config

	file     *os.File
	reader   packetReader
	linkType layers.LinkType
	filter   *bpf.VM

	// Statistics (atomic counters)
	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	bytesReceived   atomic.Uint64
}

// NewCapturer creates a new capture file replay instance.
func NewCapturer() plugin.Capturer {
	return &Capturer{
		name: pluginName,
	}
}

// Name returns the plugin name.
func (c *Capturer) Name() string {
	return c.name
}

// Init decodes the configuration and compiles the filter.
func (c *Capturer) Init(cfg map[string]any) error {
	if err := plugin.DecodeConfig(cfg, &c.config); err != nil {
		return err
	}
	if c.config.Path == "" {
		return fmt.Errorf("pcapfile: path is required")
	}
	if c.config.Filter != "" {
		vm, err := compileFilter(c.config.Filter)
		if err != nil {
			return fmt.Errorf("pcapfile: %w", err)
		}
		c.filter = vm
	}
	log.GetLogger().WithField("path", c.config.Path).
		WithField("filter", c.filter != nil).
		Debug("pcapfile initialized")
	return nil
}

// Start opens the file and reads its header, so LinkType is known before
// Capture runs.
func (c *Capturer) Start(ctx context.Context) error {
	f, err := os.Open(c.config.Path)
	if err != nil {
		return fmt.Errorf("pcapfile: %w", err)
	}
	r := bufio.NewReader(f)
	magic, err := r.Peek(len(ngMagic))
	if err != nil {
		f.Close()
		return fmt.Errorf("pcapfile: read %s: %w", c.config.Path, err)
	}

	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return fmt.Errorf("pcapfile: %s: %w", c.config.Path, err)
		}
		c.reader, c.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(r)
		if err != nil {
			f.Close()
			return fmt.Errorf("pcapfile: %s: %w", c.config.Path, err)
		}
		c.reader, c.linkType = pr, pr.LinkType()
	}
	c.file = f
	return nil
}

// Stop closes the file.
func (c *Capturer) Stop(ctx context.Context) error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file, c.reader = nil, nil
	return err
}

// LinkType returns the link type of the file; valid after Start.
func (c *Capturer) LinkType() layers.LinkType {
	return c.linkType
}

// Capture sends every frame to output in file order. Replay never drops:
// the send blocks until the pipeline takes the frame or ctx is cancelled.
// Frames rejected by the filter still consume a frame number.
func (c *Capturer) Capture(ctx context.Context, output chan<- core.RawPacket) error {
	if c.reader == nil {
		return fmt.Errorf("pcapfile: not started")
	}

	var frame uint64
	for c.config.Limit == 0 || frame < c.config.Limit {
		data, ci, err := c.reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.GetLogger().WithField("frame", frame+1).Warn("pcapfile: capture truncated")
				break
			}
			return fmt.Errorf("pcapfile: frame %d: %w", frame+1, err)
		}
		frame++
		c.packetsReceived.Add(1)
		c.bytesReceived.Add(uint64(len(data)))

		if c.filter != nil {
			if n, err := c.filter.Run(data); err != nil || n == 0 {
				c.packetsDropped.Add(1)
				continue
			}
		}

		raw := core.RawPacket{
			Frame:      frame,
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
		}
		select {
		case output <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.GetLogger().WithField("frames", frame).
		WithField("filtered", c.packetsDropped.Load()).
		Info("pcapfile replay finished")
	return nil
}

// Stats returns capture statistics. Filtered frames count as dropped.
func (c *Capturer) Stats() plugin.CaptureStats {
	return plugin.CaptureStats{
		PacketsReceived: c.packetsReceived.Load(),
		PacketsDropped:  c.packetsDropped.Load(),
		BytesReceived:   c.bytesReceived.Load(),
	}
}

// compileFilter loads a filter in `tcpdump -dd` form, one
// "{ 0x28, 0, 0, 0x0000000c }," instruction per line.
func compileFilter(text string) (*bpf.VM, error) {
	var raw []bpf.RawInstruction
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ",")
		if line == "" {
			continue
		}
		var ins bpf.RawInstruction
		if _, err := fmt.Sscanf(line, "{ 0x%x, %d, %d, 0x%x }", &ins.Op, &ins.Jt, &ins.Jf, &ins.K); err != nil {
			return nil, fmt.Errorf("filter line %d %q: %w", i+1, line, err)
		}
		raw = append(raw, ins)
	}
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("filter holds instructions the BPF VM cannot run")
	}
	return bpf.NewVM(insns)
}
