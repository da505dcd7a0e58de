package pipeline

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/core/decoder"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/plugin"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock implementations for testing

type lifecycle struct{ name string }

func (l lifecycle) Name() string              { return l.name }
func (lifecycle) Init(map[string]any) error   { return nil }
func (lifecycle) Start(context.Context) error { return nil }
func (lifecycle) Stop(context.Context) error  { return nil }

// MockCapturer replays a fixed list of frames.
type MockCapturer struct {
	lifecycle
	frames [][]byte
	err    error
}

func NewMockCapturer(frames ...[]byte) *MockCapturer {
	return &MockCapturer{lifecycle: lifecycle{"mock-capture"}, frames: frames}
}

func (m *MockCapturer) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	for i, f := range m.frames {
		raw := core.RawPacket{
			Frame:      uint64(i + 1),
			Data:       f,
			Timestamp:  time.Unix(1700000000+int64(i), 0),
			CaptureLen: uint32(len(f)),
			OrigLen:    uint32(len(f)),
		}
		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockCapturer) LinkType() layers.LinkType  { return layers.LinkTypeEthernet }
func (m *MockCapturer) Stats() plugin.CaptureStats { return plugin.CaptureStats{} }

// MockDecoder turns every frame into one UDP payload.
type MockDecoder struct {
	shouldFail bool
}

func (m *MockDecoder) Decode(raw core.RawPacket) ([]core.DecodedPacket, error) {
	if m.shouldFail {
		return nil, core.ErrPacketTooShort
	}
	return []core.DecodedPacket{{
		Frame:     raw.Frame,
		Timestamp: raw.Timestamp,
		IP: core.IPHeader{
			Version:  4,
			SrcIP:    netip.MustParseAddr("192.168.1.1"),
			DstIP:    netip.MustParseAddr("192.168.1.2"),
			Protocol: core.ProtoUDP,
		},
		Transport: core.TransportHeader{SrcPort: 5004, DstPort: 5006, Protocol: core.ProtoUDP},
		Payload:   raw.Data,
	}}, nil
}

// MockParser records what it handles.
type MockParser struct {
	lifecycle
	accept     func(*core.DecodedPacket) bool
	shouldFail bool
	mu         sync.Mutex
	handled    []core.DecodedPacket
}

func NewMockParser(name string, accept func(*core.DecodedPacket) bool) *MockParser {
	return &MockParser{lifecycle: lifecycle{name}, accept: accept}
}

func (m *MockParser) CanHandle(pkt *core.DecodedPacket) bool { return m.accept(pkt) }

func (m *MockParser) Handle(pkt *core.DecodedPacket) ([]plugin.Output, error) {
	m.mu.Lock()
	m.handled = append(m.handled, *pkt)
	m.mu.Unlock()

	if m.shouldFail {
		return nil, errors.New("bad payload")
	}
	if pkt.StreamEnd {
		return nil, nil
	}
	root := dissect.Raw(m.name, 0, pkt.Payload)
	return []plugin.Output{{
		Result: dissect.NewResult(m.name, root, string(pkt.Payload)),
		Labels: core.Labels{"parser": m.name},
	}}, nil
}

func (m *MockParser) Handled() []core.DecodedPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.DecodedPacket(nil), m.handled...)
}

// MockProcessor drops records whose summary matches drop.
type MockProcessor struct {
	lifecycle
	drop string
}

func (m *MockProcessor) Process(rec *core.Record) bool { return rec.Result.Summary != m.drop }

// MockReporter collects records.
type MockReporter struct {
	lifecycle
	mu      sync.Mutex
	records []*core.Record
	flushed int
}

func (m *MockReporter) Report(_ context.Context, rec *core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MockReporter) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
	return nil
}

func (m *MockReporter) Records() []*core.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.Record(nil), m.records...)
}

// MockBatchReporter collects batches.
type MockBatchReporter struct {
	MockReporter
	batches []int
}

func (m *MockBatchReporter) ReportBatch(ctx context.Context, recs []*core.Record) error {
	m.batches = append(m.batches, len(recs))
	for _, r := range recs {
		_ = m.Report(ctx, r)
	}
	return nil
}

func acceptAll(*core.DecodedPacket) bool  { return true }
func acceptNone(*core.DecodedPacket) bool { return false }

func TestPipeline_BasicFlow(t *testing.T) {
	parser := NewMockParser("mock", acceptAll)
	reporter := &MockReporter{lifecycle: lifecycle{"collect"}}

	p := NewBuilder().
		WithCapturer(NewMockCapturer([]byte("one"), []byte("two"), []byte("three"))).
		WithDecoder(&MockDecoder{}).
		WithParsers(parser).
		WithReporters(reporter).
		Build()

	require.NoError(t, p.Run(context.Background()))

	recs := reporter.Records()
	require.Len(t, recs, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, uint64(i+1), recs[i].Frame)
		assert.Equal(t, want, recs[i].Result.Summary)
		assert.Equal(t, "udp", recs[i].Transport)
		assert.Equal(t, "192.168.1.1:5004", recs[i].Src)
		assert.Equal(t, "mock", recs[i].Labels["parser"])
	}
	assert.Equal(t, 1, reporter.flushed)

	st := p.Stats()
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, uint64(3), st.Decoded)
	assert.Equal(t, uint64(3), st.Parsed)
	assert.Equal(t, uint64(3), st.Reported)
	assert.Zero(t, st.DecodeErrors)
}

func TestPipeline_FirstParserWins(t *testing.T) {
	first := NewMockParser("first", acceptAll)
	second := NewMockParser("second", acceptAll)
	reporter := &MockReporter{lifecycle: lifecycle{"collect"}}

	p := New(Config{
		Capturer:  NewMockCapturer([]byte("x")),
		Decoder:   &MockDecoder{},
		Parsers:   []plugin.Parser{NewMockParser("skip", acceptNone), first, second},
		Reporters: []plugin.Reporter{reporter},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, first.Handled(), 1)
	assert.Empty(t, second.Handled())
	require.Len(t, reporter.Records(), 1)
	assert.Equal(t, "first", reporter.Records()[0].Protocol)
}

func TestPipeline_ProcessorDrop(t *testing.T) {
	reporter := &MockReporter{lifecycle: lifecycle{"collect"}}
	p := New(Config{
		Capturer:   NewMockCapturer([]byte("keep"), []byte("drop"), []byte("keep")),
		Decoder:    &MockDecoder{},
		Parsers:    []plugin.Parser{NewMockParser("mock", acceptAll)},
		Processors: []plugin.Processor{&MockProcessor{lifecycle: lifecycle{"drop"}, drop: "drop"}},
		Reporters:  []plugin.Reporter{reporter},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, reporter.Records(), 2)
	st := p.Stats()
	assert.Equal(t, uint64(3), st.Processed)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(2), st.Reported)
}

func TestPipeline_NoParser(t *testing.T) {
	reporter := &MockReporter{lifecycle: lifecycle{"collect"}}
	p := New(Config{
		Capturer:  NewMockCapturer([]byte("a"), []byte("b")),
		Decoder:   &MockDecoder{},
		Parsers:   []plugin.Parser{NewMockParser("mock", acceptNone)},
		Reporters: []plugin.Reporter{reporter},
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Empty(t, reporter.Records())
	assert.Equal(t, uint64(2), p.Stats().Unhandled)
}

func TestPipeline_Errors(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		p := New(Config{
			Capturer: NewMockCapturer([]byte("a")),
			Decoder:  &MockDecoder{shouldFail: true},
			Parsers:  []plugin.Parser{NewMockParser("mock", acceptAll)},
		})
		require.NoError(t, p.Run(context.Background()))
		assert.Equal(t, uint64(1), p.Stats().DecodeErrors)
	})

	t.Run("parse", func(t *testing.T) {
		parser := NewMockParser("mock", acceptAll)
		parser.shouldFail = true
		p := New(Config{
			Capturer: NewMockCapturer([]byte("a"), []byte("b")),
			Decoder:  &MockDecoder{},
			Parsers:  []plugin.Parser{parser},
		})
		require.NoError(t, p.Run(context.Background()))
		assert.Equal(t, uint64(2), p.Stats().ParseErrors)
	})

	t.Run("capture", func(t *testing.T) {
		c := NewMockCapturer([]byte("a"))
		c.err = errors.New("truncated file")
		p := New(Config{Capturer: c, Decoder: &MockDecoder{}})
		err := p.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "truncated file")
	})

	t.Run("missing capturer", func(t *testing.T) {
		p := New(Config{Decoder: &MockDecoder{}})
		assert.ErrorIs(t, p.Run(context.Background()), core.ErrConfigInvalid)
	})
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(Config{
		Capturer: NewMockCapturer([]byte("a"), []byte("b")),
		Decoder:  &MockDecoder{},
	})
	assert.ErrorIs(t, p.Run(ctx), core.ErrPipelineStopped)
}

func TestPipeline_BatchReporter(t *testing.T) {
	reporter := &MockBatchReporter{MockReporter: MockReporter{lifecycle: lifecycle{"batch"}}}
	frames := make([][]byte, 5)
	for i := range frames {
		frames[i] = []byte{byte('a' + i)}
	}
	p := New(Config{
		Capturer:     NewMockCapturer(frames...),
		Decoder:      &MockDecoder{},
		Parsers:      []plugin.Parser{NewMockParser("mock", acceptAll)},
		Reporters:    []plugin.Reporter{reporter},
		BatchSize:    2,
		BatchTimeout: time.Hour,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []int{2, 2, 1}, reporter.batches)
	assert.Len(t, reporter.Records(), 5)
}

// tcpFrame builds an Ethernet/IPv4/TCP frame from 10.0.0.1:40000 to
// 10.0.0.2:554, or the reverse when reply is set.
func tcpFrame(t *testing.T, seq uint32, reply bool, payload string) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 554, Seq: seq, ACK: true, PSH: true, Window: 65535}
	if reply {
		ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
		tcp.SrcPort, tcp.DstPort = tcp.DstPort, tcp.SrcPort
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func streamParser(pkt *core.DecodedPacket) bool {
	return pkt.Transport.Protocol == core.ProtoTCP && (pkt.Stream || pkt.StreamEnd) &&
		(pkt.Transport.SrcPort == 554 || pkt.Transport.DstPort == 554)
}

func TestPipeline_TCPStreamReassembly(t *testing.T) {
	dec, err := decoder.NewStandardDecoder(decoder.Config{})
	require.NoError(t, err)
	parser := NewMockParser("stream", streamParser)

	p := New(Config{
		Capturer: NewMockCapturer(
			tcpFrame(t, 1000, false, "OPTIONS "),
			tcpFrame(t, 1016, false, " RTSP/1.0\r\n"), // ahead of a missing segment
			tcpFrame(t, 1008, false, "rtsp://x"),
			tcpFrame(t, 5000, true, "RTSP/1.0 200 OK\r\n"),
		),
		Decoder: dec,
		Parsers: []plugin.Parser{parser},
	})
	require.NoError(t, p.Run(context.Background()))

	var client, server strings.Builder
	var ends int
	for _, pkt := range parser.Handled() {
		switch {
		case pkt.StreamEnd:
			ends++
			assert.Empty(t, pkt.Payload)
		case pkt.Transport.DstPort == 554:
			assert.True(t, pkt.Stream)
			assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:40000"), pkt.Src())
			client.Write(pkt.Payload)
		default:
			assert.Equal(t, uint64(4), pkt.Frame)
			assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:554"), pkt.Src())
			server.Write(pkt.Payload)
		}
	}
	assert.Equal(t, "OPTIONS rtsp://x RTSP/1.0\r\n", client.String())
	assert.Equal(t, "RTSP/1.0 200 OK\r\n", server.String())
	assert.Equal(t, 2, ends)
	assert.Equal(t, uint64(4), p.Stats().StreamSegments)
}

func TestPipeline_TCPWithoutStreamParser(t *testing.T) {
	// no decoder: the pipeline decodes the capturer's Ethernet frames
	p := New(Config{
		Capturer: NewMockCapturer(tcpFrame(t, 1, false, "data")),
		Parsers:  []plugin.Parser{NewMockParser("udp-only", acceptNone)},
	})
	require.NoError(t, p.Run(context.Background()))
	assert.Zero(t, p.Stats().StreamSegments)
	assert.Equal(t, uint64(1), p.Stats().Unhandled)
}

func TestBuilder_FluentAPI(t *testing.T) {
	capturer := NewMockCapturer()
	p := NewBuilder().
		WithName("fluent").
		WithCapturer(capturer).
		WithDecoder(&MockDecoder{}).
		WithParsers(NewMockParser("mock", acceptAll)).
		WithBufferSize(16).
		WithBatchSize(8).
		Build()

	assert.Equal(t, "fluent", p.name)
	assert.Equal(t, 16, p.bufferSize)
	assert.Equal(t, 8, p.batchSize)
	assert.NotNil(t, p.Table())
	assert.Len(t, p.parsers, 1)
}

func TestFromSpec_UnknownPlugin(t *testing.T) {
	_, err := FromSpec(Spec{Capture: PluginSpec{Name: "no-such-capturer"}})
	assert.ErrorIs(t, err, core.ErrPluginNotFound)
}
