package rdt

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols/rdt"
	"firestige.xyz/dissect/plugins/parser/api"
)

var dataPacket = []byte{
	0x42, 0x00, 0x05,       // need_reliable, stream 1, seq 5
	0x02,                   // asm rule
	0x00, 0x00, 0x10, 0x00, // timestamp
	0x00, 0x07,             // total reliable
	'a', 'b', 'c',
}

func udp(dst uint16, payload []byte) *core.DecodedPacket {
	return &core.DecodedPacket{
		Frame:     12,
		IP:        core.IPHeader{SrcIP: netip.MustParseAddr("10.0.0.5"), DstIP: netip.MustParseAddr("192.168.1.10")},
		Transport: core.TransportHeader{SrcPort: 6970, DstPort: dst, Protocol: core.ProtoUDP},
		Payload:   payload,
	}
}

func newParser(t *testing.T, cfg map[string]any) (*Parser, *conversation.Table) {
	t.Helper()
	p := NewParser().(*Parser)
	require.NoError(t, p.Init(cfg))
	table := conversation.New()
	p.SetConversationTable(table)
	return p, table
}

func TestCanHandle(t *testing.T) {
	p, table := newParser(t, map[string]any{"ports": []int{6980}})

	assert.True(t, p.CanHandle(udp(6980, dataPacket)))
	assert.False(t, p.CanHandle(udp(7000, dataPacket)))

	require.True(t, rdt.AddAddress(table, 3, netip.MustParseAddr("192.168.1.10"), 7000, "RTSP"))
	assert.True(t, p.CanHandle(udp(7000, dataPacket)))

	tcp := udp(6980, dataPacket)
	tcp.Transport.Protocol = core.ProtoTCP
	assert.False(t, p.CanHandle(tcp))
}

func TestHandle(t *testing.T) {
	p, table := newParser(t, nil)
	require.True(t, rdt.AddAddress(table, 3, netip.MustParseAddr("192.168.1.10"), 7000, "RTSP"))

	outs, err := p.Handle(udp(7000, dataPacket))
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "rdt", outs[0].Result.Protocol)
	assert.Equal(t, core.Labels{
		core.LabelRDTPackets:  "DATA seq=5",
		core.LabelSetupFrame:  "3",
		core.LabelSetupMethod: "RTSP",
	}, outs[0].Labels)

	_, err = p.Handle(udp(7000, nil))
	assert.ErrorIs(t, err, api.ErrEmptyPayload)
}
