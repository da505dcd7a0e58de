package rdt

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

func TestDecode_DataPacket(t *testing.T) {
	b := []byte{
		0x42, 0x00, 0x05,       // need_reliable, stream 1, seq 5
		0x02,                   // asm rule 2
		0x00, 0x00, 0x10, 0x00, // timestamp
		0x00, 0x07,             // total reliable
		'a', 'b', 'c',
	}
	res := Decode(b)
	require.Equal(t, dissect.StatusComplete, res.Status)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "DATA seq=5", res.Summary)

	pkt := res.Root.Child("data_packet")
	require.NotNil(t, pkt)
	assert.Equal(t, int64(1), pkt.Child("stream_id").Int)
	assert.Equal(t, int64(2), pkt.Child("asm_rule").Int)
	assert.Equal(t, int64(4096), pkt.Child("timestamp").Int)
	assert.Equal(t, int64(7), pkt.Child("total_reliable").Int)
	payload := pkt.Child("payload")
	assert.Equal(t, []byte("abc"), payload.Bytes)
	assert.Equal(t, 10, payload.Offset)
	assert.Equal(t, len(b), pkt.Length)
}

func TestDecode_Concatenated(t *testing.T) {
	b := []byte{
		// data packet with length 14
		0xc0, 0x00, 0x01, 0x00, 0x0e, 0x00, 0, 0, 0, 1, 0x00, 0x01, 0xaa, 0xbb,
		// RTTREQUEST
		0x00, 0xff, 0x03,
		// LATENCYREPORT
		0x00, 0xff, 0x08, 0, 0, 0x01, 0x00,
	}
	res := Decode(b)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "DATA seq=1, RTTREQUEST, LATENCYREPORT", res.Summary)
	require.Len(t, res.Root.Children, 3)
	assert.Equal(t, []byte{0xaa, 0xbb}, res.Root.Children[0].Child("payload").Bytes)
	assert.Equal(t, 14, res.Root.Children[1].Offset)
	latency := res.Root.Children[2]
	assert.Equal(t, 17, latency.Offset)
	assert.Equal(t, int64(256), latency.Child("server_out_time").Int)
}

func TestDecode_ControlWithLength(t *testing.T) {
	b := []byte{
		0x80, 0xff, 0x02, 0x00, 0x07, 0x01, 0x02, // ACK, 2 bytes of data
		0x00, 0xff, 0x03,
	}
	res := Decode(b)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "ACK, RTTREQUEST", res.Summary)
	ack := res.Root.Children[0]
	assert.Equal(t, "ACK", ack.Child("packet_type").Text)
	assert.Equal(t, []byte{0x01, 0x02}, ack.Child("data").Bytes)
}

func TestDecode_RTPLookalike(t *testing.T) {
	b := []byte{0x80, 0x60, 0x00, 0x09, 0, 0, 0, 0, 0, 0, 0, 0x2a, 0x11}
	require.True(t, IsRTPLookalike(b))
	res := Decode(b)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "RTP PT=96, SSRC=0x0000002A, Seq=9", res.Summary)
	assert.NotNil(t, res.Root.Child("rtp"))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		kind diag.Kind
	}{
		{"short header", []byte{0x40, 0x00}, diag.Truncated},
		{"length below header", []byte{0xc0, 0x00, 0x01, 0x00, 0x03, 0x00, 0, 0, 0, 1, 0, 0}, diag.Malformation},
		{"length beyond datagram", []byte{0xc0, 0x00, 0x01, 0x00, 0x40, 0x00, 0, 0, 0, 1, 0, 0}, diag.Truncated},
		{"truncated timestamp", []byte{0x40, 0x00, 0x01, 0x00, 0x00}, diag.Truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode(tt.b)
			assert.Equal(t, dissect.StatusAborted, res.Status)
			require.NotEmpty(t, res.Diagnostics)
			assert.Equal(t, tt.kind, res.Diagnostics[0].Kind)
		})
	}
}

func TestDecode_UnknownControlType(t *testing.T) {
	res := Decode([]byte{0x00, 0xff, 0x7f, 0x01})
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
	assert.Equal(t, "UNKNOWN(0xff7f)", res.Summary)
	assert.Equal(t, []byte{0x01}, res.Root.Children[0].Child("data").Bytes)
}

func TestAddAddress(t *testing.T) {
	table := conversation.New()
	addr := netip.MustParseAddr("10.1.1.1")
	require.True(t, AddAddress(table, 1, addr, 6970, "RTSP"))
	st, ok := table.Lookup(conversation.NewKey(conversation.ProtoUDP,
		netip.MustParseAddrPort("10.1.1.2:6970"), netip.AddrPortFrom(addr, 6970)))
	require.True(t, ok)
	assert.Equal(t, Name, st.Handle)
	assert.Equal(t, "RTSP", st.SetupMethod)
}
