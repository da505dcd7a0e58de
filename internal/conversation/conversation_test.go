package conversation

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client = netip.MustParseAddrPort("192.168.1.10:6970")
	server = netip.MustParseAddrPort("10.0.0.5:5004")
)

func TestTable_ExactAndReversed(t *testing.T) {
	tbl := New()
	key := NewKey(ProtoUDP, client, server)
	assert.True(t, tbl.Bind(3, key, "rtp", 1))

	st, ok := tbl.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "rtp", st.Handle)
	assert.Equal(t, uint64(1), st.SetupFrame)

	st, ok = tbl.Lookup(key.Reverse())
	require.True(t, ok)
	assert.Equal(t, "rtp", st.Handle)

	_, ok = tbl.Lookup(NewKey(ProtoTCP, client, server))
	assert.False(t, ok)
}

func TestTable_Wildcard(t *testing.T) {
	tbl := New()
	tbl.BindMethod(5, Wildcard(ProtoUDP, client), "rdt", 5, "RTSP")

	other := netip.MustParseAddrPort("172.16.0.9:40000")
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"from bound endpoint", NewKey(ProtoUDP, client, other), true},
		{"to bound endpoint", NewKey(ProtoUDP, other, client), true},
		{"unrelated", NewKey(ProtoUDP, other, server), false},
		{"other transport", NewKey(ProtoTCP, client, other), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := tbl.Lookup(tt.key)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, "rdt", st.Handle)
				assert.Equal(t, "RTSP", st.SetupMethod)
			}
		})
	}
}

func TestTable_ExactWinsOverWildcard(t *testing.T) {
	tbl := New()
	tbl.Bind(1, Wildcard(ProtoUDP, client), "rdt", 1)
	tbl.Bind(2, NewKey(ProtoUDP, client, server), "t38", 2)

	st, ok := tbl.Lookup(NewKey(ProtoUDP, server, client))
	require.True(t, ok)
	assert.Equal(t, "t38", st.Handle)
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_VisitedGuard(t *testing.T) {
	tbl := New()
	key := NewKey(ProtoUDP, client, server)
	assert.True(t, tbl.Bind(10, key, "rtp", 10))
	assert.True(t, tbl.Bind(20, key, "rdt", 20))

	// re-decoding frame 10 must not roll the binding back
	assert.False(t, tbl.Bind(10, key, "rtp", 10))
	st, _ := tbl.Lookup(key)
	assert.Equal(t, "rdt", st.Handle)
	assert.Equal(t, uint64(20), st.SetupFrame)
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_Subchannels(t *testing.T) {
	tbl := New()
	key := NewKey(ProtoTCP, client, netip.MustParseAddrPort("10.0.0.5:554"))
	assert.True(t, tbl.BindSubchannel(7, key, 0, "rtp"))
	assert.True(t, tbl.BindSubchannel(7, key, 1, "rtcp"))
	assert.False(t, tbl.BindSubchannel(7, key, 1, "rdt"))

	h, ok := tbl.LookupSubchannel(key.Reverse(), 1)
	require.True(t, ok)
	assert.Equal(t, "rtcp", h)
	_, ok = tbl.LookupSubchannel(key, 2)
	assert.False(t, ok)

	// the parent handle is independent of its channels
	st, ok := tbl.Lookup(key)
	require.True(t, ok)
	assert.Empty(t, st.Handle)

	// returned state is a copy
	st.Subchannels[0] = "changed"
	h, _ = tbl.LookupSubchannel(key, 0)
	assert.Equal(t, "rtp", h)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "udp 192.168.1.10:6970-*", Wildcard(ProtoUDP, client).String())
	assert.Equal(t, "sctp 192.168.1.10:6970-10.0.0.5:5004", NewKey(ProtoSCTP, client, server).String())
}
