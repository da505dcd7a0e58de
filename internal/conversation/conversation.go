// Package conversation implements the conversation table binding transport
// flows to decoder handles.
package conversation

import (
	"fmt"
	"maps"
	"net/netip"
	"sync"

	"firestige.xyz/dissect/internal/metrics"
)

// IP protocol numbers used in keys.
const (
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
	ProtoSCTP uint8 = 132
)

// Key identifies a conversation. A zero B matches any peer; signaling often
// names only the local endpoint of a media stream.
type Key struct {
	A     netip.AddrPort
	B     netip.AddrPort
	Proto uint8
}

// NewKey creates an exact key.
func NewKey(proto uint8, a, b netip.AddrPort) Key {
	return Key{A: a, B: b, Proto: proto}
}

// Wildcard creates a key matching any peer of a.
func Wildcard(proto uint8, a netip.AddrPort) Key {
	return Key{A: a, Proto: proto}
}

// IsWildcard reports whether the key leaves the peer open.
func (k Key) IsWildcard() bool { return !k.B.IsValid() }

// Reverse swaps the endpoints.
func (k Key) Reverse() Key { return Key{A: k.B, B: k.A, Proto: k.Proto} }

func (k Key) String() string {
	b := "*"
	if !k.IsWildcard() {
		b = k.B.String()
	}
	return fmt.Sprintf("%s %s-%s", protoName(k.Proto), k.A, b)
}

func protoName(p uint8) string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoSCTP:
		return "sctp"
	}
	return fmt.Sprintf("ip/%d", p)
}

// State is what a conversation is bound to.
type State struct {
	Key         Key
	Handle      string // decoder handle, e.g. "rtp", "rdt", "t38"
	SetupFrame  uint64 // frame of the signaling that created the binding
	SetupMethod string // e.g. "SDP", "RTSP"
	Subchannels map[uint8]string
}

type visit struct {
	frame   uint64
	key     Key
	channel int // -1 for the conversation itself
}

// Table maps conversation keys to states. Mutations are guarded by a visited
// set so that decoding a frame a second time does not change the table.
type Table struct {
	mu      sync.RWMutex
	convs   map[Key]*State
	visited map[visit]struct{}
}

// New creates an empty table.
func New() *Table {
	return &Table{
		convs:   make(map[Key]*State),
		visited: make(map[visit]struct{}),
	}
}

// Bind associates key with handle. It reports whether the table changed: a
// frame that already bound key is a no-op, a later frame updates the state.
func (t *Table) Bind(frame uint64, key Key, handle string, setupFrame uint64) bool {
	return t.BindMethod(frame, key, handle, setupFrame, "")
}

// BindMethod is Bind recording the signaling method that set up the binding.
func (t *Table) BindMethod(frame uint64, key Key, handle string, setupFrame uint64, method string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visit(visit{frame: frame, key: key, channel: -1}) {
		return false
	}
	st := t.state(key)
	st.Handle = handle
	st.SetupFrame = setupFrame
	st.SetupMethod = method
	return true
}

// BindSubchannel records a decoder for one interleaved channel of key,
// independent of the conversation's own handle.
func (t *Table) BindSubchannel(frame uint64, key Key, channel uint8, handle string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visit(visit{frame: frame, key: key, channel: int(channel)}) {
		return false
	}
	st := t.state(key)
	if st.Subchannels == nil {
		st.Subchannels = make(map[uint8]string)
	}
	st.Subchannels[channel] = handle
	return true
}

// Lookup finds the conversation a packet from key.A to key.B belongs to:
// the exact key, then the reversed key, then a wildcard on either endpoint.
func (t *Table) Lookup(key Key) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st := t.find(key); st != nil {
		return st.copy(), true
	}
	return State{}, false
}

// LookupSubchannel returns the decoder bound to channel of the conversation
// key belongs to.
func (t *Table) LookupSubchannel(key Key, channel uint8) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.find(key)
	if st == nil {
		return "", false
	}
	h, ok := st.Subchannels[channel]
	return h, ok
}

// Len returns the number of conversations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.convs)
}

func (t *Table) find(key Key) *State {
	candidates := [...]Key{
		key,
		key.Reverse(),
		Wildcard(key.Proto, key.A),
		Wildcard(key.Proto, key.B),
	}
	for _, k := range candidates {
		if !k.A.IsValid() {
			continue
		}
		if st, ok := t.convs[k]; ok {
			return st
		}
	}
	return nil
}

// visit marks v and reports whether it was new. Must be called with mu held.
func (t *Table) visit(v visit) bool {
	if _, seen := t.visited[v]; seen {
		return false
	}
	t.visited[v] = struct{}{}
	return true
}

// state returns the state for key, creating it. Must be called with mu held.
func (t *Table) state(key Key) *State {
	st, ok := t.convs[key]
	if !ok {
		st = &State{Key: key}
		t.convs[key] = st
		metrics.Conversations.Set(float64(len(t.convs)))
	}
	return st
}

func (s *State) copy() State {
	out := *s
	out.Subchannels = maps.Clone(s.Subchannels)
	return out
}
