package rtsp

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/protocols/rdt"
	"firestige.xyz/dissect/internal/protocols/rtp"
)

const (
	// DefaultSetupTTL is how long a SETUP request waits for its reply.
	DefaultSetupTTL = 30 * time.Second

	setupMethod = "RTSP"
)

// Binding is one decoder assignment made from a SETUP exchange.
type Binding struct {
	Key     conversation.Key
	Channel int // interleaved channel, -1 for a UDP conversation
	Handle  string
}

func (b Binding) String() string {
	if b.Channel >= 0 {
		return fmt.Sprintf("%s channel %d -> %s", b.Key, b.Channel, b.Handle)
	}
	return fmt.Sprintf("%s -> %s", b.Key, b.Handle)
}

type pendingSetup struct {
	transports []Transport
}

// Tracker remembers SETUP requests by CSeq and, on a 2xx reply, binds the
// negotiated transport in the conversation table.
type Tracker struct {
	table   *conversation.Table
	pending *cache.Cache // "<request key>#<cseq>" -> *pendingSetup
}

// NewTracker creates a tracker binding into table.
func NewTracker(table *conversation.Table, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultSetupTTL
	}
	return &Tracker{
		table:   table,
		pending: cache.New(ttl, 2*ttl),
	}
}

// Pending returns the number of SETUP requests waiting for a reply.
func (t *Tracker) Pending() int { return t.pending.ItemCount() }

// Flush forgets all pending requests.
func (t *Tracker) Flush() { t.pending.Flush() }

func pendingKey(key conversation.Key, cseq int) string {
	return fmt.Sprintf("%s#%d", key, cseq)
}

// Observe processes msg sent in frame from key.A to key.B and returns the
// bindings it created.
func (t *Tracker) Observe(frame uint64, key conversation.Key, msg *Message) []Binding {
	cseq, ok := msg.Header.CSeq()
	if !ok {
		return nil
	}
	if !msg.IsResponse() {
		if msg.Method() == "SETUP" {
			specs, _ := ParseTransport(msg.Header.Get("Transport"))
			t.pending.Set(pendingKey(key, cseq), &pendingSetup{transports: specs}, cache.DefaultExpiration)
		}
		return nil
	}

	// replies travel from server to client
	reqKey := key.Reverse()
	id := pendingKey(reqKey, cseq)
	v, found := t.pending.Get(id)
	if !found {
		return nil
	}
	t.pending.Delete(id)
	if code := msg.StatusCode(); code < 200 || code > 299 {
		return nil
	}

	specs, _ := ParseTransport(msg.Header.Get("Transport"))
	if len(specs) == 0 {
		specs = v.(*pendingSetup).transports
	}
	for _, s := range specs {
		if s.Handle != "" {
			return t.bind(frame, reqKey, s)
		}
	}
	return nil
}

// bind applies one transport. reqKey runs from client to server.
func (t *Tracker) bind(frame uint64, reqKey conversation.Key, s Transport) []Binding {
	var out []Binding
	rtcp := s.Handle == rtp.Name

	if s.Interleaved != nil {
		ch := s.Interleaved
		if t.table.BindSubchannel(frame, reqKey, ch[0], s.Handle) {
			out = append(out, Binding{Key: reqKey, Channel: int(ch[0]), Handle: s.Handle})
		}
		if rtcp {
			next := ch[1]
			if next == 0 {
				next = ch[0] + 1
			}
			if t.table.BindSubchannel(frame, reqKey, next, rtp.NameRTCP) {
				out = append(out, Binding{Key: reqKey, Channel: int(next), Handle: rtp.NameRTCP})
			}
		}
		return out
	}

	if s.ClientPorts[0] == 0 {
		return nil
	}
	client := reqKey.A.Addr()
	if s.Destination.IsValid() {
		client = s.Destination
	}
	server := reqKey.B.Addr()
	if s.Source.IsValid() {
		server = s.Source
	}
	cp, sp := s.ClientPorts, s.ServerPorts
	if rtcp {
		if cp[1] == 0 {
			cp[1] = cp[0] + 1
		}
		if sp[0] != 0 && sp[1] == 0 {
			sp[1] = sp[0] + 1
		}
	}

	add := func(cport, sport uint16, handle string) {
		if sport == 0 {
			key := conversation.Wildcard(conversation.ProtoUDP, netip.AddrPortFrom(client, cport))
			var bound bool
			switch handle {
			case rdt.Name:
				bound = rdt.AddAddress(t.table, frame, client, cport, setupMethod)
			case rtp.Name:
				bound = rtp.AddAddress(t.table, frame, client, cport, setupMethod)
			default:
				bound = t.table.BindMethod(frame, key, handle, frame, setupMethod)
			}
			if bound {
				out = append(out, Binding{Key: key, Channel: -1, Handle: handle})
			}
			return
		}
		key := conversation.NewKey(conversation.ProtoUDP,
			netip.AddrPortFrom(server, sport), netip.AddrPortFrom(client, cport))
		if t.table.BindMethod(frame, key, handle, frame, setupMethod) {
			out = append(out, Binding{Key: key, Channel: -1, Handle: handle})
		}
	}
	add(cp[0], sp[0], s.Handle)
	if rtcp {
		add(cp[1], sp[1], rtp.NameRTCP)
	}
	return out
}
