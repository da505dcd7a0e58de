// Package reassembly implements sequence-numbered fragment reassembly.
package reassembly

import (
	"bytes"
	"container/list"
	"fmt"
	"sync"

	"firestige.xyz/dissect/internal/metrics"
	"firestige.xyz/dissect/pkg/diag"
)

// Default limits applied by New.
const (
	DefaultMaxFragments = 4096
	DefaultMaxBytes     = 1 << 20
)

// Config contains configuration for the reassembly engine.
type Config struct {
	MaxFragments int // Maximum stored fragments per stream (default 4096)
	MaxBytes     int // Maximum collected payload bytes per stream (default 1 MiB)
	// Modulus is the sequence number space. Zero means 2^32.
	Modulus uint64
}

// Key identifies one reassembly stream.
type Key struct {
	Conversation string // conversation the stream belongs to
	Stream       string // stream within the conversation, e.g. "hdlc" or "t4"
}

func (k Key) String() string { return k.Conversation + "/" + k.Stream }

// Ref identifies one fragment occurrence in the capture: the frame carrying it
// and its position within that frame.
type Ref struct {
	Frame uint64
	Index int
}

// Fragment is one piece of a stream.
type Fragment struct {
	Seq      uint32
	Payload  []byte
	Terminal bool
}

// Result is a reassembled payload.
type Result struct {
	Data        []byte
	Fragments   int      // stored fragments contributing to Data
	PacketsLost uint32   // sum of sequence gaps between stored fragments
	BurstLost   uint32   // largest single gap
	Frames      []uint64 // contributing frames ordered by sequence
	StartSeq    uint32
}

// Outcome is what Feed reports for one fragment. Result is non-nil only on
// the fragment that completes a stream.
type Outcome struct {
	Result      *Result
	Diagnostics []*diag.Diagnostic
}

// entry is one stored fragment. rel is the signed sequence distance from the
// first fragment seen on the stream.
type entry struct {
	rel     int64
	payload []byte
	frame   uint64
}

// stream keeps entries in ascending rel order. The first entry stored for a
// rel wins; later duplicates are only diagnosed.
type stream struct {
	start    uint32
	entries  list.List // *entry
	size     int
	terminal *int64 // position of a payload-less terminal fragment
}

// Engine collects fragments per stream and flushes them on a terminal
// fragment. Re-feeding an already seen Ref returns the memoized outcome
// without touching stream state.
type Engine struct {
	mu      sync.Mutex
	config  Config
	streams map[Key]*stream
	visited map[Ref]Outcome
}

// New creates a reassembly engine.
func New(cfg Config) *Engine {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = DefaultMaxFragments
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Engine{
		config:  cfg,
		streams: make(map[Key]*stream),
		visited: make(map[Ref]Outcome),
	}
}

// Active returns the number of streams currently collecting.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

// Pending returns the number of fragments stored for key.
func (e *Engine) Pending(key Key) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.streams[key]; ok {
		return s.entries.Len()
	}
	return 0
}

// Feed adds frag to the stream key.
func (e *Engine) Feed(ref Ref, key Key, frag Fragment) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if out, ok := e.visited[ref]; ok {
		return out
	}
	out := e.feed(ref, key, frag)
	e.visited[ref] = out
	return out
}

func (e *Engine) feed(ref Ref, key Key, frag Fragment) Outcome {
	var out Outcome
	s, exists := e.streams[key]

	if !exists {
		if frag.Terminal && len(frag.Payload) == 0 {
			out.Diagnostics = append(out.Diagnostics,
				diag.New(diag.EndWithoutData, "stream %s ended at seq %d before any data", key, frag.Seq))
			return out
		}
		s = &stream{start: frag.Seq}
		e.streams[key] = s
		metrics.ReassemblyActiveStreams.Inc()
	}

	rel := e.distance(s.start, frag.Seq)
	if len(frag.Payload) > 0 {
		if d := s.insert(&entry{rel: rel, payload: copyBytes(frag.Payload), frame: ref.Frame}); d != nil {
			out.Diagnostics = append(out.Diagnostics, d)
		}
	} else if frag.Terminal {
		s.terminal = &rel
	}

	if s.entries.Len() > e.config.MaxFragments || s.size > e.config.MaxBytes {
		out.Diagnostics = append(out.Diagnostics, diag.New(diag.ReassemblyLimit,
			"stream %s dropped: %d fragments, %d bytes exceed limits %d/%d",
			key, s.entries.Len(), s.size, e.config.MaxFragments, e.config.MaxBytes))
		e.evict(key)
		return out
	}

	if frag.Terminal {
		out.Result = s.build()
		e.evict(key)
		metrics.ReassemblyCompletedTotal.Inc()
	}
	return out
}

// distance returns the signed offset of seq from start in the configured
// sequence space, so fragments older than the first one sort before it.
func (e *Engine) distance(start, seq uint32) int64 {
	mod := e.config.Modulus
	if mod == 0 {
		mod = 1 << 32
	}
	d := (uint64(seq) + mod - uint64(start)%mod) % mod
	if d > mod/2 {
		return int64(d) - int64(mod)
	}
	return int64(d)
}

// insert places en in rel order. Must be called with the engine lock held.
func (s *stream) insert(en *entry) *diag.Diagnostic {
	var before *list.Element
	for el := s.entries.Front(); el != nil; el = el.Next() {
		cur := el.Value.(*entry)
		if cur.rel == en.rel {
			if bytes.Equal(cur.payload, en.payload) {
				return diag.New(diag.Overlap, "duplicate fragment at offset %d (frame %d)", en.rel, cur.frame)
			}
			return diag.New(diag.OverlapConflict,
				"fragment at offset %d differs from frame %d, keeping the first", en.rel, cur.frame)
		}
		if cur.rel > en.rel {
			before = el
			break
		}
	}
	if before != nil {
		s.entries.InsertBefore(en, before)
	} else {
		s.entries.PushBack(en)
	}
	s.size += len(en.payload)
	return nil
}

// build concatenates the stored fragments and computes loss statistics.
func (s *stream) build() *Result {
	res := &Result{
		Data:      make([]byte, 0, s.size),
		Fragments: s.entries.Len(),
		StartSeq:  s.start,
	}
	var prev *int64
	gap := func(rel int64) {
		if prev != nil && rel-*prev > 1 {
			lost := uint32(rel - *prev - 1)
			res.PacketsLost += lost
			if lost > res.BurstLost {
				res.BurstLost = lost
			}
		}
		prev = &rel
	}
	for el := s.entries.Front(); el != nil; el = el.Next() {
		en := el.Value.(*entry)
		gap(en.rel)
		res.Data = append(res.Data, en.payload...)
		res.Frames = append(res.Frames, en.frame)
	}
	if s.terminal != nil && (prev == nil || *s.terminal > *prev) {
		gap(*s.terminal)
	}
	return res
}

// evict removes a stream and decrements the metric.
func (e *Engine) evict(key Key) {
	if _, exists := e.streams[key]; exists {
		delete(e.streams, key)
		metrics.ReassemblyActiveStreams.Dec()
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *Result) String() string {
	return fmt.Sprintf("%d bytes from %d fragments, %d lost (burst %d)",
		len(r.Data), r.Fragments, r.PacketsLost, r.BurstLost)
}
