package dissect

import (
	"errors"
	"fmt"
	"sort"

	"firestige.xyz/dissect/pkg/diag"
)

var (
	ErrDuplicateDecoder = errors.New("dissect: decoder already registered")
	ErrRegistryFrozen   = errors.New("dissect: registry is frozen")
)

// DecodeFn decodes one open type value. Offsets in the returned tree are
// relative to data.
type DecodeFn func(data []byte, ctx Context) Outcome

// Outcome is the result of a DecodeFn.
type Outcome struct {
	Node     *Node
	Consumed int
	// Aborted is set when decoding stopped at a malformed field.
	Aborted bool
}

// Registry maps (table, tag) pairs to decoders. It is populated during
// startup, then frozen; a frozen Registry is read-only and safe to share.
type Registry struct {
	tables map[string]map[uint32]DecodeFn
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]map[uint32]DecodeFn)}
}

// Register adds fn for (table, tag).
func (r *Registry) Register(table string, tag uint32, fn DecodeFn) error {
	if r.frozen {
		return fmt.Errorf("%w: %s/%d", ErrRegistryFrozen, table, tag)
	}
	if fn == nil {
		return fmt.Errorf("dissect: nil decoder for %s/%d", table, tag)
	}
	t, ok := r.tables[table]
	if !ok {
		t = make(map[uint32]DecodeFn)
		r.tables[table] = t
	}
	if _, dup := t[tag]; dup {
		return fmt.Errorf("%w: %s/%d", ErrDuplicateDecoder, table, tag)
	}
	t[tag] = fn
	return nil
}

// MustRegister is Register for init-time wiring; a failure is a programming
// error and panics.
func (r *Registry) MustRegister(table string, tag uint32, fn DecodeFn) {
	if err := r.Register(table, tag, fn); err != nil {
		panic(err)
	}
}

// Freeze forbids further registration.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen }

// Lookup returns the decoder for (table, tag).
func (r *Registry) Lookup(table string, tag uint32) (DecodeFn, bool) {
	fn, ok := r.tables[table][tag]
	return fn, ok
}

// Tables returns the table names in sorted order.
func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.tables))
	for name := range r.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tags returns the registered tags of table in ascending order.
func (r *Registry) Tags(table string) []uint32 {
	out := make([]uint32, 0, len(r.tables[table]))
	for tag := range r.tables[table] {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch decodes data with the decoder registered for (table, tag). An
// unregistered tag yields the raw bytes annotated Undecoded; the result
// always has a non-nil Node.
func (r *Registry) Dispatch(table string, tag uint32, data []byte, ctx Context) Outcome {
	fn, ok := r.Lookup(table, tag)
	if !ok {
		n := Raw(fmt.Sprintf("%s:%d", table, tag), 0, data)
		n.Annotate(diag.New(diag.Undecoded, "no decoder for tag %d in table %s", tag, table))
		return Outcome{Node: n, Consumed: len(data)}
	}
	return checkConsumed(fn(data, ctx), data)
}

// checkConsumed reports bytes a decoder left behind as an UnderConsumed
// trailing node.
func checkConsumed(out Outcome, data []byte) Outcome {
	if out.Node == nil {
		out.Node = Raw("undecoded", 0, data)
		out.Consumed = len(data)
		return out
	}
	if out.Aborted || out.Consumed >= len(data) {
		return out
	}
	rest := data[out.Consumed:]
	tr := Raw("trailing bytes", out.Consumed, rest)
	tr.Annotate(diag.New(diag.UnderConsumed, "decoder consumed %d of %d bytes", out.Consumed, len(data)))
	out.Node.Add(tr)
	out.Consumed = len(data)
	return out
}
