// Package dissect walks a schema over PER-encoded bytes and produces a
// decode tree with typed diagnostics.
package dissect

import (
	"errors"
	"fmt"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/per"
	"firestige.xyz/dissect/pkg/schema"
)

// DefaultMaxDepth bounds schema recursion when Protocol.MaxDepth is unset.
const DefaultMaxDepth = 64

var (
	ErrUnknownType = errors.New("dissect: unknown type")

	errDepthExceeded = errors.New("dissect: maximum nesting depth exceeded")
)

// Status is the terminal state of a decode.
type Status uint8

const (
	StatusComplete Status = iota
	StatusAborted
)

func (s Status) String() string {
	if s == StatusAborted {
		return "aborted"
	}
	return "complete"
}

// MarshalText renders the status by name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is the output of one top-level decode.
type Result struct {
	Protocol    string
	Root        *Node
	Diagnostics []*diag.Diagnostic
	Status      Status
	Summary     string
	Consumed    int
}

// NewResult wraps a tree built by a hand-written decoder.
func NewResult(protocol string, root *Node, summary string) *Result {
	res := &Result{Protocol: protocol, Root: root, Summary: summary, Consumed: root.Offset + root.Length}
	res.Diagnostics = root.Diagnostics()
	if diag.Worst(res.Diagnostics) == diag.Malformed {
		res.Status = StatusAborted
	}
	return res
}

// Protocol describes a PER-encoded protocol.
type Protocol struct {
	Name     string
	Schema   *schema.Schema
	Root     string // top-level type name
	Aligned  bool
	Registry *Registry
	MaxDepth int
	// Summarize produces the one-line label of a decoded message.
	Summarize func(root *Node) string
}

// Decoder decodes messages of one Protocol. It holds no per-call state and is
// safe for concurrent use once its Registry is frozen.
type Decoder struct {
	proto Protocol
	root  schema.TypeID
}

// NewDecoder validates p and creates a decoder.
func NewDecoder(p Protocol) (*Decoder, error) {
	if p.Schema == nil {
		return nil, fmt.Errorf("dissect: protocol %s has no schema", p.Name)
	}
	root, ok := p.Schema.Lookup(p.Root)
	if !ok {
		return nil, fmt.Errorf("%w: %s root %q", ErrUnknownType, p.Name, p.Root)
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	return &Decoder{proto: p, root: root}, nil
}

// Name returns the protocol name.
func (d *Decoder) Name() string { return d.proto.Name }

// Schema returns the protocol schema.
func (d *Decoder) Schema() *schema.Schema { return d.proto.Schema }

// Registry returns the registry consulted for open types.
func (d *Decoder) Registry() *Registry { return d.proto.Registry }

// Decode decodes one top-level message.
func (d *Decoder) Decode(buf []byte) *Result {
	return d.DecodeWith(buf, Context{Protocol: d.proto.Name})
}

// DecodeWith decodes one top-level message with an initial context.
func (d *Decoder) DecodeWith(buf []byte, ctx Context) *Result {
	return d.result(d.root, buf, ctx)
}

// DecodeType decodes buf as the named type instead of the protocol root.
func (d *Decoder) DecodeType(name string, buf []byte, ctx Context) (*Result, error) {
	id, ok := d.proto.Schema.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownType, d.proto.Name, name)
	}
	return d.result(id, buf, ctx), nil
}

// DecodeFn returns a registry entry decoding the named type. The type must
// exist; wiring an unknown type is a programming error and panics.
func (d *Decoder) DecodeFn(typeName string) DecodeFn {
	id := d.proto.Schema.MustLookup(typeName)
	return func(data []byte, ctx Context) Outcome {
		return d.decodeOpen(id, "", data, ctx)
	}
}

func (d *Decoder) result(id schema.TypeID, buf []byte, ctx Context) *Result {
	if ctx.Protocol == "" {
		ctx.Protocol = d.proto.Name
	}
	out := checkConsumed(d.decodeOpen(id, "", buf, ctx), buf)
	res := &Result{
		Protocol: d.proto.Name,
		Root:     out.Node,
		Consumed: out.Consumed,
	}
	res.Diagnostics = out.Node.Diagnostics()
	// a failed read inside an open type aborts that value only, the outer
	// walk carries on
	if out.Aborted || diag.Worst(res.Diagnostics) == diag.Malformed {
		res.Status = StatusAborted
	}
	if d.proto.Summarize != nil {
		res.Summary = d.proto.Summarize(out.Node)
	}
	return res
}

// decodeOpen decodes a complete encoding of type id held in data.
func (d *Decoder) decodeOpen(id schema.TypeID, name string, data []byte, ctx Context) Outcome {
	w := &walker{d: d, r: per.NewReader(data, d.proto.Aligned)}
	n, err := w.decode(id, name, ctx)
	consumed := w.r.Consumed()
	// an empty encoding is carried as one zero octet
	if consumed == 0 && len(data) == 1 && data[0] == 0 {
		consumed = 1
	}
	return Outcome{Node: n, Consumed: consumed, Aborted: err != nil}
}

// abort marks an error whose diagnostic is already attached to the tree.
type abort struct{ err error }

func (a *abort) Error() string { return a.err.Error() }
func (a *abort) Unwrap() error { return a.err }

type walker struct {
	d    *Decoder
	r    *per.Reader
	base int
}

func (w *walker) decode(id schema.TypeID, name string, ctx Context) (*Node, error) {
	t := w.d.proto.Schema.Type(id)
	if name == "" {
		name = t.Name
	}
	n := &Node{Name: name}
	start := w.r.BitOffset()
	ctx.Depth++

	limit := w.d.proto.MaxDepth
	if ctx.MaxDepth > 0 {
		limit = ctx.MaxDepth
	}
	var err error
	if ctx.Depth > limit {
		err = errDepthExceeded
	} else {
		err = w.decodeKind(t, n, ctx)
	}

	end := w.r.BitOffset()
	n.Offset = w.base + start/8
	n.Length = (end+7)/8 - start/8
	if err != nil {
		var a *abort
		if !errors.As(err, &a) {
			n.Annotate(diagnose(err))
			err = &abort{err: err}
		}
	}
	return n, err
}

func diagnose(err error) *diag.Diagnostic {
	switch {
	case errors.Is(err, per.ErrTruncated):
		return diag.New(diag.Truncated, "%v", err)
	case errors.Is(err, per.ErrValueOutOfRange):
		return diag.New(diag.ValueOutOfRange, "%v", err)
	case errors.Is(err, errDepthExceeded):
		return diag.New(diag.DepthExceeded, "%v", err)
	}
	return diag.New(diag.Malformation, "%v", err)
}

func (w *walker) decodeKind(t *schema.Type, n *Node, ctx Context) error {
	switch t.Kind {
	case schema.KindInteger:
		return w.integer(t, n)
	case schema.KindBoolean:
		b, err := w.r.ReadBoolean()
		n.Kind, n.Bool = ValueBool, b
		return err
	case schema.KindNull:
		n.Kind = ValueNull
		return nil
	case schema.KindEnumerated:
		return w.enumerated(t, n)
	case schema.KindBitString:
		bs, err := w.r.ReadBitString(t.Size)
		n.Kind, n.Bytes, n.BitLen = ValueBits, bs.Bytes, bs.BitLength
		return err
	case schema.KindOctetString:
		b, err := w.r.ReadOctetString(t.Size)
		if err != nil {
			return err
		}
		n.Kind, n.Bytes = ValueBytes, b
		if t.Inner != schema.NoType || t.Dispatch != nil {
			n.Add(w.content(t, b, ctx))
		}
		return nil
	case schema.KindString:
		s, err := w.r.ReadRestrictedString(t.Charset, t.Size, t.Permitted)
		n.Kind, n.Text = ValueString, s
		return err
	case schema.KindObjectID:
		oid, err := w.r.ReadObjectIdentifier()
		n.Kind, n.Text = ValueString, oid.String()
		return err
	case schema.KindSequence:
		return w.sequence(t, n, ctx)
	case schema.KindChoice:
		return w.choice(t, n, ctx)
	case schema.KindSequenceOf:
		return w.sequenceOf(t, n, ctx)
	case schema.KindOpenType:
		data, err := w.r.ReadOpenType()
		if err != nil {
			return err
		}
		n.Add(w.content(t, data, ctx))
		return nil
	}
	return fmt.Errorf("dissect: type %s has kind %s", t.Name, t.Kind)
}

func (w *walker) integer(t *schema.Type, n *Node) error {
	var v int64
	var err error
	switch rg := t.Range; {
	case rg == nil:
		v, err = w.r.ReadUnconstrainedInt()
	case rg.SemiOnly:
		v, err = w.r.ReadSemiConstrainedInt(rg.Lb)
	case rg.Extensible:
		v, err = w.r.ReadExtensibleInt(rg.Lb, rg.Ub)
	default:
		v, err = w.r.ReadConstrainedInt(rg.Lb, rg.Ub)
	}
	if err != nil {
		return err
	}
	n.Kind, n.Int, n.Text = ValueInt, v, t.Named[v]
	return nil
}

func (w *walker) enumerated(t *schema.Type, n *Node) error {
	idx, err := w.r.ReadEnumerated(len(t.Items), t.Extensible)
	if err != nil {
		return err
	}
	n.Kind, n.Int = ValueEnum, int64(idx)
	root := len(t.Items)
	switch e := int(idx) - root; {
	case e < 0:
		n.Text = t.Items[idx]
	case e < len(t.ExtItems):
		n.Text = t.ExtItems[e]
	default:
		n.Text = fmt.Sprintf("unknown extension value %d", e)
	}
	return nil
}

// dataOffset is the absolute offset of the n octets just read.
func (w *walker) dataOffset(n int) int {
	return w.base + (w.r.BitOffset()-8*n)/8
}

// content decodes the value carried by an open type or containing OCTET STRING.
func (w *walker) content(t *schema.Type, data []byte, ctx Context) *Node {
	off := w.dataOffset(len(data))
	var out Outcome
	if t.Inner != schema.NoType {
		out = checkConsumed(w.d.decodeOpen(t.Inner, "", data, ctx), data)
	} else {
		table := t.Dispatch.Table
		if t.Dispatch.Suffix != schema.CtxNone {
			table += "/" + ctx.Text(t.Dispatch.Suffix)
		}
		out = w.d.proto.Registry.Dispatch(table, ctx.Value(t.Dispatch.Key), data, ctx)
	}
	out.Node.Shift(off)
	return out.Node
}

func (w *walker) sequence(t *schema.Type, n *Node, ctx Context) error {
	ext, err := w.readExt(t.Extensible)
	if err != nil {
		return err
	}
	root := t.RootFields()
	present := make([]bool, len(root))
	for i, f := range root {
		present[i] = true
		if f.Optional {
			if present[i], err = w.r.ReadBit(); err != nil {
				return err
			}
		}
	}
	for i, f := range root {
		if !present[i] {
			continue
		}
		child, err := w.decode(f.Type, f.Name, ctx)
		n.Add(child)
		if err != nil {
			return err
		}
		if f.Sets != schema.CtxNone {
			ctx = ctx.With(f.Sets, child)
		}
	}
	if !ext {
		return nil
	}

	count, err := w.r.ReadNormallySmallLength()
	if err != nil {
		return err
	}
	bitmap := make([]bool, count)
	for i := range bitmap {
		if bitmap[i], err = w.r.ReadBit(); err != nil {
			return err
		}
	}
	exts := t.ExtensionFields()
	for i, set := range bitmap {
		if !set {
			continue
		}
		data, err := w.r.ReadOpenType()
		if err != nil {
			return err
		}
		// additions unknown to this schema are skipped
		if i >= len(exts) {
			continue
		}
		f := exts[i]
		out := checkConsumed(w.d.decodeOpen(f.Type, f.Name, data, ctx), data)
		out.Node.Shift(w.dataOffset(len(data)))
		n.Add(out.Node)
		if f.Sets != schema.CtxNone {
			ctx = ctx.With(f.Sets, out.Node)
		}
	}
	return nil
}

func (w *walker) choice(t *schema.Type, n *Node, ctx Context) error {
	ext, err := w.readExt(t.Extensible)
	if err != nil {
		return err
	}
	if !ext {
		roots := t.RootAlternatives()
		idx, err := w.r.ReadConstrainedWholeNumber(0, int64(len(roots))-1)
		if err != nil {
			return err
		}
		alt := roots[idx]
		n.Int, n.Text = int64(idx), alt.Name
		child, err := w.decode(alt.Type, alt.Name, ctx)
		n.Add(child)
		return err
	}

	idx, err := w.r.ReadNormallySmall()
	if err != nil {
		return err
	}
	data, err := w.r.ReadOpenType()
	if err != nil {
		return err
	}
	off := w.dataOffset(len(data))
	exts := t.ExtensionAlternatives()
	if idx >= uint64(len(exts)) {
		unk := Raw(fmt.Sprintf("extension alternative %d", idx), off, data)
		unk.Annotate(diag.New(diag.ChoiceSelectorUnrecognized,
			"%s: unrecognized extension alternative %d, %d bytes skipped", t.Name, idx, len(data)))
		n.Int, n.Text = int64(len(t.RootAlternatives()))+int64(idx), unk.Name
		n.Add(unk)
		return nil
	}
	alt := exts[idx]
	out := checkConsumed(w.d.decodeOpen(alt.Type, alt.Name, data, ctx), data)
	out.Node.Shift(off)
	n.Int, n.Text = int64(len(t.RootAlternatives()))+int64(idx), alt.Name
	n.Add(out.Node)
	return nil
}

func (w *walker) sequenceOf(t *schema.Type, n *Node, ctx Context) error {
	count, frag, err := w.r.ReadLength(t.Size)
	if err != nil {
		return err
	}
	total := 0
	for {
		for i := uint32(0); i < count; i++ {
			child, err := w.decode(t.Element, "", ctx)
			n.Add(child)
			if err != nil {
				return err
			}
			total++
		}
		if !frag {
			break
		}
		if count, frag, err = w.r.ReadLengthDeterminant(); err != nil {
			return err
		}
	}
	n.Int = int64(total)
	n.Text = fmt.Sprintf("%d item(s)", total)
	return nil
}

func (w *walker) readExt(extensible bool) (bool, error) {
	if !extensible {
		return false, nil
	}
	return w.r.ReadBit()
}
