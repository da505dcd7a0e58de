package schema

import (
	"errors"
	"fmt"

	"firestige.xyz/dissect/pkg/per"
)

// ErrInvalidSchema wraps every Build failure.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// Builder assembles a Schema. Types may be declared before they are defined
// so that mutually recursive types can refer to each other.
type Builder struct {
	name    string
	types   []Type
	defined []bool
	byName  map[string]TypeID
	errs    []error
}

// NewBuilder creates an empty builder for the named schema.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, byName: make(map[string]TypeID)}
}

// Declare reserves an id for name, returning the existing id when name was
// declared before.
func (b *Builder) Declare(name string) TypeID {
	if id, ok := b.byName[name]; ok {
		return id
	}
	id := TypeID(len(b.types))
	b.types = append(b.types, Type{Name: name})
	b.defined = append(b.defined, false)
	b.byName[name] = id
	return id
}

// Define sets the definition of a declared type.
func (b *Builder) Define(id TypeID, t Type) TypeID {
	if id < 0 || int(id) >= len(b.types) {
		b.errs = append(b.errs, fmt.Errorf("define: unknown type id %d", id))
		return id
	}
	name := b.types[id].Name
	if b.defined[id] {
		b.errs = append(b.errs, fmt.Errorf("type %q defined twice", name))
		return id
	}
	t.Name = name
	b.types[id] = t
	b.defined[id] = true
	return id
}

// Add declares and defines name in one step.
func (b *Builder) Add(name string, t Type) TypeID {
	return b.Define(b.Declare(name), t)
}

// Build validates the arena and returns the immutable Schema.
func (b *Builder) Build() (*Schema, error) {
	errs := append([]error(nil), b.errs...)
	for i := range b.types {
		t := &b.types[i]
		if !b.defined[i] {
			errs = append(errs, fmt.Errorf("type %q declared but never defined", t.Name))
			continue
		}
		errs = append(errs, b.check(t)...)
		t.rootFields, t.extFields = filter(t.Fields, false), filter(t.Fields, true)
		t.rootAlts, t.extAlts = filter(t.Alternatives, false), filter(t.Alternatives, true)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidSchema, b.name, err)
	}
	s := &Schema{name: b.name, types: b.types, byName: b.byName}
	b.types, b.defined, b.byName = nil, nil, make(map[string]TypeID)
	return s, nil
}

// MustBuild is Build for package-level schemas, where an invalid schema is a
// programming error.
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func (b *Builder) valid(id TypeID) bool {
	return id >= 0 && int(id) < len(b.types)
}

func (b *Builder) check(t *Type) []error {
	var errs []error
	ref := func(what string, id TypeID) {
		if !b.valid(id) {
			errs = append(errs, fmt.Errorf("type %q: %s refers to invalid id %d", t.Name, what, id))
		}
	}
	switch t.Kind {
	case KindInvalid:
		errs = append(errs, fmt.Errorf("type %q has no kind", t.Name))
	case KindInteger:
		if r := t.Range; r != nil && !r.SemiOnly && r.Lb > r.Ub {
			errs = append(errs, fmt.Errorf("type %q: empty range [%d,%d]", t.Name, r.Lb, r.Ub))
		}
	case KindEnumerated:
		if len(t.Items) == 0 {
			errs = append(errs, fmt.Errorf("type %q: no root enumerations", t.Name))
		}
	case KindSequence:
		for _, f := range t.Fields {
			ref("field "+f.Name, f.Type)
		}
	case KindChoice:
		if len(filter(t.Alternatives, false)) == 0 {
			errs = append(errs, fmt.Errorf("type %q: no root alternatives", t.Name))
		}
		for _, f := range t.Alternatives {
			ref("alternative "+f.Name, f.Type)
		}
	case KindSequenceOf:
		ref("element", t.Element)
	case KindOpenType:
		if t.Inner == NoType && t.Dispatch == nil {
			errs = append(errs, fmt.Errorf("type %q: open type without content", t.Name))
		}
	}
	if t.Inner != NoType {
		ref("content", t.Inner)
	}
	if d := t.Dispatch; d != nil && (d.Table == "" || d.Key == CtxNone) {
		errs = append(errs, fmt.Errorf("type %q: dispatch needs a table and a key", t.Name))
	}
	return errs
}

func base(k Kind) Type {
	return Type{Kind: k, Element: NoType, Inner: NoType, Size: per.AnySize()}
}

// Integer is INTEGER (lb..ub).
func Integer(lb, ub int64) Type {
	t := base(KindInteger)
	t.Range = &Range{Lb: lb, Ub: ub}
	return t
}

// IntegerExt is INTEGER (lb..ub, ...).
func IntegerExt(lb, ub int64) Type {
	t := Integer(lb, ub)
	t.Range.Extensible = true
	return t
}

// IntegerFrom is INTEGER (lb..MAX).
func IntegerFrom(lb int64) Type {
	t := base(KindInteger)
	t.Range = &Range{Lb: lb, SemiOnly: true}
	return t
}

// UnconstrainedInteger is a plain INTEGER.
func UnconstrainedInteger() Type { return base(KindInteger) }

// Boolean is BOOLEAN.
func Boolean() Type { return base(KindBoolean) }

// Null is NULL.
func Null() Type { return base(KindNull) }

// Enumerated is a non-extensible ENUMERATED.
func Enumerated(items ...string) Type {
	t := base(KindEnumerated)
	t.Items = items
	return t
}

// EnumeratedExt is ENUMERATED { items, ..., ext }.
func EnumeratedExt(items []string, ext ...string) Type {
	t := Enumerated(items...)
	t.Extensible = true
	t.ExtItems = ext
	return t
}

// BitString is BIT STRING (SIZE).
func BitString(size per.SizeRange) Type {
	t := base(KindBitString)
	t.Size = size
	return t
}

// OctetString is OCTET STRING (SIZE).
func OctetString(size per.SizeRange) Type {
	t := base(KindOctetString)
	t.Size = size
	return t
}

// String is a restricted character string type.
func String(cs per.Charset, size per.SizeRange) Type {
	t := base(KindString)
	t.Charset = cs
	t.Size = size
	return t
}

// ObjectID is OBJECT IDENTIFIER.
func ObjectID() Type { return base(KindObjectID) }

// Sequence is SEQUENCE { fields }; ext adds the extension marker.
func Sequence(ext bool, fields ...Field) Type {
	t := base(KindSequence)
	t.Extensible = ext
	t.Fields = fields
	return t
}

// Choice is CHOICE { alts }; ext adds the extension marker.
func Choice(ext bool, alts ...Field) Type {
	t := base(KindChoice)
	t.Extensible = ext
	t.Alternatives = alts
	return t
}

// SequenceOf is SEQUENCE (SIZE) OF elem.
func SequenceOf(elem TypeID, size per.SizeRange) Type {
	t := base(KindSequenceOf)
	t.Element = elem
	t.Size = size
	return t
}

// OpenType is an open type with fixed content.
func OpenType(inner TypeID) Type {
	t := base(KindOpenType)
	t.Inner = inner
	return t
}

// OpenTypeBy is an open type resolved through a registry table.
func OpenTypeBy(d Dispatch) Type {
	t := base(KindOpenType)
	t.Dispatch = &d
	return t
}

// WithNames attaches value names to an INTEGER.
func (t Type) WithNames(names map[int64]string) Type {
	t.Named = names
	return t
}

// WithAlphabet sets a permitted alphabet constraint on a string type.
func (t Type) WithAlphabet(permitted string) Type {
	t.Permitted = permitted
	return t
}

// Containing makes an OCTET STRING carry an encoding of inner.
func (t Type) Containing(inner TypeID) Type {
	t.Inner = inner
	return t
}

// DispatchedBy makes an OCTET STRING carry content resolved through d.
func (t Type) DispatchedBy(d Dispatch) Type {
	t.Dispatch = &d
	return t
}

// F is a mandatory component.
func F(name string, id TypeID) Field { return Field{Name: name, Type: id} }

// Opt is an OPTIONAL component.
func Opt(name string, id TypeID) Field { return Field{Name: name, Type: id, Optional: true} }

// Ext is a component after the extension marker.
func Ext(name string, id TypeID) Field {
	return Field{Name: name, Type: id, Optional: true, Extension: true}
}

// Setting makes the field publish its value under key.
func (f Field) Setting(key ContextKey) Field {
	f.Sets = key
	return f
}
