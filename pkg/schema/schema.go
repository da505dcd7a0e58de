// Package schema describes ASN.1 types as data so a single walker can decode
// any message. Types live in an arena and refer to each other by TypeID,
// which allows recursive definitions without pointer cycles.
package schema

import (
	"fmt"

	"firestige.xyz/dissect/pkg/per"
)

// TypeID indexes a type within its Schema.
type TypeID int32

// NoType is the zero reference.
const NoType TypeID = -1

// Kind is the ASN.1 type class of a Type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindBoolean
	KindNull
	KindEnumerated
	KindBitString
	KindOctetString
	KindString
	KindObjectID
	KindSequence
	KindChoice
	KindSequenceOf
	KindOpenType
)

var kindNames = [...]string{"invalid", "INTEGER", "BOOLEAN", "NULL", "ENUMERATED", "BIT STRING",
	"OCTET STRING", "string", "OBJECT IDENTIFIER", "SEQUENCE", "CHOICE", "SEQUENCE OF", "open type"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ContextKey names a slot of the decode context that a field value can set
// and an open type can read.
type ContextKey uint8

const (
	CtxNone ContextKey = iota
	CtxProcedureCode
	CtxIETag
	CtxFeatureID
	CtxParameterID
)

var ctxNames = [...]string{"", "procedureCode", "ieTag", "featureID", "parameterID"}

func (c ContextKey) String() string {
	if int(c) < len(ctxNames) {
		return ctxNames[c]
	}
	return fmt.Sprintf("ContextKey(%d)", c)
}

// Range is an INTEGER value constraint.
type Range struct {
	Lb, Ub     int64
	SemiOnly   bool // only Lb is PER-visible
	Extensible bool
}

// Field is a SEQUENCE component or a CHOICE alternative.
type Field struct {
	Name     string
	Type     TypeID
	Optional bool
	// Extension marks members after the extension marker.
	Extension bool
	// Sets copies the decoded value into the decode context for the
	// following siblings.
	Sets ContextKey
}

// Dispatch resolves an open type through a registry table. The table name is
// Table, or Table + "/" + the context value of Suffix when Suffix is set; the
// tag is the context value of Key.
type Dispatch struct {
	Table  string
	Suffix ContextKey
	Key    ContextKey
}

// Type is one node of the arena.
type Type struct {
	Name string
	Kind Kind

	Range *Range           // INTEGER; nil is unconstrained
	Named map[int64]string // INTEGER value names

	Size      per.SizeRange // BIT STRING, OCTET STRING, strings, SEQUENCE OF
	Charset   per.Charset
	Permitted string // permitted alphabet

	Extensible bool     // SEQUENCE, CHOICE, ENUMERATED
	Items      []string // ENUMERATED root names
	ExtItems   []string // ENUMERATED extension names

	Fields       []Field // SEQUENCE
	Alternatives []Field // CHOICE
	Element      TypeID  // SEQUENCE OF

	// Inner is the fixed content of an open type or containing OCTET STRING.
	Inner TypeID
	// Dispatch is set when the content type is decided at decode time.
	Dispatch *Dispatch

	rootFields, extFields []Field
	rootAlts, extAlts     []Field
}

// Schema is an immutable, validated set of types. It is safe for concurrent use.
type Schema struct {
	name   string
	types  []Type
	byName map[string]TypeID
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Len returns the number of types.
func (s *Schema) Len() int { return len(s.types) }

// Type returns the type with the given id. It panics on an invalid id, which
// Build rules out for every reference inside the schema.
func (s *Schema) Type(id TypeID) *Type { return &s.types[id] }

// Lookup finds a type by name.
func (s *Schema) Lookup(name string) (TypeID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

// MustLookup finds a type by name or panics.
func (s *Schema) MustLookup(name string) TypeID {
	id, ok := s.byName[name]
	if !ok {
		panic(fmt.Sprintf("schema %s: unknown type %q", s.name, name))
	}
	return id
}

// Each calls fn for every type in declaration order.
func (s *Schema) Each(fn func(TypeID, *Type)) {
	for i := range s.types {
		fn(TypeID(i), &s.types[i])
	}
}

// RootFields returns the fields before the extension marker.
func (t *Type) RootFields() []Field { return t.rootFields }

// ExtensionFields returns the extension additions.
func (t *Type) ExtensionFields() []Field { return t.extFields }

// RootAlternatives returns the alternatives before the extension marker.
func (t *Type) RootAlternatives() []Field { return t.rootAlts }

// ExtensionAlternatives returns the alternatives added after the marker.
func (t *Type) ExtensionAlternatives() []Field { return t.extAlts }

func filter(fs []Field, ext bool) []Field {
	var out []Field
	for _, f := range fs {
		if f.Extension == ext {
			out = append(out, f)
		}
	}
	return out
}
