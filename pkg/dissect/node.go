package dissect

import (
	"encoding/hex"
	"strconv"
	"strings"

	"firestige.xyz/dissect/pkg/diag"
)

// ValueKind tells which value field of a Node is meaningful.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueInt
	ValueBool
	ValueBytes
	ValueBits
	ValueString
	ValueEnum
	ValueNull
)

// Node is one element of a decode tree. Offset and Length are byte positions
// in the top-level buffer. A tree is built fresh per decode call and owned by
// the caller.
type Node struct {
	Name   string
	Offset int
	Length int

	Kind   ValueKind
	Int    int64
	Bool   bool
	Bytes  []byte
	BitLen int    // ValueBits
	Text   string // string value, enumeration or alternative name, integer label

	Children []*Node
	Diag     *diag.Diagnostic
}

// Uint creates an integer leaf.
func Uint(name string, off, length int, v uint64) *Node {
	return &Node{Name: name, Offset: off, Length: length, Kind: ValueInt, Int: int64(v)}
}

// Flag creates a boolean leaf.
func Flag(name string, off, length int, v bool) *Node {
	return &Node{Name: name, Offset: off, Length: length, Kind: ValueBool, Bool: v}
}

// Raw creates a byte-string leaf.
func Raw(name string, off int, b []byte) *Node {
	return &Node{Name: name, Offset: off, Length: len(b), Kind: ValueBytes, Bytes: b}
}

// Str creates a string leaf.
func Str(name string, off, length int, s string) *Node {
	return &Node{Name: name, Offset: off, Length: length, Kind: ValueString, Text: s}
}

// Named creates an integer leaf carrying a label for its value.
func Named(name string, off, length int, v uint64, label string) *Node {
	return &Node{Name: name, Offset: off, Length: length, Kind: ValueEnum, Int: int64(v), Text: label}
}

// Group creates an interior node.
func Group(name string, off, length int, children ...*Node) *Node {
	return &Node{Name: name, Offset: off, Length: length, Children: children}
}

// Add appends children and returns n.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// Annotate attaches a diagnostic covering the node's byte range.
func (n *Node) Annotate(d *diag.Diagnostic) *Node {
	n.Diag = d.At(n.Offset, n.Length)
	return n
}

// Child returns the first direct child called name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Find follows a path of child names.
func (n *Node) Find(path ...string) *Node {
	for _, p := range path {
		n = n.Child(p)
		if n == nil {
			return nil
		}
	}
	return n
}

// Walk visits n and its descendants depth first until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Shift moves the subtree by delta bytes.
func (n *Node) Shift(delta int) {
	if delta == 0 {
		return
	}
	n.Walk(func(c *Node) bool {
		c.Offset += delta
		if c.Diag != nil {
			c.Diag.Offset += delta
		}
		return true
	})
}

// Diagnostics collects the diagnostics of the subtree in tree order.
func (n *Node) Diagnostics() []*diag.Diagnostic {
	var out []*diag.Diagnostic
	n.Walk(func(c *Node) bool {
		if c.Diag != nil {
			out = append(out, c.Diag)
		}
		return true
	})
	return out
}

// Value returns the node value in a form suitable for serialization.
func (n *Node) Value() any {
	switch n.Kind {
	case ValueInt, ValueEnum:
		return n.Int
	case ValueBool:
		return n.Bool
	case ValueBytes:
		return hex.EncodeToString(n.Bytes)
	case ValueBits:
		return bitText(n.Bytes, n.BitLen)
	case ValueString:
		return n.Text
	}
	return nil
}

// Display renders the value the way the text tree shows it.
func (n *Node) Display() string {
	switch n.Kind {
	case ValueInt:
		if n.Text != "" {
			return n.Text + " (" + strconv.FormatInt(n.Int, 10) + ")"
		}
		return strconv.FormatInt(n.Int, 10)
	case ValueEnum:
		return n.Text + " (" + strconv.FormatInt(n.Int, 10) + ")"
	case ValueBool:
		return strconv.FormatBool(n.Bool)
	case ValueBytes:
		return hex.EncodeToString(n.Bytes)
	case ValueBits:
		return bitText(n.Bytes, n.BitLen)
	case ValueString:
		return strconv.Quote(n.Text)
	case ValueNull:
		return "NULL"
	}
	return n.Text
}

func bitText(b []byte, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		if b[i/8]>>(7-uint(i%8))&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
