package dissect

import (
	"strconv"

	"firestige.xyz/dissect/pkg/schema"
)

// Context carries the values an open type needs from its enclosing
// components. It is passed by value down the recursion, so a decode never
// observes state from another decode.
type Context struct {
	Protocol      string
	Frame         uint64
	ProcedureCode uint32
	IETag         uint32
	FeatureID     string
	ParameterID   uint32
	Depth         int
	// MaxDepth overrides the decoder's nesting bound when positive.
	MaxDepth int
}

// With returns a copy of c with key set from the decoded node n.
func (c Context) With(key schema.ContextKey, n *Node) Context {
	v, text := contextValue(n)
	switch key {
	case schema.CtxProcedureCode:
		c.ProcedureCode = v
	case schema.CtxIETag:
		c.IETag = v
	case schema.CtxFeatureID:
		c.FeatureID = text
	case schema.CtxParameterID:
		c.ParameterID = v
	}
	return c
}

// Value returns the numeric value stored under key.
func (c Context) Value(key schema.ContextKey) uint32 {
	switch key {
	case schema.CtxProcedureCode:
		return c.ProcedureCode
	case schema.CtxIETag:
		return c.IETag
	case schema.CtxFeatureID:
		v, _ := strconv.ParseUint(c.FeatureID, 10, 32)
		return uint32(v)
	case schema.CtxParameterID:
		return c.ParameterID
	}
	return 0
}

// Text returns the value stored under key as a table name suffix.
func (c Context) Text(key schema.ContextKey) string {
	if key == schema.CtxFeatureID {
		return c.FeatureID
	}
	return strconv.FormatUint(uint64(c.Value(key)), 10)
}

// contextValue extracts the value of an INTEGER, an OBJECT IDENTIFIER or a
// CHOICE of those.
func contextValue(n *Node) (uint32, string) {
	for n != nil {
		switch n.Kind {
		case ValueInt, ValueEnum:
			return uint32(n.Int), strconv.FormatInt(n.Int, 10)
		case ValueString:
			return 0, n.Text
		case ValueBytes:
			return 0, n.Display()
		}
		if len(n.Children) != 1 {
			break
		}
		n = n.Children[0]
	}
	return 0, ""
}
