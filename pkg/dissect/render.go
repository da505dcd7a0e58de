package dissect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"firestige.xyz/dissect/pkg/diag"
)

// ErrUnknownFormat is returned by Render for an unsupported output format.
var ErrUnknownFormat = errors.New("dissect: unknown output format")

// Output formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type nodeView struct {
	Name     string           `json:"name" yaml:"name"`
	Offset   int              `json:"offset" yaml:"offset"`
	Length   int              `json:"length" yaml:"length"`
	Value    any              `json:"value,omitempty" yaml:"value,omitempty"`
	Text     string           `json:"text,omitempty" yaml:"text,omitempty"`
	Diag     *diag.Diagnostic `json:"diag,omitempty" yaml:"diag,omitempty"`
	Children []*Node          `json:"children,omitempty" yaml:"children,omitempty"`
}

func (n *Node) view() nodeView {
	v := nodeView{
		Name:     n.Name,
		Offset:   n.Offset,
		Length:   n.Length,
		Value:    n.Value(),
		Diag:     n.Diag,
		Children: n.Children,
	}
	if n.Kind != ValueString {
		v.Text = n.Text
	}
	return v
}

// MarshalJSON encodes the node as {name, offset, length, value, children}.
func (n *Node) MarshalJSON() ([]byte, error) { return json.Marshal(n.view()) }

// MarshalYAML encodes the node with the same shape as MarshalJSON.
func (n *Node) MarshalYAML() (any, error) { return n.view(), nil }

type resultView struct {
	Protocol    string             `json:"protocol" yaml:"protocol"`
	Summary     string             `json:"summary,omitempty" yaml:"summary,omitempty"`
	Status      Status             `json:"status" yaml:"status"`
	Diagnostics []*diag.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Tree        *Node              `json:"tree" yaml:"tree"`
}

func (r *Result) view() resultView {
	return resultView{
		Protocol:    r.Protocol,
		Summary:     r.Summary,
		Status:      r.Status,
		Diagnostics: r.Diagnostics,
		Tree:        r.Root,
	}
}

// MarshalJSON encodes the result with its tree.
func (r *Result) MarshalJSON() ([]byte, error) { return json.Marshal(r.view()) }

// MarshalYAML encodes the result with its tree.
func (r *Result) MarshalYAML() (any, error) { return r.view(), nil }

// Render serializes a result in the given format.
func Render(r *Result, format string) ([]byte, error) {
	switch format {
	case FormatText, "":
		var buf bytes.Buffer
		err := WriteText(&buf, r)
		return buf.Bytes(), err
	case FormatJSON:
		return json.Marshal(r)
	case FormatYAML:
		return yaml.Marshal(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteText writes an indented "name: value" tree.
func WriteText(w io.Writer, r *Result) error {
	head := r.Protocol
	if r.Summary != "" {
		head += ", " + r.Summary
	}
	if r.Status == StatusAborted {
		head += " [aborted]"
	}
	if _, err := fmt.Fprintln(w, head); err != nil {
		return err
	}
	return writeNode(w, r.Root, 1)
}

func writeNode(w io.Writer, n *Node, depth int) error {
	if n == nil {
		return nil
	}
	line := strings.Repeat("    ", depth) + n.Name
	if v := n.Display(); v != "" {
		line += ": " + v
	}
	if n.Diag != nil {
		line += "  <" + n.Diag.String() + ">"
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := writeNode(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
