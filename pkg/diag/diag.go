// Package diag defines the typed diagnostics attached to decode trees and
// reassembly results.
package diag

import "fmt"

// Severity orders diagnostics from benign to broken input.
type Severity uint8

const (
	Informational Severity = iota
	Warning
	Malformed
)

func (s Severity) String() string {
	switch s {
	case Informational:
		return "informational"
	case Warning:
		return "warning"
	case Malformed:
		return "malformed"
	}
	return fmt.Sprintf("severity(%d)", s)
}

// MarshalText renders the severity by name in JSON and YAML output.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Kind classifies a diagnostic.
type Kind uint8

const (
	Truncated Kind = iota + 1
	ValueOutOfRange
	Malformation
	Undecoded
	UnderConsumed
	ChoiceSelectorUnrecognized
	DepthExceeded
	Overlap
	OverlapConflict
	EndWithoutData
	ReassemblyLimit
)

var kinds = map[Kind]struct {
	name     string
	severity Severity
}{
	Truncated:                  {"truncated", Malformed},
	ValueOutOfRange:            {"value_out_of_range", Malformed},
	Malformation:               {"malformed", Malformed},
	Undecoded:                  {"undecoded", Informational},
	UnderConsumed:              {"under_consumed", Warning},
	ChoiceSelectorUnrecognized: {"choice_selector_unrecognized", Informational},
	DepthExceeded:              {"depth_exceeded", Malformed},
	Overlap:                    {"overlap", Informational},
	OverlapConflict:            {"overlap_conflict", Warning},
	EndWithoutData:             {"end_without_data", Warning},
	ReassemblyLimit:            {"reassembly_limit", Warning},
}

func (k Kind) String() string {
	if d, ok := kinds[k]; ok {
		return d.name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DefaultSeverity returns the severity a diagnostic of kind k carries unless
// overridden.
func (k Kind) DefaultSeverity() Severity {
	if d, ok := kinds[k]; ok {
		return d.severity
	}
	return Warning
}

// Diagnostic is one (kind, severity, message, byte range) record.
type Diagnostic struct {
	Kind     Kind     `json:"kind" yaml:"kind"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	Offset   int      `json:"offset" yaml:"offset"`
	Length   int      `json:"length" yaml:"length"`
}

// New creates a diagnostic with the default severity of kind.
func New(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Kind:     kind,
		Severity: kind.DefaultSeverity(),
		Message:  fmt.Sprintf(format, args...),
	}
}

// At sets the byte range the diagnostic refers to.
func (d *Diagnostic) At(offset, length int) *Diagnostic {
	d.Offset = offset
	d.Length = length
	return d
}

// WithSeverity overrides the default severity.
func (d *Diagnostic) WithSeverity(s Severity) *Diagnostic {
	d.Severity = s
	return d
}

func (d *Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Kind, d.Message)
}

// Worst returns the highest severity in ds, or Informational when empty.
func Worst(ds []*Diagnostic) Severity {
	s := Informational
	for _, d := range ds {
		if d.Severity > s {
			s = d.Severity
		}
	}
	return s
}
