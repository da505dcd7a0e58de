// Package h460 implements the H.460 generic extensible framework decoder.
// Feature descriptors are H.225.0 GenericData values; raw parameter content
// is resolved through one registry table per feature.
package h460

import (
	"fmt"
	"strconv"

	"firestige.xyz/dissect/pkg/dissect"
)

// Name is the protocol name.
const Name = "h460"

var features = map[int64]string{
	9:  "QoS monitoring reporting",
	18: "NAT/FW traversal signalling",
	19: "NAT/FW traversal media",
	22: "Security protocol negotiation",
	23: "NAT detection",
	24: "Direct media",
	26: "H.225.0 over UDP",
}

// feature parameters carried as raw content: feature -> parameter -> type
var parameters = map[int]map[uint32]string{
	18: {
		1: "IncomingCallIndication",
		2: "LRQKeepAliveData",
	},
	19: {
		1: "TraversalParameters",
	},
}

// Table returns the registry table of a standard feature.
func Table(feature int) string {
	return TablePrefix + "/" + strconv.Itoa(feature)
}

// Register creates the H.460 decoder and adds the feature tables to reg.
func Register(reg *dissect.Registry) (*dissect.Decoder, error) {
	d, err := dissect.NewDecoder(dissect.Protocol{
		Name:      Name,
		Schema:    Schema(),
		Root:      "GenericData",
		Aligned:   true,
		Registry:  reg,
		Summarize: Summary,
	})
	if err != nil {
		return nil, err
	}
	for feature, params := range parameters {
		for id, typ := range params {
			if err := reg.Register(Table(feature), id, d.DecodeFn(typ)); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Summary labels a feature descriptor, e.g. "H.460.18 NAT/FW traversal
// signalling, 2 parameters".
func Summary(root *dissect.Node) string {
	id := root.Child("id")
	if id == nil || len(id.Children) == 0 {
		return ""
	}
	var label string
	switch alt := id.Children[0]; id.Text {
	case "standard":
		label = fmt.Sprintf("H.460.%d", alt.Int)
		if name, ok := features[alt.Int]; ok {
			label += " " + name
		}
	case "oid":
		label = "feature " + alt.Text
	default:
		label = "non-standard feature " + alt.Display()
	}
	if params := root.Child("parameters"); params != nil {
		label += fmt.Sprintf(", %d parameter(s)", params.Int)
	}
	return label
}
