package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/per"
	"firestige.xyz/dissect/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Dump the type table of a PER-encoded protocol",
	Long: `Print the ASN.1 types a PER protocol decoder is built from, as YAML.

Examples:
  dissect schema --proto m3ap
  dissect schema --proto t38 --type IFPPacket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := newProtocols(globalConfig)
		if err != nil {
			return err
		}
		return runSchema(cmd.OutOrStdout(), set, schemaProto, schemaType)
	},
}

var (
	schemaProto string
	schemaType  string
)

func init() {
	schemaCmd.Flags().StringVarP(&schemaProto, "proto", "p", "m3ap", "protocol: m3ap, h460 or t38")
	schemaCmd.Flags().StringVarP(&schemaType, "type", "t", "", "dump only this type")
}

type fieldView struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Optional  bool   `yaml:"optional,omitempty"`
	Extension bool   `yaml:"extension,omitempty"`
}

type typeView struct {
	ID         int               `yaml:"id"`
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Range      string            `yaml:"range,omitempty"`
	Size       string            `yaml:"size,omitempty"`
	Extensible bool              `yaml:"extensible,omitempty"`
	Items      []string          `yaml:"items,omitempty"`
	ExtItems   []string          `yaml:"ext_items,omitempty"`
	Named      map[int64]string  `yaml:"named,omitempty"`
	Fields     []fieldView       `yaml:"fields,omitempty"`
	Element    string            `yaml:"element,omitempty"`
	Inner      string            `yaml:"inner,omitempty"`
	Dispatch   map[string]string `yaml:"dispatch,omitempty"`
}

type schemaView struct {
	Schema string     `yaml:"schema"`
	Types  []typeView `yaml:"types"`
}

func runSchema(w io.Writer, set *protocols.Set, proto, only string) error {
	sc, ok := set.Schema(proto)
	if !ok {
		return fmt.Errorf("protocol %q has no schema (one of m3ap, h460, t38)", proto)
	}
	if only != "" {
		if _, ok := sc.Lookup(only); !ok {
			return fmt.Errorf("schema %s has no type %q", sc.Name(), only)
		}
	}

	view := schemaView{Schema: sc.Name()}
	sc.Each(func(id schema.TypeID, t *schema.Type) {
		if only != "" && t.Name != only {
			return
		}
		view.Types = append(view.Types, viewType(sc, id, t))
	})

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func viewType(sc *schema.Schema, id schema.TypeID, t *schema.Type) typeView {
	name := func(ref schema.TypeID) string {
		if n := sc.Type(ref).Name; n != "" {
			return n
		}
		return fmt.Sprintf("#%d", ref)
	}

	v := typeView{
		ID:         int(id),
		Name:       t.Name,
		Kind:       t.Kind.String(),
		Extensible: t.Extensible,
		Items:      t.Items,
		ExtItems:   t.ExtItems,
		Named:      t.Named,
	}
	switch t.Kind {
	case schema.KindInteger:
		if r := t.Range; r != nil {
			v.Range = fmt.Sprintf("%d..%d", r.Lb, r.Ub)
			if r.SemiOnly {
				v.Range = fmt.Sprintf("%d..MAX", r.Lb)
			}
			if r.Extensible {
				v.Range += ", ..."
			}
		}
	case schema.KindBitString, schema.KindOctetString, schema.KindString:
		v.Size = sizeString(t.Size)
	case schema.KindSequenceOf:
		v.Size = sizeString(t.Size)
		v.Element = name(t.Element)
	case schema.KindSequence, schema.KindChoice:
		fields := t.Fields
		if t.Kind == schema.KindChoice {
			fields = t.Alternatives
		}
		for _, f := range fields {
			v.Fields = append(v.Fields, fieldView{
				Name:      f.Name,
				Type:      name(f.Type),
				Optional:  f.Optional,
				Extension: f.Extension,
			})
		}
	}
	if t.Dispatch != nil {
		v.Dispatch = map[string]string{"table": t.Dispatch.Table, "key": t.Dispatch.Key.String()}
		if t.Dispatch.Suffix != schema.CtxNone {
			v.Dispatch["suffix"] = t.Dispatch.Suffix.String()
		}
	} else if t.Inner != schema.NoType {
		v.Inner = name(t.Inner)
	}
	return v
}

func sizeString(s per.SizeRange) string {
	var b strings.Builder
	switch {
	case s.Ub == per.Unbounded && s.Lb == 0:
		return ""
	case s.Ub == per.Unbounded:
		fmt.Fprintf(&b, "SIZE(%d..MAX", s.Lb)
	case s.Lb == s.Ub:
		fmt.Fprintf(&b, "SIZE(%d", s.Lb)
	default:
		fmt.Fprintf(&b, "SIZE(%d..%d", s.Lb, s.Ub)
	}
	if s.Extensible {
		b.WriteString(", ...")
	}
	b.WriteString(")")
	return b.String()
}
