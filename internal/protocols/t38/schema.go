package t38

import (
	"firestige.xyz/dissect/pkg/per"
	"firestige.xyz/dissect/pkg/schema"
)

// Data field types as ENUMERATED indices.
const (
	FieldHDLCData = iota
	FieldHDLCSigEnd
	FieldHDLCFCSOK
	FieldHDLCFCSBad
	FieldHDLCFCSOKSigEnd
	FieldHDLCFCSBadSigEnd
	FieldT4NonECMData
	FieldT4NonECMSigEnd
)

var t38Schema = buildSchema()

// Schema returns the T.38 (2002) UDPTL and IFP types.
func Schema() *schema.Schema { return t38Schema }

func buildSchema() *schema.Schema {
	b := schema.NewBuilder("t38")
	F, Opt := schema.F, schema.Opt

	indicator := b.Add("T30-Indicator", schema.EnumeratedExt([]string{
		"no-signal", "cng", "ced", "v21-preamble",
		"v27-2400-training", "v27-4800-training",
		"v29-7200-training", "v29-9600-training",
		"v17-7200-short-training", "v17-7200-long-training",
		"v17-9600-short-training", "v17-9600-long-training",
		"v17-12000-short-training", "v17-12000-long-training",
		"v17-14400-short-training", "v17-14400-long-training",
	},
		"v8-ansam", "v8-signal", "v34-cntl-channel-1200", "v34-pri-channel",
		"v34-CC-retrain", "v33-12000-training", "v33-14400-training",
	))
	data := b.Add("T30-Data", schema.EnumeratedExt([]string{
		"v21", "v27-2400", "v27-4800", "v29-7200", "v29-9600",
		"v17-7200", "v17-9600", "v17-12000", "v17-14400",
	},
		"v8", "v34-pri-rate", "v34-CC-1200", "v34-pri-ch", "v33-12000", "v33-14400",
	))
	typeOfMsg := b.Add("Type-of-msg", schema.Choice(false,
		F("t30-indicator", indicator),
		F("t30-data", data),
	))

	fieldType := b.Add("Field-type", schema.EnumeratedExt([]string{
		"hdlc-data", "hdlc-sig-end", "hdlc-fcs-OK", "hdlc-fcs-BAD",
		"hdlc-fcs-OK-sig-end", "hdlc-fcs-BAD-sig-end",
		"t4-non-ecm-data", "t4-non-ecm-sig-end",
	},
		"cm-message", "jm-message", "ci-message", "v34rate",
	))
	field := b.Add("Data-Field-Item", schema.Sequence(false,
		F("field-type", fieldType),
		Opt("field-data", b.Add("Field-data", schema.OctetString(per.Size(1, 65535)))),
	))

	ifp := b.Add("IFPPacket", schema.Sequence(false,
		F("type-of-msg", typeOfMsg),
		Opt("data-field", b.Add("Data-Field", schema.SequenceOf(field, per.AnySize()))),
	))
	ifpOpen := b.Add("IFPOpenType", schema.OpenType(ifp))

	b.Add("UDPTLPacket", schema.Sequence(false,
		F("seq-number", b.Add("Seq-number", schema.Integer(0, 65535))),
		F("primary-ifp-packet", ifpOpen),
		F("error-recovery", b.Add("Error-recovery", schema.Choice(false,
			F("secondary-ifp-packets", b.Add("Secondary-ifp-packets", schema.SequenceOf(ifpOpen, per.AnySize()))),
			F("fec-info", b.Add("Fec-info", schema.Sequence(false,
				F("fec-npackets", b.Add("Fec-npackets", schema.UnconstrainedInteger())),
				F("fec-data", b.Add("Fec-data", schema.SequenceOf(
					b.Add("Fec-data-item", schema.OctetString(per.AnySize())), per.AnySize()))),
			))),
		))),
	))

	return b.MustBuild()
}
