package h460

import (
	"firestige.xyz/dissect/pkg/per"
	"firestige.xyz/dissect/pkg/schema"
)

// TablePrefix is the registry table prefix; raw parameter content of feature
// N is dispatched through table "h460/N" by parameter id.
const TablePrefix = "h460"

var h460Schema = buildSchema()

// Schema returns the H.225.0 generic extensible framework types together
// with the feature-specific messages.
func Schema() *schema.Schema { return h460Schema }

func buildSchema() *schema.Schema {
	b := schema.NewBuilder("h460")
	F, Opt, Ext := schema.F, schema.Opt, schema.Ext

	guid := b.Add("GloballyUniqueID", schema.OctetString(per.FixedSize(16)))
	port := b.Add("Port", schema.Integer(0, 65535))
	ipv4 := b.Add("IPv4", schema.OctetString(per.FixedSize(4)))

	genericID := b.Add("GenericIdentifier", schema.Choice(true,
		F("standard", b.Add("StandardID", schema.IntegerExt(0, 16383))),
		F("oid", b.Add("ObjectID", schema.ObjectID())),
		F("nonStandard", guid),
	))

	h221 := b.Add("H221NonStandard", schema.Sequence(true,
		F("t35CountryCode", b.Add("T35CountryCode", schema.Integer(0, 255))),
		F("t35Extension", b.Add("T35Extension", schema.Integer(0, 255))),
		F("manufacturerCode", b.Add("ManufacturerCode", schema.Integer(0, 65535))),
	))
	nonStdParam := b.Add("NonStandardParameter", schema.Sequence(false,
		F("nonStandardIdentifier", b.Add("NonStandardIdentifier", schema.Choice(true,
			F("object", b.Declare("ObjectID")),
			F("h221NonStandard", h221),
		))),
		F("data", b.Add("NonStandardData", schema.OctetString(per.AnySize()))),
	))

	routing := b.Add("Routing", schema.Choice(true,
		F("strict", b.Add("Strict", schema.Null())),
		F("loose", b.Add("Loose", schema.Null())),
	))
	transport := b.Add("TransportAddress", schema.Choice(true,
		F("ipAddress", b.Add("IPAddress", schema.Sequence(false,
			F("ip", ipv4),
			F("port", port),
		))),
		F("ipSourceRoute", b.Add("IPSourceRoute", schema.Sequence(true,
			F("ip", ipv4),
			F("port", port),
			F("route", b.Add("Route", schema.SequenceOf(ipv4, per.AnySize()))),
			F("routing", routing),
		))),
		F("ipxAddress", b.Add("IPXAddress", schema.Sequence(false,
			F("node", b.Add("IPXNode", schema.OctetString(per.FixedSize(6)))),
			F("netnum", b.Add("IPXNetnum", schema.OctetString(per.FixedSize(4)))),
			F("port", b.Add("IPXPort", schema.OctetString(per.FixedSize(2)))),
		))),
		F("ip6Address", b.Add("IP6Address", schema.Sequence(true,
			F("ip", b.Add("IPv6", schema.OctetString(per.FixedSize(16)))),
			F("port", port),
		))),
		F("netBios", b.Add("NetBios", schema.OctetString(per.FixedSize(16)))),
		F("nsap", b.Add("NSAP", schema.OctetString(per.Size(1, 20)))),
		F("nonStandardAddress", nonStdParam),
	))

	alias := b.Add("AliasAddress", schema.Choice(true,
		F("dialledDigits", b.Add("DialledDigits",
			schema.String(per.IA5String, per.Size(1, 128)).WithAlphabet("0123456789#*,"))),
		F("h323-ID", b.Add("H323-ID", schema.String(per.BMPString, per.Size(1, 256)))),
		Ext("url-ID", b.Add("URL-ID", schema.String(per.IA5String, per.Size(1, 512)))),
		Ext("transportID", transport),
		Ext("email-ID", b.Add("Email-ID", schema.String(per.IA5String, per.Size(1, 512)))),
	))

	genericData := b.Declare("GenericData")
	param := b.Declare("EnumeratedParameter")
	content := b.Add("Content", schema.Choice(true,
		F("raw", b.Add("RawContent", schema.OctetString(per.AnySize()).DispatchedBy(schema.Dispatch{
			Table:  TablePrefix,
			Suffix: schema.CtxFeatureID,
			Key:    schema.CtxParameterID,
		}))),
		F("text", b.Add("Text", schema.String(per.IA5String, per.AnySize()))),
		F("unicode", b.Add("Unicode", schema.String(per.BMPString, per.AnySize()))),
		F("bool", b.Add("Bool", schema.Boolean())),
		F("number8", b.Add("Number8", schema.Integer(0, 255))),
		F("number16", b.Add("Number16", schema.Integer(0, 65535))),
		F("number32", b.Add("Number32", schema.Integer(0, 4294967295))),
		F("id", genericID),
		F("alias", alias),
		F("transport", transport),
		F("compound", b.Add("Compound", schema.SequenceOf(param, per.Size(1, 512)))),
		F("nested", b.Add("Nested", schema.SequenceOf(genericData, per.Size(1, 16)))),
	))
	b.Define(param, schema.Sequence(true,
		F("id", genericID).Setting(schema.CtxParameterID),
		Opt("content", content),
	))
	b.Define(genericData, schema.Sequence(true,
		F("id", genericID).Setting(schema.CtxFeatureID),
		Opt("parameters", b.Add("Parameters", schema.SequenceOf(param, per.Size(1, 512)))),
	))

	timeToLive := b.Add("TimeToLive", schema.Integer(1, 4294967295))
	callID := b.Add("CallIdentifier", schema.Sequence(true, F("guid", guid)))

	// H.460.18
	b.Add("IncomingCallIndication", schema.Sequence(true,
		F("callSignallingAddress", transport),
		F("callID", callID),
	))
	b.Add("LRQKeepAliveData", schema.Sequence(true,
		F("lrqKeepAliveInterval", timeToLive),
	))

	// H.460.19
	b.Add("TraversalParameters", schema.Sequence(true,
		Opt("multiplexedMediaChannel", transport),
		Opt("multiplexedMediaControlChannel", transport),
		Opt("multiplexID", b.Add("MultiplexID", schema.Integer(0, 4294967295))),
		Opt("keepAliveChannel", transport),
		Opt("keepAlivePayloadType", b.Add("KeepAlivePayloadType", schema.Integer(0, 127))),
		Opt("keepAliveInterval", timeToLive),
	))

	return b.MustBuild()
}
