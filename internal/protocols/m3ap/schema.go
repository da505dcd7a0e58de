package m3ap

import (
	"firestige.xyz/dissect/pkg/per"
	"firestige.xyz/dissect/pkg/schema"
)

const (
	maxProtocolIEs                         = 65535
	maxProtocolExtensions                  = 65535
	maxPrivateIEs                          = 65535
	maxNrOfErrors                          = 256
	maxNrOfIndividualM3ConnectionsToReset  = 256
	maxnoofCellsforMBMS                    = 4096
	maxnoofMBMSServiceAreaIdentitiesPerMCE = 65536
)

// Registry tables used by the M3AP schema.
const (
	TableInitiating   = "m3ap.initiating"
	TableSuccessful   = "m3ap.successful"
	TableUnsuccessful = "m3ap.unsuccessful"
	TableIEs          = "m3ap.ies"
	TableExtensions   = "m3ap.extensions"
	TablePrivate      = "m3ap.private"
)

// Schema returns the M3AP type arena (3GPP TS 36.444 subset).
func Schema() *schema.Schema { return m3apSchema }

var m3apSchema = buildSchema()

func buildSchema() *schema.Schema {
	b := schema.NewBuilder("m3ap")
	F, Opt := schema.F, schema.Opt

	criticality := b.Add("Criticality", schema.Enumerated("reject", "ignore", "notify"))
	procedureCode := b.Add("ProcedureCode", schema.Integer(0, 255).WithNames(procedureNames()))
	ieID := b.Add("ProtocolIE-ID", schema.Integer(0, maxProtocolIEs).WithNames(ieNames()))

	// containers
	extValue := b.Add("ProtocolExtensionValue", schema.OpenTypeBy(schema.Dispatch{Table: TableExtensions, Key: schema.CtxIETag}))
	extField := b.Add("ProtocolExtensionField", schema.Sequence(false,
		F("id", ieID).Setting(schema.CtxIETag),
		F("criticality", criticality),
		F("extensionValue", extValue),
	))
	extContainer := b.Add("ProtocolExtensionContainer", schema.SequenceOf(extField, per.Size(1, maxProtocolExtensions)))
	ieExt := Opt("iE-Extensions", extContainer)

	ieValue := b.Add("ProtocolIEValue", schema.OpenTypeBy(schema.Dispatch{Table: TableIEs, Key: schema.CtxIETag}))
	ieField := b.Add("ProtocolIE-Field", schema.Sequence(false,
		F("id", ieID).Setting(schema.CtxIETag),
		F("criticality", criticality),
		F("value", ieValue),
	))
	ieContainer := b.Add("ProtocolIE-Container", schema.SequenceOf(ieField, per.Size(0, maxProtocolIEs)))

	privateID := b.Add("PrivateIE-ID", schema.Choice(false,
		F("local", b.Add("PrivateIE-ID-local", schema.Integer(0, 65535))),
		F("global", b.Add("PrivateIE-ID-global", schema.ObjectID())),
	))
	privateValue := b.Add("PrivateIEValue", schema.OpenTypeBy(schema.Dispatch{Table: TablePrivate, Key: schema.CtxIETag}))
	privateField := b.Add("PrivateIE-Field", schema.Sequence(false,
		F("id", privateID).Setting(schema.CtxIETag),
		F("criticality", criticality),
		F("value", privateValue),
	))
	privateContainer := b.Add("PrivateIE-Container", schema.SequenceOf(privateField, per.Size(1, maxPrivateIEs)))

	// elementary procedures
	for _, p := range procedures {
		for _, m := range []message{p.initiating, p.successful, p.unsuccessful} {
			if m.typ == "" {
				continue
			}
			if m.typ == "PrivateMessage" {
				b.Add(m.typ, schema.Sequence(true, F("privateIEs", privateContainer)))
				continue
			}
			b.Add(m.typ, schema.Sequence(true, F("protocolIEs", ieContainer)))
		}
	}

	pdu := func(name, table string) schema.TypeID {
		value := b.Add(name+"Value", schema.OpenTypeBy(schema.Dispatch{Table: table, Key: schema.CtxProcedureCode}))
		return b.Add(name, schema.Sequence(false,
			F("procedureCode", procedureCode).Setting(schema.CtxProcedureCode),
			F("criticality", criticality),
			F("value", value),
		))
	}
	b.Add("M3AP-PDU", schema.Choice(true,
		F("initiatingMessage", pdu("InitiatingMessage", TableInitiating)),
		F("successfulOutcome", pdu("SuccessfulOutcome", TableSuccessful)),
		F("unsuccessfulOutcome", pdu("UnsuccessfulOutcome", TableUnsuccessful)),
	))

	// information elements
	m3apID := schema.Integer(0, 65535)
	b.Add("MME-MBMS-M3AP-ID", m3apID)
	b.Add("MCE-MBMS-M3AP-ID", m3apID)

	plmn := b.Add("PLMN-Identity", schema.OctetString(per.FixedSize(3)))
	b.Add("TMGI", schema.Sequence(true,
		F("pLMNidentity", plmn),
		F("serviceID", b.Add("ServiceID", schema.OctetString(per.FixedSize(3)))),
		ieExt,
	))
	b.Add("MBMS-Session-ID", schema.OctetString(per.FixedSize(1)))

	bitRate := b.Add("BitRate", schema.Integer(0, 10000000000))
	gbr := b.Add("GBR-QosInformation", schema.Sequence(true,
		F("mBMS-E-RAB-MaximumBitrateDL", bitRate),
		F("mBMS-E-RAB-GuaranteedBitrateDL", bitRate),
		ieExt,
	))
	arp := b.Add("AllocationAndRetentionPriority", schema.Sequence(true,
		F("priorityLevel", b.Add("PriorityLevel", schema.Integer(0, 15).WithNames(map[int64]string{
			0: "spare", 1: "highest", 14: "lowest", 15: "no-priority",
		}))),
		F("pre-emptionCapability", b.Add("Pre-emptionCapability",
			schema.Enumerated("shall-not-trigger-pre-emption", "may-trigger-pre-emption"))),
		F("pre-emptionVulnerability", b.Add("Pre-emptionVulnerability",
			schema.Enumerated("not-pre-emptable", "pre-emptable"))),
		ieExt,
	))
	b.Add("MBMS-E-RAB-QoS-Parameters", schema.Sequence(true,
		F("qCI", b.Add("QCI", schema.Integer(0, 255))),
		Opt("gbrQosInformation", gbr),
		F("allocationAndRetentionPriority", arp),
		ieExt,
	))
	b.Add("MBMS-Session-Duration", schema.OctetString(per.FixedSize(3)))
	b.Add("MBMS-Service-Area", schema.OctetString(per.AnySize()))

	ipAddress := b.Add("IPAddress", schema.OctetString(per.Size(4, 16).Ext()))
	tnl := schema.Sequence(true,
		F("iPMCAddress", ipAddress),
		F("iPSourceAddress", ipAddress),
		F("gTP-DLTEID", b.Add("GTP-TEID", schema.OctetString(per.FixedSize(4)))),
		ieExt,
	)
	b.Add("TNL-Information", tnl)
	b.Add("Alternative-TNL-Information", tnl)

	ieCritItem := b.Add("CriticalityDiagnostics-IE-Item", schema.Sequence(true,
		F("iECriticality", criticality),
		F("iE-ID", ieID),
		F("typeOfError", b.Add("TypeOfError", schema.EnumeratedExt([]string{"not-understood", "missing"}))),
		ieExt,
	))
	b.Add("CriticalityDiagnostics", schema.Sequence(true,
		Opt("procedureCode", procedureCode),
		Opt("triggeringMessage", b.Add("TriggeringMessage",
			schema.Enumerated("initiating-message", "successful-outcome", "unsuccessful-outcome"))),
		Opt("procedureCriticality", criticality),
		Opt("iEsCriticalityDiagnostics", b.Add("CriticalityDiagnostics-IE-List",
			schema.SequenceOf(ieCritItem, per.Size(1, maxNrOfErrors)))),
		ieExt,
	))

	b.Add("Cause", schema.Choice(true,
		F("radioNetwork", b.Add("CauseRadioNetwork", schema.EnumeratedExt([]string{
			"unknown-or-already-allocated-MME-MBMS-M3AP-ID",
			"unknown-or-already-allocated-MCE-MBMS-M3AP-ID",
			"unknown-or-inconsistent-pair-of-MBMS-M3AP-IDs",
			"radio-resources-not-available",
			"invalid-QoS-combination",
			"interaction-with-other-procedure",
			"not-supported-QCI-value",
			"unspecified",
		}, "uninvolved-MCE"))),
		F("transport", b.Add("CauseTransport", schema.EnumeratedExt([]string{
			"transport-resource-unavailable", "unspecified",
		}))),
		F("nAS", b.Add("CauseNAS", schema.EnumeratedExt([]string{"unspecified"}))),
		F("protocol", b.Add("CauseProtocol", schema.EnumeratedExt([]string{
			"transfer-syntax-error",
			"abstract-syntax-error-reject",
			"abstract-syntax-error-ignore-and-notify",
			"message-not-compatible-with-receiver-state",
			"semantic-error",
			"abstract-syntax-error-falsely-constructed-message",
			"unspecified",
		}))),
		F("misc", b.Add("CauseMisc", schema.EnumeratedExt([]string{
			"control-processing-overload",
			"not-enough-user-plane-processing-resources",
			"hardware-failure",
			"om-intervention",
			"unspecified",
		}))),
	))

	serviceArea1 := b.Add("MBMSServiceArea1", schema.OctetString(per.FixedSize(2)))
	areaList := schema.SequenceOf(serviceArea1, per.Size(1, maxnoofMBMSServiceAreaIdentitiesPerMCE))
	b.Add("MBMS-Service-Area-List", areaList)
	b.Add("MBMSServiceAreaListItem", areaList)
	b.Add("MBMS-Service-Area-List-Item", schema.OctetString(per.FixedSize(2)))

	b.Add("TimeToWait", schema.EnumeratedExt([]string{"v1s", "v2s", "v5s", "v10s", "v20s", "v60s"}))

	singleContainer := b.Add("ProtocolIE-Single-Container", schema.Sequence(false,
		F("id", ieID).Setting(schema.CtxIETag),
		F("criticality", criticality),
		F("value", ieValue),
	))
	connList := schema.SequenceOf(singleContainer, per.Size(1, maxNrOfIndividualM3ConnectionsToReset))
	b.Add("ResetType", schema.Choice(true,
		F("m3-Interface", b.Add("ResetAll", schema.EnumeratedExt([]string{"reset-all"}))),
		F("partOfM3-Interface", b.Add("MBMS-Service-associatedLogicalM3-ConnectionListRes", connList)),
	))
	b.Add("MBMS-Service-associatedLogicalM3-ConnectionListResAck", connList)
	b.Add("MBMS-Service-associatedLogicalM3-ConnectionItem", schema.Sequence(true,
		Opt("mME-MBMS-M3AP-ID", b.Declare("MME-MBMS-M3AP-ID")),
		Opt("mCE-MBMS-M3AP-ID", b.Declare("MCE-MBMS-M3AP-ID")),
		ieExt,
	))

	b.Add("MinimumTimeToMBMSDataTransfer", schema.OctetString(per.FixedSize(1)))
	b.Add("Global-MCE-ID", schema.Sequence(true,
		F("pLMN-Identity", plmn),
		F("mCE-ID", b.Add("MCE-ID", schema.OctetString(per.FixedSize(2)))),
		ieExt,
	))
	b.Add("MCEname", schema.String(per.PrintableString, per.Size(1, 150).Ext()))

	absTime := schema.BitString(per.FixedSize(64))
	b.Add("Time-ofMBMS-DataTransfer", absTime)
	b.Add("Time-ofMBMS-DataStop", absTime)
	b.Add("Reestablishment", schema.EnumeratedExt([]string{"true"}))

	ecgi := b.Add("ECGI", schema.Sequence(true,
		F("pLMN-Identity", plmn),
		F("eUTRANcellIdentifier", b.Add("EUTRANCellIdentifier", schema.BitString(per.FixedSize(28)))),
		ieExt,
	))
	b.Add("MBMS-Cell-List", schema.SequenceOf(ecgi, per.Size(1, maxnoofCellsforMBMS)))

	return b.MustBuild()
}
