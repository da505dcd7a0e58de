// Package m3ap implements the M3 Application Protocol (3GPP TS 36.444)
// decoder: aligned PER messages whose IEs are resolved through registry
// tables keyed by procedure code and ProtocolIE-ID.
package m3ap

import (
	"fmt"

	"firestige.xyz/dissect/pkg/dissect"
)

// Transport identification.
const (
	Name     = "m3ap"
	PPID     = 43
	SCTPPort = 36444
)

type message struct {
	typ   string // schema type name
	label string
}

type procedure struct {
	code         uint32
	name         string
	initiating   message
	successful   message
	unsuccessful message
}

var procedures = []procedure{
	{0, "mBMSsessionStart",
		message{"MBMSSessionStartRequest", "MBMS Session Start Request"},
		message{"MBMSSessionStartResponse", "MBMS Session Start Response"},
		message{"MBMSSessionStartFailure", "MBMS Session Start Failure"}},
	{1, "mBMSsessionStop",
		message{"MBMSSessionStopRequest", "MBMS Session Stop Request"},
		message{"MBMSSessionStopResponse", "MBMS Session Stop Response"},
		message{}},
	{2, "errorIndication",
		message{"ErrorIndication", "Error Indication"}, message{}, message{}},
	{3, "privateMessage",
		message{"PrivateMessage", "Private Message"}, message{}, message{}},
	{4, "reset",
		message{"Reset", "Reset"},
		message{"ResetAcknowledge", "Reset Acknowledge"},
		message{}},
	{5, "mBMSsessionUpdate",
		message{"MBMSSessionUpdateRequest", "MBMS Session Update Request"},
		message{"MBMSSessionUpdateResponse", "MBMS Session Update Response"},
		message{"MBMSSessionUpdateFailure", "MBMS Session Update Failure"}},
	{6, "mCEConfigurationUpdate",
		message{"MCEConfigurationUpdate", "MCE Configuration Update"},
		message{"MCEConfigurationUpdateAcknowledge", "MCE Configuration Update Acknowledge"},
		message{"MCEConfigurationUpdateFailure", "MCE Configuration Update Failure"}},
	{7, "m3Setup",
		message{"M3SetupRequest", "M3 Setup Request"},
		message{"M3SetupResponse", "M3 Setup Response"},
		message{"M3SetupFailure", "M3 Setup Failure"}},
}

// ProtocolIE-ID values and the types they carry.
var ies = []struct {
	id   uint32
	name string
	typ  string
}{
	{0, "id-MME-MBMS-M3AP-ID", "MME-MBMS-M3AP-ID"},
	{1, "id-MCE-MBMS-M3AP-ID", "MCE-MBMS-M3AP-ID"},
	{2, "id-TMGI", "TMGI"},
	{3, "id-MBMS-Session-ID", "MBMS-Session-ID"},
	{4, "id-MBMS-E-RAB-QoS-Parameters", "MBMS-E-RAB-QoS-Parameters"},
	{5, "id-MBMS-Session-Duration", "MBMS-Session-Duration"},
	{6, "id-MBMS-Service-Area", "MBMS-Service-Area"},
	{7, "id-TNL-Information", "TNL-Information"},
	{8, "id-CriticalityDiagnostics", "CriticalityDiagnostics"},
	{9, "id-Cause", "Cause"},
	{10, "id-MBMS-Service-Area-List", "MBMS-Service-Area-List"},
	{11, "id-MBMS-Service-Area-List-Item", "MBMS-Service-Area-List-Item"},
	{12, "id-TimeToWait", "TimeToWait"},
	{13, "id-ResetType", "ResetType"},
	{14, "id-MBMS-Service-associatedLogicalM3-ConnectionItem", "MBMS-Service-associatedLogicalM3-ConnectionItem"},
	{15, "id-MBMS-Service-associatedLogicalM3-ConnectionListResAck", "MBMS-Service-associatedLogicalM3-ConnectionListResAck"},
	{16, "id-MinimumTimeToMBMSDataTransfer", "MinimumTimeToMBMSDataTransfer"},
	{17, "id-AllocationAndRetentionPriority", "AllocationAndRetentionPriority"},
	{18, "id-Global-MCE-ID", "Global-MCE-ID"},
	{19, "id-MCEname", "MCEname"},
	{20, "id-MBMSServiceAreaList", "MBMSServiceAreaListItem"},
	{21, "id-Time-ofMBMS-DataTransfer", "Time-ofMBMS-DataTransfer"},
	{22, "id-Time-ofMBMS-DataStop", "Time-ofMBMS-DataStop"},
	{23, "id-Reestablishment", "Reestablishment"},
	{24, "id-Alternative-TNL-Information", "Alternative-TNL-Information"},
	{25, "id-MBMS-Cell-List", "MBMS-Cell-List"},
}

func procedureNames() map[int64]string {
	out := make(map[int64]string, len(procedures))
	for _, p := range procedures {
		out[int64(p.code)] = p.name
	}
	return out
}

func ieNames() map[int64]string {
	out := make(map[int64]string, len(ies))
	for _, ie := range ies {
		out[int64(ie.id)] = ie.name
	}
	return out
}

// Register creates the M3AP decoder and adds its procedure and IE tables
// to reg. reg must not be frozen yet.
func Register(reg *dissect.Registry) (*dissect.Decoder, error) {
	d, err := dissect.NewDecoder(dissect.Protocol{
		Name:      Name,
		Schema:    Schema(),
		Root:      "M3AP-PDU",
		Aligned:   true,
		Registry:  reg,
		Summarize: Summary,
	})
	if err != nil {
		return nil, err
	}
	add := func(table string, tag uint32, typ string) error {
		return reg.Register(table, tag, d.DecodeFn(typ))
	}
	for _, p := range procedures {
		for _, e := range []struct {
			table string
			m     message
		}{
			{TableInitiating, p.initiating},
			{TableSuccessful, p.successful},
			{TableUnsuccessful, p.unsuccessful},
		} {
			if e.m.typ == "" {
				continue
			}
			if err := add(e.table, p.code, e.m.typ); err != nil {
				return nil, err
			}
		}
	}
	for _, ie := range ies {
		if err := add(TableIEs, ie.id, ie.typ); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Summary labels a decoded PDU with its message name.
func Summary(root *dissect.Node) string {
	if root == nil || len(root.Children) == 0 {
		return ""
	}
	kind := root.Children[0]
	pc := kind.Child("procedureCode")
	if pc == nil {
		return ""
	}
	for _, p := range procedures {
		if int64(p.code) != pc.Int {
			continue
		}
		var m message
		switch kind.Name {
		case "initiatingMessage":
			m = p.initiating
		case "successfulOutcome":
			m = p.successful
		case "unsuccessfulOutcome":
			m = p.unsuccessful
		}
		if m.label != "" {
			return m.label
		}
	}
	return fmt.Sprintf("Unknown procedure %d", pc.Int)
}
