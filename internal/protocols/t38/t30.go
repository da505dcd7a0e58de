package t38

import (
	"fmt"
	"strings"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

const (
	hdlcAddress   = 0xff
	controlFinal  = 0x10
	controlMask   = 0xef
	controlUI     = 0x03
	identifierLen = 20
)

// T.30 facsimile control field values. Values with the top bit set are only
// meaningful with it; the others are looked up with the X bit masked.
var fcfNames = map[byte]string{
	0x01: "DIS", 0x02: "CSI", 0x04: "NSF",
	0x81: "DTC", 0x82: "CIG", 0x84: "NSC", 0x83: "PWD", 0x85: "SEP",
	0x86: "PSA", 0x87: "CIA", 0x88: "ISP",
	0x41: "DCS", 0x42: "TSI", 0x44: "NSS", 0x43: "SUB", 0x45: "SID",
	0x46: "TSA", 0x47: "IRA",
	0x21: "CFR", 0x22: "FTT", 0x24: "CSA",
	0x71: "EOM", 0x72: "MPS", 0x74: "EOP",
	0x79: "PRI-EOM", 0x7a: "PRI-MPS", 0x7c: "PRI-EOP",
	0x31: "MCF", 0x33: "RTP", 0x32: "RTN", 0x35: "PIP", 0x34: "PIN",
	0x3f: "FDM", 0x5f: "DCN", 0x58: "CRP", 0x53: "FNV", 0x57: "TNR",
	0x56: "TR", 0x36: "PID", 0x7d: "PPS", 0x3d: "PPR", 0x76: "RR",
	0x48: "CTC", 0x23: "CTR", 0x38: "ERR", 0x37: "RNR", 0x73: "EOR",
	0x60: "FCD", 0x61: "RCP",
}

// identifier frames carry a 20 digit number, last digit first
var identifierFrames = map[string]bool{
	"CSI": true, "CIG": true, "TSI": true, "PWD": true,
	"SEP": true, "SUB": true, "SID": true, "PSA": true,
}

// FCFName returns the name of a facsimile control field octet.
func FCFName(fcf byte) (string, bool) {
	if name, ok := fcfNames[fcf]; ok {
		return name, true
	}
	name, ok := fcfNames[fcf&0x7f]
	return name, ok
}

// DecodeT30 decodes one reassembled HDLC frame carrying a T.30 control
// message.
func DecodeT30(frame []byte) *dissect.Result {
	root := dissect.Group("t30", 0, len(frame))
	if len(frame) < 3 {
		data := dissect.Raw("data", 0, frame)
		data.Annotate(diag.New(diag.Truncated, "HDLC frame of %d bytes, need 3", len(frame)))
		root.Add(data)
		return dissect.NewResult("t30", root, "")
	}

	addr := dissect.Uint("address", 0, 1, uint64(frame[0]))
	if frame[0] != hdlcAddress {
		addr.Annotate(diag.New(diag.Malformation, "HDLC address 0x%02x, want 0xff", frame[0]).
			WithSeverity(diag.Warning))
	}
	root.Add(addr)

	control := dissect.Group("control", 1, 1,
		dissect.Flag("final", 1, 1, frame[1]&controlFinal != 0))
	control.Kind, control.Int = dissect.ValueInt, int64(frame[1])
	if frame[1]&controlMask != controlUI {
		control.Annotate(diag.New(diag.Malformation, "HDLC control 0x%02x is not a UI frame", frame[1]).
			WithSeverity(diag.Warning))
	}
	root.Add(control)

	name, known := FCFName(frame[2])
	fcf := dissect.Named("fcf", 2, 1, uint64(frame[2]), name)
	if !known {
		fcf.Text = fmt.Sprintf("unknown FCF 0x%02x", frame[2])
		fcf.Annotate(diag.New(diag.Undecoded, "unknown facsimile control field 0x%02x", frame[2]))
	}
	root.Add(fcf)

	summary := fcf.Text
	if fif := frame[3:]; len(fif) > 0 {
		n := dissect.Raw("fif", 3, fif)
		if identifierFrames[name] {
			id := identifier(fif)
			n.Add(dissect.Str("number", 3, len(fif), id))
			summary += " " + id
		}
		root.Add(n)
	}
	return dissect.NewResult("t30", root, summary)
}

// identifier reverses a T.30 numeric identifier field.
func identifier(b []byte) string {
	if len(b) > identifierLen {
		b = b[:identifierLen]
	}
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return strings.TrimSpace(string(out))
}
