package m3ap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/per"
)

const (
	critReject = 0
	critIgnore = 1
)

func newDecoder(t *testing.T) *dissect.Decoder {
	t.Helper()
	reg := dissect.NewRegistry()
	d, err := Register(reg)
	require.NoError(t, err)
	reg.Freeze()
	return d
}

type ie struct {
	id    int64
	crit  uint32
	value []byte
}

func encode(t *testing.T, fn func(w *per.Writer)) []byte {
	t.Helper()
	w := per.NewWriter(true)
	fn(w)
	return w.Bytes()
}

// encodeMessage encodes a SEQUENCE { protocolIEs ProtocolIE-Container, ... }.
func encodeMessage(t *testing.T, fields ...ie) []byte {
	return encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteLength(per.Size(0, maxProtocolIEs), len(fields)))
		for _, f := range fields {
			require.NoError(t, w.WriteConstrainedInt(f.id, 0, maxProtocolIEs))
			require.NoError(t, w.WriteEnumerated(f.crit, 3, false))
			w.WriteOpenType(f.value)
		}
	})
}

// encodePDU encodes an M3AP-PDU; kind selects the root alternative.
func encodePDU(t *testing.T, kind uint64, code int64, crit uint32, value []byte) []byte {
	return encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(kind, 0, 2))
		require.NoError(t, w.WriteConstrainedInt(code, 0, 255))
		require.NoError(t, w.WriteEnumerated(crit, 3, false))
		w.WriteOpenType(value)
	})
}

func m3SetupRequest(t *testing.T) []byte {
	globalMCE := encode(t, func(w *per.Writer) {
		w.WriteBit(false) // extension
		w.WriteBit(false) // iE-Extensions absent
		require.NoError(t, w.WriteOctetString([]byte{0x21, 0xf3, 0x54}, per.FixedSize(3)))
		require.NoError(t, w.WriteOctetString([]byte{0x00, 0x2a}, per.FixedSize(2)))
	})
	name := encode(t, func(w *per.Writer) {
		require.NoError(t, w.WriteRestrictedString("mce-1", per.PrintableString, per.Size(1, 150).Ext(), ""))
	})
	areas := encode(t, func(w *per.Writer) {
		size := per.Size(1, maxnoofMBMSServiceAreaIdentitiesPerMCE)
		require.NoError(t, w.WriteLength(size, 2))
		require.NoError(t, w.WriteOctetString([]byte{0x00, 0x01}, per.FixedSize(2)))
		require.NoError(t, w.WriteOctetString([]byte{0x00, 0x02}, per.FixedSize(2)))
	})
	return encodeMessage(t,
		ie{18, critReject, globalMCE},
		ie{19, critIgnore, name},
		ie{20, critReject, areas},
	)
}

func TestDecode_M3SetupRequest(t *testing.T) {
	d := newDecoder(t)
	buf := encodePDU(t, 0, 7, critIgnore, m3SetupRequest(t))

	res := d.Decode(buf)
	require.Equal(t, dissect.StatusComplete, res.Status)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "M3 Setup Request", res.Summary)
	assert.Equal(t, len(buf), res.Consumed)

	im := res.Root.Child("initiatingMessage")
	require.NotNil(t, im)
	require.Len(t, im.Children, 3)
	assert.Equal(t, "procedureCode", im.Children[0].Name)
	assert.Equal(t, "criticality", im.Children[1].Name)
	assert.Equal(t, "value", im.Children[2].Name)
	assert.Equal(t, int64(7), im.Children[0].Int)
	assert.Equal(t, "m3Setup", im.Children[0].Text)
	assert.Equal(t, "ignore", im.Children[1].Text)

	list := im.Find("value", "M3SetupRequest", "protocolIEs")
	require.NotNil(t, list)
	require.Len(t, list.Children, 3)

	wantTypes := []string{"Global-MCE-ID", "MCEname", "MBMSServiceAreaListItem"}
	for i, field := range list.Children {
		require.Len(t, field.Child("value").Children, 1, "IE %d", i)
		assert.Equal(t, wantTypes[i], field.Child("value").Children[0].Name)
	}

	mce := list.Children[0].Find("value", "Global-MCE-ID")
	assert.Equal(t, "id-Global-MCE-ID", list.Children[0].Child("id").Text)
	assert.Equal(t, []byte{0x21, 0xf3, 0x54}, mce.Child("pLMN-Identity").Bytes)
	assert.Equal(t, []byte{0x00, 0x2a}, mce.Child("mCE-ID").Bytes)

	assert.Equal(t, "mce-1", list.Children[1].Find("value", "MCEname").Text)

	areas := list.Children[2].Find("value", "MBMSServiceAreaListItem")
	require.Len(t, areas.Children, 2)
	assert.Equal(t, []byte{0x00, 0x02}, areas.Children[1].Bytes)

	// IE offsets point into the top-level buffer
	name := list.Children[1].Find("value", "MCEname")
	want := encode(t, func(w *per.Writer) {
		require.NoError(t, w.WriteRestrictedString("mce-1", per.PrintableString, per.Size(1, 150).Ext(), ""))
	})
	assert.Equal(t, want, buf[name.Offset:name.Offset+name.Length])
}

func TestDecode_InitiatingMessageType(t *testing.T) {
	d := newDecoder(t)
	msg := encode(t, func(w *per.Writer) {
		require.NoError(t, w.WriteConstrainedInt(7, 0, 255))
		require.NoError(t, w.WriteEnumerated(critIgnore, 3, false))
		w.WriteOpenType(m3SetupRequest(t))
	})

	res, err := d.DecodeType("InitiatingMessage", msg, dissect.Context{})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
	require.Len(t, res.Root.Children, 3)
	assert.Len(t, res.Root.Find("value", "M3SetupRequest", "protocolIEs").Children, 3)
}

func TestDecode_SetupFailure(t *testing.T) {
	d := newDecoder(t)
	cause := encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(0, 0, 4)) // radioNetwork
		require.NoError(t, w.WriteEnumerated(8, 8, true))          // uninvolved-MCE
	})
	wait := encode(t, func(w *per.Writer) {
		require.NoError(t, w.WriteEnumerated(3, 6, true))
	})
	buf := encodePDU(t, 2, 7, critReject, encodeMessage(t,
		ie{9, critIgnore, cause},
		ie{12, critIgnore, wait},
	))

	res := d.Decode(buf)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, "M3 Setup Failure", res.Summary)
	list := res.Root.Find("unsuccessfulOutcome", "value", "M3SetupFailure", "protocolIEs")
	require.Len(t, list.Children, 2)
	assert.Equal(t, "uninvolved-MCE", list.Children[0].Find("value", "Cause", "radioNetwork").Text)
	assert.Equal(t, "v10s", list.Children[1].Find("value", "TimeToWait").Text)
}

func TestDecode_SessionStart(t *testing.T) {
	d := newDecoder(t)
	qos := encode(t, func(w *per.Writer) {
		w.WriteBit(false) // extension
		w.WriteBit(true)  // gbrQosInformation
		w.WriteBit(false) // iE-Extensions
		require.NoError(t, w.WriteConstrainedInt(9, 0, 255))
		w.WriteBit(false)
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedInt(2000000, 0, 10000000000))
		require.NoError(t, w.WriteConstrainedInt(1000000, 0, 10000000000))
		w.WriteBit(false)
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedInt(1, 0, 15))
		require.NoError(t, w.WriteEnumerated(1, 2, false))
		require.NoError(t, w.WriteEnumerated(0, 2, false))
	})
	id := encode(t, func(w *per.Writer) { require.NoError(t, w.WriteConstrainedInt(4660, 0, 65535)) })
	buf := encodePDU(t, 0, 0, critReject, encodeMessage(t,
		ie{0, critReject, id},
		ie{4, critReject, qos},
	))

	res := d.Decode(buf)
	require.Empty(t, res.Diagnostics)
	assert.Equal(t, "MBMS Session Start Request", res.Summary)
	list := res.Root.Find("initiatingMessage", "value", "MBMSSessionStartRequest", "protocolIEs")
	assert.Equal(t, int64(4660), list.Children[0].Find("value", "MME-MBMS-M3AP-ID").Int)

	params := list.Children[1].Find("value", "MBMS-E-RAB-QoS-Parameters")
	require.NotNil(t, params)
	assert.Equal(t, int64(9), params.Child("qCI").Int)
	assert.Equal(t, int64(2000000), params.Find("gbrQosInformation", "mBMS-E-RAB-MaximumBitrateDL").Int)
	arp := params.Child("allocationAndRetentionPriority")
	assert.Equal(t, "highest", arp.Child("priorityLevel").Text)
	assert.Equal(t, "may-trigger-pre-emption", arp.Child("pre-emptionCapability").Text)
}

func TestDecode_UnknownIEAndProcedure(t *testing.T) {
	d := newDecoder(t)

	t.Run("unknown IE", func(t *testing.T) {
		buf := encodePDU(t, 0, 7, critIgnore, encodeMessage(t, ie{300, critIgnore, []byte{0xab, 0xcd}}))
		res := d.Decode(buf)
		assert.Equal(t, dissect.StatusComplete, res.Status)
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
	})

	t.Run("unknown procedure", func(t *testing.T) {
		buf := encodePDU(t, 0, 200, critIgnore, []byte{0x00})
		res := d.Decode(buf)
		require.Len(t, res.Diagnostics, 1)
		assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
		assert.Equal(t, "Unknown procedure 200", res.Summary)
	})

	t.Run("truncated", func(t *testing.T) {
		buf := encodePDU(t, 0, 7, critIgnore, m3SetupRequest(t))
		res := d.Decode(buf[:6])
		assert.Equal(t, dissect.StatusAborted, res.Status)
		require.NotEmpty(t, res.Diagnostics)
		assert.Equal(t, diag.Truncated, res.Diagnostics[0].Kind)
		assert.NotNil(t, res.Root.Find("initiatingMessage", "procedureCode"))
	})
}

func TestRegister_Twice(t *testing.T) {
	reg := dissect.NewRegistry()
	_, err := Register(reg)
	require.NoError(t, err)
	_, err = Register(reg)
	assert.ErrorIs(t, err, dissect.ErrDuplicateDecoder)
}
