package h460

import (
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
	"firestige.xyz/dissect/pkg/per"
)

func newDecoder(t *testing.T) *dissect.Decoder {
	t.Helper()
	reg := dissect.NewRegistry()
	d, err := Register(reg)
	require.NoError(t, err)
	reg.Freeze()
	return d
}

func encode(t *testing.T, fn func(w *per.Writer)) []byte {
	t.Helper()
	w := per.NewWriter(true)
	fn(w)
	return w.Bytes()
}

func writeStandardID(t *testing.T, w *per.Writer, id int64) {
	w.WriteBit(false)
	require.NoError(t, w.WriteConstrainedWholeNumber(0, 0, 2))
	require.NoError(t, w.WriteExtensibleInt(id, 0, 16383))
}

// param writes an EnumeratedParameter; content writes the Content CHOICE.
type param struct {
	id      int64
	content func(w *per.Writer)
}

func raw(t *testing.T, data []byte) func(w *per.Writer) {
	return func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(0, 0, 11))
		require.NoError(t, w.WriteOctetString(data, per.AnySize()))
	}
}

func number8(t *testing.T, v int64) func(w *per.Writer) {
	return func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(4, 0, 11))
		require.NoError(t, w.WriteConstrainedInt(v, 0, 255))
	}
}

func writeParams(t *testing.T, w *per.Writer, params []param) {
	require.NoError(t, w.WriteLength(per.Size(1, 512), len(params)))
	for _, p := range params {
		w.WriteBit(false)
		w.WriteBit(p.content != nil)
		writeStandardID(t, w, p.id)
		if p.content != nil {
			p.content(w)
		}
	}
}

func genericData(t *testing.T, writeID func(w *per.Writer), params ...param) []byte {
	return encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		w.WriteBit(len(params) > 0)
		writeID(w)
		if len(params) > 0 {
			writeParams(t, w, params)
		}
	})
}

func incomingCallIndication(t *testing.T) []byte {
	return encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(0, 0, 6)) // ipAddress
		require.NoError(t, w.WriteOctetString([]byte{192, 0, 2, 10}, per.FixedSize(4)))
		require.NoError(t, w.WriteConstrainedInt(1720, 0, 65535))
		w.WriteBit(false)
		require.NoError(t, w.WriteOctetString(make([]byte, 16), per.FixedSize(16)))
	})
}

func TestDecode_Feature18(t *testing.T) {
	d := newDecoder(t)
	keepAlive := encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedInt(19, 1, 4294967295))
	})
	buf := genericData(t, func(w *per.Writer) { writeStandardID(t, w, 18) },
		param{1, raw(t, incomingCallIndication(t))},
		param{2, raw(t, keepAlive)},
		param{3, number8(t, 5)},
		param{9, raw(t, []byte{0xde, 0xad})},
	)

	res := d.Decode(buf)
	assert.Equal(t, dissect.StatusComplete, res.Status)
	assert.Equal(t, "H.460.18 NAT/FW traversal signalling, 4 parameter(s)", res.Summary)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
	assert.Contains(t, res.Diagnostics[0].Message, "table h460/18")

	params := res.Root.Child("parameters")
	require.Len(t, params.Children, 4)

	ici := params.Children[0].Find("content", "raw", "IncomingCallIndication")
	require.NotNil(t, ici)
	addr := ici.Find("callSignallingAddress", "ipAddress")
	assert.Equal(t, []byte{192, 0, 2, 10}, addr.Child("ip").Bytes)
	assert.Equal(t, int64(1720), addr.Child("port").Int)

	lrq := params.Children[1].Find("content", "raw", "LRQKeepAliveData")
	require.NotNil(t, lrq)
	assert.Equal(t, int64(19), lrq.Child("lrqKeepAliveInterval").Int)

	assert.Equal(t, int64(5), params.Children[2].Find("content", "number8").Int)
}

func TestDecode_Feature19(t *testing.T) {
	d := newDecoder(t)
	traversal := encode(t, func(w *per.Writer) {
		w.WriteBit(false)
		for _, present := range []bool{false, false, true, false, true, false} {
			w.WriteBit(present)
		}
		require.NoError(t, w.WriteConstrainedInt(77, 0, 4294967295))
		require.NoError(t, w.WriteConstrainedInt(96, 0, 127))
	})
	buf := genericData(t, func(w *per.Writer) { writeStandardID(t, w, 19) }, param{1, raw(t, traversal)})

	res := d.Decode(buf)
	require.Empty(t, res.Diagnostics)
	tp := res.Root.Find("parameters", "EnumeratedParameter", "content", "raw", "TraversalParameters")
	require.NotNil(t, tp)
	assert.Equal(t, int64(77), tp.Child("multiplexID").Int)
	assert.Equal(t, int64(96), tp.Child("keepAlivePayloadType").Int)
	assert.Nil(t, tp.Child("keepAliveChannel"))
}

func TestDecode_FeatureByOID(t *testing.T) {
	d := newDecoder(t)
	oid := asn1.ObjectIdentifier{0, 0, 8, 460, 18, 0, 1}
	buf := genericData(t, func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(1, 0, 2))
		require.NoError(t, w.WriteObjectIdentifier(oid))
	}, param{1, raw(t, []byte{0x01})})

	res := d.Decode(buf)
	assert.Equal(t, "feature 0.0.8.460.18.0.1, 1 parameter(s)", res.Summary)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.Undecoded, res.Diagnostics[0].Kind)
}

func TestDecode_NestedFeatureKeepsOwnContext(t *testing.T) {
	d := newDecoder(t)
	inner := func(w *per.Writer) {
		w.WriteBit(false)
		require.NoError(t, w.WriteConstrainedWholeNumber(11, 0, 11)) // nested
		require.NoError(t, w.WriteLength(per.Size(1, 16), 1))
		w.WriteBit(false)
		w.WriteBit(true)
		writeStandardID(t, w, 18)
		writeParams(t, w, []param{{1, raw(t, incomingCallIndication(t))}})
	}
	buf := genericData(t, func(w *per.Writer) { writeStandardID(t, w, 24) }, param{1, inner})

	res := d.Decode(buf)
	require.Empty(t, res.Diagnostics)
	assert.Equal(t, "H.460.24 Direct media, 1 parameter(s)", res.Summary)
	nested := res.Root.Find("parameters", "EnumeratedParameter", "content", "nested", "GenericData")
	require.NotNil(t, nested)
	assert.NotNil(t, nested.Find("parameters", "EnumeratedParameter", "content", "raw", "IncomingCallIndication"))
}

func TestTable(t *testing.T) {
	assert.Equal(t, "h460/19", Table(19))
}
