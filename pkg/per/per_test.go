package per

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ranges used by the M3AP, H.460 and T.38 schemas plus the X.691 boundary cases
var constrainedRanges = []struct{ lb, ub int64 }{
	{0, 1},
	{0, 2},
	{0, 3},
	{0, 7},
	{0, 15},
	{-127, 10},
	{1, 16},
	{1, 64},
	{1, 128},
	{1, 150},
	{0, 255},
	{0, 256},
	{1, 256},
	{0, 1023},
	{0, 4095},
	{0, 16383},
	{0, 65535},
	{1, 65535},
	{0, 65536},
	{0, 1048575},
	{0, 16777215},
	{0, 4294967295},
}

func TestConstrainedInt_RoundTrip(t *testing.T) {
	for _, aligned := range []bool{true, false} {
		for _, rg := range constrainedRanges {
			for _, v := range []int64{rg.lb, rg.ub, rg.lb + (rg.ub-rg.lb)/2} {
				name := fmt.Sprintf("aligned=%v/%d..%d/%d", aligned, rg.lb, rg.ub, v)
				t.Run(name, func(t *testing.T) {
					w := NewWriter(aligned)
					require.NoError(t, w.WriteConstrainedInt(v, rg.lb, rg.ub))
					// trailing marker bit checks the cursor lands exactly after the value
					w.WriteBit(true)

					r := NewReader(w.Bytes(), aligned)
					got, err := r.ReadConstrainedInt(rg.lb, rg.ub)
					require.NoError(t, err)
					assert.Equal(t, v, got)
					mark, err := r.ReadBit()
					require.NoError(t, err)
					assert.True(t, mark)
				})
			}
		}
	}
}

func TestConstrainedInt_OutOfRangeRejected(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		aligned bool
		lb, ub  int64
	}{
		{"unaligned 3-bit field holding 7", []byte{0xe0}, false, 0, 4},
		{"aligned bitfield holding 7", []byte{0xe0}, true, -3, 1},
		{"aligned two octets above range", []byte{0xff, 0xff}, true, 0, 999},
		{"unaligned 10-bit field above range", []byte{0xff, 0xc0}, false, 1, 1000},
		{"aligned indefinite length above range", []byte{0x80, 0xff, 0xff, 0xff}, true, 0, 1<<20 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.buf, tt.aligned)
			v, err := r.ReadConstrainedInt(tt.lb, tt.ub)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValueOutOfRange)
			assert.Zero(t, v)
		})
	}
}

func TestConstrainedInt_SingleValueUsesNoBits(t *testing.T) {
	r := NewReader(nil, true)
	v, err := r.ReadConstrainedInt(7, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, 0, r.BitOffset())
}

func TestAlignedEncodingLayout(t *testing.T) {
	t.Run("range 256 is one aligned octet", func(t *testing.T) {
		w := NewWriter(true)
		w.WriteBit(true)
		require.NoError(t, w.WriteConstrainedInt(0x42, 0, 255))
		assert.Equal(t, []byte{0x80, 0x42}, w.Bytes())
	})
	t.Run("range 64K is two aligned octets", func(t *testing.T) {
		w := NewWriter(true)
		require.NoError(t, w.WriteConstrainedInt(7, 0, 65535))
		assert.Equal(t, []byte{0x00, 0x07}, w.Bytes())
	})
	t.Run("unaligned packs bits", func(t *testing.T) {
		w := NewWriter(false)
		w.WriteBit(true)
		require.NoError(t, w.WriteConstrainedInt(0x42, 0, 255))
		assert.Equal(t, []byte{0xa1, 0x00}, w.Bytes())
	})
}

func TestLengthDeterminant_Boundaries(t *testing.T) {
	for _, n := range []int{0, 127, 128, 16383, 16384} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i)
			}
			w := NewWriter(true)
			w.WriteOpenType(data)
			w.WriteOpenType([]byte{0xab})

			r := NewReader(w.Bytes(), true)
			got := []byte{}
			for {
				l, frag, err := r.ReadLengthDeterminant()
				require.NoError(t, err)
				b, err := r.ReadBytes(int(l))
				require.NoError(t, err)
				got = append(got, b...)
				if !frag {
					break
				}
			}
			assert.Equal(t, data, got)

			l, frag, err := r.ReadLengthDeterminant()
			require.NoError(t, err)
			assert.False(t, frag)
			assert.Equal(t, uint32(1), l)
			b, err := r.ReadBytes(1)
			require.NoError(t, err)
			assert.Equal(t, []byte{0xab}, b)
			assert.Zero(t, r.Remaining())
		})
	}
}

func TestLengthDeterminant_Forms(t *testing.T) {
	tests := []struct {
		n      int
		prefix []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x80}},
		{16383, []byte{0xbf, 0xff}},
		{16384, []byte{0xc1}},
		{65536, []byte{0xc4}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			w := NewWriter(false)
			w.WriteLengthDeterminant(tt.n)
			assert.Equal(t, tt.prefix, w.Bytes()[:len(tt.prefix)])
		})
	}

	t.Run("bad fragment multiplier", func(t *testing.T) {
		_, _, err := NewReader([]byte{0xc5}, true).ReadLengthDeterminant()
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestTruncated(t *testing.T) {
	r := NewReader([]byte{0x01}, true)
	_, err := r.ReadBits(12)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncated)

	var te *TruncatedError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 12, te.Needed)
	assert.Equal(t, 8, te.Available)
	// a failed read leaves the cursor untouched
	assert.Equal(t, 0, r.BitOffset())

	_, err = NewReader([]byte{0x05, 0x01}, true).ReadOpenType()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSaveRestore(t *testing.T) {
	r := NewReader([]byte{0xa5, 0x5a}, false)
	_, err := r.ReadBits(3)
	require.NoError(t, err)
	p := r.Save()
	assert.Equal(t, Position{Byte: 0, Bit: 3}, p)

	first, err := r.ReadBits(9)
	require.NoError(t, err)
	r.Restore(p)
	again, err := r.ReadBits(9)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	r.AlignToByte()
	assert.Equal(t, Position{Byte: 2}, r.Position())
}

func TestSemiAndUnconstrainedInt(t *testing.T) {
	for _, aligned := range []bool{true, false} {
		for _, v := range []int64{0, 1, 127, 128, -1, -128, -129, 65535, 1 << 40, -(1 << 40)} {
			t.Run(fmt.Sprintf("aligned=%v/%d", aligned, v), func(t *testing.T) {
				w := NewWriter(aligned)
				w.WriteBit(true)
				w.WriteUnconstrainedInt(v)
				r := NewReader(w.Bytes(), aligned)
				_, _ = r.ReadBit()
				got, err := r.ReadUnconstrainedInt()
				require.NoError(t, err)
				assert.Equal(t, v, got)
			})
		}
	}

	w := NewWriter(true)
	require.NoError(t, w.WriteSemiConstrainedInt(300, 10))
	got, err := NewReader(w.Bytes(), true).ReadSemiConstrainedInt(10)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got)
}

func TestExtensibleInt(t *testing.T) {
	for _, v := range []int64{0, 16383, 16384, 1 << 20} {
		w := NewWriter(true)
		require.NoError(t, w.WriteExtensibleInt(v, 0, 16383))
		got, err := NewReader(w.Bytes(), true).ReadExtensibleInt(0, 16383)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEnumerated(t *testing.T) {
	tests := []struct {
		idx      uint32
		numRoot  int
		ext      bool
		expected []byte
	}{
		{1, 3, false, []byte{0x40}},
		{1, 3, true, []byte{0x20}},
		{3, 3, true, []byte{0x80}},
		{5, 3, true, []byte{0x82}},
		{70, 3, true, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%v", tt.idx, tt.numRoot, tt.ext), func(t *testing.T) {
			w := NewWriter(true)
			require.NoError(t, w.WriteEnumerated(tt.idx, tt.numRoot, tt.ext))
			if tt.expected != nil {
				assert.Equal(t, tt.expected, w.Bytes())
			}
			got, err := NewReader(w.Bytes(), true).ReadEnumerated(tt.numRoot, tt.ext)
			require.NoError(t, err)
			assert.Equal(t, tt.idx, got)
		})
	}
}

func TestOctetString(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		size SizeRange
	}{
		{"fixed 2 unaligned field", []byte{0x01, 0x02}, FixedSize(2)},
		{"fixed 3 aligned", []byte{1, 2, 3}, FixedSize(3)},
		{"fixed 16", make([]byte, 16), FixedSize(16)},
		{"bounded", []byte("abcdef"), Size(1, 160)},
		{"extensible outside root", []byte("abcdef"), Size(1, 4).Ext()},
		{"unbounded", []byte("hello world"), AnySize()},
		{"empty", []byte{}, AnySize()},
		{"fragmented", make([]byte, 20000), AnySize()},
	}
	for _, aligned := range []bool{true, false} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("aligned=%v/%s", aligned, tt.name), func(t *testing.T) {
				w := NewWriter(aligned)
				w.WriteBit(true)
				require.NoError(t, w.WriteOctetString(tt.data, tt.size))
				w.WriteBits(0x5, 3)

				r := NewReader(w.Bytes(), aligned)
				_, _ = r.ReadBit()
				got, err := r.ReadOctetString(tt.size)
				require.NoError(t, err)
				assert.Equal(t, tt.data, got)
				tail, err := r.ReadBits(3)
				require.NoError(t, err)
				assert.Equal(t, uint64(0x5), tail)
			})
		}
	}
}

func TestBitString(t *testing.T) {
	tests := []struct {
		name string
		bs   asn1.BitString
		size SizeRange
	}{
		{"fixed 3", asn1.BitString{Bytes: []byte{0xa0}, BitLength: 3}, FixedSize(3)},
		{"fixed 28", asn1.BitString{Bytes: []byte{0x12, 0x34, 0x56, 0x70}, BitLength: 28}, FixedSize(28)},
		{"variable", asn1.BitString{Bytes: []byte{0xff, 0x80}, BitLength: 9}, Size(1, 160)},
		{"extensible", asn1.BitString{Bytes: []byte{0xf0}, BitLength: 4}, FixedSize(3).Ext()},
	}
	for _, aligned := range []bool{true, false} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("aligned=%v/%s", aligned, tt.name), func(t *testing.T) {
				w := NewWriter(aligned)
				require.NoError(t, w.WriteBitString(tt.bs, tt.size))
				got, err := NewReader(w.Bytes(), aligned).ReadBitString(tt.size)
				require.NoError(t, err)
				assert.Equal(t, tt.bs.BitLength, got.BitLength)
				assert.Equal(t, tt.bs.RightAlign(), got.RightAlign())
			})
		}
	}
}

func TestRestrictedString(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		cs        Charset
		size      SizeRange
		permitted string
	}{
		{"printable", "MCE-Name 01", PrintableString, Size(1, 150).Ext(), ""},
		{"ia5", "rtsp://host/a", IA5String, AnySize(), ""},
		{"numeric indexed", "0123 9", NumericString, Size(1, 16), ""},
		{"dialled digits", "12#*,9", IA5String, Size(1, 128), "0123456789#*,"},
		{"bmp", "ĉu ŝi", BMPString, Size(1, 256), ""},
		{"fixed short", "ab", IA5String, FixedSize(2), ""},
		{"utf8", "grüß", UTF8String, AnySize(), ""},
	}
	for _, aligned := range []bool{true, false} {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("aligned=%v/%s", aligned, tt.name), func(t *testing.T) {
				w := NewWriter(aligned)
				require.NoError(t, w.WriteRestrictedString(tt.value, tt.cs, tt.size, tt.permitted))
				got, err := NewReader(w.Bytes(), aligned).ReadRestrictedString(tt.cs, tt.size, tt.permitted)
				require.NoError(t, err)
				assert.Equal(t, tt.value, got)
			})
		}
	}

	t.Run("numeric uses index encoding", func(t *testing.T) {
		w := NewWriter(false)
		require.NoError(t, w.WriteRestrictedString("9", NumericString, FixedSize(1), ""))
		// '9' is index 10 in " 0123456789", four bits
		assert.Equal(t, []byte{0xa0}, w.Bytes())
	})

	t.Run("index outside alphabet", func(t *testing.T) {
		_, err := NewReader([]byte{0xf0}, false).ReadRestrictedString(NumericString, FixedSize(1), "")
		assert.ErrorIs(t, err, ErrValueOutOfRange)
	})
}

func TestObjectIdentifier(t *testing.T) {
	oid := asn1.ObjectIdentifier{0, 0, 8, 460, 18, 0, 1}
	w := NewWriter(true)
	require.NoError(t, w.WriteObjectIdentifier(oid))
	got, err := NewReader(w.Bytes(), true).ReadObjectIdentifier()
	require.NoError(t, err)
	assert.True(t, oid.Equal(got))
	assert.Equal(t, "0.0.8.460.18.0.1", got.String())
}

func TestNormallySmall(t *testing.T) {
	for _, v := range []uint64{0, 5, 63, 64, 1000} {
		w := NewWriter(false)
		w.WriteNormallySmall(v)
		got, err := NewReader(w.Bytes(), false).ReadNormallySmall()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	for _, n := range []int{1, 7, 64, 65} {
		w := NewWriter(true)
		w.WriteNormallySmallLength(n)
		got, err := NewReader(w.Bytes(), true).ReadNormallySmallLength()
		require.NoError(t, err)
		assert.Equal(t, uint32(n), got)
	}
}
