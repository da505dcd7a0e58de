package per

import (
	"encoding/asn1"
	"fmt"
)

// Writer is the encoding counterpart of Reader. It produces the canonical
// encodings Reader consumes and is used to build fixtures.
type Writer struct {
	buf     []byte
	off     int
	aligned bool
}

// NewWriter creates a writer. aligned selects the ALIGNED variant.
func NewWriter(aligned bool) *Writer {
	return &Writer{aligned: aligned}
}

// BitLen returns the number of bits written.
func (w *Writer) BitLen() int { return w.off }

// Bytes returns the complete encoding padded to an octet boundary. An empty
// encoding is a single zero octet (X.691 10.1.3).
func (w *Writer) Bytes() []byte {
	if w.off == 0 {
		return []byte{0}
	}
	return w.buf
}

// WriteBit appends one bit.
func (w *Writer) WriteBit(b bool) {
	if w.off%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[w.off/8] |= 1 << (7 - uint(w.off%8))
	}
	w.off++
}

// WriteBits appends the n low-order bits of v, most significant first.
func (w *Writer) WriteBits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit(v>>uint(i)&1 == 1)
	}
}

// AlignToByte pads with zero bits to the next octet boundary.
func (w *Writer) AlignToByte() {
	for w.off%8 != 0 {
		w.WriteBit(false)
	}
}

func (w *Writer) align() {
	if w.aligned {
		w.AlignToByte()
	}
}

// WriteBytes appends whole octets at the current bit position.
func (w *Writer) WriteBytes(b []byte) {
	if w.off%8 == 0 {
		w.buf = append(w.buf, b...)
		w.off += 8 * len(b)
		return
	}
	for _, c := range b {
		w.WriteBits(uint64(c), 8)
	}
}

// WriteConstrainedWholeNumber appends the offset v of a value in [lb,ub].
func (w *Writer) WriteConstrainedWholeNumber(v uint64, lb, ub int64) error {
	rng, ok := span(lb, ub)
	if ub < lb || !ok {
		return fmt.Errorf("%w: range [%d,%d]", ErrUnsupported, lb, ub)
	}
	if v > rng-1 {
		return outOfRange(lb+int64(v), lb, ub)
	}
	switch {
	case rng == 1:
	case !w.aligned, rng <= 255:
		w.WriteBits(v, bitsFor(rng))
	case rng == 256:
		w.align()
		w.WriteBits(v, 8)
	case rng <= 65536:
		w.align()
		w.WriteBits(v, 16)
	default:
		n := 1
		for n < 8 && v >= 1<<uint(8*n) {
			n++
		}
		maxOctets := (bitsFor(rng) + 7) / 8
		if err := w.WriteConstrainedWholeNumber(uint64(n-1), 1, int64(maxOctets)); err != nil {
			return err
		}
		w.align()
		w.WriteBits(v, 8*n)
	}
	return nil
}

// WriteConstrainedInt appends an INTEGER constrained to [lb,ub].
func (w *Writer) WriteConstrainedInt(v, lb, ub int64) error {
	if v < lb || v > ub {
		return outOfRange(v, lb, ub)
	}
	return w.WriteConstrainedWholeNumber(uint64(v-lb), lb, ub)
}

// WriteSemiConstrainedInt appends an INTEGER with only a lower bound.
func (w *Writer) WriteSemiConstrainedInt(v, lb int64) error {
	if v < lb {
		return fmt.Errorf("%w: %d below %d", ErrValueOutOfRange, v, lb)
	}
	u := uint64(v - lb)
	n := 1
	for n < 8 && u >= 1<<uint(8*n) {
		n++
	}
	w.WriteLengthDeterminant(n)
	w.WriteBits(u, 8*n)
	return nil
}

// WriteUnconstrainedInt appends a two's-complement INTEGER.
func (w *Writer) WriteUnconstrainedInt(v int64) {
	n := 1
	for n < 8 {
		lim := int64(1) << uint(8*n-1)
		if v >= -lim && v < lim {
			break
		}
		n++
	}
	w.WriteLengthDeterminant(n)
	w.WriteBits(uint64(v), 8*n)
}

// WriteExtensibleInt appends INTEGER(lb..ub, ...).
func (w *Writer) WriteExtensibleInt(v, lb, ub int64) error {
	if v < lb || v > ub {
		w.WriteBit(true)
		w.WriteUnconstrainedInt(v)
		return nil
	}
	w.WriteBit(false)
	return w.WriteConstrainedInt(v, lb, ub)
}

// WriteBoolean appends a BOOLEAN.
func (w *Writer) WriteBoolean(b bool) { w.WriteBit(b) }

// WriteNormallySmall appends a normally small non-negative whole number.
func (w *Writer) WriteNormallySmall(v uint64) {
	if v < 64 {
		w.WriteBit(false)
		w.WriteBits(v, 6)
		return
	}
	w.WriteBit(true)
	_ = w.WriteSemiConstrainedInt(int64(v), 0)
}

// WriteNormallySmallLength appends the length of an extension bitmap.
func (w *Writer) WriteNormallySmallLength(n int) {
	if n >= 1 && n <= 64 {
		w.WriteBit(false)
		w.WriteBits(uint64(n-1), 6)
		return
	}
	w.WriteBit(true)
	w.WriteLengthDeterminant(n)
}

// WriteEnumerated appends an ENUMERATED index; indices >= numRoot are
// extension values.
func (w *Writer) WriteEnumerated(idx uint32, numRoot int, extensible bool) error {
	if extensible {
		if int(idx) >= numRoot {
			w.WriteBit(true)
			w.WriteNormallySmall(uint64(int(idx) - numRoot))
			return nil
		}
		w.WriteBit(false)
	}
	return w.WriteConstrainedWholeNumber(uint64(idx), 0, int64(numRoot)-1)
}

// WriteLengthDeterminant appends a general length determinant for up to n
// items and returns how many items it covers: n itself below 16K, otherwise
// the largest 16K multiple (at most 64K) of a fragment.
func (w *Writer) WriteLengthDeterminant(n int) int {
	w.align()
	switch {
	case n < 128:
		w.WriteBits(uint64(n), 8)
		return n
	case n < k16:
		w.WriteBits(0x8000|uint64(n), 16)
		return n
	default:
		m := n / k16
		if m > 4 {
			m = 4
		}
		w.WriteBits(0xc0|uint64(m), 8)
		return m * k16
	}
}

// WriteConstrainedLength appends a length in [lb,ub] with ub < 64K.
func (w *Writer) WriteConstrainedLength(n, lb, ub int) error {
	if lb == ub {
		if n != lb {
			return outOfRange(int64(n), int64(lb), int64(ub))
		}
		return nil
	}
	return w.WriteConstrainedInt(int64(n), int64(lb), int64(ub))
}

// writeLength writes the count prefix for n items and returns the count the
// first prefix covers.
func (w *Writer) writeLength(size SizeRange, n int) (int, error) {
	ext := size.Extensible && !size.Contains(n)
	if size.Extensible {
		w.WriteBit(ext)
	} else if !size.Contains(n) {
		return 0, fmt.Errorf("%w: size %d outside [%d,%d]", ErrValueOutOfRange, n, size.Lb, size.Ub)
	}
	if ext || !size.bounded() {
		return w.WriteLengthDeterminant(n), nil
	}
	return n, w.WriteConstrainedLength(n, size.Lb, size.Ub)
}

// WriteLength appends the count prefix of a SEQUENCE OF with n elements.
// Counts of 16K or more are not supported.
func (w *Writer) WriteLength(size SizeRange, n int) error {
	if n >= k16 {
		return fmt.Errorf("%w: %d elements", ErrUnsupported, n)
	}
	_, err := w.writeLength(size, n)
	return err
}

func (w *Writer) writeFragments(first, total int, emit func(from, count int)) {
	from, count := 0, first
	for {
		emit(from, count)
		from += count
		if count < k16 {
			return
		}
		count = w.WriteLengthDeterminant(total - from)
	}
}

// WriteOctetString appends an OCTET STRING.
func (w *Writer) WriteOctetString(b []byte, size SizeRange) error {
	if size.Fixed() && size.Contains(len(b)) {
		if size.Extensible {
			w.WriteBit(false)
		}
		switch n := len(b); {
		case n == 0:
			return nil
		case n <= 2:
			w.WriteBytes(b)
			return nil
		case n < k64:
			w.align()
			w.WriteBytes(b)
			return nil
		}
	}
	first, err := w.writeLength(size, len(b))
	if err != nil {
		return err
	}
	w.writeFragments(first, len(b), func(from, count int) {
		if count > 0 {
			w.align()
		}
		w.WriteBytes(b[from : from+count])
	})
	return nil
}

func (w *Writer) writeBitField(bs asn1.BitString, from, count int) {
	for i := from; i < from+count; i++ {
		w.WriteBit(bs.At(i) == 1)
	}
}

// WriteBitString appends a BIT STRING.
func (w *Writer) WriteBitString(bs asn1.BitString, size SizeRange) error {
	n := bs.BitLength
	if size.Fixed() && size.Contains(n) {
		if size.Extensible {
			w.WriteBit(false)
		}
		switch {
		case n == 0:
			return nil
		case n <= 16:
			w.writeBitField(bs, 0, n)
			return nil
		case n < k64:
			w.align()
			w.writeBitField(bs, 0, n)
			return nil
		}
	}
	first, err := w.writeLength(size, n)
	if err != nil {
		return err
	}
	w.writeFragments(first, n, func(from, count int) {
		if count > 0 {
			w.align()
		}
		w.writeBitField(bs, from, count)
	})
	return nil
}

// WriteRestrictedString appends a character string.
func (w *Writer) WriteRestrictedString(s string, cs Charset, size SizeRange, permitted string) error {
	if cs == UTF8String {
		return w.WriteOctetString([]byte(s), AnySize())
	}
	t, err := newCharTable(cs, permitted, w.aligned)
	if err != nil {
		return err
	}
	rs := []rune(s)
	n := len(rs)
	ext := size.Extensible && !size.Contains(n)
	if size.Fixed() && !ext {
		if size.Extensible {
			w.WriteBit(false)
		}
		if n != size.Lb {
			return fmt.Errorf("%w: size %d, fixed %d", ErrValueOutOfRange, n, size.Lb)
		}
	} else {
		first, err := w.writeLength(size, n)
		if err != nil {
			return err
		}
		if first != n {
			return fmt.Errorf("%w: fragmented %s", ErrUnsupported, cs)
		}
	}
	if t.stringAligned(size, ext, n) {
		w.align()
	}
	for _, c := range rs {
		code, err := t.encode(c)
		if err != nil {
			return err
		}
		w.WriteBits(code, t.bits)
	}
	return nil
}

// WriteObjectIdentifier appends an OBJECT IDENTIFIER.
func (w *Writer) WriteObjectIdentifier(oid asn1.ObjectIdentifier) error {
	der, err := asn1.Marshal(oid)
	if err != nil {
		return fmt.Errorf("%w: object identifier: %v", ErrMalformed, err)
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return fmt.Errorf("%w: object identifier: %v", ErrMalformed, err)
	}
	w.WriteOpenType(raw.Bytes)
	return nil
}

// WriteOpenType appends data as an open type field.
func (w *Writer) WriteOpenType(data []byte) {
	first := w.WriteLengthDeterminant(len(data))
	w.writeFragments(first, len(data), func(from, count int) {
		w.WriteBytes(data[from : from+count])
	})
}
