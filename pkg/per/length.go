package per

import (
	"encoding/asn1"
	"fmt"
)

const (
	// Unbounded marks a SizeRange without an upper bound.
	Unbounded = -1

	k16 = 16384
	k64 = 65536
)

// SizeRange is a PER-visible SIZE constraint.
type SizeRange struct {
	Lb         int
	Ub         int // Unbounded when absent
	Extensible bool
}

// Size returns SIZE(lb..ub).
func Size(lb, ub int) SizeRange { return SizeRange{Lb: lb, Ub: ub} }

// FixedSize returns SIZE(n).
func FixedSize(n int) SizeRange { return SizeRange{Lb: n, Ub: n} }

// AnySize returns an unconstrained size.
func AnySize() SizeRange { return SizeRange{Ub: Unbounded} }

// Ext returns a copy of s with the extension marker set.
func (s SizeRange) Ext() SizeRange {
	s.Extensible = true
	return s
}

// Fixed reports whether the root size is a single value.
func (s SizeRange) Fixed() bool { return s.Ub >= 0 && s.Lb == s.Ub }

// Contains reports whether n lies within the root range.
func (s SizeRange) Contains(n int) bool {
	return n >= s.Lb && (s.Ub == Unbounded || n <= s.Ub)
}

func (s SizeRange) bounded() bool { return s.Ub >= 0 && s.Ub < k64 }

// ReadLengthDeterminant reads a general length determinant (X.691 10.9.3.5-8).
// fragmented is true when n is a 16K multiple and another determinant follows
// the n items.
func (r *Reader) ReadLengthDeterminant() (n uint32, fragmented bool, err error) {
	r.align()
	b, err := r.ReadBits(8)
	if err != nil {
		return 0, false, err
	}
	switch {
	case b&0x80 == 0:
		return uint32(b), false, nil
	case b&0xc0 == 0x80:
		lo, err := r.ReadBits(8)
		if err != nil {
			return 0, false, err
		}
		return uint32(b&0x3f)<<8 | uint32(lo), false, nil
	default:
		m := uint32(b & 0x3f)
		if m < 1 || m > 4 {
			return 0, false, fmt.Errorf("%w: fragment multiplier %d", ErrMalformed, m)
		}
		return m * k16, true, nil
	}
}

// ReadConstrainedLength reads a length constrained to [lb,ub] with ub < 64K.
func (r *Reader) ReadConstrainedLength(lb, ub int) (uint32, error) {
	if lb == ub {
		return uint32(lb), nil
	}
	v, err := r.ReadConstrainedWholeNumber(int64(lb), int64(ub))
	if err != nil {
		return 0, err
	}
	return uint32(lb) + uint32(v), nil
}

// ReadNormallySmallLength reads the length of a sequence extension bitmap.
func (r *Reader) ReadNormallySmallLength() (uint32, error) {
	large, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !large {
		v, err := r.ReadBits(6)
		return uint32(v) + 1, err
	}
	n, frag, err := r.ReadLengthDeterminant()
	if err == nil && frag {
		err = fmt.Errorf("%w: fragmented extension bitmap", ErrUnsupported)
	}
	return n, err
}

func (r *Reader) readExtBit(extensible bool) (bool, error) {
	if !extensible {
		return false, nil
	}
	return r.ReadBit()
}

func (r *Reader) lengthFor(size SizeRange, ext bool) (uint32, bool, error) {
	if ext || !size.bounded() {
		return r.ReadLengthDeterminant()
	}
	n, err := r.ReadConstrainedLength(size.Lb, size.Ub)
	return n, false, err
}

// ReadLength reads the count that prefixes a SEQUENCE OF or string governed
// by size, including its extension bit.
func (r *Reader) ReadLength(size SizeRange) (uint32, bool, error) {
	ext, err := r.readExtBit(size.Extensible)
	if err != nil {
		return 0, false, err
	}
	return r.lengthFor(size, ext)
}

// ReadOctetString decodes an OCTET STRING (X.691 17).
func (r *Reader) ReadOctetString(size SizeRange) ([]byte, error) {
	ext, err := r.readExtBit(size.Extensible)
	if err != nil {
		return nil, err
	}
	if !ext && size.Fixed() {
		switch n := size.Lb; {
		case n == 0:
			return []byte{}, nil
		case n <= 2:
			return r.ReadBytes(n)
		case n < k64:
			r.align()
			return r.ReadBytes(n)
		}
	}
	n, frag, err := r.lengthFor(size, ext)
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		if n > 0 {
			r.align()
		}
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		if !frag && out == nil {
			return b, nil
		}
		out = append(out, b...)
		if !frag {
			return out, nil
		}
		if n, frag, err = r.ReadLengthDeterminant(); err != nil {
			return nil, err
		}
	}
}

// ReadBitString decodes a BIT STRING (X.691 16).
func (r *Reader) ReadBitString(size SizeRange) (asn1.BitString, error) {
	ext, err := r.readExtBit(size.Extensible)
	if err != nil {
		return asn1.BitString{}, err
	}
	if !ext && size.Fixed() {
		switch n := size.Lb; {
		case n == 0:
			return asn1.BitString{Bytes: []byte{}}, nil
		case n <= 16:
			b, err := r.readBitField(n)
			return asn1.BitString{Bytes: b, BitLength: n}, err
		case n < k64:
			r.align()
			b, err := r.readBitField(n)
			return asn1.BitString{Bytes: b, BitLength: n}, err
		}
	}
	n, frag, err := r.lengthFor(size, ext)
	if err != nil {
		return asn1.BitString{}, err
	}
	var out asn1.BitString
	for {
		if n > 0 {
			r.align()
		}
		b, err := r.readBitField(int(n))
		if err != nil {
			return asn1.BitString{}, err
		}
		// fragments are 16K-bit multiples, so out stays octet aligned
		out.Bytes = append(out.Bytes, b...)
		out.BitLength += int(n)
		if !frag {
			return out, nil
		}
		if n, frag, err = r.ReadLengthDeterminant(); err != nil {
			return asn1.BitString{}, err
		}
	}
}

// ReadOpenType reads the octets of an open type field (X.691 11.2).
func (r *Reader) ReadOpenType() ([]byte, error) {
	n, frag, err := r.ReadLengthDeterminant()
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		b, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		if !frag && out == nil {
			return b, nil
		}
		out = append(out, b...)
		if !frag {
			return out, nil
		}
		if n, frag, err = r.ReadLengthDeterminant(); err != nil {
			return nil, err
		}
	}
}
