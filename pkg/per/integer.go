package per

import (
	"fmt"
	"math"
	"math/bits"
)

// bitsFor returns the width of a bit-field able to hold 0..rng-1.
func bitsFor(rng uint64) int {
	if rng <= 1 {
		return 0
	}
	return bits.Len64(rng - 1)
}

// span returns ub-lb+1 and false when the range covers the whole 64-bit space.
func span(lb, ub int64) (uint64, bool) {
	d := uint64(ub) - uint64(lb)
	if d == math.MaxUint64 {
		return 0, false
	}
	return d + 1, true
}

// ReadConstrainedWholeNumber decodes the offset of a value from lb, for a
// value constrained to [lb,ub] (X.691 10.5).
func (r *Reader) ReadConstrainedWholeNumber(lb, ub int64) (uint64, error) {
	if ub < lb {
		return 0, fmt.Errorf("%w: empty range [%d,%d]", ErrUnsupported, lb, ub)
	}
	rng, ok := span(lb, ub)
	if !ok {
		return 0, fmt.Errorf("%w: range [%d,%d]", ErrUnsupported, lb, ub)
	}

	var v uint64
	var err error
	switch {
	case rng == 1:
		return 0, nil
	case !r.aligned, rng <= 255:
		v, err = r.ReadBits(bitsFor(rng))
	case rng == 256:
		r.align()
		v, err = r.ReadBits(8)
	case rng <= 65536:
		r.align()
		v, err = r.ReadBits(16)
	default:
		// indefinite-length case: octet count in 1..max, then the octets
		maxOctets := (bitsFor(rng) + 7) / 8
		var n uint64
		n, err = r.ReadConstrainedWholeNumber(1, int64(maxOctets))
		if err != nil {
			return 0, err
		}
		r.align()
		v, err = r.ReadBits(8 * int(n+1))
	}
	if err != nil {
		return 0, err
	}
	if v > rng-1 {
		return 0, outOfRange(lb+int64(v), lb, ub)
	}
	return v, nil
}

// ReadConstrainedInt decodes an INTEGER constrained to [lb,ub]. The encoded
// offset is biased by lb.
func (r *Reader) ReadConstrainedInt(lb, ub int64) (int64, error) {
	v, err := r.ReadConstrainedWholeNumber(lb, ub)
	if err != nil {
		return 0, err
	}
	return lb + int64(v), nil
}

// readOctetCount reads the non-fragmented length that prefixes integer octets.
func (r *Reader) readOctetCount() (int, error) {
	n, frag, err := r.ReadLengthDeterminant()
	if err != nil {
		return 0, err
	}
	if frag || n > 8 {
		return 0, fmt.Errorf("%w: %d-octet integer", ErrUnsupported, n)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: zero-length integer", ErrMalformed)
	}
	return int(n), nil
}

// ReadSemiConstrainedInt decodes an INTEGER with only a lower bound (X.691 10.7).
func (r *Reader) ReadSemiConstrainedInt(lb int64) (int64, error) {
	n, err := r.readOctetCount()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadBits(8 * n)
	if err != nil {
		return 0, err
	}
	return lb + int64(v), nil
}

// ReadUnconstrainedInt decodes a two's-complement INTEGER with no PER-visible
// bounds (X.691 10.8).
func (r *Reader) ReadUnconstrainedInt() (int64, error) {
	n, err := r.readOctetCount()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadBits(8 * n)
	if err != nil {
		return 0, err
	}
	if n < 8 && v&(1<<uint(8*n-1)) != 0 {
		v |= math.MaxUint64 << uint(8*n)
	}
	return int64(v), nil
}

// ReadExtensibleInt decodes INTEGER(lb..ub, ...): values outside the root are
// encoded unconstrained behind a set extension bit.
func (r *Reader) ReadExtensibleInt(lb, ub int64) (int64, error) {
	ext, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if ext {
		return r.ReadUnconstrainedInt()
	}
	return r.ReadConstrainedInt(lb, ub)
}

// ReadBoolean decodes a BOOLEAN.
func (r *Reader) ReadBoolean() (bool, error) {
	return r.ReadBit()
}

// ReadNormallySmall decodes a normally small non-negative whole number
// (X.691 10.6), used for extension indices.
func (r *Reader) ReadNormallySmall() (uint64, error) {
	large, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !large {
		return r.ReadBits(6)
	}
	v, err := r.ReadSemiConstrainedInt(0)
	return uint64(v), err
}

// ReadEnumerated decodes an ENUMERATED index. Extension values are returned
// as numRoot plus their extension index.
func (r *Reader) ReadEnumerated(numRoot int, extensible bool) (uint32, error) {
	if extensible {
		ext, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		if ext {
			idx, err := r.ReadNormallySmall()
			if err != nil {
				return 0, err
			}
			return uint32(numRoot) + uint32(idx), nil
		}
	}
	v, err := r.ReadConstrainedWholeNumber(0, int64(numRoot)-1)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
