// Package per implements the ASN.1 Packed Encoding Rules (X.691) primitives
// in both the ALIGNED and UNALIGNED variants.
package per

// Position is a normalized cursor position: Bit is always in 0..7.
type Position struct {
	Byte int
	Bit  uint8
}

// Bits returns the position as an absolute bit offset.
func (p Position) Bits() int {
	return p.Byte*8 + int(p.Bit)
}

// Reader is a forward-only bit cursor over an immutable buffer.
// A Reader is not safe for concurrent use.
type Reader struct {
	buf     []byte
	off     int // bit offset
	aligned bool
}

// NewReader creates a reader. aligned selects the ALIGNED variant.
func NewReader(buf []byte, aligned bool) *Reader {
	return &Reader{buf: buf, aligned: aligned}
}

// Aligned reports whether the reader decodes the ALIGNED variant.
func (r *Reader) Aligned() bool { return r.aligned }

// Bytes returns the underlying buffer.
func (r *Reader) Bytes() []byte { return r.buf }

// Position returns the current cursor.
func (r *Reader) Position() Position {
	return Position{Byte: r.off / 8, Bit: uint8(r.off % 8)}
}

// BitOffset returns the current cursor in bits.
func (r *Reader) BitOffset() int { return r.off }

// Save returns a position that Restore can rewind to.
func (r *Reader) Save() Position { return r.Position() }

// Restore rewinds (or advances) the cursor to p.
func (r *Reader) Restore(p Position) {
	r.off = p.Bits()
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return len(r.buf)*8 - r.off
}

// Consumed returns the number of bytes touched so far, counting a partially
// read trailing byte as consumed.
func (r *Reader) Consumed() int {
	return (r.off + 7) / 8
}

func (r *Reader) need(n int) error {
	if n > r.Remaining() {
		return &TruncatedError{Needed: n, Available: r.Remaining()}
	}
	return nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	b := r.buf[r.off/8]>>(7-uint(r.off%8))&1 == 1
	r.off++
	return b, nil
}

// ReadBits reads n (0..64) bits, most significant first.
func (r *Reader) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, ErrUnsupported
	}
	if err := r.need(n); err != nil {
		return 0, err
	}
	var v uint64
	for n > 0 {
		idx := r.off / 8
		shift := r.off % 8
		avail := 8 - shift
		take := avail
		if take > n {
			take = n
		}
		bits := uint64(r.buf[idx]>>(avail-take)) & (1<<uint(take) - 1)
		v = v<<uint(take) | bits
		r.off += take
		n -= take
	}
	return v, nil
}

// AlignToByte advances the cursor to the next octet boundary.
func (r *Reader) AlignToByte() {
	if rem := r.off % 8; rem != 0 {
		r.off += 8 - rem
		if r.off > len(r.buf)*8 {
			r.off = len(r.buf) * 8
		}
	}
}

// align pads to an octet boundary in the ALIGNED variant only.
func (r *Reader) align() {
	if r.aligned {
		r.AlignToByte()
	}
}

// ReadBytes reads n whole octets starting at the current bit position. The
// returned slice aliases the buffer when the cursor is octet aligned.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n * 8); err != nil {
		return nil, err
	}
	if r.off%8 == 0 {
		start := r.off / 8
		r.off += n * 8
		return r.buf[start : start+n : start+n], nil
	}
	out := make([]byte, n)
	for i := range out {
		v, _ := r.ReadBits(8)
		out[i] = byte(v)
	}
	return out, nil
}

// readBitField reads n bits into a left-aligned byte slice.
func (r *Reader) readBitField(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, (n+7)/8)
	full := n / 8
	for i := 0; i < full; i++ {
		v, _ := r.ReadBits(8)
		out[i] = byte(v)
	}
	if rest := n % 8; rest != 0 {
		v, _ := r.ReadBits(rest)
		out[full] = byte(v << uint(8-rest))
	}
	return out, nil
}
