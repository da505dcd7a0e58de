package per

import (
	"encoding/asn1"
	"fmt"
	"sort"
	"strings"
)

// Charset identifies a restricted character string type.
type Charset uint8

const (
	IA5String Charset = iota
	PrintableString
	VisibleString
	NumericString
	BMPString
	UniversalString
	UTF8String
)

var charsetNames = [...]string{"IA5String", "PrintableString", "VisibleString", "NumericString", "BMPString", "UniversalString", "UTF8String"}

func (c Charset) String() string {
	if int(c) < len(charsetNames) {
		return charsetNames[c]
	}
	return fmt.Sprintf("Charset(%d)", c)
}

const (
	printableAlphabet = " '()+,-./0123456789:=?ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	numericAlphabet   = " 0123456789"
)

// charTable describes how characters of one string type are packed.
type charTable struct {
	bits    int
	runes   []rune // sorted alphabet, nil for the implicit BMP/Universal sets
	indexed bool   // characters are encoded as their index in runes
}

func rangeRunes(lo, hi rune) []rune {
	out := make([]rune, 0, hi-lo+1)
	for c := lo; c <= hi; c++ {
		out = append(out, c)
	}
	return out
}

func sortedRunes(s string) []rune {
	rs := []rune(s)
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	out := rs[:0]
	for i, c := range rs {
		if i == 0 || c != rs[i-1] {
			out = append(out, c)
		}
	}
	return out
}

// newCharTable applies X.691 30.5 to a known-multiplier character string
// type, optionally narrowed by a permitted alphabet constraint.
func newCharTable(cs Charset, permitted string, aligned bool) (charTable, error) {
	var t charTable
	var n uint64
	var maxCode uint64
	switch {
	case permitted != "":
		t.runes = sortedRunes(permitted)
	case cs == IA5String:
		t.runes = rangeRunes(0, 127)
	case cs == VisibleString:
		t.runes = rangeRunes(32, 126)
	case cs == PrintableString:
		t.runes = sortedRunes(printableAlphabet)
	case cs == NumericString:
		t.runes = sortedRunes(numericAlphabet)
	case cs == BMPString:
		n, maxCode = 1<<16, 1<<16-1
	case cs == UniversalString:
		n, maxCode = 1<<32, 1<<32-1
	default:
		return t, fmt.Errorf("%w: %s is not a known-multiplier type", ErrUnsupported, cs)
	}
	if t.runes != nil {
		n = uint64(len(t.runes))
		maxCode = uint64(t.runes[len(t.runes)-1])
	}
	t.bits = bitsFor(n)
	if aligned {
		b := 1
		for b < t.bits {
			b <<= 1
		}
		t.bits = b
	}
	t.indexed = t.runes != nil && maxCode >= 1<<uint(t.bits)
	return t, nil
}

func (t charTable) decode(code uint64) (rune, error) {
	if !t.indexed {
		return rune(code), nil
	}
	if code >= uint64(len(t.runes)) {
		return 0, fmt.Errorf("%w: character index %d", ErrValueOutOfRange, code)
	}
	return t.runes[code], nil
}

func (t charTable) encode(c rune) (uint64, error) {
	if !t.indexed {
		if t.bits < 32 && uint64(c) >= 1<<uint(t.bits) {
			return 0, fmt.Errorf("%w: character %q", ErrValueOutOfRange, c)
		}
		return uint64(c), nil
	}
	i := sort.Search(len(t.runes), func(i int) bool { return t.runes[i] >= c })
	if i == len(t.runes) || t.runes[i] != c {
		return 0, fmt.Errorf("%w: character %q not in permitted alphabet", ErrValueOutOfRange, c)
	}
	return uint64(i), nil
}

// stringAligned reports whether a string of n characters is octet aligned.
func (t charTable) stringAligned(size SizeRange, ext bool, n int) bool {
	if !ext && size.Fixed() {
		return size.Ub*t.bits > 16
	}
	return n > 0
}

// ReadRestrictedString decodes a character string type. permitted, when set,
// is the PER-visible permitted alphabet constraint.
func (r *Reader) ReadRestrictedString(cs Charset, size SizeRange, permitted string) (string, error) {
	if cs == UTF8String {
		b, err := r.ReadOctetString(AnySize())
		return string(b), err
	}
	t, err := newCharTable(cs, permitted, r.aligned)
	if err != nil {
		return "", err
	}
	ext, err := r.readExtBit(size.Extensible)
	if err != nil {
		return "", err
	}
	var n uint32
	if !ext && size.Fixed() {
		n = uint32(size.Lb)
	} else {
		var frag bool
		if n, frag, err = r.lengthFor(size, ext); err != nil {
			return "", err
		}
		if frag {
			return "", fmt.Errorf("%w: fragmented %s", ErrUnsupported, cs)
		}
	}
	if t.stringAligned(size, ext, int(n)) {
		r.align()
	}
	var sb strings.Builder
	for i := uint32(0); i < n; i++ {
		code, err := r.ReadBits(t.bits)
		if err != nil {
			return "", err
		}
		c, err := t.decode(code)
		if err != nil {
			return "", err
		}
		sb.WriteRune(c)
	}
	return sb.String(), nil
}

// ReadObjectIdentifier decodes an OBJECT IDENTIFIER: a length determinant
// followed by the BER contents octets.
func (r *Reader) ReadObjectIdentifier() (asn1.ObjectIdentifier, error) {
	content, err := r.ReadOpenType()
	if err != nil {
		return nil, err
	}
	raw, err := asn1.Marshal(asn1.RawValue{Tag: asn1.TagOID, Bytes: content})
	if err != nil {
		return nil, fmt.Errorf("%w: object identifier: %v", ErrMalformed, err)
	}
	var oid asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(raw, &oid); err != nil {
		return nil, fmt.Errorf("%w: object identifier: %v", ErrMalformed, err)
	}
	return oid, nil
}
