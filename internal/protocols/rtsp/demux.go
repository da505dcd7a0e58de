package rtsp

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	interleavedMagic     = '$'
	interleavedHeaderLen = 4

	// DefaultMaxMessage bounds a buffered text message.
	DefaultMaxMessage = 64 << 10
)

// Unit is one element of an RTSP byte stream: a *Frame, a *Message or a
// *Skipped run of unrecognized bytes.
type Unit interface {
	StreamOffset() int64
}

// Frame is an interleaved binary frame: '$', channel, 16 bit length.
type Frame struct {
	Offset  int64
	Channel uint8
	Payload []byte
}

func (f *Frame) StreamOffset() int64 { return f.Offset }

// Skipped is data that is neither a frame nor a message.
type Skipped struct {
	Offset int64
	Data   []byte
}

func (s *Skipped) StreamOffset() int64 { return s.Offset }

// Demuxer splits one direction of an RTSP connection into units. Segments
// may cut a unit anywhere; the remainder is carried to the next Feed.
type Demuxer struct {
	buf        []byte
	off        int64
	maxMessage int
}

// NewDemuxer creates a demultiplexer. maxMessage <= 0 selects
// DefaultMaxMessage.
func NewDemuxer(maxMessage int) *Demuxer {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessage
	}
	return &Demuxer{maxMessage: maxMessage}
}

// Buffered returns the number of bytes waiting for the rest of a unit.
func (d *Demuxer) Buffered() int { return len(d.buf) }

// Feed consumes the next segment of the stream and returns the units it
// completes, in stream order.
func (d *Demuxer) Feed(seg []byte) []Unit {
	d.buf = append(d.buf, seg...)
	var out []Unit
	for len(d.buf) > 0 {
		u, n := d.next(false)
		if n == 0 {
			break
		}
		out = append(out, u)
		d.consume(n)
	}
	return out
}

// Flush returns whatever is left at the end of the stream.
func (d *Demuxer) Flush() []Unit {
	var out []Unit
	for len(d.buf) > 0 {
		u, n := d.next(true)
		if n == 0 {
			u, n = &Skipped{Offset: d.off, Data: clone(d.buf)}, len(d.buf)
		}
		out = append(out, u)
		d.consume(n)
	}
	return out
}

func (d *Demuxer) consume(n int) {
	d.off += int64(n)
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

// next parses one unit at the head of the buffer; n == 0 asks for more data.
func (d *Demuxer) next(atEOF bool) (Unit, int) {
	b := d.buf
	if b[0] == interleavedMagic {
		if len(b) < interleavedHeaderLen {
			return nil, 0
		}
		n := interleavedHeaderLen + int(binary.BigEndian.Uint16(b[2:4]))
		if len(b) < n {
			return nil, 0
		}
		return &Frame{Offset: d.off, Channel: b[1], Payload: clone(b[interleavedHeaderLen:n])}, n
	}

	kind, lineEnd := classify(b)
	switch kind {
	case lineIncomplete:
		if len(b) > d.maxMessage {
			return d.skip()
		}
		return nil, 0
	case lineOther:
		return d.skip()
	}

	end := headerEnd(b)
	if end < 0 {
		if len(b) > d.maxMessage {
			return d.skip()
		}
		return nil, 0
	}
	msg := &Message{
		Offset:    d.off,
		StartLine: strings.TrimRight(string(b[:lineEnd-1]), "\r"),
		Header:    parseHeader(b[lineEnd:end]),
	}
	body, ok := msg.Header.ContentLength()
	if !ok || body > d.maxMessage {
		msg.BadLength, body = true, 0
	}
	total := end + body
	if len(b) < total {
		if !atEOF {
			return nil, 0
		}
		total = len(b)
	}
	msg.Raw = clone(b[:total])
	msg.Body = msg.Raw[end:]
	return msg, total
}

// skip takes the unrecognized bytes at the head of the buffer, up to the
// next line or interleaved frame.
func (d *Demuxer) skip() (Unit, int) {
	b := d.buf
	n := len(b)
	if i := bytes.IndexByte(b[1:], '\n'); i >= 0 {
		n = i + 2
	}
	if i := bytes.IndexByte(b[1:], interleavedMagic); i >= 0 && i+1 < n {
		n = i + 1
	}
	return &Skipped{Offset: d.off, Data: clone(b[:n])}, n
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
