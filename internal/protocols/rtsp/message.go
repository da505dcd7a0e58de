// Package rtsp implements RTSP signaling over TCP: the demultiplexer for
// interleaved binary frames and text messages, the Transport header parser
// and the SETUP tracker binding negotiated media to decoders.
package rtsp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/dissect/pkg/diag"
	"firestige.xyz/dissect/pkg/dissect"
)

// Name is the protocol name.
const Name = "rtsp"

const rtspVersionPrefix = "RTSP/"

var methods = []string{
	"DESCRIBE", "ANNOUNCE", "GET_PARAMETER", "OPTIONS", "PAUSE", "PLAY",
	"RECORD", "REDIRECT", "SETUP", "SET_PARAMETER", "TEARDOWN",
}

// HeaderField is one message header line.
type HeaderField struct {
	Name  string
	Value string
}

// Header keeps header fields in message order. Names compare
// case-insensitively.
type Header []HeaderField

// Get returns the first value of name.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// CSeq returns the sequence number of the message.
func (h Header) CSeq() (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(h.Get("CSeq")))
	return v, err == nil
}

// ContentLength returns the body length; ok is false for a malformed value.
func (h Header) ContentLength() (n int, ok bool) {
	v := strings.TrimSpace(h.Get("Content-Length"))
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Message is one RTSP request or response.
type Message struct {
	Offset    int64 // stream offset of the start line
	Raw       []byte
	StartLine string
	Header    Header
	Body      []byte
	// BadLength is set when Content-Length could not be honored.
	BadLength bool
}

func (m *Message) StreamOffset() int64 { return m.Offset }

// IsResponse reports whether the message is a status reply.
func (m *Message) IsResponse() bool { return strings.HasPrefix(m.StartLine, rtspVersionPrefix) }

// Method returns the request method, or "" for responses.
func (m *Message) Method() string {
	if m.IsResponse() {
		return ""
	}
	method, _, _ := strings.Cut(m.StartLine, " ")
	return method
}

// URI returns the request URI.
func (m *Message) URI() string {
	parts := strings.Fields(m.StartLine)
	if m.IsResponse() || len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// StatusCode returns the response status, or 0 for requests.
func (m *Message) StatusCode() int {
	parts := strings.Fields(m.StartLine)
	if !m.IsResponse() || len(parts) < 2 {
		return 0
	}
	code, _ := strconv.Atoi(parts[1])
	return code
}

// lineKind classifies the first line of a buffered message.
type lineKind int

const (
	lineIncomplete lineKind = iota
	lineRequest
	lineResponse
	lineOther
)

// classify inspects the line at the start of b. An incomplete line is only
// reported as such while it can still become an RTSP start line.
func classify(b []byte) (lineKind, int) {
	end := bytes.IndexByte(b, '\n')
	if end < 0 {
		if couldStart(b) {
			return lineIncomplete, 0
		}
		return lineOther, 0
	}
	line := strings.TrimRight(string(b[:end]), "\r")
	if strings.HasPrefix(line, rtspVersionPrefix) {
		return lineResponse, end + 1
	}
	parts := strings.Fields(line)
	if len(parts) == 3 && isMethod(parts[0]) && strings.HasPrefix(parts[2], rtspVersionPrefix) {
		return lineRequest, end + 1
	}
	return lineOther, end + 1
}

func couldStart(b []byte) bool {
	prefix := string(b)
	if strings.HasPrefix(rtspVersionPrefix, prefix) || strings.HasPrefix(prefix, rtspVersionPrefix) {
		return true
	}
	for _, m := range methods {
		if strings.HasPrefix(m+" ", prefix) || strings.HasPrefix(prefix, m+" ") {
			return true
		}
	}
	return false
}

func isMethod(s string) bool {
	for _, m := range methods {
		if m == s {
			return true
		}
	}
	return false
}

// headerEnd returns the length of the header block including its blank
// line terminator, or -1.
func headerEnd(b []byte) int {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 4
	case lf >= 0:
		return lf + 2
	}
	return -1
}

// parseHeader splits a header block after its start line. Lines starting
// with white space continue the previous field.
func parseHeader(block []byte) Header {
	var h Header
	for _, raw := range bytes.Split(block, []byte("\n")) {
		line := strings.TrimRight(string(raw), "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(h) > 0 {
			h[len(h)-1].Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h = append(h, HeaderField{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return h
}

// DecodeMessage renders msg as a decode tree. Offsets are relative to the
// start of the message.
func DecodeMessage(msg *Message) *dissect.Result {
	root := dissect.Group(Name, 0, len(msg.Raw))
	lineLen := len(msg.StartLine)
	if msg.IsResponse() {
		root.Add(dissect.Group("response", 0, lineLen,
			dissect.Uint("status", 0, lineLen, uint64(msg.StatusCode()))))
	} else {
		root.Add(dissect.Group("request", 0, lineLen,
			dissect.Str("method", 0, len(msg.Method()), msg.Method()),
			dissect.Str("uri", 0, lineLen, msg.URI())))
	}

	headers := dissect.Group("headers", lineLen, 0)
	pos := lineLen
	for _, f := range msg.Header {
		off := pos
		if i := bytes.Index(msg.Raw[pos:], []byte(f.Name)); i >= 0 {
			off = pos + i
			pos = off + len(f.Name)
		}
		n := dissect.Str(f.Name, off, len(f.Name)+2+len(f.Value), f.Value)
		if strings.EqualFold(f.Name, "Transport") {
			specs, err := ParseTransport(f.Value)
			if err != nil {
				n.Annotate(diag.New(diag.Malformation, "%v", err).WithSeverity(diag.Warning))
			}
			for _, s := range specs {
				n.Add(transportNode(s, off, n.Length))
			}
		}
		headers.Add(n)
	}
	headers.Length = len(msg.Raw) - len(msg.Body) - lineLen
	root.Add(headers)

	if msg.BadLength {
		n := dissect.Str("Content-Length", lineLen, headers.Length, msg.Header.Get("Content-Length"))
		n.Annotate(diag.New(diag.ValueOutOfRange, "unusable Content-Length %q", msg.Header.Get("Content-Length")).
			WithSeverity(diag.Warning))
		root.Add(n)
	}
	if len(msg.Body) > 0 {
		root.Add(dissect.Raw("body", len(msg.Raw)-len(msg.Body), msg.Body))
	}
	return dissect.NewResult(Name, root, summary(msg))
}

func summary(msg *Message) string {
	if msg.IsResponse() {
		return "Reply: " + msg.StartLine
	}
	return fmt.Sprintf("Request: %s %s", msg.Method(), msg.URI())
}

func transportNode(s Transport, off, length int) *dissect.Node {
	n := dissect.Group("transport", off, length,
		dissect.Str("protocol", off, length, s.Protocol),
		dissect.Str("lower", off, length, s.Lower))
	if s.Interleaved != nil {
		n.Add(dissect.Str("interleaved", off, length,
			fmt.Sprintf("%d-%d", s.Interleaved[0], s.Interleaved[1])))
	}
	if s.ClientPorts[0] != 0 {
		n.Add(dissect.Str("client_port", off, length, portRange(s.ClientPorts)))
	}
	if s.ServerPorts[0] != 0 {
		n.Add(dissect.Str("server_port", off, length, portRange(s.ServerPorts)))
	}
	return n
}

func portRange(p [2]uint16) string {
	if p[1] == 0 {
		return strconv.Itoa(int(p[0]))
	}
	return fmt.Sprintf("%d-%d", p[0], p[1])
}
