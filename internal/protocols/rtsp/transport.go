package rtsp

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"firestige.xyz/dissect/internal/protocols/rdt"
	"firestige.xyz/dissect/internal/protocols/rtp"
)

var ErrTransport = errors.New("rtsp: malformed Transport header")

// Lower transports.
const (
	LowerUDP = "UDP"
	LowerTCP = "TCP"
)

// Transport is one transport specification of a Transport header.
type Transport struct {
	Protocol string // RTP/AVP, x-real-rdt or x-pn-tng
	Lower    string
	// Handle is the decoder media on this transport goes to, "" when the
	// protocol is not one we decode.
	Handle      string
	Interleaved *[2]uint8
	ClientPorts [2]uint16 // zero when absent; second is zero for a single port
	ServerPorts [2]uint16
	Source      netip.Addr
	Destination netip.Addr
	Multicast   bool
}

// ParseTransport parses a Transport header value. Specifications that
// cannot be parsed are reported in err while the others are still returned.
func ParseTransport(value string) ([]Transport, error) {
	var out []Transport
	var errs []error
	for _, spec := range strings.Split(value, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		t, err := parseSpec(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

func parseSpec(spec string) (Transport, error) {
	params := strings.Split(spec, ";")
	var t Transport
	proto := strings.Split(strings.TrimSpace(params[0]), "/")
	switch p := strings.ToLower(proto[0]); {
	case p == "rtp" && len(proto) >= 2:
		t.Protocol = strings.ToUpper(proto[0]) + "/" + strings.ToUpper(proto[1])
		t.Handle = rtp.Name
		if len(proto) > 2 {
			t.Lower = strings.ToUpper(proto[2])
		}
	case p == "x-real-rdt" || p == "x-pn-tng":
		t.Protocol = p
		t.Handle = rdt.Name
		if len(proto) > 1 {
			t.Lower = strings.ToUpper(proto[1])
		}
	default:
		t.Protocol = params[0]
	}

	for _, param := range params[1:] {
		name, value, _ := strings.Cut(strings.TrimSpace(param), "=")
		var err error
		switch strings.ToLower(name) {
		case "interleaved":
			var ch [2]uint16
			if ch, err = parseRange(value, 255); err == nil {
				t.Interleaved = &[2]uint8{uint8(ch[0]), uint8(ch[1])}
			}
		case "client_port":
			t.ClientPorts, err = parseRange(value, 65535)
		case "server_port":
			t.ServerPorts, err = parseRange(value, 65535)
		case "source":
			t.Source, err = netip.ParseAddr(value)
		case "destination":
			t.Destination, err = netip.ParseAddr(value)
		case "multicast":
			t.Multicast = true
		}
		if err != nil {
			return Transport{}, fmt.Errorf("%w: %s: %v", ErrTransport, param, err)
		}
	}

	if t.Lower == "" {
		t.Lower = LowerUDP
		if t.Interleaved != nil {
			t.Lower = LowerTCP
		}
	}
	return t, nil
}

// parseRange parses "a" or "a-b".
func parseRange(s string, limit uint64) ([2]uint16, error) {
	var out [2]uint16
	lo, hi, isRange := strings.Cut(s, "-")
	a, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
	if err != nil || a > limit {
		return out, fmt.Errorf("bad value %q", s)
	}
	out[0] = uint16(a)
	if isRange {
		b, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
		if err != nil || b > limit {
			return out, fmt.Errorf("bad value %q", s)
		}
		out[1] = uint16(b)
	}
	return out, nil
}
