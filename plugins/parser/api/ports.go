package api

import (
	"strconv"

	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
)

// Ports is a set of transport ports.
type Ports map[uint16]struct{}

// NewPorts builds a port set.
func NewPorts(ports []uint16) Ports {
	p := make(Ports, len(ports))
	for _, port := range ports {
		p[port] = struct{}{}
	}
	return p
}

// Match reports whether either endpoint of pkt uses one of the ports.
func (p Ports) Match(pkt *core.DecodedPacket) bool {
	_, src := p[pkt.Transport.SrcPort]
	_, dst := p[pkt.Transport.DstPort]
	return src || dst
}

// Key returns the conversation key of pkt, oriented from source to
// destination.
func Key(pkt *core.DecodedPacket) conversation.Key {
	return conversation.NewKey(pkt.Transport.Protocol, pkt.Src(), pkt.Dst())
}

// SetupLabels labels a record with the signaling that bound its
// conversation.
func SetupLabels(labels core.Labels, st conversation.State) core.Labels {
	if labels == nil {
		labels = make(core.Labels)
	}
	if st.SetupFrame != 0 {
		labels[core.LabelSetupFrame] = strconv.FormatUint(st.SetupFrame, 10)
	}
	if st.SetupMethod != "" {
		labels[core.LabelSetupMethod] = st.SetupMethod
	}
	return labels
}
