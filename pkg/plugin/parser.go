package plugin

import (
	"firestige.xyz/dissect/internal/conversation"
	"firestige.xyz/dissect/internal/core"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/dissect"
)

// Parser decodes application-layer payloads. One payload may produce several
// outputs, e.g. a T.38 packet and the HDLC frame it completed, or the
// messages and interleaved frames of one TCP segment.
type Parser interface {
	Plugin
	CanHandle(pkt *core.DecodedPacket) bool
	Handle(pkt *core.DecodedPacket) ([]Output, error)
}

// Output is one top-level decode produced by a parser.
type Output struct {
	Result *dissect.Result
	Labels core.Labels
}

// ConversationAware is an optional interface that parsers implement to share
// the conversation table. Signaling parsers bind conversations in it, media
// parsers look them up.
type ConversationAware interface {
	SetConversationTable(table *conversation.Table)
}

// ProtocolsAware is an optional interface that parsers implement to receive
// the decoder set built at startup.
type ProtocolsAware interface {
	SetProtocols(set *protocols.Set)
}
