// Package core defines core types.
package core

// Labels represents key-value metadata attached by parsers.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelM3APProcedure = "m3ap.procedure" // message name, e.g. "MBMSSessionStartRequest"

	LabelT38Seq         = "t38.seq"
	LabelT38Reassembled = "t38.reassembled" // stream of a completed HDLC or T.4 payload
	LabelT30FCF         = "t30.fcf"         // FCF name of a reassembled HDLC frame
	LabelT30FCS         = "t30.fcs"         // OK or BAD when the frame closed with an FCS indication

	LabelRTSPMethod  = "rtsp.method"
	LabelRTSPCSeq    = "rtsp.cseq"
	LabelRTSPStatus  = "rtsp.status_code"
	LabelRTSPChannel = "rtsp.channel" // interleaved channel of a binary frame
	LabelRTSPBinding = "rtsp.binding" // decoder bound by a SETUP reply

	LabelRTPPayloadType = "rtp.payload_type"
	LabelRTPSSRC        = "rtp.ssrc" // hex, 0xXXXXXXXX
	LabelRTPSeq         = "rtp.seq"

	LabelRDTPackets = "rdt.packets" // packet kinds of one datagram, e.g. "DATA seq=5, RTTREQUEST"

	LabelRTCPPacketType = "rtcp.packet_type" // type of the first packet of a compound
	LabelRTCPSSRC       = "rtcp.ssrc"

	LabelSetupFrame  = "conversation.setup_frame"  // frame of the signaling that bound the conversation
	LabelSetupMethod = "conversation.setup_method" // e.g. "RTSP"
)
