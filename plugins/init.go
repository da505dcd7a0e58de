// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/dissect/pkg/plugin"
	"firestige.xyz/dissect/plugins/capture/pcapfile"
	"firestige.xyz/dissect/plugins/parser/m3ap"
	"firestige.xyz/dissect/plugins/parser/rdt"
	"firestige.xyz/dissect/plugins/parser/rtp"
	"firestige.xyz/dissect/plugins/parser/rtsp"
	"firestige.xyz/dissect/plugins/parser/t38"
	"firestige.xyz/dissect/plugins/processor/protocolfilter"
	"firestige.xyz/dissect/plugins/reporter/console"
	"firestige.xyz/dissect/plugins/reporter/hep"
	"firestige.xyz/dissect/plugins/reporter/kafka"
)

func init() {
	// Register capture plugins
	plugin.RegisterCapturer("pcapfile", pcapfile.NewCapturer)

	// Register parser plugins. Signaling parsers come first so that a
	// binding made by a frame is visible to the media parsers.
	plugin.RegisterParser("m3ap", m3ap.NewParser)
	plugin.RegisterParser("rtsp", rtsp.NewParser)
	plugin.RegisterParser("t38", t38.NewParser)
	plugin.RegisterParser("rdt", rdt.NewParser)
	plugin.RegisterParser("rtp", rtp.NewRTPParser)

	// Register processor plugins
	plugin.RegisterProcessor(protocolfilter.Name, protocolfilter.NewFilter)

	// Register reporter plugins
	plugin.RegisterReporter("console", console.NewConsoleReporter)
	plugin.RegisterReporter("kafka", kafka.NewKafkaReporter)
	plugin.RegisterReporter("hep", hep.NewHEPReporter)
}
