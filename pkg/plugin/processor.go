package plugin

import "firestige.xyz/dissect/internal/core"

// Processor inspects records before they are reported.
type Processor interface {
	Plugin
	Process(rec *core.Record) (keep bool)
}
