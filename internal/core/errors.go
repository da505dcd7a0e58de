// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Decode problems caused by input bytes are never returned
// as errors; they become diagnostics in the decode tree.
var (
	// Packet errors
	ErrPacketTooShort   = errors.New("dissect: packet too short")
	ErrUnsupportedProto = errors.New("dissect: unsupported protocol")
	ErrUnsupportedLink  = errors.New("dissect: unsupported link type")

	// IP reassembly errors
	ErrFragmentPending = errors.New("dissect: fragment reassembly pending")

	// Plugin errors
	ErrPluginNotFound   = errors.New("dissect: plugin not found")
	ErrParserNotFound   = errors.New("dissect: parser not found")
	ErrPluginInitFailed = errors.New("dissect: plugin init failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("dissect: invalid configuration")

	// Pipeline and sink errors
	ErrPipelineStopped = errors.New("dissect: pipeline stopped")
	ErrSinkClosed      = errors.New("dissect: sink closed")
)
