// Package api holds what the built-in parsers share: errors, port sets and
// record labels derived from conversations.
package api

import "errors"

var (
	ErrNoProtocols  = errors.New("parser: decoder set not wired")
	ErrNoTable      = errors.New("parser: conversation table not wired")
	ErrEmptyPayload = errors.New("parser: empty payload")
)
