// Package plugin defines the interfaces of capturers, parsers, processors
// and reporters, and the factories they are registered under.
package plugin

import "context"

// Plugin is the base interface for all plugins.
type Plugin interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
