package security

import (
	"errors"
	"fmt"
	"plugin"
)

// PluginSymbol is the constructor a guard plugin must export.
const PluginSymbol = "NewGuardBackend"

var ErrPluginSymbol = errors.New("plugin does not export " + PluginSymbol)

// OpenPlugin loads a Go plugin built with -buildmode=plugin exporting
// func NewGuardBackend(serverKey string) (security.Backend, error).
func OpenPlugin(path, serverKey string) (Backend, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open guard plugin: %w", err)
	}
	sym, err := p.Lookup(PluginSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPluginSymbol, err)
	}
	ctor, ok := sym.(func(string) (Backend, error))
	if !ok {
		return nil, fmt.Errorf("%w: wrong signature %T", ErrPluginSymbol, sym)
	}
	b, err := ctor(serverKey)
	if err != nil {
		return nil, fmt.Errorf("init guard plugin: %w", err)
	}
	if b == nil {
		return nil, errors.New("guard plugin returned nil backend")
	}
	return b, nil
}
