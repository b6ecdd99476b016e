// Package builtin provides the demonstration toolsets that can be served
// in-process or over MCP.
package builtin

import (
	"fmt"
	"slices"

	"relay/internal/tool"
)

// Toolset is a named group of tools registered together
type Toolset struct {
	Name        string
	Description string
	register    func(r *tool.Registry) error
}

var toolsets = []Toolset{
	{Name: "calculator", Description: "add, subtract, multiply, divide", register: registerCalculator},
	{Name: "horoscope", Description: "daily horoscope per zodiac sign", register: registerHoroscope},
	{Name: "directory", Description: "server status, user lookup, squares", register: registerDirectory},
	{Name: "context", Description: "per-session mutable context", register: registerContext},
}

// Toolsets returns the available toolsets
func Toolsets() []Toolset {
	return slices.Clone(toolsets)
}

// Names returns the names of the available toolsets
func Names() []string {
	names := make([]string, len(toolsets))
	for i, ts := range toolsets {
		names[i] = ts.Name
	}
	return names
}

// Register adds the named toolsets to r in the given order
func Register(r *tool.Registry, names ...string) error {
	for _, name := range names {
		idx := slices.IndexFunc(toolsets, func(ts Toolset) bool { return ts.Name == name })
		if idx < 0 {
			return fmt.Errorf("unknown toolset %q (available: %v)", name, Names())
		}

		if err := toolsets[idx].register(r); err != nil {
			return fmt.Errorf("toolset %s: %w", name, err)
		}
	}
	return nil
}
