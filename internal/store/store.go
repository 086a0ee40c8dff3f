// Package store holds the shared resource definitions (commands, skills,
// MCP servers) that get injected into session working directories. The
// injector only depends on the Store interface; the daemon wires in the
// YAML-backed implementation.
package store

import "fmt"

type Kind string

const (
	KindCommand Kind = "command"
	KindSkill   Kind = "skill"
	KindMCP     Kind = "mcp"
)

// Resource is one named configuration unit with a source location on
// disk and an enabled-by-default flag.
type Resource struct {
	Name    string `yaml:"name"`
	Kind    Kind   `yaml:"kind"`
	Path    string `yaml:"path"`
	Enabled bool   `yaml:"enabled"`
}

// Store resolves the effective enabled resource set for a task: a
// task-level override wins, otherwise the resource's own default applies.
type Store interface {
	// EffectiveSet returns the resources enabled for the task, in a
	// stable order.
	EffectiveSet(taskID string) ([]Resource, error)
	// SetDefaultEnabled flips a resource's enabled-by-default flag.
	SetDefaultEnabled(name string, enabled bool) error
	// SetTaskOverride records a per-task enable/disable override.
	SetTaskOverride(taskID, name string, enabled bool) error
}

// ErrUnknownResource is wrapped by implementations when a name does not
// resolve to a defined resource.
var ErrUnknownResource = fmt.Errorf("unknown resource")

// effective applies task overrides over defaults. Shared by both
// implementations.
func effective(resources []Resource, overrides map[string]bool) []Resource {
	out := make([]Resource, 0, len(resources))
	for _, r := range resources {
		enabled := r.Enabled
		if v, ok := overrides[r.Name]; ok {
			enabled = v
		}
		if enabled {
			out = append(out, r)
		}
	}
	return out
}
