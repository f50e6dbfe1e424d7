package identity

import "sync/atomic"

// DefaultRole is a DefaultRoleSource whose value can be swapped at runtime,
// e.g. from a configuration file watcher.
type DefaultRole struct {
	name atomic.Pointer[string]
}

// NewDefaultRole returns a DefaultRole initialised to name.
func NewDefaultRole(name string) *DefaultRole {
	d := &DefaultRole{}
	d.Set(name)
	return d
}

// Name returns the current default role name. An empty name disables default assignment.
func (d *DefaultRole) Name() string {
	if p := d.name.Load(); p != nil {
		return *p
	}
	return ""
}

// Set replaces the default role name.
func (d *DefaultRole) Set(name string) {
	d.name.Store(&name)
}
