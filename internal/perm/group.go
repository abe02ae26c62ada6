package perm

import "strings"

// Group is a named role bundle: a DataUnit plus the list of group names it
// directly inherits and an info-variable map. Groups whose name carries the
// reserved global prefix live in the world-independent registry and hold
// neither inheritance nor variables.
type Group struct {
	DataUnit
	inherits  []string
	variables Variables
}

// NewGroup creates a group. Whether it is global follows from its name.
func NewGroup(name string) *Group {
	return &Group{DataUnit: newDataUnit(name)}
}

// Name is the identity key of the group.
func (g *Group) Name() string { return g.Key() }

// IsGlobal reports whether the group belongs to the global registry.
func (g *Group) IsGlobal() bool {
	return strings.HasPrefix(strings.ToLower(g.Key()), GlobalGroupPrefix)
}

// Inherits returns a copy of the directly inherited group names, in order.
func (g *Group) Inherits() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.inherits))
	copy(out, g.inherits)
	return out
}

// AddInherits appends a directly inherited group name. Duplicates are
// rejected; global groups never inherit.
func (g *Group) AddInherits(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || g.IsGlobal() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, have := range g.inherits {
		if strings.EqualFold(have, name) {
			return false
		}
	}
	g.inherits = append(g.inherits, name)
	g.changed = true
	return true
}

// RemoveInherits deletes a directly inherited group name.
func (g *Group) RemoveInherits(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, have := range g.inherits {
		if strings.EqualFold(have, name) {
			g.inherits = append(g.inherits[:i], g.inherits[i+1:]...)
			g.changed = true
			return true
		}
	}
	return false
}

// SetVariable stores an info variable. Global groups carry none.
func (g *Group) SetVariable(name string, value any) {
	if g.IsGlobal() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.variables.Set(name, value)
	g.changed = true
}

// RemoveVariable deletes an info variable.
func (g *Group) RemoveVariable(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.variables.Remove(name) {
		g.changed = true
		return true
	}
	return false
}

// HasVariable reports whether the info variable exists.
func (g *Group) HasVariable(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.Has(name)
}

// VarString returns an info variable as string. Prefix and suffix default
// to the empty string.
func (g *Group) VarString(name, def string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.String(name, def)
}

// VarBool returns an info variable as bool. The build flag defaults false.
func (g *Group) VarBool(name string, def bool) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.Bool(name, def)
}

// VarInt returns an info variable as int.
func (g *Group) VarInt(name string, def int) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.Int(name, def)
}

// VariableNames returns the stored info-variable names.
func (g *Group) VariableNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.Names()
}

// Variable returns the raw info-variable value.
func (g *Group) Variable(name string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables.Get(name)
}

// Clone returns a deep copy sharing no state with the receiver.
func (g *Group) Clone() *Group {
	out := &Group{DataUnit: g.cloneState()}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out.inherits = make([]string, len(g.inherits))
	copy(out.inherits, g.inherits)
	out.variables = g.variables.clone()
	return out
}
