package perm

import "strings"

// SubGroup is one secondary group membership with an optional expiry
// (epoch seconds; zero means permanent).
type SubGroup struct {
	Name    string
	Expires int64
}

// User is a principal: a DataUnit plus a primary group reference, an
// insertion-ordered set of expiring subgroups and an info-variable map.
type User struct {
	DataUnit
	primary   string
	subGroups []SubGroup
	variables Variables
}

// NewUser creates a user with no primary group set; holders substitute
// their default group on read.
func NewUser(identity string) *User {
	return &User{DataUnit: newDataUnit(identity)}
}

// PrimaryGroup returns the stored primary group name, which may be empty
// or point at a group that no longer exists.
func (u *User) PrimaryGroup() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.primary
}

// SetPrimaryGroup updates the primary group reference. A subgroup with the
// same name is dropped, since a primary group cannot also be secondary.
func (u *User) SetPrimaryGroup(name string) {
	name = strings.TrimSpace(name)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.primary == name {
		return
	}
	u.primary = name
	for i, sg := range u.subGroups {
		if strings.EqualFold(sg.Name, name) {
			u.subGroups = append(u.subGroups[:i], u.subGroups[i+1:]...)
			break
		}
	}
	u.changed = true
}

// AddSubGroup appends a secondary group with an optional expiry. The
// primary group cannot be added; an existing entry only has its expiry
// replaced when the new one is strictly later (zero upgrades to permanent).
func (u *User) AddSubGroup(name string, expires int64) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if strings.EqualFold(u.primary, name) {
		return false
	}
	for i, sg := range u.subGroups {
		if strings.EqualFold(sg.Name, name) {
			current := sg.Expires
			if current == 0 || (expires != 0 && expires <= current) {
				return false
			}
			u.subGroups[i].Expires = expires
			u.changed = true
			return true
		}
	}
	u.subGroups = append(u.subGroups, SubGroup{Name: name, Expires: expires})
	u.changed = true
	return true
}

// RemoveSubGroup deletes a secondary group membership.
func (u *User) RemoveSubGroup(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, sg := range u.subGroups {
		if strings.EqualFold(sg.Name, name) {
			u.subGroups = append(u.subGroups[:i], u.subGroups[i+1:]...)
			u.changed = true
			return true
		}
	}
	return false
}

// HasSubGroup reports whether the named secondary group is present.
func (u *User) HasSubGroup(name string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, sg := range u.subGroups {
		if strings.EqualFold(sg.Name, name) {
			return true
		}
	}
	return false
}

// SubGroups returns a copy of the secondary groups in insertion order.
func (u *User) SubGroups() []SubGroup {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]SubGroup, len(u.subGroups))
	copy(out, u.subGroups)
	return out
}

// RemoveExpiredSubGroups deletes memberships whose expiry is non-zero and
// strictly before now, flagging the user changed when anything was removed.
func (u *User) RemoveExpiredSubGroups(now int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.subGroups[:0]
	removed := false
	for _, sg := range u.subGroups {
		if sg.Expires != 0 && sg.Expires < now {
			removed = true
			continue
		}
		kept = append(kept, sg)
	}
	u.subGroups = kept
	if removed {
		u.changed = true
	}
	return removed
}

// SetVariable stores an info variable.
func (u *User) SetVariable(name string, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.variables.Set(name, value)
	u.changed = true
}

// RemoveVariable deletes an info variable.
func (u *User) RemoveVariable(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.variables.Remove(name) {
		u.changed = true
		return true
	}
	return false
}

// HasVariable reports whether the info variable exists.
func (u *User) HasVariable(name string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.variables.Has(name)
}

// VarString returns an info variable as string.
func (u *User) VarString(name, def string) string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.variables.String(name, def)
}

// Variable returns the raw info-variable value.
func (u *User) Variable(name string) (any, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.variables.Get(name)
}

// VariableNames returns the stored info-variable names.
func (u *User) VariableNames() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.variables.Names()
}

// Clone returns a deep copy sharing no state with the receiver. Used by the
// overload layer, which must mutate a shadow record without touching the
// canonical one.
func (u *User) Clone() *User {
	out := &User{DataUnit: u.cloneState()}
	u.mu.RLock()
	defer u.mu.RUnlock()
	out.primary = u.primary
	out.subGroups = make([]SubGroup, len(u.subGroups))
	copy(out.subGroups, u.subGroups)
	out.variables = u.variables.clone()
	return out
}
