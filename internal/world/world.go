package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"permgate.org/internal/perm"
)

// World is one tenant's data holder: a groups table, a users table and the
// overload map of shadow user records. The two tables may be shared with
// another world when mirroring is configured.
type World struct {
	name string

	mu        sync.RWMutex
	groups    *GroupsData
	users     *UsersData
	overloads map[string]*perm.User
	unusable  bool
}

// NewWorld creates a world with fresh empty tables.
func NewWorld(name string) *World {
	return &World{
		name:      name,
		groups:    NewGroupsData(),
		users:     NewUsersData(),
		overloads: make(map[string]*perm.User),
	}
}

// Name returns the world name.
func (w *World) Name() string { return w.name }

// GroupsData returns the groups table object, shared across mirrors.
func (w *World) GroupsData() *GroupsData {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.groups
}

// UsersData returns the users table object, shared across mirrors.
func (w *World) UsersData() *UsersData {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.users
}

// SetGroupsData installs a groups table, either a mirror parent's shared
// instance or a fully built replacement during reload.
func (w *World) SetGroupsData(gd *GroupsData) {
	if gd == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.groups = gd
}

// SetUsersData installs a users table.
func (w *World) SetUsersData(ud *UsersData) {
	if ud == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users = ud
}

// Usable reports whether the holder accepts mutations: it must not be in a
// known-bad state and its groups table must carry a default group.
func (w *World) Usable() bool {
	w.mu.RLock()
	bad := w.unusable
	gd := w.groups
	w.mu.RUnlock()
	if bad {
		return false
	}
	_, err := gd.Default()
	return err == nil
}

// MarkUnusable flags the holder known-bad, e.g. after a failed reload.
// Mutating operations must refuse until a successful reload clears it.
func (w *World) MarkUnusable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unusable = true
}

// MarkUsable clears the known-bad flag after a successful reload.
func (w *World) MarkUsable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unusable = false
}

// Group resolves a local group by name; nil for absent or global names.
func (w *World) Group(name string) *perm.Group {
	if strings.HasPrefix(strings.ToLower(name), perm.GlobalGroupPrefix) {
		return nil
	}
	return w.GroupsData().Group(name)
}

// DefaultGroup returns the mandatory default group.
func (w *World) DefaultGroup() (*perm.Group, error) {
	return w.GroupsData().Default()
}

// User resolves the effective user record for an identity: the overloaded
// shadow record when one is present, otherwise the canonical record,
// auto-created with the world default group on first touch.
func (w *World) User(identity string) *perm.User {
	key := strings.ToLower(identity)
	w.mu.RLock()
	if u, ok := w.overloads[key]; ok {
		w.mu.RUnlock()
		return u
	}
	w.mu.RUnlock()
	return w.canonicalUser(identity)
}

// LookupUser resolves the effective user record without creating one.
func (w *World) LookupUser(identity string) (*perm.User, bool) {
	key := strings.ToLower(identity)
	w.mu.RLock()
	if u, ok := w.overloads[key]; ok {
		w.mu.RUnlock()
		return u, true
	}
	w.mu.RUnlock()
	return w.UsersData().Lookup(identity)
}

func (w *World) canonicalUser(identity string) *perm.User {
	u, created := w.UsersData().Ensure(identity)
	if created {
		if def, err := w.DefaultGroup(); err == nil {
			u.SetPrimaryGroup(def.Name())
			u.FlagAsSaved()
		}
	}
	return u
}

// PrimaryGroupOf resolves the user's primary group. A stale reference falls
// back to the world default and rewrites the stored name.
func (w *World) PrimaryGroupOf(u *perm.User) (*perm.Group, error) {
	if name := u.PrimaryGroup(); name != "" {
		if g := w.Group(name); g != nil {
			return g, nil
		}
	}
	def, err := w.DefaultGroup()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(u.PrimaryGroup(), def.Name()) {
		u.SetPrimaryGroup(def.Name())
	}
	return def, nil
}

// RemoveGroup deletes a group and re-parents every user whose primary group
// referenced it onto the world default. The default group itself cannot be
// removed.
func (w *World) RemoveGroup(name string) (bool, error) {
	if !w.Usable() {
		return false, fmt.Errorf("%w: %s", ErrWorldUnavailable, w.name)
	}
	removed, err := w.GroupsData().Remove(name)
	if err != nil || !removed {
		return removed, err
	}
	def, err := w.DefaultGroup()
	if err != nil {
		return true, err
	}
	for _, u := range w.UsersData().Users() {
		if strings.EqualFold(u.PrimaryGroup(), name) {
			u.SetPrimaryGroup(def.Name())
		}
	}
	w.mu.RLock()
	shadows := make([]*perm.User, 0, len(w.overloads))
	for _, u := range w.overloads {
		shadows = append(shadows, u)
	}
	w.mu.RUnlock()
	for _, u := range shadows {
		if strings.EqualFold(u.PrimaryGroup(), name) {
			u.SetPrimaryGroup(def.Name())
		}
	}
	return true, nil
}

// Overload clones the canonical user into the shadow map, replacing any
// previous shadow for the identity. While present, every read and write for
// the identity is redirected to the shadow record.
func (w *World) Overload(identity string) *perm.User {
	shadow := w.canonicalUser(identity).Clone()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overloads[strings.ToLower(identity)] = shadow
	return shadow
}

// IsOverloaded reports whether the identity currently has a shadow record.
func (w *World) IsOverloaded(identity string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.overloads[strings.ToLower(identity)]
	return ok
}

// SurpassOverload returns the canonical record regardless of overload
// state, so real data can be inspected or mutated while the shadow is live.
func (w *World) SurpassOverload(identity string) *perm.User {
	return w.canonicalUser(identity)
}

// RemoveOverload drops the shadow record; reads fall back to canonical data.
func (w *World) RemoveOverload(identity string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := strings.ToLower(identity)
	if _, ok := w.overloads[key]; !ok {
		return false
	}
	delete(w.overloads, key)
	return true
}

// OverloadedIdentities returns the identities with live shadow records.
func (w *World) OverloadedIdentities() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.overloads))
	for key := range w.overloads {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// RemoveExpired sweeps every group and canonical user in this world,
// removing timed tokens and subgroup memberships that expired strictly
// before now. Owners of removed entries are flagged changed. Reports
// whether anything was removed.
func (w *World) RemoveExpired(now int64) bool {
	removed := false
	for _, g := range w.GroupsData().Groups() {
		if g.RemoveExpired(now) {
			removed = true
		}
	}
	for _, u := range w.UsersData().Users() {
		if u.RemoveExpired(now) {
			removed = true
		}
		if u.RemoveExpiredSubGroups(now) {
			removed = true
		}
	}
	return removed
}
