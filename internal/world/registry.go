package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds every loaded world, the global group registry, the mirror
// configuration and the cross-world display-name index. It is an explicit
// engine-owned object, never a package-level singleton, so independent
// engines can coexist in tests.
type Registry struct {
	mu            sync.RWMutex
	worlds        map[string]*World
	mirrorGroups  map[string]string
	mirrorUsers   map[string]string
	defaultWorld  string
	fallbackWorld string
	global        *GlobalGroups
	names         map[string]map[string]struct{}
}

// NewRegistry creates a registry with the given default world name.
func NewRegistry(defaultWorld string) *Registry {
	return &Registry{
		worlds:       make(map[string]*World),
		mirrorGroups: make(map[string]string),
		mirrorUsers:  make(map[string]string),
		defaultWorld: strings.ToLower(strings.TrimSpace(defaultWorld)),
		global:       NewGlobalGroups(),
		names:        make(map[string]map[string]struct{}),
	}
}

// Global returns the global group registry.
func (r *Registry) Global() *GlobalGroups {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// SetGlobal installs a fully built global registry (two-phase reload).
func (r *Registry) SetGlobal(gg *GlobalGroups) {
	if gg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = gg
}

// DefaultWorldName returns the configured default world name.
func (r *Registry) DefaultWorldName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultWorld
}

// SetFallbackWorld configures the world that answers for any unknown name
// before the default world is consulted.
func (r *Registry) SetFallbackWorld(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackWorld = strings.ToLower(strings.TrimSpace(name))
}

// AddWorld installs a loaded world, rejecting duplicates.
func (r *Registry) AddWorld(w *World) error {
	key := strings.ToLower(w.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.worlds[key]; ok {
		return fmt.Errorf("%w: world %s", ErrConflict, w.Name())
	}
	r.worlds[key] = w
	return nil
}

// CreateWorld installs a new empty world, returning the existing one when
// already present.
func (r *Registry) CreateWorld(name string) *World {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.worlds[key]; ok {
		return w
	}
	w := NewWorld(key)
	r.worlds[key] = w
	return w
}

// WorldExact resolves a world by name without fallback.
func (r *Registry) WorldExact(name string) (*World, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.worlds[strings.ToLower(name)]
	return w, ok
}

// World resolves the effective data holder for a world name: the world's
// own holder when loaded, else the configured fallback world, else the
// default world (created on first touch).
func (r *Registry) World(name string) *World {
	if w, ok := r.WorldExact(name); ok {
		return w
	}
	r.mu.RLock()
	fallback := r.fallbackWorld
	def := r.defaultWorld
	r.mu.RUnlock()
	if fallback != "" {
		if w, ok := r.WorldExact(fallback); ok {
			return w
		}
	}
	return r.CreateWorld(def)
}

// Worlds returns a snapshot of all loaded worlds, sorted by name.
func (r *Registry) Worlds() []*World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*World, 0, len(r.worlds))
	for _, w := range r.worlds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// WorldNames returns the loaded world names, sorted.
func (r *Registry) WorldNames() []string {
	worlds := r.Worlds()
	names := make([]string, len(worlds))
	for i, w := range worlds {
		names[i] = w.Name()
	}
	return names
}

// MirrorGroups points the child world's groups table at the parent's. The
// chain is followed to its root, which must already be loaded; the tables
// are then shared by reference, so writes through either name land in the
// same object.
func (r *Registry) MirrorGroups(child, parent string) error {
	return r.mirror(child, parent, r.mirrorGroups, func(c, root *World) {
		c.SetGroupsData(root.GroupsData())
	})
}

// MirrorUsers points the child world's users table at the parent's.
func (r *Registry) MirrorUsers(child, parent string) error {
	return r.mirror(child, parent, r.mirrorUsers, func(c, root *World) {
		c.SetUsersData(root.UsersData())
	})
}

func (r *Registry) mirror(child, parent string, chain map[string]string, share func(child, root *World)) error {
	child = strings.ToLower(strings.TrimSpace(child))
	parent = strings.ToLower(strings.TrimSpace(parent))
	if child == "" || parent == "" || child == parent {
		return fmt.Errorf("%w: mirror requires two distinct world names", ErrMirrorUnresolved)
	}
	r.mu.RLock()
	rootName, err := resolveChain(parent, chain)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if rootName == child {
		return fmt.Errorf("%w: mirror cycle at %s", ErrMirrorUnresolved, child)
	}
	root, ok := r.WorldExact(rootName)
	if !ok {
		return fmt.Errorf("%w: world %s", ErrMirrorUnresolved, rootName)
	}
	c := r.CreateWorld(child)
	r.mu.Lock()
	chain[child] = parent
	// Re-pointing a world that other chains pass through must drag those
	// children onto the new root, or they keep the orphaned table.
	descendants := make([]string, 0, len(chain))
	for name := range chain {
		if name == child {
			continue
		}
		if rn, err := resolveChain(name, chain); err == nil && rn == rootName {
			descendants = append(descendants, name)
		}
	}
	r.mu.Unlock()
	share(c, root)
	for _, name := range descendants {
		if w, ok := r.WorldExact(name); ok {
			share(w, root)
		}
	}
	return nil
}

// GroupsOwner follows the groups mirror chain to the world that actually
// owns the table. A world that mirrors nothing owns its own table.
func (r *Registry) GroupsOwner(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolveChain(strings.ToLower(name), r.mirrorGroups)
}

// UsersOwner follows the users mirror chain to the owning world.
func (r *Registry) UsersOwner(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return resolveChain(strings.ToLower(name), r.mirrorUsers)
}

func resolveChain(name string, chain map[string]string) (string, error) {
	visited := map[string]bool{}
	for {
		if visited[name] {
			return "", fmt.Errorf("%w: mirror cycle at %s", ErrMirrorUnresolved, name)
		}
		visited[name] = true
		parent, ok := chain[name]
		if !ok {
			return name, nil
		}
		name = parent
	}
}

// GroupsTables returns each distinct groups table keyed by its owning
// world, skipping mirror children so persistence never double-writes.
func (r *Registry) GroupsTables() map[string]*GroupsData {
	out := make(map[string]*GroupsData)
	for _, w := range r.Worlds() {
		owner, err := r.GroupsOwner(w.Name())
		if err != nil || owner != w.Name() {
			continue
		}
		out[w.Name()] = w.GroupsData()
	}
	return out
}

// UsersTables returns each distinct users table keyed by its owning world.
func (r *Registry) UsersTables() map[string]*UsersData {
	out := make(map[string]*UsersData)
	for _, w := range r.Worlds() {
		owner, err := r.UsersOwner(w.Name())
		if err != nil || owner != w.Name() {
			continue
		}
		out[w.Name()] = w.UsersData()
	}
	return out
}

// RecordUserName indexes a display name onto an identity. A display name
// may map to several identities, e.g. online and offline records for the
// same player.
func (r *Registry) RecordUserName(name, identity string) {
	name = strings.ToLower(strings.TrimSpace(name))
	identity = strings.TrimSpace(identity)
	if name == "" || identity == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.names[name]
	if !ok {
		set = make(map[string]struct{})
		r.names[name] = set
	}
	set[identity] = struct{}{}
}

// ForgetUserName removes one identity from a display name's entry.
func (r *Registry) ForgetUserName(name, identity string) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.names[name]; ok {
		delete(set, identity)
		if len(set) == 0 {
			delete(r.names, name)
		}
	}
}

// IdentitiesByName resolves a display name to all known identities.
func (r *Registry) IdentitiesByName(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for identity := range set {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// RemoveExpired sweeps every distinct table once, mirrors included only
// through their owning world, plus the global registry. Reports whether
// anything was removed registry-wide.
func (r *Registry) RemoveExpired(now int64) bool {
	removed := false
	seenGroups := make(map[*GroupsData]bool)
	seenUsers := make(map[*UsersData]bool)
	for _, w := range r.Worlds() {
		gd := w.GroupsData()
		if !seenGroups[gd] {
			seenGroups[gd] = true
			for _, g := range gd.Groups() {
				if g.RemoveExpired(now) {
					removed = true
				}
			}
		}
		ud := w.UsersData()
		if !seenUsers[ud] {
			seenUsers[ud] = true
			for _, u := range ud.Users() {
				if u.RemoveExpired(now) {
					removed = true
				}
				if u.RemoveExpiredSubGroups(now) {
					removed = true
				}
			}
		}
	}
	if r.Global().RemoveExpired(now) {
		removed = true
	}
	return removed
}
