package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permgate.org/internal/perm"
)

// GlobalGroups is the world-independent group registry. Its groups are
// addressable from any world's inheritance list through the reserved name
// prefix and never carry inheritance or info variables themselves.
type GlobalGroups struct {
	mu       sync.RWMutex
	groups   map[string]*perm.Group
	loadedAt time.Time
}

// NewGlobalGroups creates an empty global registry.
func NewGlobalGroups() *GlobalGroups {
	return &GlobalGroups{groups: make(map[string]*perm.Group)}
}

// Qualify prepends the reserved prefix when absent.
func Qualify(name string) string {
	if strings.HasPrefix(strings.ToLower(name), perm.GlobalGroupPrefix) {
		return name
	}
	return perm.GlobalGroupPrefix + name
}

// Group resolves a global group; the prefix is optional on lookup.
func (gg *GlobalGroups) Group(name string) *perm.Group {
	gg.mu.RLock()
	defer gg.mu.RUnlock()
	return gg.groups[strings.ToLower(Qualify(name))]
}

// Has reports whether the named global group exists.
func (gg *GlobalGroups) Has(name string) bool {
	return gg.Group(name) != nil
}

// Add installs a global group, rejecting duplicates and non-global names.
func (gg *GlobalGroups) Add(g *perm.Group) error {
	if !g.IsGlobal() {
		return fmt.Errorf("%w: group %s lacks the global prefix", perm.ErrInvalidInput, g.Name())
	}
	key := strings.ToLower(g.Name())
	gg.mu.Lock()
	defer gg.mu.Unlock()
	if _, ok := gg.groups[key]; ok {
		return fmt.Errorf("%w: global group %s", ErrConflict, g.Name())
	}
	gg.groups[key] = g
	return nil
}

// Create makes and installs a new empty global group, qualifying the name.
func (gg *GlobalGroups) Create(name string) (*perm.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == perm.GlobalGroupPrefix {
		return nil, fmt.Errorf("%w: group name is required", perm.ErrInvalidInput)
	}
	g := perm.NewGroup(Qualify(name))
	g.FlagAsSaved()
	if err := gg.Add(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Remove deletes a global group.
func (gg *GlobalGroups) Remove(name string) bool {
	key := strings.ToLower(Qualify(name))
	gg.mu.Lock()
	defer gg.mu.Unlock()
	if _, ok := gg.groups[key]; !ok {
		return false
	}
	delete(gg.groups, key)
	return true
}

// Groups returns a snapshot of all global groups, sorted by name.
func (gg *GlobalGroups) Groups() []*perm.Group {
	gg.mu.RLock()
	defer gg.mu.RUnlock()
	out := make([]*perm.Group, 0, len(gg.groups))
	for _, g := range gg.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// HasChanges reports whether any global group awaits saving.
func (gg *GlobalGroups) HasChanges() bool {
	for _, g := range gg.Groups() {
		if g.Changed() {
			return true
		}
	}
	return false
}

// FlagAsSaved clears every global group's changed flag.
func (gg *GlobalGroups) FlagAsSaved() {
	for _, g := range gg.Groups() {
		g.FlagAsSaved()
	}
}

// LoadedAt returns the install instant used for staleness checks.
func (gg *GlobalGroups) LoadedAt() time.Time {
	gg.mu.RLock()
	defer gg.mu.RUnlock()
	return gg.loadedAt
}

// SetLoadedAt records the install instant.
func (gg *GlobalGroups) SetLoadedAt(t time.Time) {
	gg.mu.Lock()
	defer gg.mu.Unlock()
	gg.loadedAt = t
}

// RemoveExpired sweeps timed tokens from every global group.
func (gg *GlobalGroups) RemoveExpired(now int64) bool {
	removed := false
	for _, g := range gg.Groups() {
		if g.RemoveExpired(now) {
			removed = true
		}
	}
	return removed
}
