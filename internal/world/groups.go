package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permgate.org/internal/perm"
)

// GroupsData is one world's groups table: case-insensitive name lookup and
// exactly one designated default group. Mirrored worlds share a single
// GroupsData instance by reference.
type GroupsData struct {
	mu          sync.RWMutex
	groups      map[string]*perm.Group
	defaultName string
	loadedAt    time.Time
}

// NewGroupsData creates an empty groups table.
func NewGroupsData() *GroupsData {
	return &GroupsData{groups: make(map[string]*perm.Group)}
}

// Group resolves a group by name, nil when absent.
func (gd *GroupsData) Group(name string) *perm.Group {
	gd.mu.RLock()
	defer gd.mu.RUnlock()
	return gd.groups[strings.ToLower(name)]
}

// Has reports whether the named group exists.
func (gd *GroupsData) Has(name string) bool {
	return gd.Group(name) != nil
}

// Add installs a group, rejecting duplicates.
func (gd *GroupsData) Add(g *perm.Group) error {
	key := strings.ToLower(g.Name())
	gd.mu.Lock()
	defer gd.mu.Unlock()
	if _, ok := gd.groups[key]; ok {
		return fmt.Errorf("%w: group %s", ErrConflict, g.Name())
	}
	gd.groups[key] = g
	return nil
}

// Create makes and installs a new empty group.
func (gd *GroupsData) Create(name string) (*perm.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", perm.ErrInvalidInput)
	}
	g := perm.NewGroup(name)
	g.FlagAsSaved()
	if err := gd.Add(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Remove deletes a group. The default group cannot be removed.
func (gd *GroupsData) Remove(name string) (bool, error) {
	key := strings.ToLower(name)
	gd.mu.Lock()
	defer gd.mu.Unlock()
	if _, ok := gd.groups[key]; !ok {
		return false, nil
	}
	if key == strings.ToLower(gd.defaultName) && gd.defaultName != "" {
		return false, fmt.Errorf("%w: cannot remove the default group %s", perm.ErrConflict, gd.defaultName)
	}
	delete(gd.groups, key)
	return true, nil
}

// SetDefault designates the default group, which must already exist.
func (gd *GroupsData) SetDefault(name string) error {
	key := strings.ToLower(name)
	gd.mu.Lock()
	defer gd.mu.Unlock()
	g, ok := gd.groups[key]
	if !ok {
		return fmt.Errorf("%w: group %s", ErrNotFound, name)
	}
	gd.defaultName = g.Name()
	return nil
}

// Default returns the designated default group. A table without one is
// unusable.
func (gd *GroupsData) Default() (*perm.Group, error) {
	gd.mu.RLock()
	defer gd.mu.RUnlock()
	if gd.defaultName == "" {
		return nil, ErrNoDefaultGroup
	}
	g, ok := gd.groups[strings.ToLower(gd.defaultName)]
	if !ok {
		return nil, ErrNoDefaultGroup
	}
	return g, nil
}

// DefaultName returns the name of the default group, empty when unset.
func (gd *GroupsData) DefaultName() string {
	gd.mu.RLock()
	defer gd.mu.RUnlock()
	return gd.defaultName
}

// Groups returns a snapshot of all groups, sorted by name.
func (gd *GroupsData) Groups() []*perm.Group {
	gd.mu.RLock()
	defer gd.mu.RUnlock()
	out := make([]*perm.Group, 0, len(gd.groups))
	for _, g := range gd.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

// Names returns the group names, sorted.
func (gd *GroupsData) Names() []string {
	groups := gd.Groups()
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name()
	}
	return names
}

// HasChanges reports whether any group awaits saving.
func (gd *GroupsData) HasChanges() bool {
	for _, g := range gd.Groups() {
		if g.Changed() {
			return true
		}
	}
	return false
}

// FlagAsSaved clears every group's changed flag after a confirmed save.
func (gd *GroupsData) FlagAsSaved() {
	for _, g := range gd.Groups() {
		g.FlagAsSaved()
	}
}

// LoadedAt returns the install instant used for staleness checks.
func (gd *GroupsData) LoadedAt() time.Time {
	gd.mu.RLock()
	defer gd.mu.RUnlock()
	return gd.loadedAt
}

// SetLoadedAt records the install instant.
func (gd *GroupsData) SetLoadedAt(t time.Time) {
	gd.mu.Lock()
	defer gd.mu.Unlock()
	gd.loadedAt = t
}
