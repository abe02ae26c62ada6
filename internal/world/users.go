package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permgate.org/internal/perm"
)

// UsersData is one world's users table, keyed by case-insensitive identity.
// Mirrored worlds share a single UsersData instance by reference.
type UsersData struct {
	mu       sync.RWMutex
	users    map[string]*perm.User
	loadedAt time.Time
}

// NewUsersData creates an empty users table.
func NewUsersData() *UsersData {
	return &UsersData{users: make(map[string]*perm.User)}
}

// Lookup resolves a user without creating one.
func (ud *UsersData) Lookup(identity string) (*perm.User, bool) {
	ud.mu.RLock()
	defer ud.mu.RUnlock()
	u, ok := ud.users[strings.ToLower(identity)]
	return u, ok
}

// Add installs a user, rejecting duplicate identities.
func (ud *UsersData) Add(u *perm.User) error {
	key := strings.ToLower(u.Key())
	ud.mu.Lock()
	defer ud.mu.Unlock()
	if _, ok := ud.users[key]; ok {
		return fmt.Errorf("%w: user %s", ErrConflict, u.Key())
	}
	ud.users[key] = u
	return nil
}

// Ensure resolves a user, creating an empty record on first touch. The
// second return reports whether the record was created.
func (ud *UsersData) Ensure(identity string) (*perm.User, bool) {
	key := strings.ToLower(identity)
	ud.mu.Lock()
	defer ud.mu.Unlock()
	if u, ok := ud.users[key]; ok {
		return u, false
	}
	u := perm.NewUser(identity)
	ud.users[key] = u
	return u, true
}

// Remove deletes a user record.
func (ud *UsersData) Remove(identity string) bool {
	key := strings.ToLower(identity)
	ud.mu.Lock()
	defer ud.mu.Unlock()
	if _, ok := ud.users[key]; !ok {
		return false
	}
	delete(ud.users, key)
	return true
}

// Users returns a snapshot of all user records, sorted by identity.
func (ud *UsersData) Users() []*perm.User {
	ud.mu.RLock()
	defer ud.mu.RUnlock()
	out := make([]*perm.User, 0, len(ud.users))
	for _, u := range ud.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key()) < strings.ToLower(out[j].Key())
	})
	return out
}

// HasChanges reports whether any user awaits saving.
func (ud *UsersData) HasChanges() bool {
	for _, u := range ud.Users() {
		if u.Changed() {
			return true
		}
	}
	return false
}

// FlagAsSaved clears every user's changed flag after a confirmed save.
func (ud *UsersData) FlagAsSaved() {
	for _, u := range ud.Users() {
		u.FlagAsSaved()
	}
}

// LoadedAt returns the install instant used for staleness checks.
func (ud *UsersData) LoadedAt() time.Time {
	ud.mu.RLock()
	defer ud.mu.RUnlock()
	return ud.loadedAt
}

// SetLoadedAt records the install instant.
func (ud *UsersData) SetLoadedAt(t time.Time) {
	ud.mu.Lock()
	defer ud.mu.Unlock()
	ud.loadedAt = t
}
