package perm

import (
	"sort"
	"strings"
	"sync"
)

// DataUnit is the shared core of Group and User: a stable case-insensitive
// identity key, a mutable display name, an ordered set of static permission
// tokens, timed tokens paired with expiry instants, and a changed flag that
// is the sole signal to the persistence collaborator.
type DataUnit struct {
	mu      sync.RWMutex
	key     string
	display string
	perms   []string
	timed   map[string]int64
	sorted  bool
	changed bool
}

func newDataUnit(key string) DataUnit {
	return DataUnit{key: key, display: key}
}

// Key returns the stable identity key.
func (d *DataUnit) Key() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.key
}

// DisplayName returns the mutable display name, which defaults to the key.
func (d *DataUnit) DisplayName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.display
}

// SetDisplayName updates the display name and flags the unit changed.
func (d *DataUnit) SetDisplayName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.display == name {
		return
	}
	d.display = name
	d.changed = true
}

// HasPermission reports whether the exact token is stored, static or timed.
func (d *DataUnit) HasPermission(token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.indexOf(token) >= 0 || d.timedIndex(token) != ""
}

// AddPermission stores a static token. Re-adding an existing token is a
// no-op; a timed variant of the same token is replaced by the static one.
// Returns whether the stored set changed.
func (d *DataUnit) AddPermission(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.indexOf(token) >= 0 {
		return false
	}
	if key := d.timedIndex(token); key != "" {
		delete(d.timed, key)
	}
	d.perms = append(d.perms, token)
	d.sorted = false
	d.changed = true
	return true
}

// AddTimedPermission stores a token with an expiry instant (epoch seconds;
// zero means permanent). It is rejected when a static variant of the same
// bare token exists, and replaces an existing timed entry only when the new
// expiry is strictly later.
func (d *DataUnit) AddTimedPermission(token string, expires int64) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bareIndexOf(token) >= 0 {
		return false
	}
	bare := BareToken(token)
	for stored, current := range d.timed {
		if !strings.EqualFold(BareToken(stored), bare) {
			continue
		}
		if current == 0 || (expires != 0 && expires <= current) {
			return false
		}
		delete(d.timed, stored)
	}
	if d.timed == nil {
		d.timed = make(map[string]int64)
	}
	d.timed[token] = expires
	d.changed = true
	return true
}

// RemovePermission deletes the token from the static set or the timed map.
// Removing an absent token is a no-op returning false.
func (d *DataUnit) RemovePermission(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexOf(token); i >= 0 {
		d.perms = append(d.perms[:i], d.perms[i+1:]...)
		d.changed = true
		return true
	}
	if key := d.timedIndex(token); key != "" {
		delete(d.timed, key)
		d.changed = true
		return true
	}
	return false
}

// PermissionList returns the static tokens in override-priority order:
// exceptions, then negations, then plain grants, alphabetical within each.
func (d *DataUnit) PermissionList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sortLocked()
	out := make([]string, len(d.perms))
	copy(out, d.perms)
	return out
}

// AllPermissionList returns static and timed tokens merged, in the same
// override-priority order as PermissionList.
func (d *DataUnit) AllPermissionList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sortLocked()
	out := make([]string, len(d.perms), len(d.perms)+len(d.timed))
	copy(out, d.perms)
	for token := range d.timed {
		out = append(out, token)
	}
	sort.SliceStable(out, func(i, j int) bool { return lessToken(out[i], out[j]) })
	return out
}

// TimedPermissions returns a copy of the timed token map.
func (d *DataUnit) TimedPermissions() map[string]int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int64, len(d.timed))
	for token, expires := range d.timed {
		out[token] = expires
	}
	return out
}

// TimedExpiry returns the expiry of a timed token.
func (d *DataUnit) TimedExpiry(token string) (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if key := d.timedIndex(token); key != "" {
		return d.timed[key], true
	}
	return 0, false
}

// RemoveExpired deletes every timed token whose expiry is non-zero and
// strictly before now, flagging the unit changed when anything was removed.
func (d *DataUnit) RemoveExpired(now int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := false
	for token, expires := range d.timed {
		if expires != 0 && expires < now {
			delete(d.timed, token)
			removed = true
		}
	}
	if removed {
		d.changed = true
	}
	return removed
}

// Changed reports whether the unit was mutated since the last FlagAsSaved.
func (d *DataUnit) Changed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.changed
}

// FlagAsSaved clears the changed flag after a confirmed save.
func (d *DataUnit) FlagAsSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changed = false
}

func (d *DataUnit) flagChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changed = true
}

func (d *DataUnit) indexOf(token string) int {
	for i, p := range d.perms {
		if strings.EqualFold(p, token) {
			return i
		}
	}
	return -1
}

// bareIndexOf matches static tokens by their bare form, so "+chat.send"
// blocks a timed "chat.send" and vice versa.
func (d *DataUnit) bareIndexOf(token string) int {
	bare := BareToken(token)
	for i, p := range d.perms {
		if strings.EqualFold(BareToken(p), bare) {
			return i
		}
	}
	return -1
}

func (d *DataUnit) timedIndex(token string) string {
	for stored := range d.timed {
		if strings.EqualFold(stored, token) {
			return stored
		}
	}
	return ""
}

func (d *DataUnit) sortLocked() {
	if d.sorted {
		return
	}
	sort.SliceStable(d.perms, func(i, j int) bool { return lessToken(d.perms[i], d.perms[j]) })
	d.sorted = true
}

// cloneState copies the token state into a fresh DataUnit with the same key.
func (d *DataUnit) cloneState() DataUnit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := DataUnit{key: d.key, display: d.display, sorted: d.sorted, changed: d.changed}
	out.perms = make([]string, len(d.perms))
	copy(out.perms, d.perms)
	if len(d.timed) > 0 {
		out.timed = make(map[string]int64, len(d.timed))
		for token, expires := range d.timed {
			out.timed[token] = expires
		}
	}
	return out
}
