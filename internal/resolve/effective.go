package resolve

import (
	"strings"

	"permgate.org/internal/perm"
	"permgate.org/internal/world"
)

// tokenSet is an insertion-ordered, case-insensitive token set.
type tokenSet struct {
	order []string
	index map[string]int
}

func newTokenSet() *tokenSet {
	return &tokenSet{index: make(map[string]int)}
}

func (s *tokenSet) has(token string) bool {
	_, ok := s.index[strings.ToLower(token)]
	return ok
}

func (s *tokenSet) add(token string) {
	key := strings.ToLower(token)
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = len(s.order)
	s.order = append(s.order, token)
}

func (s *tokenSet) remove(token string) {
	key := strings.ToLower(token)
	i, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)
	s.order = append(s.order[:i], s.order[i+1:]...)
	for j := i; j < len(s.order); j++ {
		s.index[strings.ToLower(s.order[j])] = j
	}
}

func (s *tokenSet) items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// EffectivePermissions flattens a user's complete permission state into one
// ordered token list: the user's own tokens first, then every group in
// precedence order. Group tokens never displace what an earlier layer
// already decided; exception tokens are deferred and applied last, re-adding
// the bare permission over any stored negation. A bare "*" among the user's
// own tokens expands to every permission the host has registered, minus the
// lockout node and minus anything the user negates directly.
func (r *Resolver) EffectivePermissions(w *world.World, identity string, includeChildren bool) []string {
	u := w.User(identity)
	set := newTokenSet()
	star := false

	own := u.AllPermissionList()
	for _, token := range own {
		if token == "*" {
			star = true
			continue
		}
		for _, t := range r.expand(token, includeChildren) {
			set.add(t)
		}
	}
	if star && r.host != nil {
		for _, rp := range r.host.RegisteredPermissions() {
			if strings.EqualFold(rp.Key, perm.NoOfflinePermsNode) {
				continue
			}
			if set.has("-" + rp.Key) {
				continue
			}
			set.add(rp.Key)
		}
	}

	var overrides []string
	for _, g := range r.groupClosure(w, u) {
		for _, token := range g.AllPermissionList() {
			for _, candidate := range r.expand(token, includeChildren) {
				if strings.HasPrefix(candidate, "+") {
					overrides = append(overrides, candidate[1:])
					continue
				}
				bare := strings.TrimPrefix(candidate, "-")
				if set.has(candidate) || set.has(bare) || set.has("-"+bare) {
					continue
				}
				if wildcardNegated(set, bare) {
					continue
				}
				set.add(candidate)
			}
		}
	}

	for _, o := range overrides {
		set.remove("-" + o)
		set.add(o)
	}
	return set.items()
}

// wildcardNegated reports whether a stored "-prefix.*" token already covers
// the bare permission, testing every dot-delimited prefix.
func wildcardNegated(set *tokenSet, bare string) bool {
	for i, c := range bare {
		if c != '.' {
			continue
		}
		if set.has("-" + bare[:i+1] + "*") {
			return true
		}
	}
	return false
}

// expand returns the token plus, when child expansion is requested and a
// host registry is attached, every declared child permission carrying the
// token's sign. The lockout node never appears among expanded children.
func (r *Resolver) expand(token string, includeChildren bool) []string {
	out := []string{token}
	if !includeChildren || r.host == nil {
		return out
	}
	sign := ""
	bare := token
	switch {
	case strings.HasPrefix(token, "+"):
		sign, bare = "+", token[1:]
	case strings.HasPrefix(token, "-"):
		sign, bare = "-", token[1:]
	}
	children := r.childIndex()
	visited := map[string]bool{strings.ToLower(bare): true}
	queue := []string{strings.ToLower(bare)}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for child, granted := range children[key] {
			lc := strings.ToLower(child)
			if !granted || visited[lc] || strings.EqualFold(child, perm.NoOfflinePermsNode) {
				continue
			}
			visited[lc] = true
			out = append(out, sign+child)
			queue = append(queue, lc)
		}
	}
	return out
}

func (r *Resolver) childIndex() map[string]map[string]bool {
	idx := make(map[string]map[string]bool)
	for _, rp := range r.host.RegisteredPermissions() {
		if len(rp.Children) == 0 {
			continue
		}
		idx[strings.ToLower(rp.Key)] = rp.Children
	}
	return idx
}
