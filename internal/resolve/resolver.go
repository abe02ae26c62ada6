package resolve

import (
	"strings"

	"permgate.org/internal/perm"
	"permgate.org/internal/world"
)

// Resolver implements the inheritance-aware permission algorithms over a
// world registry: group-graph searches, full principal resolution and the
// flattened effective permission set.
type Resolver struct {
	registry *world.Registry
	host     HostACL
	offline  bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHostACL attaches the optional host collaborator.
func WithHostACL(h HostACL) Option {
	return func(r *Resolver) { r.host = h }
}

// WithOfflineMode enables the offline-identity lockout policy: a user
// holding the lockout node resolves NotFound for everything.
func WithOfflineMode(enabled bool) Option {
	return func(r *Resolver) { r.offline = enabled }
}

// New constructs a Resolver over the registry.
func New(registry *world.Registry, opts ...Option) *Resolver {
	r := &Resolver{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry exposes the underlying world registry.
func (r *Resolver) Registry() *world.Registry { return r.registry }

// groupByName resolves an inheritance target: the global registry for
// prefixed names, the world's own table otherwise.
func (r *Resolver) groupByName(w *world.World, name string) *perm.Group {
	if strings.HasPrefix(strings.ToLower(name), perm.GlobalGroupPrefix) {
		return r.registry.Global().Group(name)
	}
	return w.Group(name)
}

// bfs walks the inheritance graph breadth-first from start: a group's own
// data before any parent's, siblings in inheritance-list order. The visited
// set guarantees termination on cyclic graphs, which are tolerated input.
// visit returning true stops the walk.
func (r *Resolver) bfs(w *world.World, start *perm.Group, visit func(*perm.Group) bool) {
	if start == nil {
		return
	}
	visited := map[string]bool{strings.ToLower(start.Name()): true}
	queue := []*perm.Group{start}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		if visit(g) {
			return
		}
		for _, name := range g.Inherits() {
			key := strings.ToLower(name)
			if visited[key] {
				continue
			}
			visited[key] = true
			if next := r.groupByName(w, name); next != nil {
				queue = append(queue, next)
			}
		}
	}
}

// HasGroupInInheritance reports whether target is reachable from start
// through the inheritance graph, start included.
func (r *Resolver) HasGroupInInheritance(w *world.World, start *perm.Group, target string) bool {
	found := false
	r.bfs(w, start, func(g *perm.Group) bool {
		if strings.EqualFold(g.Name(), target) {
			found = true
			return true
		}
		return false
	})
	return found
}

// NextGroupWithVariable returns the first group in BFS order whose info
// variables contain name, or nil.
func (r *Resolver) NextGroupWithVariable(w *world.World, start *perm.Group, name string) *perm.Group {
	var holder *perm.Group
	r.bfs(w, start, func(g *perm.Group) bool {
		if g.HasVariable(name) {
			holder = g
			return true
		}
		return false
	})
	return holder
}

// CheckGroupPermission matches a permission against a group and everything
// it inherits. The first Exception returns immediately; otherwise the first
// Found or Negation encountered is kept as the candidate while the walk
// continues looking for a deeper Exception.
func (r *Resolver) CheckGroupPermission(w *world.World, start *perm.Group, permission string) perm.CheckResult {
	result := perm.NotFoundResult()
	r.bfs(w, start, func(g *perm.Group) bool {
		for _, token := range g.AllPermissionList() {
			switch perm.Compare(token, permission) {
			case perm.Exception:
				result = perm.CheckResult{Verdict: perm.Exception, OwnerKind: perm.OwnerGroup, Owner: g.Name(), Token: token}
				return true
			case perm.Found:
				if result.Verdict == perm.NotFound {
					result = perm.CheckResult{Verdict: perm.Found, OwnerKind: perm.OwnerGroup, Owner: g.Name(), Token: token}
				}
			case perm.Negation:
				if result.Verdict == perm.NotFound {
					result = perm.CheckResult{Verdict: perm.Negation, OwnerKind: perm.OwnerGroup, Owner: g.Name(), Token: token}
				}
			}
		}
		return false
	})
	return result
}

// Resolve computes the full principal verdict for a permission. Under
// offline-mode policy a user holding the lockout node is forced to
// NotFound for every other permission; that inner check runs without host
// fallback and cannot recurse further.
func (r *Resolver) Resolve(w *world.World, identity, permission string, hostFallback bool) perm.CheckResult {
	if r.offline && !strings.EqualFold(permission, perm.NoOfflinePermsNode) {
		if lock := r.resolve(w, identity, perm.NoOfflinePermsNode, false); lock.Verdict.Granted() {
			return perm.NotFoundResult()
		}
	}
	return r.resolve(w, identity, permission, hostFallback)
}

// Has is the boolean convenience over Resolve.
func (r *Resolver) Has(w *world.World, identity, permission string, hostFallback bool) bool {
	return r.Resolve(w, identity, permission, hostFallback).Verdict.Granted()
}

func (r *Resolver) resolve(w *world.World, identity, permission string, hostFallback bool) perm.CheckResult {
	u := w.User(identity)
	result := perm.NotFoundResult()

	// Direct user tokens. An exception wins outright; the first other
	// verdict is remembered.
	for _, token := range u.AllPermissionList() {
		switch perm.Compare(token, permission) {
		case perm.Exception:
			return perm.CheckResult{Verdict: perm.Exception, OwnerKind: perm.OwnerUser, Owner: u.Key(), Token: token}
		case perm.Found:
			if result.Verdict == perm.NotFound {
				result = perm.CheckResult{Verdict: perm.Found, OwnerKind: perm.OwnerUser, Owner: u.Key(), Token: token}
			}
		case perm.Negation:
			if result.Verdict == perm.NotFound {
				result = perm.CheckResult{Verdict: perm.Negation, OwnerKind: perm.OwnerUser, Owner: u.Key(), Token: token}
			}
		}
	}

	// Primary group chain. Never downgrades a direct-user verdict.
	if primary, err := w.PrimaryGroupOf(u); err == nil {
		gr := r.CheckGroupPermission(w, primary, permission)
		if gr.Verdict == perm.Exception {
			return gr
		}
		if result.Verdict == perm.NotFound && gr.Verdict != perm.NotFound {
			result = gr
		}
	}

	negated := result.Verdict == perm.Negation

	// Subgroups in insertion order. The first negation wins: later
	// subgroups can neither re-negate past it nor overwrite it with a
	// grant. Preserved behavior; do not "fix".
	for _, sg := range u.SubGroups() {
		g := r.groupByName(w, sg.Name)
		if g == nil {
			continue
		}
		gr := r.CheckGroupPermission(w, g, permission)
		switch gr.Verdict {
		case perm.Exception:
			return gr
		case perm.Found:
			if result.Verdict != perm.Negation && !negated {
				result = gr
			}
		case perm.Negation:
			if !negated {
				result = gr
				negated = true
			}
		}
	}

	if result.Verdict == perm.NotFound && hostFallback && r.host != nil {
		if r.host.HasSessionPermission(identity, permission) {
			result = perm.CheckResult{Verdict: perm.Found, OwnerKind: perm.OwnerUser, Owner: u.Key(), Token: permission}
		}
	}
	return result
}

// groupClosure returns the user's groups in precedence order: the primary
// group's BFS closure, then each subgroup's, deduplicated by name so a
// diamond-inherited group is processed once.
func (r *Resolver) groupClosure(w *world.World, u *perm.User) []*perm.Group {
	var out []*perm.Group
	seen := map[string]bool{}
	collect := func(start *perm.Group) {
		r.bfs(w, start, func(g *perm.Group) bool {
			key := strings.ToLower(g.Name())
			if !seen[key] {
				seen[key] = true
				out = append(out, g)
			}
			return false
		})
	}
	if primary, err := w.PrimaryGroupOf(u); err == nil {
		collect(primary)
	}
	for _, sg := range u.SubGroups() {
		if g := r.groupByName(w, sg.Name); g != nil {
			collect(g)
		}
	}
	return out
}
