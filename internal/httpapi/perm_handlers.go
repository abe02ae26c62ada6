package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"permgate.org/internal/audit"
	"permgate.org/internal/perm"
	"permgate.org/internal/store"
	"permgate.org/internal/world"
)

type createGroupRequest struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

type permissionRequest struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type variableRequest struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type subGroupRequest struct {
	Name      string `json:"name"`
	ExpiresAt int64  `json:"expires_at"`
}

type updateUserRequest struct {
	DisplayName string `json:"display_name"`
}

type checkResponse struct {
	Verdict   string `json:"verdict"`
	Granted   bool   `json:"granted"`
	OwnerKind string `json:"owner_kind"`
	Owner     string `json:"owner,omitempty"`
	Token     string `json:"token,omitempty"`
}

type groupView struct {
	Name        string           `json:"name"`
	Default     bool             `json:"default,omitempty"`
	Permissions []string         `json:"permissions"`
	Timed       map[string]int64 `json:"timed,omitempty"`
	Inherits    []string         `json:"inherits,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
}

type subGroupView struct {
	Name      string `json:"name"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type userView struct {
	Identity     string           `json:"identity"`
	DisplayName  string           `json:"display_name,omitempty"`
	PrimaryGroup string           `json:"primary_group"`
	SubGroups    []subGroupView   `json:"sub_groups"`
	Permissions  []string         `json:"permissions"`
	Timed        map[string]int64 `json:"timed,omitempty"`
	Variables    map[string]any   `json:"variables,omitempty"`
	Overloaded   bool             `json:"overloaded"`
}

type worldView struct {
	Name         string   `json:"name"`
	Usable       bool     `json:"usable"`
	DefaultGroup string   `json:"default_group,omitempty"`
	Groups       []string `json:"groups"`
	Overloaded   []string `json:"overloaded,omitempty"`
}

// handleCheck answers the hot-path question: does this identity hold this
// permission in this world.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	identity := strings.TrimSpace(q.Get("identity"))
	permission := strings.TrimSpace(q.Get("permission"))
	if identity == "" || permission == "" {
		writeError(w, r, http.StatusBadRequest, "identity and permission are required")
		return
	}
	worldName := q.Get("world")
	if worldName == "" {
		worldName = a.engine.Registry().DefaultWorldName()
	}
	result := a.engine.Check(worldName, identity, permission, boolParam(q.Get("fallback")))
	writeJSON(w, http.StatusOK, checkView(result))
}

// handleIdentities resolves a display name to identities. A value that is
// already an identifier passes through untouched.
func (a *API) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	var identities []string
	if _, err := uuid.Parse(name); err == nil {
		identities = []string{name}
	} else {
		identities = a.engine.Registry().IdentitiesByName(name)
	}
	if identities == nil {
		identities = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       name,
		"identities": identities,
	})
}

func (a *API) handleWorlds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	worlds := a.engine.Registry().Worlds()
	out := make([]worldView, 0, len(worlds))
	for _, wd := range worlds {
		out = append(out, worldView{
			Name:         wd.Name(),
			Usable:       wd.Usable(),
			DefaultGroup: wd.GroupsData().DefaultName(),
			Groups:       wd.GroupsData().Names(),
			Overloaded:   wd.OverloadedIdentities(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// handleWorldScoped dispatches /v1/worlds/{world}/... by hand.
func (a *API) handleWorldScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/worlds/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	wd, ok := a.engine.Registry().WorldExact(parts[0])
	if !ok {
		writeError(w, r, http.StatusNotFound, "world not found")
		return
	}
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "groups":
		a.handleGroups(w, r, wd, parts[2:])
	case "users":
		a.handleUsers(w, r, wd, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- groups ---

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request, wd *world.World, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			a.listGroups(w, r, wd)
		case http.MethodPost:
			a.createGroup(w, r, wd)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			a.getGroup(w, r, wd, rest[0])
		case http.MethodDelete:
			a.deleteGroup(w, r, wd, rest[0])
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case 2:
		a.handleGroupSubresource(w, r, wd, rest[0], rest[1])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request, wd *world.World) {
	gd := wd.GroupsData()
	def := gd.DefaultName()
	groups := gd.Groups()
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		view := newGroupView(g)
		view.Default = strings.EqualFold(g.Name(), def)
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request, wd *world.World) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if !a.ensureUsable(w, r, wd) {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	gd := wd.GroupsData()
	g, err := gd.Create(req.Name)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if req.Default {
		if err := gd.SetDefault(g.Name()); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}
	a.audit(r.Context(), "group.create", map[string]any{
		"world": wd.Name(),
		"group": g.Name(),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/worlds/%s/groups/%s", wd.Name(), g.Name()))
	view := newGroupView(g)
	view.Default = strings.EqualFold(gd.DefaultName(), g.Name())
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request, wd *world.World, name string) {
	g := a.lookupGroup(wd, name)
	if g == nil {
		writeError(w, r, http.StatusNotFound, "group not found")
		return
	}
	view := newGroupView(g)
	view.Default = strings.EqualFold(wd.GroupsData().DefaultName(), g.Name())
	writeJSON(w, http.StatusOK, view)
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request, wd *world.World, name string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	removed, err := wd.RemoveGroup(name)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "group not found")
		return
	}
	a.audit(r.Context(), "group.delete", map[string]any{
		"world": wd.Name(),
		"group": name,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGroupSubresource(w http.ResponseWriter, r *http.Request, wd *world.World, name, sub string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if !a.ensureUsable(w, r, wd) {
		return
	}
	g := a.lookupGroup(wd, name)
	if g == nil {
		writeError(w, r, http.StatusNotFound, "group not found")
		return
	}
	switch sub {
	case "permissions":
		a.mutateGroupPermissions(w, r, wd, g)
	case "inherits":
		a.mutateGroupInherits(w, r, wd, g)
	case "variables":
		a.mutateGroupVariables(w, r, wd, g)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) mutateGroupPermissions(w http.ResponseWriter, r *http.Request, wd *world.World, g *perm.Group) {
	switch r.Method {
	case http.MethodPost:
		var req permissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		var added bool
		if req.ExpiresAt > 0 {
			added = g.AddTimedPermission(req.Token, req.ExpiresAt)
		} else {
			added = g.AddPermission(req.Token)
		}
		if !added {
			writeError(w, r, http.StatusConflict, "permission already present")
			return
		}
		a.audit(r.Context(), "group.permission.add", map[string]any{
			"world": wd.Name(),
			"group": g.Name(),
			"token": req.Token,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		if !g.RemovePermission(token) {
			writeError(w, r, http.StatusNotFound, "permission not found")
			return
		}
		a.audit(r.Context(), "group.permission.remove", map[string]any{
			"world": wd.Name(),
			"group": g.Name(),
			"token": token,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) mutateGroupInherits(w http.ResponseWriter, r *http.Request, wd *world.World, g *perm.Group) {
	switch r.Method {
	case http.MethodPost:
		var req nameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if a.lookupGroup(wd, req.Name) == nil {
			writeError(w, r, http.StatusNotFound, "parent group not found")
			return
		}
		if !g.AddInherits(req.Name) {
			writeError(w, r, http.StatusConflict, "inheritance already present")
			return
		}
		a.audit(r.Context(), "group.inherit.add", map[string]any{
			"world":  wd.Name(),
			"group":  g.Name(),
			"parent": req.Name,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		if !g.RemoveInherits(name) {
			writeError(w, r, http.StatusNotFound, "inheritance not found")
			return
		}
		a.audit(r.Context(), "group.inherit.remove", map[string]any{
			"world":  wd.Name(),
			"group":  g.Name(),
			"parent": name,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) mutateGroupVariables(w http.ResponseWriter, r *http.Request, wd *world.World, g *perm.Group) {
	switch r.Method {
	case http.MethodPut:
		var req variableRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		value, err := perm.ParseVariable(req.Value)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		g.SetVariable(req.Name, value)
		a.audit(r.Context(), "group.variable.set", map[string]any{
			"world":    wd.Name(),
			"group":    g.Name(),
			"variable": req.Name,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		if !g.RemoveVariable(name) {
			writeError(w, r, http.StatusNotFound, "variable not found")
			return
		}
		a.audit(r.Context(), "group.variable.remove", map[string]any{
			"world":    wd.Name(),
			"group":    g.Name(),
			"variable": name,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// lookupGroup resolves local names against the world and g:-prefixed names
// against the global registry.
func (a *API) lookupGroup(wd *world.World, name string) *perm.Group {
	if strings.HasPrefix(strings.ToLower(name), perm.GlobalGroupPrefix) {
		return a.engine.Registry().Global().Group(name)
	}
	return wd.Group(name)
}

// --- users ---

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request, wd *world.World, rest []string) {
	switch len(rest) {
	case 0:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		users := wd.UsersData().Users()
		identities := make([]string, 0, len(users))
		for _, u := range users {
			identities = append(identities, u.Key())
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": identities})
	case 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, wd, rest[0])
		case http.MethodPut:
			a.updateUser(w, r, wd, rest[0])
		case http.MethodDelete:
			a.deleteUser(w, r, wd, rest[0])
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case 2:
		a.handleUserSubresource(w, r, wd, rest[0], rest[1])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	u, ok := wd.LookupUser(identity)
	if !ok {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, newUserView(wd, u))
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if !a.ensureUsable(w, r, wd) {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		writeError(w, r, http.StatusBadRequest, "display_name is required")
		return
	}
	u := wd.User(identity)
	if old := u.DisplayName(); old != "" && !strings.EqualFold(old, u.Key()) {
		a.engine.Registry().ForgetUserName(old, u.Key())
	}
	u.SetDisplayName(req.DisplayName)
	a.engine.Registry().RecordUserName(req.DisplayName, u.Key())
	a.audit(r.Context(), "user.update", map[string]any{
		"world":    wd.Name(),
		"identity": u.Key(),
	})
	writeJSON(w, http.StatusOK, newUserView(wd, u))
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if !a.ensureUsable(w, r, wd) {
		return
	}
	if u, ok := wd.UsersData().Lookup(identity); ok {
		if name := u.DisplayName(); name != "" {
			a.engine.Registry().ForgetUserName(name, u.Key())
		}
	}
	wd.RemoveOverload(identity)
	if !wd.UsersData().Remove(identity) {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	a.audit(r.Context(), "user.delete", map[string]any{
		"world":    wd.Name(),
		"identity": identity,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserSubresource(w http.ResponseWriter, r *http.Request, wd *world.World, identity, sub string) {
	switch sub {
	case "permissions":
		a.handleUserPermissions(w, r, wd, identity)
	case "groups":
		a.handleUserGroups(w, r, wd, identity)
	case "overload":
		a.handleUserOverload(w, r, wd, identity)
	case "check":
		a.handleUserCheck(w, r, wd, identity)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	switch r.Method {
	case http.MethodGet:
		tokens := a.engine.EffectivePermissions(wd.Name(), identity, boolParam(r.URL.Query().Get("children")))
		if tokens == nil {
			tokens = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity":    identity,
			"world":       wd.Name(),
			"permissions": tokens,
		})
	case http.MethodPost:
		if !a.ensureRole(w, r, roleAdmin) {
			return
		}
		if !a.ensureUsable(w, r, wd) {
			return
		}
		var req permissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		u := wd.User(identity)
		var added bool
		if req.ExpiresAt > 0 {
			added = u.AddTimedPermission(req.Token, req.ExpiresAt)
		} else {
			added = u.AddPermission(req.Token)
		}
		if !added {
			writeError(w, r, http.StatusConflict, "permission already present")
			return
		}
		a.audit(r.Context(), "user.permission.add", map[string]any{
			"world":    wd.Name(),
			"identity": u.Key(),
			"token":    req.Token,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !a.ensureRole(w, r, roleAdmin) {
			return
		}
		if !a.ensureUsable(w, r, wd) {
			return
		}
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		u, ok := wd.LookupUser(identity)
		if !ok || !u.RemovePermission(token) {
			writeError(w, r, http.StatusNotFound, "permission not found")
			return
		}
		a.audit(r.Context(), "user.permission.remove", map[string]any{
			"world":    wd.Name(),
			"identity": u.Key(),
			"token":    token,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserGroups(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if !a.ensureUsable(w, r, wd) {
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req nameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if a.lookupGroup(wd, req.Name) == nil {
			writeError(w, r, http.StatusNotFound, "group not found")
			return
		}
		u := wd.User(identity)
		u.SetPrimaryGroup(req.Name)
		a.audit(r.Context(), "user.group.set", map[string]any{
			"world":    wd.Name(),
			"identity": u.Key(),
			"group":    req.Name,
		})
		writeJSON(w, http.StatusOK, newUserView(wd, u))
	case http.MethodPost:
		var req subGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if a.lookupGroup(wd, req.Name) == nil {
			writeError(w, r, http.StatusNotFound, "group not found")
			return
		}
		u := wd.User(identity)
		if !u.AddSubGroup(req.Name, req.ExpiresAt) {
			writeError(w, r, http.StatusConflict, "subgroup already present")
			return
		}
		a.audit(r.Context(), "user.subgroup.add", map[string]any{
			"world":    wd.Name(),
			"identity": u.Key(),
			"group":    req.Name,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		u, ok := wd.LookupUser(identity)
		if !ok || !u.RemoveSubGroup(name) {
			writeError(w, r, http.StatusNotFound, "subgroup not found")
			return
		}
		a.audit(r.Context(), "user.subgroup.remove", map[string]any{
			"world":    wd.Name(),
			"identity": u.Key(),
			"group":    name,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserOverload(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !a.ensureUsable(w, r, wd) {
			return
		}
		shadow := wd.Overload(identity)
		a.audit(r.Context(), "user.overload.create", map[string]any{
			"world":    wd.Name(),
			"identity": shadow.Key(),
		})
		writeJSON(w, http.StatusCreated, newUserView(wd, shadow))
	case http.MethodDelete:
		if !wd.RemoveOverload(identity) {
			writeError(w, r, http.StatusNotFound, "overload not found")
			return
		}
		a.audit(r.Context(), "user.overload.remove", map[string]any{
			"world":    wd.Name(),
			"identity": identity,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleUserCheck(w http.ResponseWriter, r *http.Request, wd *world.World, identity string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	permission := strings.TrimSpace(r.URL.Query().Get("permission"))
	if permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	result := a.engine.Check(wd.Name(), identity, permission, boolParam(r.URL.Query().Get("fallback")))
	writeJSON(w, http.StatusOK, checkView(result))
}

// --- global groups ---

func (a *API) handleGlobalGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups := a.engine.Registry().Global().Groups()
		out := make([]groupView, 0, len(groups))
		for _, g := range groups {
			out = append(out, newGroupView(g))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		if !a.ensureRole(w, r, roleAdmin) {
			return
		}
		var req nameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		g, err := a.engine.Registry().Global().Create(req.Name)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "globalgroup.create", map[string]any{"group": g.Name()})
		w.Header().Set("Location", "/v1/globalgroups/"+strings.TrimPrefix(g.Name(), perm.GlobalGroupPrefix))
		writeJSON(w, http.StatusCreated, newGroupView(g))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGlobalGroupScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/globalgroups/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	gg := a.engine.Registry().Global()
	g := gg.Group(parts[0])
	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			if g == nil {
				writeError(w, r, http.StatusNotFound, "group not found")
				return
			}
			writeJSON(w, http.StatusOK, newGroupView(g))
		case http.MethodDelete:
			if !a.ensureRole(w, r, roleAdmin) {
				return
			}
			if !gg.Remove(parts[0]) {
				writeError(w, r, http.StatusNotFound, "group not found")
				return
			}
			a.audit(r.Context(), "globalgroup.delete", map[string]any{"group": parts[0]})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case 2:
		if parts[1] != "permissions" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if g == nil {
			writeError(w, r, http.StatusNotFound, "group not found")
			return
		}
		if !a.ensureRole(w, r, roleAdmin) {
			return
		}
		a.mutateGlobalPermissions(w, r, g)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) mutateGlobalPermissions(w http.ResponseWriter, r *http.Request, g *perm.Group) {
	switch r.Method {
	case http.MethodPost:
		var req permissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Token) == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		var added bool
		if req.ExpiresAt > 0 {
			added = g.AddTimedPermission(req.Token, req.ExpiresAt)
		} else {
			added = g.AddPermission(req.Token)
		}
		if !added {
			writeError(w, r, http.StatusConflict, "permission already present")
			return
		}
		a.audit(r.Context(), "globalgroup.permission.add", map[string]any{
			"group": g.Name(),
			"token": req.Token,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			writeError(w, r, http.StatusBadRequest, "token is required")
			return
		}
		if !g.RemovePermission(token) {
			writeError(w, r, http.StatusNotFound, "permission not found")
			return
		}
		a.audit(r.Context(), "globalgroup.permission.remove", map[string]any{
			"group": g.Name(),
			"token": token,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// --- maintenance ---

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	if err := a.engine.ReloadAll(r.Context()); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "engine.reload", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func (a *API) handleReloadWorld(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/reload/"), "/")
	if name == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.engine.ReloadWorld(r.Context(), name); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "engine.reload.world", map[string]any{"world": name})
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "world": name})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensureRole(w, r, roleAdmin) {
		return
	}
	removed := a.engine.Sweep()
	a.audit(r.Context(), "engine.sweep", map[string]any{"removed": removed})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// --- shared helpers ---

func (a *API) ensureUsable(w http.ResponseWriter, r *http.Request, wd *world.World) bool {
	if wd.Usable() {
		return true
	}
	writeError(w, r, http.StatusServiceUnavailable, "world data unavailable")
	return false
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(audit.WithRequestID(ctx, RequestIDFromContext(ctx)), event, fields)
}

func newGroupView(g *perm.Group) groupView {
	return groupView{
		Name:        g.Name(),
		Permissions: g.PermissionList(),
		Timed:       g.TimedPermissions(),
		Inherits:    g.Inherits(),
		Variables:   varMap(g.VariableNames(), g.Variable),
	}
}

func newUserView(wd *world.World, u *perm.User) userView {
	primary := u.PrimaryGroup()
	if primary == "" {
		primary = wd.GroupsData().DefaultName()
	}
	subs := u.SubGroups()
	views := make([]subGroupView, 0, len(subs))
	for _, sg := range subs {
		views = append(views, subGroupView{Name: sg.Name, ExpiresAt: sg.Expires})
	}
	return userView{
		Identity:     u.Key(),
		DisplayName:  u.DisplayName(),
		PrimaryGroup: primary,
		SubGroups:    views,
		Permissions:  u.PermissionList(),
		Timed:        u.TimedPermissions(),
		Variables:    varMap(u.VariableNames(), u.Variable),
		Overloaded:   wd.IsOverloaded(u.Key()),
	}
}

func varMap(names []string, get func(string) (any, bool)) map[string]any {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if v, ok := get(name); ok {
			out[name] = v
		}
	}
	return out
}

func checkView(result perm.CheckResult) checkResponse {
	return checkResponse{
		Verdict:   result.Verdict.String(),
		Granted:   result.Verdict.Granted(),
		OwnerKind: result.OwnerKind.String(),
		Owner:     result.Owner,
		Token:     result.Token,
	}
}

func boolParam(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, perm.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, world.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, world.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, world.ErrWorldUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
