// Package engine owns the loaded permission state: it boots worlds from the
// store, applies the mirror configuration, answers checks, and runs the
// background save and expiry loops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permgate.org/internal/config"
	"permgate.org/internal/obs"
	"permgate.org/internal/perm"
	"permgate.org/internal/resolve"
	"permgate.org/internal/store"
	"permgate.org/internal/world"
)

type Engine struct {
	cfg      config.Config
	store    store.Store
	registry *world.Registry
	resolver *resolve.Resolver

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires an engine from its configuration and store. Host integration is
// optional.
func New(cfg config.Config, st store.Store, opts ...resolve.Option) *Engine {
	registry := world.NewRegistry(cfg.DefaultWorld)
	if cfg.FallbackWorld != "" {
		registry.SetFallbackWorld(cfg.FallbackWorld)
	}
	opts = append([]resolve.Option{resolve.WithOfflineMode(cfg.OfflineMode)}, opts...)
	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: registry,
		resolver: resolve.New(registry, opts...),
		stopCh:   make(chan struct{}),
	}
}

func (e *Engine) Registry() *world.Registry { return e.registry }

func (e *Engine) Resolver() *resolve.Resolver { return e.resolver }

// Load boots the global registry, every configured world and the mirror
// map. It must succeed before the engine serves checks.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	gg, err := e.store.LoadGlobalGroups(ctx)
	if err != nil {
		return fmt.Errorf("load global groups: %w", err)
	}
	e.registry.SetGlobal(gg)

	for _, name := range e.cfg.WorldNames() {
		if err := e.loadWorld(ctx, name); err != nil {
			return fmt.Errorf("load world %s: %w", name, err)
		}
	}
	return e.applyMirrors()
}

// loadWorld loads a world's own tables. Halves that the mirror map points
// at a parent are left empty here and filled in by applyMirrors.
func (e *Engine) loadWorld(ctx context.Context, name string) error {
	m := e.mirrorFor(name)
	w := e.registry.CreateWorld(name)
	if m == nil || !m.Groups {
		gd, err := e.store.LoadGroups(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			gd, err = e.seedGroups(ctx, name)
		}
		if err != nil {
			return err
		}
		w.SetGroupsData(gd)
	}
	if m == nil || !m.Users {
		ud, err := e.store.LoadUsers(ctx, name)
		if err != nil {
			return err
		}
		w.SetUsersData(ud)
	}
	w.MarkUsable()
	return nil
}

func (e *Engine) mirrorFor(name string) *config.Mirror {
	for child, m := range e.cfg.Mirrors {
		if strings.EqualFold(child, name) {
			return &m
		}
	}
	return nil
}

// seedGroups builds the minimal usable table for a world the store has
// never seen and persists it immediately.
func (e *Engine) seedGroups(ctx context.Context, name string) (*world.GroupsData, error) {
	gd := world.NewGroupsData()
	if _, err := gd.Create("default"); err != nil {
		return nil, err
	}
	if err := gd.SetDefault("default"); err != nil {
		return nil, err
	}
	if err := e.store.SaveGroups(ctx, name, gd); err != nil {
		return nil, err
	}
	return gd, nil
}

// applyMirrors installs the configured mirror map. Chains may be declared
// in any order, so unresolved children are retried until a pass makes no
// progress.
func (e *Engine) applyMirrors() error {
	pending := make(map[string]config.Mirror, len(e.cfg.Mirrors))
	for child, m := range e.cfg.Mirrors {
		pending[child] = m
	}
	for len(pending) > 0 {
		progressed := false
		for _, child := range sortedChildren(pending) {
			m := pending[child]
			if err := e.applyMirror(child, m); err != nil {
				if errors.Is(err, world.ErrMirrorUnresolved) {
					continue
				}
				return err
			}
			delete(pending, child)
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("%w: unresolved mirror chain %v", world.ErrMirrorUnresolved, sortedChildren(pending))
		}
	}
	return nil
}

func (e *Engine) applyMirror(child string, m config.Mirror) error {
	if m.Groups {
		if err := e.registry.MirrorGroups(child, m.Parent); err != nil {
			return err
		}
	}
	if m.Users {
		if err := e.registry.MirrorUsers(child, m.Parent); err != nil {
			return err
		}
	}
	return nil
}

// Check resolves one permission for one identity and records the verdict.
func (e *Engine) Check(worldName, identity, permission string, hostFallback bool) perm.CheckResult {
	start := time.Now()
	w := e.registry.World(worldName)
	result := e.resolver.Resolve(w, identity, permission, hostFallback)
	obs.ObserveCheck(result.Verdict.String(), time.Since(start))
	return result
}

// EffectivePermissions flattens one identity's full permission set.
func (e *Engine) EffectivePermissions(worldName, identity string, includeChildren bool) []string {
	return e.resolver.EffectivePermissions(e.registry.World(worldName), identity, includeChildren)
}

// SaveAll flushes every dirty owner table plus the global registry.
func (e *Engine) SaveAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for name, gd := range e.registry.GroupsTables() {
		if !gd.HasChanges() {
			continue
		}
		err := e.store.SaveGroups(ctx, name, gd)
		obs.ObserveSave(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("save groups %s: %w", name, err))
		}
	}
	for name, ud := range e.registry.UsersTables() {
		if !ud.HasChanges() {
			continue
		}
		err := e.store.SaveUsers(ctx, name, ud)
		obs.ObserveSave(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("save users %s: %w", name, err))
		}
	}
	if gg := e.registry.Global(); gg.HasChanges() {
		err := e.store.SaveGlobalGroups(ctx, gg)
		obs.ObserveSave(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("save global groups: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Sweep removes expired timed entries registry-wide.
func (e *Engine) Sweep() bool {
	removed := e.registry.RemoveExpired(time.Now().Unix())
	obs.ObserveSweep(removed)
	return removed
}

// ReloadWorld rebuilds one world's owned tables from the store and swaps
// them in. On failure the old data stays installed but the world is marked
// unusable until a later reload succeeds.
func (e *Engine) ReloadWorld(ctx context.Context, name string) error {
	w, ok := e.registry.WorldExact(name)
	if !ok {
		return fmt.Errorf("%w: world %s", world.ErrNotFound, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	groupsOwner, err := e.registry.GroupsOwner(w.Name())
	if err != nil {
		return err
	}
	usersOwner, err := e.registry.UsersOwner(w.Name())
	if err != nil {
		return err
	}

	var gd *world.GroupsData
	var ud *world.UsersData
	if groupsOwner == w.Name() {
		if gd, err = e.store.LoadGroups(ctx, w.Name()); err != nil {
			w.MarkUnusable()
			return fmt.Errorf("reload groups %s: %w", name, err)
		}
	}
	if usersOwner == w.Name() {
		if ud, err = e.store.LoadUsers(ctx, w.Name()); err != nil {
			w.MarkUnusable()
			return fmt.Errorf("reload users %s: %w", name, err)
		}
	}
	if gd != nil {
		w.SetGroupsData(gd)
	}
	if ud != nil {
		w.SetUsersData(ud)
	}
	w.MarkUsable()
	// Mirror children still point at the previous tables.
	return e.applyMirrors()
}

// ReloadAll rebuilds the global registry and every owner world.
func (e *Engine) ReloadAll(ctx context.Context) error {
	gg, err := e.store.LoadGlobalGroups(ctx)
	if err != nil {
		return fmt.Errorf("reload global groups: %w", err)
	}
	e.registry.SetGlobal(gg)
	for _, w := range e.registry.Worlds() {
		if err := e.ReloadWorld(ctx, w.Name()); err != nil {
			return err
		}
	}
	return nil
}

// RefreshStale reloads any world whose backing data changed behind the
// engine's back.
func (e *Engine) RefreshStale(ctx context.Context) error {
	for name, gd := range e.registry.GroupsTables() {
		newer, err := e.store.HasNewerGroups(ctx, name, gd.LoadedAt())
		if err != nil {
			return err
		}
		if newer {
			if err := e.ReloadWorld(ctx, name); err != nil {
				return err
			}
		}
	}
	for name, ud := range e.registry.UsersTables() {
		newer, err := e.store.HasNewerUsers(ctx, name, ud.LoadedAt())
		if err != nil {
			return err
		}
		if newer {
			if err := e.ReloadWorld(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start launches the background save and sweep loops.
func (e *Engine) Start() {
	if d := e.cfg.SaveInterval.Std(); d > 0 {
		e.wg.Add(1)
		go e.loop(d, func() {
			if err := e.SaveAll(context.Background()); err != nil {
				obs.LogEvent(map[string]any{
					"ts":    time.Now().UTC().Format(time.RFC3339Nano),
					"level": "error",
					"msg":   "background save failed",
					"error": err.Error(),
				})
			}
		})
	}
	if d := e.cfg.SweepInterval.Std(); d > 0 {
		e.wg.Add(1)
		go e.loop(d, func() { e.Sweep() })
	}
}

func (e *Engine) loop(every time.Duration, fn func()) {
	defer e.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-e.stopCh:
			return
		}
	}
}

// Stop halts the background loops and flushes outstanding changes.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.SaveAll(ctx)
}

func sortedChildren(m map[string]config.Mirror) []string {
	out := make([]string, 0, len(m))
	for child := range m {
		out = append(out, child)
	}
	sort.Strings(out)
	return out
}
