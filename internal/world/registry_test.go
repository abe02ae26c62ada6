package world

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func testRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry("main")
	for _, name := range names {
		w := testWorld(t, name)
		if err := r.AddWorld(w); err != nil {
			t.Fatalf("add world %s: %v", name, err)
		}
	}
	return r
}

func TestWorldResolutionOrder(t *testing.T) {
	r := testRegistry(t, "main", "nether")

	if w := r.World("nether"); w.Name() != "nether" {
		t.Fatalf("loaded world should resolve to itself, got %s", w.Name())
	}
	if w := r.World("NETHER"); w.Name() != "nether" {
		t.Fatalf("world resolution must be case-insensitive, got %s", w.Name())
	}
	if w := r.World("unknown"); w.Name() != "main" {
		t.Fatalf("unknown world should fall back to the default, got %s", w.Name())
	}

	r.SetFallbackWorld("nether")
	if w := r.World("unknown"); w.Name() != "nether" {
		t.Fatalf("fallback world should win over the default, got %s", w.Name())
	}
}

func TestMirrorTransitivity(t *testing.T) {
	r := testRegistry(t, "z")
	if err := r.MirrorGroups("y", "z"); err != nil {
		t.Fatalf("mirror y->z: %v", err)
	}
	if err := r.MirrorGroups("x", "y"); err != nil {
		t.Fatalf("mirror x->y: %v", err)
	}

	x := r.World("x")
	z := r.World("z")
	if x.GroupsData() != z.GroupsData() {
		t.Fatalf("mirror chain must share a single groups table")
	}

	if _, err := x.GroupsData().Create("admin"); err != nil {
		t.Fatalf("create via x: %v", err)
	}
	if z.Group("admin") == nil {
		t.Fatalf("group created through x must be visible through z")
	}
	if _, err := z.GroupsData().Create("mods"); err != nil {
		t.Fatalf("create via z: %v", err)
	}
	if x.Group("mods") == nil {
		t.Fatalf("group created through z must be visible through x")
	}

	owner, err := r.GroupsOwner("x")
	if err != nil || owner != "z" {
		t.Fatalf("GroupsOwner(x) = %s, %v; want z", owner, err)
	}
}

func TestMirrorChainAppliedChildFirst(t *testing.T) {
	r := testRegistry(t, "z")
	// y starts as an empty placeholder, as a loaded-but-mirrored world does.
	r.CreateWorld("y")
	if err := r.MirrorGroups("x", "y"); err != nil {
		t.Fatalf("mirror x->y: %v", err)
	}
	if err := r.MirrorGroups("y", "z"); err != nil {
		t.Fatalf("mirror y->z: %v", err)
	}

	x := r.World("x")
	z := r.World("z")
	if x.GroupsData() != z.GroupsData() {
		t.Fatalf("re-pointing y must drag x onto z's groups table")
	}
	if _, err := x.GroupsData().Create("admin"); err != nil {
		t.Fatalf("create via x: %v", err)
	}
	if z.Group("admin") == nil {
		t.Fatalf("group created through x must be visible through z")
	}
	if owner, err := r.GroupsOwner("x"); err != nil || owner != "z" {
		t.Fatalf("GroupsOwner(x) = %s, %v; want z", owner, err)
	}
}

func TestMirrorRejectsCycle(t *testing.T) {
	r := testRegistry(t, "z")
	r.CreateWorld("y")
	if err := r.MirrorGroups("x", "y"); err != nil {
		t.Fatalf("mirror x->y: %v", err)
	}
	if err := r.MirrorGroups("y", "x"); !errors.Is(err, ErrMirrorUnresolved) {
		t.Fatalf("cyclic mirror must be rejected, got %v", err)
	}
}

func TestMirrorTablesAreIndependent(t *testing.T) {
	r := testRegistry(t, "main", "nether")
	if err := r.MirrorGroups("nether", "main"); err != nil {
		t.Fatalf("mirror groups: %v", err)
	}
	mainW := r.World("main")
	nether := r.World("nether")
	if nether.GroupsData() != mainW.GroupsData() {
		t.Fatalf("groups tables should be shared")
	}
	if nether.UsersData() == mainW.UsersData() {
		t.Fatalf("users tables must stay independent unless mirrored too")
	}
}

func TestMirrorUnresolvedParent(t *testing.T) {
	r := testRegistry(t, "main")
	if err := r.MirrorGroups("child", "ghost"); !errors.Is(err, ErrMirrorUnresolved) {
		t.Fatalf("expected ErrMirrorUnresolved, got %v", err)
	}
	if err := r.MirrorGroups("main", "main"); !errors.Is(err, ErrMirrorUnresolved) {
		t.Fatalf("self-mirror must be rejected, got %v", err)
	}
}

func TestGroupsTablesSkipMirrors(t *testing.T) {
	r := testRegistry(t, "main", "nether")
	if err := r.MirrorGroups("nether", "main"); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	tables := r.GroupsTables()
	if len(tables) != 1 {
		t.Fatalf("expected a single owned groups table, got %d", len(tables))
	}
	if _, ok := tables["main"]; !ok {
		t.Fatalf("owner table should be keyed by the owning world")
	}
	users := r.UsersTables()
	if len(users) != 2 {
		t.Fatalf("users tables were not mirrored, expected 2, got %d", len(users))
	}
}

func TestNameIndex(t *testing.T) {
	r := testRegistry(t, "main")
	r.RecordUserName("Alice", "uuid-online")
	r.RecordUserName("alice", "uuid-offline")
	got := r.IdentitiesByName("ALICE")
	want := []string{"uuid-offline", "uuid-online"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("IdentitiesByName = %v, want %v", got, want)
	}
	r.ForgetUserName("alice", "uuid-online")
	if got := r.IdentitiesByName("alice"); len(got) != 1 || got[0] != "uuid-offline" {
		t.Fatalf("after forget: %v", got)
	}
}

func TestRegistrySweepDeduplicatesSharedTables(t *testing.T) {
	r := testRegistry(t, "main")
	if err := r.MirrorGroups("copy", "main"); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	now := time.Now().Unix()
	g, _ := r.World("main").GroupsData().Create("vip")
	g.AddTimedPermission("old.perm", now-1)
	gg, err := r.Global().Create("staff")
	if err != nil {
		t.Fatalf("global create: %v", err)
	}
	gg.AddTimedPermission("old.global", now-1)

	if !r.RemoveExpired(now) {
		t.Fatalf("sweep should report removals")
	}
	if g.HasPermission("old.perm") || gg.HasPermission("old.global") {
		t.Fatalf("expired tokens survived the registry sweep")
	}
	if r.RemoveExpired(now) {
		t.Fatalf("second sweep should be a no-op")
	}
}
