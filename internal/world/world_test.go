package world

import (
	"errors"
	"testing"
	"time"

	"permgate.org/internal/perm"
)

func testWorld(t *testing.T, name string) *World {
	t.Helper()
	w := NewWorld(name)
	if _, err := w.GroupsData().Create("default"); err != nil {
		t.Fatalf("create default group: %v", err)
	}
	if err := w.GroupsData().SetDefault("default"); err != nil {
		t.Fatalf("set default group: %v", err)
	}
	return w
}

func TestDefaultGroupInvariant(t *testing.T) {
	w := NewWorld("empty")
	if _, err := w.DefaultGroup(); !errors.Is(err, ErrNoDefaultGroup) {
		t.Fatalf("expected ErrNoDefaultGroup, got %v", err)
	}
	if w.Usable() {
		t.Fatalf("a world without a default group must be unusable")
	}

	w = testWorld(t, "main")
	if !w.Usable() {
		t.Fatalf("world with default group should be usable")
	}
	if _, err := w.GroupsData().Remove("default"); err == nil {
		t.Fatalf("removing the default group must fail")
	}
}

func TestUserAutoVivification(t *testing.T) {
	w := testWorld(t, "main")
	u := w.User("alice")
	if u == nil {
		t.Fatalf("user lookup must always succeed")
	}
	if u.PrimaryGroup() != "default" {
		t.Fatalf("auto-created user should join the default group, got %q", u.PrimaryGroup())
	}
	if u.Changed() {
		t.Fatalf("auto-vivification alone should not mark the user dirty")
	}
	if again := w.User("ALICE"); again != u {
		t.Fatalf("identity lookup must be case-insensitive")
	}
}

func TestPrimaryGroupFallback(t *testing.T) {
	w := testWorld(t, "main")
	if _, err := w.GroupsData().Create("admin"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	u := w.User("alice")
	u.SetPrimaryGroup("admin")

	g, err := w.PrimaryGroupOf(u)
	if err != nil || g.Name() != "admin" {
		t.Fatalf("primary resolution = %v, %v", g, err)
	}

	if _, err := w.RemoveGroup("admin"); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	g, err = w.PrimaryGroupOf(u)
	if err != nil || g.Name() != "default" {
		t.Fatalf("stale primary should fall back to default, got %v, %v", g, err)
	}
	if u.PrimaryGroup() != "default" {
		t.Fatalf("fallback must rewrite the stored reference, got %q", u.PrimaryGroup())
	}
}

func TestRemoveGroupReparentsUsers(t *testing.T) {
	w := testWorld(t, "main")
	w.GroupsData().Create("vip")
	u := w.User("alice")
	u.SetPrimaryGroup("vip")

	removed, err := w.RemoveGroup("vip")
	if err != nil || !removed {
		t.Fatalf("RemoveGroup = %v, %v", removed, err)
	}
	if u.PrimaryGroup() != "default" {
		t.Fatalf("user should be re-parented onto default, got %q", u.PrimaryGroup())
	}
	if _, err := w.RemoveGroup("vip"); err != nil {
		t.Fatalf("removing an absent group must not error: %v", err)
	}
}

func TestUnusableWorldRefusesGroupRemoval(t *testing.T) {
	w := testWorld(t, "main")
	w.GroupsData().Create("vip")
	w.MarkUnusable()
	if _, err := w.RemoveGroup("vip"); !errors.Is(err, ErrWorldUnavailable) {
		t.Fatalf("expected ErrWorldUnavailable, got %v", err)
	}
	w.MarkUsable()
	if _, err := w.RemoveGroup("vip"); err != nil {
		t.Fatalf("usable world should accept the removal: %v", err)
	}
}

func TestOverloadIsolation(t *testing.T) {
	w := testWorld(t, "main")
	canonical := w.User("alice")
	canonical.AddPermission("chat.send")

	shadow := w.Overload("alice")
	shadow.AddPermission("server.stop")
	shadow.RemovePermission("chat.send")

	if got := w.User("alice"); got != shadow {
		t.Fatalf("reads must be redirected to the shadow record")
	}
	real := w.SurpassOverload("alice")
	if real != canonical {
		t.Fatalf("SurpassOverload must return the canonical record")
	}
	if !real.HasPermission("chat.send") || real.HasPermission("server.stop") {
		t.Fatalf("shadow mutations leaked into canonical data: %v", real.PermissionList())
	}

	if !w.RemoveOverload("alice") {
		t.Fatalf("overload removal should succeed")
	}
	if got := w.User("alice"); got != canonical {
		t.Fatalf("after removal reads must fall back to canonical data")
	}
	if w.RemoveOverload("alice") {
		t.Fatalf("second removal should report false")
	}
}

func TestOverloadReplacesPreviousShadow(t *testing.T) {
	w := testWorld(t, "main")
	first := w.Overload("alice")
	first.AddPermission("a.perm")
	second := w.Overload("alice")
	if second.HasPermission("a.perm") {
		t.Fatalf("re-overloading must start from canonical data again")
	}
	if got := w.User("alice"); got != second {
		t.Fatalf("latest shadow should win")
	}
}

func TestWorldRemoveExpired(t *testing.T) {
	w := testWorld(t, "main")
	now := time.Now().Unix()
	g, _ := w.GroupsData().Create("vip")
	g.AddTimedPermission("old.perm", now-1)
	u := w.User("alice")
	u.AddSubGroup("vip", now-1)
	w.GroupsData().FlagAsSaved()
	w.UsersData().FlagAsSaved()

	if !w.RemoveExpired(now) {
		t.Fatalf("sweep should report removals")
	}
	if g.HasPermission("old.perm") {
		t.Fatalf("expired group token survived the sweep")
	}
	if u.HasSubGroup("vip") {
		t.Fatalf("expired subgroup survived the sweep")
	}
	if !g.Changed() || !u.Changed() {
		t.Fatalf("owners of removed entries must be flagged changed")
	}
	if w.RemoveExpired(now) {
		t.Fatalf("second sweep should be a no-op")
	}
}

func TestGroupsDataDuplicate(t *testing.T) {
	gd := NewGroupsData()
	if _, err := gd.Create("Admin"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := gd.Create("ADMIN"); !errors.Is(err, ErrConflict) {
		t.Fatalf("case-insensitive duplicate must conflict, got %v", err)
	}
	if gd.Group("admin") == nil {
		t.Fatalf("lookup must be case-insensitive")
	}
}

func TestGlobalGroups(t *testing.T) {
	gg := NewGlobalGroups()
	g, err := gg.Create("staff")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !g.IsGlobal() {
		t.Fatalf("created group should carry the global prefix: %s", g.Name())
	}
	if gg.Group("g:staff") == nil || gg.Group("staff") == nil {
		t.Fatalf("lookup should work with and without the prefix")
	}
	if _, err := gg.Create("g:staff"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate must conflict, got %v", err)
	}
	if err := gg.Add(perm.NewGroup("plain")); err == nil {
		t.Fatalf("non-global group must be rejected")
	}
	if !gg.Remove("staff") || gg.Has("staff") {
		t.Fatalf("removal failed")
	}
}
