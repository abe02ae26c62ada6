package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"permgate.org/internal/store"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestLoadGroupsSeedsMissingFile(t *testing.T) {
	s := testStore(t)
	gd, err := s.LoadGroups(context.Background(), "main")
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	if gd.DefaultName() != "default" {
		t.Fatalf("seeded world should have a default group, got %q", gd.DefaultName())
	}
	if _, err := os.Stat(s.groupsPath("main")); err != nil {
		t.Fatalf("seed file was not written: %v", err)
	}
}

func TestGroupsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	gd, err := s.LoadGroups(ctx, "main")
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	admin, err := gd.Create("admin")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	admin.AddPermission("+server.stop")
	admin.AddPermission("-chat.shout")
	admin.AddTimedPermission("event.fly", 9999999999)
	admin.AddInherits("default")
	admin.SetVariable("prefix", "[A]")
	admin.SetVariable("build", true)

	if err := s.SaveGroups(ctx, "main", gd); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}
	if gd.HasChanges() {
		t.Fatalf("save must clear the changed flags")
	}

	loaded, err := s.LoadGroups(ctx, "main")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	g := loaded.Group("admin")
	if g == nil {
		t.Fatalf("admin group lost in round trip")
	}
	if !g.HasPermission("+server.stop") || !g.HasPermission("-chat.shout") {
		t.Fatalf("static tokens lost: %v", g.PermissionList())
	}
	if expires, ok := g.TimedExpiry("event.fly"); !ok || expires != 9999999999 {
		t.Fatalf("timed token lost: %v %v", expires, ok)
	}
	if got := g.Inherits(); len(got) != 1 || got[0] != "default" {
		t.Fatalf("inheritance lost: %v", got)
	}
	if g.VarString("prefix", "") != "[A]" || !g.VarBool("build", false) {
		t.Fatalf("info variables lost")
	}
	if loaded.HasChanges() {
		t.Fatalf("a freshly loaded table must not be dirty")
	}
}

func TestUsersRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ud, err := s.LoadUsers(ctx, "main")
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	u, _ := ud.Ensure("7fd5eb04-3e2c-4d2a-a8f0-7d8d61f0c2f1")
	u.SetDisplayName("Alice")
	u.SetPrimaryGroup("admin")
	u.AddSubGroup("vip", 9999999999)
	u.AddSubGroup("builders", 0)
	u.AddPermission("zone.enter")
	u.SetVariable("prefix", "[Her]")

	if err := s.SaveUsers(ctx, "main", ud); err != nil {
		t.Fatalf("SaveUsers: %v", err)
	}

	loaded, err := s.LoadUsers(ctx, "main")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := loaded.Lookup("7fd5eb04-3e2c-4d2a-a8f0-7d8d61f0c2f1")
	if !ok {
		t.Fatalf("user lost in round trip")
	}
	if got.DisplayName() != "Alice" || got.PrimaryGroup() != "admin" {
		t.Fatalf("identity fields lost: %q %q", got.DisplayName(), got.PrimaryGroup())
	}
	subs := got.SubGroups()
	if len(subs) != 2 {
		t.Fatalf("subgroups lost: %v", subs)
	}
	var sawTimed bool
	for _, sg := range subs {
		if sg.Name == "vip" && sg.Expires == 9999999999 {
			sawTimed = true
		}
	}
	if !sawTimed {
		t.Fatalf("timed subgroup expiry lost: %v", subs)
	}
	if !got.HasPermission("zone.enter") {
		t.Fatalf("user tokens lost")
	}
}

func TestLoadGroupsCorruptFile(t *testing.T) {
	s := testStore(t)
	path := s.groupsPath("main")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("groups: [not, a, map]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.LoadGroups(context.Background(), "main"); !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadGroupsRequiresDefault(t *testing.T) {
	s := testStore(t)
	path := s.groupsPath("main")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := "groups:\n  admin:\n    permissions:\n      - server.stop\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.LoadGroups(context.Background(), "main"); !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("a groups file without a default group is corrupt, got %v", err)
	}
}

func TestLoadGroupsSkipsBrokenEntries(t *testing.T) {
	s := testStore(t)
	path := s.groupsPath("main")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := "groups:\n  default:\n    default: true\n    permissions:\n      - chat.send\n      - \"|notanumber\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gd, err := s.LoadGroups(context.Background(), "main")
	if err != nil {
		t.Fatalf("broken entries must not abort the load: %v", err)
	}
	g := gd.Group("default")
	if !g.HasPermission("chat.send") {
		t.Fatalf("healthy entry lost: %v", g.PermissionList())
	}
	if len(g.PermissionList()) != 1 {
		t.Fatalf("broken entry should be skipped: %v", g.PermissionList())
	}
}

func TestGlobalGroupsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	gg, err := s.LoadGlobalGroups(ctx)
	if err != nil {
		t.Fatalf("LoadGlobalGroups: %v", err)
	}
	g, err := gg.Create("staff")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	g.AddPermission("staff.kick")

	if err := s.SaveGlobalGroups(ctx, gg); err != nil {
		t.Fatalf("SaveGlobalGroups: %v", err)
	}
	loaded, err := s.LoadGlobalGroups(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := loaded.Group("staff"); got == nil || !got.HasPermission("staff.kick") {
		t.Fatalf("global group lost in round trip")
	}
}

func TestHasNewerGroups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	gd, err := s.LoadGroups(ctx, "main")
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	newer, err := s.HasNewerGroups(ctx, "main", gd.LoadedAt())
	if err != nil || newer {
		t.Fatalf("file should not be newer than its own load, got %v, %v", newer, err)
	}
	past := gd.LoadedAt().Add(-time.Hour)
	newer, err = s.HasNewerGroups(ctx, "main", past)
	if err != nil || !newer {
		t.Fatalf("file must be newer than a stale timestamp, got %v, %v", newer, err)
	}
	newer, err = s.HasNewerUsers(ctx, "main", past)
	if err != nil || newer {
		t.Fatalf("a missing users file is never newer, got %v, %v", newer, err)
	}
}

func TestBackupsArePruned(t *testing.T) {
	s := testStore(t, WithBackups(2))
	ctx := context.Background()
	gd, err := s.LoadGroups(ctx, "main")
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := s.SaveGroups(ctx, "main", gd); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(s.root, "backups"))
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) > 2 {
		t.Fatalf("backup pruning failed, %d files remain", len(entries))
	}
}
