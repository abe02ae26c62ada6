package perm

import (
	"testing"
	"time"
)

func TestSubGroupCannotShadowPrimary(t *testing.T) {
	u := NewUser("alice")
	u.SetPrimaryGroup("admin")
	if u.AddSubGroup("admin", 0) {
		t.Fatalf("primary group must not be addable as a subgroup")
	}
	if u.AddSubGroup("ADMIN", 0) {
		t.Fatalf("primary check must be case-insensitive")
	}
}

func TestSetPrimaryDropsMatchingSubGroup(t *testing.T) {
	u := NewUser("alice")
	u.SetPrimaryGroup("default")
	u.AddSubGroup("vip", 0)
	u.AddSubGroup("banned", 0)
	u.SetPrimaryGroup("vip")
	if u.HasSubGroup("vip") {
		t.Fatalf("promoting a subgroup to primary must drop the subgroup entry")
	}
	if !u.HasSubGroup("banned") {
		t.Fatalf("unrelated subgroups must survive")
	}
}

func TestSubGroupInsertionOrder(t *testing.T) {
	u := NewUser("alice")
	u.AddSubGroup("vip", 0)
	u.AddSubGroup("banned", 0)
	u.AddSubGroup("beta", 0)
	got := u.SubGroups()
	if len(got) != 3 || got[0].Name != "vip" || got[1].Name != "banned" || got[2].Name != "beta" {
		t.Fatalf("insertion order not preserved: %v", got)
	}
}

func TestSubGroupExpiryReplacement(t *testing.T) {
	u := NewUser("alice")
	now := time.Now().Unix()
	u.AddSubGroup("vip", now+100)
	if u.AddSubGroup("vip", now+50) {
		t.Fatalf("earlier expiry must be a no-op")
	}
	if !u.AddSubGroup("vip", now+200) {
		t.Fatalf("later expiry must replace")
	}
	if !u.AddSubGroup("vip", 0) {
		t.Fatalf("zero expiry must upgrade to permanent")
	}
	if u.AddSubGroup("vip", now+500) {
		t.Fatalf("permanent membership must not be downgraded")
	}
}

func TestRemoveExpiredSubGroups(t *testing.T) {
	u := NewUser("alice")
	now := time.Now().Unix()
	u.AddSubGroup("old", now-1)
	u.AddSubGroup("live", now+3600)
	u.AddSubGroup("forever", 0)
	u.FlagAsSaved()

	if !u.RemoveExpiredSubGroups(now) {
		t.Fatalf("sweep should report a removal")
	}
	if u.HasSubGroup("old") {
		t.Fatalf("expired subgroup still present")
	}
	if !u.HasSubGroup("live") || !u.HasSubGroup("forever") {
		t.Fatalf("live memberships were removed")
	}
	if !u.Changed() {
		t.Fatalf("sweep removal must flag the user changed")
	}
}

func TestUserCloneIsolation(t *testing.T) {
	u := NewUser("alice")
	u.SetPrimaryGroup("admin")
	u.AddSubGroup("vip", 0)
	u.AddPermission("chat.send")
	u.AddTimedPermission("fly.use", time.Now().Unix()+100)
	u.SetVariable("prefix", "[a]")

	c := u.Clone()
	c.SetPrimaryGroup("banned")
	c.AddSubGroup("beta", 0)
	c.AddPermission("chat.color")
	c.RemovePermission("fly.use")
	c.SetVariable("prefix", "[c]")

	if u.PrimaryGroup() != "admin" {
		t.Fatalf("clone primary mutation leaked")
	}
	if len(u.SubGroups()) != 1 {
		t.Fatalf("clone subgroup mutation leaked: %v", u.SubGroups())
	}
	if _, ok := u.TimedExpiry("fly.use"); !ok {
		t.Fatalf("clone timed removal leaked")
	}
	if got := u.VarString("prefix", ""); got != "[a]" {
		t.Fatalf("clone variable mutation leaked: %q", got)
	}
}
