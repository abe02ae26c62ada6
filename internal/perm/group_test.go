package perm

import (
	"reflect"
	"testing"
)

func TestGroupInherits(t *testing.T) {
	g := NewGroup("admin")
	if !g.AddInherits("default") || !g.AddInherits("moderator") {
		t.Fatalf("adding distinct parents should succeed")
	}
	if g.AddInherits("DEFAULT") {
		t.Fatalf("case-insensitive duplicate parent should be rejected")
	}
	if got := g.Inherits(); !reflect.DeepEqual(got, []string{"default", "moderator"}) {
		t.Fatalf("inheritance order not preserved: %v", got)
	}
	if !g.RemoveInherits("default") || g.RemoveInherits("default") {
		t.Fatalf("RemoveInherits must be true once, then false")
	}
}

func TestGlobalGroupHasNoInheritanceOrVariables(t *testing.T) {
	g := NewGroup("g:staff")
	if !g.IsGlobal() {
		t.Fatalf("g: prefix must mark the group global")
	}
	if g.AddInherits("default") {
		t.Fatalf("global groups must not inherit")
	}
	g.SetVariable("prefix", "[staff]")
	if g.HasVariable("prefix") {
		t.Fatalf("global groups must not carry variables")
	}
}

func TestGroupVariables(t *testing.T) {
	g := NewGroup("vip")
	g.SetVariable("prefix", "[vip]")
	g.SetVariable("build", true)
	g.SetVariable("weight", 7)

	if got := g.VarString("prefix", ""); got != "[vip]" {
		t.Fatalf("prefix = %q", got)
	}
	if !g.VarBool("build", false) {
		t.Fatalf("build should read true")
	}
	if got := g.VarInt("weight", 0); got != 7 {
		t.Fatalf("weight = %d", got)
	}
	if got := g.VarString("suffix", ""); got != "" {
		t.Fatalf("absent suffix should fall back to default, got %q", got)
	}
	if !g.RemoveVariable("weight") || g.HasVariable("weight") {
		t.Fatalf("variable removal failed")
	}
}

func TestGroupCloneIsolation(t *testing.T) {
	g := NewGroup("admin")
	g.AddPermission("server.stop")
	g.AddInherits("default")
	g.SetVariable("prefix", "[a]")

	c := g.Clone()
	c.AddPermission("server.start")
	c.AddInherits("vip")
	c.SetVariable("prefix", "[c]")

	if len(g.PermissionList()) != 1 || len(g.Inherits()) != 1 {
		t.Fatalf("clone mutation leaked into the original")
	}
	if got := g.VarString("prefix", ""); got != "[a]" {
		t.Fatalf("clone variable mutation leaked: %q", got)
	}
}
