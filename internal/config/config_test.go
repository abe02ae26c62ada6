package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultWorld != "main" || cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SaveInterval.Std() != 10*time.Minute {
		t.Fatalf("save interval default = %v", cfg.SaveInterval)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	doc := `
default_world: world
worlds: [world, nether]
offline_mode: true
save_interval: 5m
mirrors:
  nether:
    parent: world
    groups: true
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PERMGATE_ADDR", ":9090")
	t.Setenv("PERMGATE_SAVE_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultWorld != "world" || !cfg.OfflineMode {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.ListenAddr != ":9090" || cfg.SaveInterval.Std() != 30*time.Second {
		t.Fatalf("env overrides lost: %+v", cfg)
	}
	m, ok := cfg.Mirrors["nether"]
	if !ok || m.Parent != "world" || !m.Groups || m.Users {
		t.Fatalf("mirror config lost: %+v", cfg.Mirrors)
	}
}

func TestValidateMirrors(t *testing.T) {
	cfg := Default()
	cfg.Mirrors = map[string]Mirror{"nether": {Parent: "nether", Groups: true}}
	if err := cfg.validate(); err == nil {
		t.Fatalf("self-mirror must be rejected")
	}
	cfg.Mirrors = map[string]Mirror{"nether": {Parent: "main"}}
	if err := cfg.validate(); err == nil {
		t.Fatalf("a mirror must share at least one table")
	}
}

func TestWorldNames(t *testing.T) {
	cfg := Default()
	cfg.Worlds = []string{"main", "nether", " ", "Nether", "end"}
	got := cfg.WorldNames()
	want := []string{"main", "nether", "end"}
	if len(got) != len(want) {
		t.Fatalf("WorldNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("WorldNames = %v, want %v", got, want)
		}
	}
}
