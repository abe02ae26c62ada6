// Package config loads the engine configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Mirror points one world's tables at a parent world's.
type Mirror struct {
	Parent string `yaml:"parent"`
	Groups bool   `yaml:"groups"`
	Users  bool   `yaml:"users"`
}

// Config is the full engine configuration.
type Config struct {
	ListenAddr    string            `yaml:"listen_addr"`
	DefaultWorld  string            `yaml:"default_world"`
	FallbackWorld string            `yaml:"fallback_world"`
	Worlds        []string          `yaml:"worlds"`
	Mirrors       map[string]Mirror `yaml:"mirrors"`
	OfflineMode   bool              `yaml:"offline_mode"`
	SaveInterval  Duration          `yaml:"save_interval"`
	SweepInterval Duration          `yaml:"sweep_interval"`
	Backups       int               `yaml:"backups"`
	DataDir       string            `yaml:"data_dir"`
	DatabaseURL   string            `yaml:"database_url"`
	AuthSecret    string            `yaml:"-"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		DefaultWorld:  "main",
		SaveInterval:  Duration(10 * time.Minute),
		SweepInterval: Duration(time.Minute),
		Backups:       3,
		DataDir:       "data",
	}
}

// Load reads the YAML file when path is non-empty, then applies environment
// overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PERMGATE_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PERMGATE_DEFAULT_WORLD"); v != "" {
		c.DefaultWorld = v
	}
	if v := os.Getenv("PERMGATE_FALLBACK_WORLD"); v != "" {
		c.FallbackWorld = v
	}
	if v := os.Getenv("PERMGATE_WORLDS"); v != "" {
		c.Worlds = splitList(v)
	}
	if v := os.Getenv("PERMGATE_OFFLINE_MODE"); v != "" {
		c.OfflineMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PERMGATE_SAVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SaveInterval = Duration(d)
		}
	}
	if v := os.Getenv("PERMGATE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("PERMGATE_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Backups = n
		}
	}
	if v := os.Getenv("PERMGATE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	c.AuthSecret = os.Getenv("PERMGATE_AUTH_SECRET")
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DefaultWorld) == "" {
		return fmt.Errorf("default_world is required")
	}
	for child, m := range c.Mirrors {
		if strings.TrimSpace(m.Parent) == "" {
			return fmt.Errorf("mirror %s: parent is required", child)
		}
		if strings.EqualFold(child, m.Parent) {
			return fmt.Errorf("mirror %s: cannot mirror itself", child)
		}
		if !m.Groups && !m.Users {
			return fmt.Errorf("mirror %s: at least one of groups or users", child)
		}
	}
	return nil
}

// WorldNames returns the configured worlds, deduplicated, with the default
// world always first.
func (c *Config) WorldNames() []string {
	seen := map[string]bool{strings.ToLower(c.DefaultWorld): true}
	out := []string{c.DefaultWorld}
	for _, name := range c.Worlds {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
