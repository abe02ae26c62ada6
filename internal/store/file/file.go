// Package file is the YAML-backed store driver: one directory per world
// holding groups.yml and users.yml, plus a shared globalgroups.yml.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"permgate.org/internal/obs"
	"permgate.org/internal/perm"
	"permgate.org/internal/store"
	"permgate.org/internal/world"
)

type groupEntry struct {
	Default     bool           `yaml:"default,omitempty"`
	Permissions []string       `yaml:"permissions,omitempty"`
	Inheritance []string       `yaml:"inheritance,omitempty"`
	Info        map[string]any `yaml:"info,omitempty"`
}

type groupsFile struct {
	Groups map[string]groupEntry `yaml:"groups"`
}

type userEntry struct {
	LastName    string         `yaml:"lastname,omitempty"`
	Group       string         `yaml:"group,omitempty"`
	SubGroups   []string       `yaml:"subgroups,omitempty"`
	Permissions []string       `yaml:"permissions,omitempty"`
	Info        map[string]any `yaml:"info,omitempty"`
}

type usersFile struct {
	Users map[string]userEntry `yaml:"users"`
}

type globalEntry struct {
	Permissions []string `yaml:"permissions,omitempty"`
}

type globalFile struct {
	Groups map[string]globalEntry `yaml:"groups"`
}

// Store reads and writes the YAML layout under a root directory.
type Store struct {
	root    string
	backups int
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBackups keeps up to n timestamped copies of each file it overwrites.
func WithBackups(n int) Option {
	return func(s *Store) { s.backups = n }
}

// Open prepares the directory layout.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Join(root, "worlds"), 0o755); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) groupsPath(worldName string) string {
	return filepath.Join(s.root, "worlds", worldName, "groups.yml")
}

func (s *Store) usersPath(worldName string) string {
	return filepath.Join(s.root, "worlds", worldName, "users.yml")
}

func (s *Store) globalPath() string {
	return filepath.Join(s.root, "globalgroups.yml")
}

// LoadGroups reads one world's groups file. A missing file is seeded with a
// lone default group so a fresh install starts usable. Broken entries are
// logged and skipped; a file without any default group is corrupt.
func (s *Store) LoadGroups(_ context.Context, worldName string) (*world.GroupsData, error) {
	path := s.groupsPath(worldName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.seedGroups(worldName); err != nil {
			return nil, err
		}
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	var doc groupsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, path, err)
	}

	gd := world.NewGroupsData()
	names := sortedKeys(doc.Groups)
	defaultName := ""
	for _, name := range names {
		entry := doc.Groups[name]
		g, err := gd.Create(name)
		if err != nil {
			logSkip(path, name, err)
			continue
		}
		applyTokens(path, g, entry.Permissions)
		for _, parent := range entry.Inheritance {
			g.AddInherits(parent)
		}
		applyInfo(path, name, entry.Info, g.SetVariable)
		if entry.Default {
			defaultName = name
		}
	}
	if defaultName == "" && gd.Has("default") {
		defaultName = "default"
	}
	if defaultName == "" {
		return nil, fmt.Errorf("%w: %s declares no default group", store.ErrCorrupt, path)
	}
	if err := gd.SetDefault(defaultName); err != nil {
		return nil, err
	}
	gd.FlagAsSaved()
	gd.SetLoadedAt(mtime(path))
	return gd, nil
}

// SaveGroups writes one world's groups file atomically.
func (s *Store) SaveGroups(_ context.Context, worldName string, data *world.GroupsData) error {
	doc := groupsFile{Groups: make(map[string]groupEntry, len(data.Groups()))}
	defaultName := data.DefaultName()
	for _, g := range data.Groups() {
		entry := groupEntry{
			Default:     g.Name() == defaultName,
			Permissions: store.EncodeTokens(g.PermissionList(), g.TimedPermissions()),
			Inheritance: g.Inherits(),
			Info:        infoMap(g.VariableNames(), g.Variable),
		}
		doc.Groups[g.Name()] = entry
	}
	path := s.groupsPath(worldName)
	if err := s.writeYAML(path, doc); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(mtime(path))
	return nil
}

// HasNewerGroups compares the groups file mtime against since.
func (s *Store) HasNewerGroups(_ context.Context, worldName string, since time.Time) (bool, error) {
	return newerThan(s.groupsPath(worldName), since)
}

// LoadUsers reads one world's users file. A missing file yields an empty
// table.
func (s *Store) LoadUsers(_ context.Context, worldName string) (*world.UsersData, error) {
	path := s.usersPath(worldName)
	ud := world.NewUsersData()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ud, nil
	}
	if err != nil {
		return nil, err
	}

	var doc usersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, path, err)
	}
	for _, identity := range sortedKeys(doc.Users) {
		entry := doc.Users[identity]
		u, created := ud.Ensure(identity)
		if !created {
			logSkip(path, identity, fmt.Errorf("duplicate identity"))
			continue
		}
		if entry.LastName != "" {
			u.SetDisplayName(entry.LastName)
		}
		if entry.Group != "" {
			u.SetPrimaryGroup(entry.Group)
		}
		for _, sg := range entry.SubGroups {
			name, expires, err := store.DecodeToken(sg)
			if err != nil {
				logSkip(path, identity, err)
				continue
			}
			u.AddSubGroup(name, expires)
		}
		applyTokens(path, u, entry.Permissions)
		applyInfo(path, identity, entry.Info, u.SetVariable)
	}
	ud.FlagAsSaved()
	ud.SetLoadedAt(mtime(path))
	return ud, nil
}

// SaveUsers writes one world's users file atomically.
func (s *Store) SaveUsers(_ context.Context, worldName string, data *world.UsersData) error {
	doc := usersFile{Users: make(map[string]userEntry, len(data.Users()))}
	for _, u := range data.Users() {
		entry := userEntry{
			Group:       u.PrimaryGroup(),
			Permissions: store.EncodeTokens(u.PermissionList(), u.TimedPermissions()),
			Info:        infoMap(u.VariableNames(), u.Variable),
		}
		if u.DisplayName() != u.Key() {
			entry.LastName = u.DisplayName()
		}
		for _, sg := range u.SubGroups() {
			entry.SubGroups = append(entry.SubGroups, store.EncodeToken(sg.Name, sg.Expires))
		}
		doc.Users[u.Key()] = entry
	}
	path := s.usersPath(worldName)
	if err := s.writeYAML(path, doc); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(mtime(path))
	return nil
}

// HasNewerUsers compares the users file mtime against since.
func (s *Store) HasNewerUsers(_ context.Context, worldName string, since time.Time) (bool, error) {
	return newerThan(s.usersPath(worldName), since)
}

// LoadGlobalGroups reads the shared global registry file. A missing file
// yields an empty registry.
func (s *Store) LoadGlobalGroups(_ context.Context) (*world.GlobalGroups, error) {
	path := s.globalPath()
	gg := world.NewGlobalGroups()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return gg, nil
	}
	if err != nil {
		return nil, err
	}

	var doc globalFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, path, err)
	}
	for _, name := range sortedKeys(doc.Groups) {
		g, err := gg.Create(name)
		if err != nil {
			logSkip(path, name, err)
			continue
		}
		applyTokens(path, g, doc.Groups[name].Permissions)
	}
	gg.FlagAsSaved()
	gg.SetLoadedAt(mtime(path))
	return gg, nil
}

// SaveGlobalGroups writes the global registry file atomically.
func (s *Store) SaveGlobalGroups(_ context.Context, data *world.GlobalGroups) error {
	doc := globalFile{Groups: make(map[string]globalEntry, len(data.Groups()))}
	for _, g := range data.Groups() {
		doc.Groups[g.Name()] = globalEntry{
			Permissions: store.EncodeTokens(g.PermissionList(), g.TimedPermissions()),
		}
	}
	path := s.globalPath()
	if err := s.writeYAML(path, doc); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(mtime(path))
	return nil
}

func (s *Store) seedGroups(worldName string) error {
	doc := groupsFile{Groups: map[string]groupEntry{
		"default": {Default: true},
	}}
	return s.writeYAML(s.groupsPath(worldName), doc)
}

// writeYAML marshals into a sibling temp file and renames it over the
// target, keeping a backup copy of the previous content when configured.
func (s *Store) writeYAML(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if s.backups > 0 {
		if err := s.backup(path); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) backup(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	name := fmt.Sprintf("%s-%s", stamp, filepath.Base(path))
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		return err
	}
	return s.pruneBackups(dir, filepath.Base(path))
}

func (s *Store) pruneBackups(dir, suffix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var matches []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
			matches = append(matches, e.Name())
		}
	}
	sort.Strings(matches)
	for len(matches) > s.backups {
		if err := os.Remove(filepath.Join(dir, matches[0])); err != nil {
			return err
		}
		matches = matches[1:]
	}
	return nil
}

func applyTokens(path string, sink store.TokenSink, entries []string) {
	for _, entry := range entries {
		if err := store.ApplyToken(sink, entry); err != nil {
			logSkip(path, entry, err)
		}
	}
}

func applyInfo(path, owner string, info map[string]any, set func(string, any)) {
	for _, name := range sortedKeys(info) {
		value, err := perm.ParseVariable(info[name])
		if err != nil {
			logSkip(path, owner+"/"+name, err)
			continue
		}
		set(name, value)
	}
}

func infoMap(names []string, get func(string) (any, bool)) map[string]any {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		if value, ok := get(name); ok {
			out[name] = value
		}
	}
	return out
}

func logSkip(path, entry string, err error) {
	obs.LogEvent(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "warn",
		"msg":   "skipping unreadable entry",
		"file":  path,
		"entry": entry,
		"error": err.Error(),
	})
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Now()
	}
	return info.ModTime()
}

func newerThan(path string, since time.Time) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.ModTime().After(since), nil
}
