// Package pg is the PostgreSQL store driver. Token lists are stored as
// comma-joined blobs, info variables as jsonb, and per-world write
// timestamps feed the staleness checks.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"permgate.org/internal/perm"
	"permgate.org/internal/store"
	"permgate.org/internal/world"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) LoadGroups(ctx context.Context, worldName string) (*world.GroupsData, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select name, is_default, permissions, inheritance, info
		from world_groups
		where world = $1
		order by name
	`, worldName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gd := world.NewGroupsData()
	defaultName := ""
	count := 0
	for rows.Next() {
		var (
			name        string
			isDefault   bool
			permissions string
			inheritance string
			rawInfo     []byte
		)
		if err := rows.Scan(&name, &isDefault, &permissions, &inheritance, &rawInfo); err != nil {
			return nil, err
		}
		count++
		g, err := gd.Create(name)
		if err != nil {
			return nil, err
		}
		for _, entry := range store.SplitTokens(permissions) {
			if err := store.ApplyToken(g, entry); err != nil {
				return nil, err
			}
		}
		for _, parent := range store.SplitTokens(inheritance) {
			g.AddInherits(parent)
		}
		if err := applyInfo(rawInfo, g.SetVariable); err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		if isDefault {
			defaultName = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: world %s has no groups", store.ErrNotFound, worldName)
	}
	if defaultName == "" {
		return nil, fmt.Errorf("%w: world %s declares no default group", store.ErrCorrupt, worldName)
	}
	if err := gd.SetDefault(defaultName); err != nil {
		return nil, err
	}
	gd.FlagAsSaved()
	gd.SetLoadedAt(s.stamp(ctx, worldName, "groups_updated_at"))
	return gd, nil
}

func (s *Store) SaveGroups(ctx context.Context, worldName string, data *world.GroupsData) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from world_groups where world = $1`, worldName); err != nil {
		return err
	}
	defaultName := data.DefaultName()
	for _, g := range data.Groups() {
		info, err := marshalInfo(g.VariableNames(), g.Variable)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into world_groups (world, name, is_default, permissions, inheritance, info)
			values ($1, $2, $3, $4, $5, $6)
		`, worldName, g.Name(), g.Name() == defaultName,
			store.JoinTokens(store.EncodeTokens(g.PermissionList(), g.TimedPermissions())),
			store.JoinTokens(g.Inherits()), info); err != nil {
			return mapPgError(err)
		}
	}
	if err := s.touch(ctx, tx, worldName, "groups_updated_at"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(time.Now().UTC())
	return nil
}

func (s *Store) HasNewerGroups(ctx context.Context, worldName string, since time.Time) (bool, error) {
	return s.newerThan(ctx, worldName, "groups_updated_at", since)
}

func (s *Store) LoadUsers(ctx context.Context, worldName string) (*world.UsersData, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select identity, display_name, primary_group, subgroups, permissions, info
		from world_users
		where world = $1
		order by identity
	`, worldName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ud := world.NewUsersData()
	for rows.Next() {
		var (
			identity    string
			displayName string
			primary     string
			subgroups   string
			permissions string
			rawInfo     []byte
		)
		if err := rows.Scan(&identity, &displayName, &primary, &subgroups, &permissions, &rawInfo); err != nil {
			return nil, err
		}
		u, _ := ud.Ensure(identity)
		if displayName != "" {
			u.SetDisplayName(displayName)
		}
		if primary != "" {
			u.SetPrimaryGroup(primary)
		}
		for _, entry := range store.SplitTokens(subgroups) {
			name, expires, err := store.DecodeToken(entry)
			if err != nil {
				return nil, err
			}
			u.AddSubGroup(name, expires)
		}
		for _, entry := range store.SplitTokens(permissions) {
			if err := store.ApplyToken(u, entry); err != nil {
				return nil, err
			}
		}
		if err := applyInfo(rawInfo, u.SetVariable); err != nil {
			return nil, fmt.Errorf("user %s: %w", identity, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ud.FlagAsSaved()
	ud.SetLoadedAt(s.stamp(ctx, worldName, "users_updated_at"))
	return ud, nil
}

func (s *Store) SaveUsers(ctx context.Context, worldName string, data *world.UsersData) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from world_users where world = $1`, worldName); err != nil {
		return err
	}
	for _, u := range data.Users() {
		subgroups := make([]string, 0, len(u.SubGroups()))
		for _, sg := range u.SubGroups() {
			subgroups = append(subgroups, store.EncodeToken(sg.Name, sg.Expires))
		}
		info, err := marshalInfo(u.VariableNames(), u.Variable)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Key(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into world_users (world, identity, display_name, primary_group, subgroups, permissions, info)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, worldName, u.Key(), u.DisplayName(), u.PrimaryGroup(),
			store.JoinTokens(subgroups),
			store.JoinTokens(store.EncodeTokens(u.PermissionList(), u.TimedPermissions())), info); err != nil {
			return mapPgError(err)
		}
	}
	if err := s.touch(ctx, tx, worldName, "users_updated_at"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(time.Now().UTC())
	return nil
}

func (s *Store) HasNewerUsers(ctx context.Context, worldName string, since time.Time) (bool, error) {
	return s.newerThan(ctx, worldName, "users_updated_at", since)
}

func (s *Store) LoadGlobalGroups(ctx context.Context) (*world.GlobalGroups, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select name, permissions
		from global_groups
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gg := world.NewGlobalGroups()
	for rows.Next() {
		var name, permissions string
		if err := rows.Scan(&name, &permissions); err != nil {
			return nil, err
		}
		g, err := gg.Create(name)
		if err != nil {
			return nil, err
		}
		for _, entry := range store.SplitTokens(permissions) {
			if err := store.ApplyToken(g, entry); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	gg.FlagAsSaved()
	gg.SetLoadedAt(time.Now().UTC())
	return gg, nil
}

func (s *Store) SaveGlobalGroups(ctx context.Context, data *world.GlobalGroups) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from global_groups`); err != nil {
		return err
	}
	for _, g := range data.Groups() {
		if _, err := tx.ExecContext(ctx, `
			insert into global_groups (name, permissions)
			values ($1, $2)
		`, g.Name(), store.JoinTokens(store.EncodeTokens(g.PermissionList(), g.TimedPermissions()))); err != nil {
			return mapPgError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	data.FlagAsSaved()
	data.SetLoadedAt(time.Now().UTC())
	return nil
}

func (s *Store) touch(ctx context.Context, tx *sql.Tx, worldName, column string) error {
	query := fmt.Sprintf(`
		insert into worlds (name, %s)
		values ($1, now())
		on conflict (name) do update set %s = now()
	`, column, column)
	_, err := tx.ExecContext(ctx, query, worldName)
	return err
}

func (s *Store) stamp(ctx context.Context, worldName, column string) time.Time {
	var ts time.Time
	query := fmt.Sprintf(`select %s from worlds where name = $1`, column)
	if err := s.db.QueryRowContext(ctx, query, worldName).Scan(&ts); err != nil {
		return time.Now().UTC()
	}
	return ts
}

func (s *Store) newerThan(ctx context.Context, worldName, column string, since time.Time) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	var ts time.Time
	query := fmt.Sprintf(`select %s from worlds where name = $1`, column)
	err := s.db.QueryRowContext(ctx, query, worldName).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ts.After(since), nil
}

func applyInfo(raw []byte, set func(string, any)) error {
	if len(raw) == 0 {
		return nil
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("%w: decode info: %v", store.ErrCorrupt, err)
	}
	for name, value := range info {
		parsed, err := perm.ParseVariable(value)
		if err != nil {
			return fmt.Errorf("%w: info %s: %v", store.ErrCorrupt, name, err)
		}
		set(name, parsed)
	}
	return nil
}

func marshalInfo(names []string, get func(string) (any, bool)) ([]byte, error) {
	info := make(map[string]any, len(names))
	for _, name := range names {
		if value, ok := get(name); ok {
			info[name] = value
		}
	}
	return json.Marshal(info)
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %v", world.ErrConflict, err)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
	}
	return err
}
