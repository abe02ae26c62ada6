package store

import (
	"context"
	"errors"
	"time"

	"permgate.org/internal/world"
)

var (
	// ErrNotFound means the backend holds no data for the requested world.
	ErrNotFound = errors.New("store: not found")
	// ErrCorrupt means the stored data is structurally unreadable. Broken
	// individual entries are skipped instead and never raise it.
	ErrCorrupt = errors.New("store: corrupt data")
)

// Store persists per-world group and user tables plus the global group
// registry. Mirrored worlds are the caller's concern: a Store only ever
// sees owner worlds.
type Store interface {
	LoadGroups(ctx context.Context, worldName string) (*world.GroupsData, error)
	SaveGroups(ctx context.Context, worldName string, data *world.GroupsData) error
	HasNewerGroups(ctx context.Context, worldName string, since time.Time) (bool, error)

	LoadUsers(ctx context.Context, worldName string) (*world.UsersData, error)
	SaveUsers(ctx context.Context, worldName string, data *world.UsersData) error
	HasNewerUsers(ctx context.Context, worldName string, since time.Time) (bool, error)

	LoadGlobalGroups(ctx context.Context) (*world.GlobalGroups, error)
	SaveGlobalGroups(ctx context.Context, data *world.GlobalGroups) error

	Close() error
}
