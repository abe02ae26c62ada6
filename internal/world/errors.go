package world

import "errors"

var (
	// ErrNoDefaultGroup marks a groups table with no designated default
	// group; the holder is unusable until one is installed.
	ErrNoDefaultGroup = errors.New("no default group")

	// ErrMirrorUnresolved is returned when a mirror chain cannot be
	// followed to a loaded root holder. Mutating through such a holder
	// risks cross-world data loss, so this is a hard error.
	ErrMirrorUnresolved = errors.New("mirror parent not loaded")

	// ErrWorldUnavailable marks a holder left in a known-bad state, e.g.
	// after a failed reload. Only a successful reload clears it.
	ErrWorldUnavailable = errors.New("world data unavailable")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("resource conflict")
)
