package store

import "github.com/rotisserie/eris"

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = eris.New("not found")
	// ErrOrphan is returned when a write references a master record or
	// offer that does not exist (or a master that was retired).
	ErrOrphan = eris.New("referenced record does not exist")
	// ErrStale is returned when a conditional write finds its precondition
	// no longer holds.
	ErrStale = eris.New("record changed since it was read")
)
