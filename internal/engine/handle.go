package engine

import "github.com/google/uuid"

// HandleGenerator produces opaque unit-of-work handles.
//
// Handles identify a unit in logs before it has a transaction id, and
// after it is aborted without one.
type HandleGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 handles.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
