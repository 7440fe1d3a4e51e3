package storage

import "errors"

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleWrite is returned when an update carries an expected version
	// that no longer matches the stored row.
	ErrStaleWrite = errors.New("stale write: record was modified concurrently")
	// ErrUnknownField is returned for update keys that are not writable columns.
	ErrUnknownField = errors.New("unknown or read-only field")
	// ErrInvalidValue is returned when an update value cannot be coerced to
	// its column type.
	ErrInvalidValue = errors.New("invalid field value")
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("record conflicts with an existing row")
)
