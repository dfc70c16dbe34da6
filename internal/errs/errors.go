// Package errs defines the error kinds surfaced by the storage engine,
// following the propagation policy in spec §7.
package errs

import "errors"

// Surfaced to the transaction; the transaction aborts and rolls back.
var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrMissingKey   = errors.New("missing key")
	ErrDeleted      = errors.New("record is deleted")
	ErrConflict     = errors.New("lock conflict")
)

// Recovered locally; never surfaced past the bufferpool or disk layer.
var (
	ErrPageFull = errors.New("page full")
	ErrNotFound = errors.New("page not found")
)

// Fatal.
var ErrCapacityExhausted = errors.New("uid capacity exhausted")
