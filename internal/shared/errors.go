package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockTimeout indicates a row lock could not be acquired in time.
	// Callers retry a bounded number of times before surfacing it.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrConfiguration indicates missing setup (chart account, bank link).
	// Never retried; surfaced before any row is written.
	ErrConfiguration = errors.New("configuration error")
)
