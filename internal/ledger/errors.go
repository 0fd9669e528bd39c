package ledger

import "errors"

var (
	// ErrNotFound indicates no failure row has the requested id.
	ErrNotFound = errors.New("failure not found")
	// ErrNotOpen indicates the failure was already resolved or retried.
	ErrNotOpen = errors.New("failure is not open")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
