// Package ledger persists uploads that could not be stored.
//
// When routing a received file fails, the bytes stay at their staging path and
// a row is written here so the failure survives restarts and can be listed,
// dismissed, or retried by an operator. The store is SQLite (modernc.org/sqlite,
// no cgo) in WAL mode, shared by the daemon and its HTTP/IPC surfaces.
//
// Retries are never automatic: Retry re-runs the storage router for one row on
// request and records the outcome.
package ledger
