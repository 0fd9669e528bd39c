// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates monitor, ingest and ledger models into
// transport-friendly DTOs that the CLI and dashboards can render without
// coupling to internal types.
//
// # Key Types
//
// DaemonStatus: daemon running state, FTP listener status, outcome counters,
// open failure count and connected sessions.
//
// Device/DeviceListResponse: the device panel with display state and the
// last received time.
//
// LogEvent/LogStreamResponse: structured daemon log payloads for live tailing.
//
// ActivityLine/ActivityResponse: the plain-text operator activity view.
//
// Failure/FailureListResponse: failure ledger entries.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (display state, ledger status)
// are exposed as lowercase strings. Timestamps use RFC3339 with milliseconds
// in the zone they were recorded in; an empty string means never.
package api
