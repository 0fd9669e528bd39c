// Package logging assembles structured slog loggers and formatting helpers used
// across the gateway.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes a bounded StreamHub so the HTTP API can serve recent
// log lines to monitoring clients. Console output and streamed events are
// passed through PlainText so status glyphs never reach sinks that cannot
// render them. A no-op logger is provided for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits the same field names (component, device, channel, session_id).
package logging
