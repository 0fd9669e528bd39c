// Package logs provides file tailing and the HTTP log stream client shared by
// the CLI and daemon diagnostics.
//
// Tail returns complete lines only and hands back the byte offset to resume
// from, so `telegate logs --follow` can poll the daemon over IPC without
// re-reading the file. StreamClient talks to the daemon's /api/logs and
// /api/activity endpoints when the HTTP API is enabled.
package logs
