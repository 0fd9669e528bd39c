// Package daemon coordinates the long-running telegate process.
//
// It wires configuration, the failure ledger, the liveness tracker and its
// sweeper, the event bridge and its monitor consumer, the ingest endpoint and
// the FTP server into a single lifecycle with flock-based locking to prevent
// multiple instances sharing a state directory. The FTP listener has its own
// start/stop controls on top of the daemon lifecycle so operators can rebind
// after a port conflict without restarting the process.
//
// The daemon also serves the HTTP API (status, device panel, log stream,
// activity view, failure ledger) and owns the ledger maintenance helpers used
// by the CLI over IPC.
//
// Keep orchestration logic here: classification, routing and liveness live in
// their own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
