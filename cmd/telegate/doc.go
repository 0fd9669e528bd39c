// Package main hosts the telegate CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground (serve),
// launches and stops it in the background, and translates the remaining
// commands into IPC calls: FTP server control, the device panel, the
// activity view, log tailing and failure ledger maintenance. A few commands
// (config, classify, hash-password, check) work without a daemon.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
