// Package preflight provides readiness checks for the filesystem paths,
// listener ports and notification endpoint telegate depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failing check so an
//     unwritable root or a taken port is visible before devices connect.
//   - The CLI "telegate check" command prints the same results as a table.
//
// Port checks are skipped for ports the daemon already holds.
package preflight
