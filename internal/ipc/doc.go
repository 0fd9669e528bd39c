// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Most
// responses reuse the HTTP API payloads from internal/api so the CLI renders
// the same shapes whether it talks to the socket or the HTTP listener.
//
// Add new RPC endpoints by pairing a service method here with a client
// wrapper; keep request types small and avoid breaking existing field names.
package ipc
