// Package notifications pushes operator alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Event types cover
// device staleness, storage failures and server startup failures; each family
// can be muted independently in the [notifications] section.
package notifications
