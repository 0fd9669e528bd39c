// Package config loads, normalizes, and validates telegate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TELEGATE_FTP_PASSWORD. The Config type centralizes every knob the daemon and
// CLI need: the storage root, FTP listener and users, known device labels,
// liveness timing, and notification settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
