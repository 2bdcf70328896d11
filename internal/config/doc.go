// Package config loads, normalizes, and validates songconvert configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SONGCONVERT_NTFY_TOPIC. The Config type centralizes every knob the daemon and
// CLI need: the control endpoint, stage worker counts, supervisor timing, and
// the external tool settings used by the split and reencode stages.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
