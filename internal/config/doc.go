// Package config loads, normalizes, and validates pipetrack configuration data.
//
// It supplies repository defaults (XDG data and state directories), expands
// user paths including tilde shortcuts, reads TOML files, and honours
// environment overrides such as PIPETRACK_STORE and PIPETRACK_PROJECT_ROOT.
// The Config type centralizes every knob the tracker, the store and the CLI
// need so the store location, backup policy and identity rules are discovered
// in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
