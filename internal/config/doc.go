// Package config loads server configuration from built-in defaults, an
// optional YAML file and RADIO_* environment variables, and validates the
// result with struct tags.
package config
