// Package config loads the service settings from defaults, an optional
// YAML file and SCRY_* environment variables, and validates them.
package config
