// Package config loads application configuration from CRUNCH_* environment
// variables, optionally merging asset roots and remote allow-list tokens
// from a YAML file.
package config
