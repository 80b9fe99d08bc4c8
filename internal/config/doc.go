// Package config loads relay-gateway configuration from a YAML file.
//
// Environment variables in ${VAR_NAME} form are expanded before
// parsing, durations are written as Go duration strings ("500ms",
// "24h"), and every unset field falls back to a sensible default, so a
// minimal config only needs the database path:
//
//	database:
//	  path: "/var/lib/relay-gateway/relay.db"
package config
