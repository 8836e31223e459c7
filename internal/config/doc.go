// Package config loads and validates the gateway's YAML configuration,
// expanding ${VAR} environment references and parsing duration strings.
package config
