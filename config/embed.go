// Package config provides the embedded default configuration for Ktulhu.
package config

import (
	_ "embed"
)

// DefaultConfigYAML contains the embedded default configuration in YAML format.
// `ktulhu config create` writes it to the data directory.
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
