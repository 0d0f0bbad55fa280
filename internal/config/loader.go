// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with the precedence ENV > file > defaults.
type Loader struct {
	path    string // optional YAML file path; empty skips the file overlay
	version string
}

// NewLoader creates a Loader for the given optional config file path.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load produces a validated Config.
func (l *Loader) Load() (Config, error) {
	cfg := Default()
	cfg.Version = l.version

	if l.path != "" {
		if err := applyFile(&cfg, l.path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays a YAML config file onto cfg. Unknown keys are rejected
// so typos fail loudly instead of silently using defaults.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
