// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// EnvInfluxToken overrides sources.metrics.influx.token.
	EnvInfluxToken = "PERFGATE_INFLUX_TOKEN"

	// EnvAPIToken adds an admin bearer token and enables server.auth.
	EnvAPIToken = "PERFGATE_API_TOKEN"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Load reads and validates the config file at path.
//
// Description:
//
//	Values absent from the file keep their DefaultConfig value. The
//	PERFGATE_INFLUX_TOKEN environment variable replaces the InfluxDB token.
//
// Outputs:
//   - Config: The validated configuration.
//   - error: An os.ErrNotExist match if the file is missing, a YAML error,
//     or ErrInvalidConfig.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields DefaultConfig.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
		applyEnv(&cfg)
		return cfg, Validate(cfg)
	}
	return cfg, err
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left untouched and reported as os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory %w", err)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Server.Auth.Enabled && len(cfg.Server.Auth.Tokens) == 0 {
		return fmt.Errorf("%w: server.auth is enabled but has no tokens", ErrInvalidConfig)
	}
	if cfg.Sources.Metrics.Type == "influx" {
		in := cfg.Sources.Metrics.Influx
		if in.URL == "" || in.Org == "" || in.Bucket == "" {
			return fmt.Errorf("%w: influx metrics need url, org and bucket", ErrInvalidConfig)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(EnvInfluxToken); token != "" {
		cfg.Sources.Metrics.Influx.Token = token
	}
	if token := os.Getenv(EnvAPIToken); token != "" {
		cfg.Server.Auth.Enabled = true
		cfg.Server.Auth.Tokens = append(cfg.Server.Auth.Tokens, APIToken{
			User:  "env",
			Token: token,
			Roles: []string{"admin"},
		})
	}
}
