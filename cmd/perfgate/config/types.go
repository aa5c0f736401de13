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
	"time"

	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

// Config is the perfgate application configuration (perfgate.yaml).
type Config struct {
	// Server: HTTP listener for `perfgate serve`
	Server ServerConfig `yaml:"server"`

	// Storage: where captured baselines live
	Storage StorageConfig `yaml:"storage"`

	// Sources: profiles, rules and metrics inputs
	Sources SourcesConfig `yaml:"sources"`

	// Evaluation: engine and comparator defaults
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// Gate: regression gate thresholds
	Gate perfgate.GateConfig `yaml:"gate"`

	Telemetry telemetry.Config `yaml:"telemetry"`

	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Address string `yaml:"address" validate:"required"` // e.g. :12230

	// RateLimit is requests per second on /v1. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// Debug enables gin's request log.
	Debug bool `yaml:"debug"`

	Auth AuthConfig `yaml:"auth"`

	// AuditLog writes baseline creations, gate decisions and access
	// denials to the log as audit records.
	AuditLog bool `yaml:"audit_log"`
}

// AuthConfig enables bearer-token access control on the HTTP API.
type AuthConfig struct {
	Enabled bool       `yaml:"enabled"`
	Tokens  []APIToken `yaml:"tokens" validate:"dive"`
}

// APIToken binds a bearer token to a user and its roles (admin, writer,
// reader).
type APIToken struct {
	User  string   `yaml:"user" validate:"required"`
	Token string   `yaml:"token" validate:"required,min=16"`
	Roles []string `yaml:"roles" validate:"dive,oneof=admin writer reader"`
}

type StorageConfig struct {
	// Backend is "badger" or "memory". Memory baselines are lost on exit.
	Backend     string        `yaml:"backend" validate:"oneof=badger memory"`
	Path        string        `yaml:"path" validate:"required_if=Backend badger"`
	BaselineTTL time.Duration `yaml:"baseline_ttl" validate:"gte=0"`
	SyncWrites  bool          `yaml:"sync_writes"`
	GCInterval  time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type SourcesConfig struct {
	ProfilesDir   string              `yaml:"profiles_dir" validate:"required"`
	WatchProfiles bool                `yaml:"watch_profiles"`
	RulesFile     string              `yaml:"rules_file" validate:"required"`
	Metrics       MetricsSourceConfig `yaml:"metrics"`
}

type MetricsSourceConfig struct {
	// Type is "file" or "influx".
	Type   string       `yaml:"type" validate:"oneof=file influx"`
	File   string       `yaml:"file" validate:"required_if=Type file"`
	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// Token is normally supplied through PERFGATE_INFLUX_TOKEN rather
	// than written to the file.
	Token    string        `yaml:"token,omitempty"`
	Lookback time.Duration `yaml:"lookback" validate:"gte=0"`
}

type EvaluationConfig struct {
	// PartialMetrics is the default partial-metric policy: "allow" skips
	// rules whose metric is missing, "deny" fails them.
	PartialMetrics string `yaml:"partial_metrics" validate:"oneof=allow deny"`

	// PolicyExceptions are rule ids that take the opposite treatment.
	PolicyExceptions []string `yaml:"policy_exceptions,omitempty" validate:"dive,required"`

	MinConfidence    float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	BatchConcurrency int     `yaml:"batch_concurrency" validate:"gte=1,lte=64"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`

	// Dir enables a daily JSON log file, e.g. ~/.perfgate/logs
	Dir string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":12230",
			RateLimit:       50,
			RateBurst:       100,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend:     "badger",
			Path:        ".perfgate/baselines",
			BaselineTTL: 30 * 24 * time.Hour,
			SyncWrites:  true,
			GCInterval:  5 * time.Minute,
		},
		Sources: SourcesConfig{
			ProfilesDir: "profiles",
			RulesFile:   "rules.yaml",
			Metrics: MetricsSourceConfig{
				Type: "file",
				File: "metrics.yaml",
				Influx: InfluxConfig{
					URL:      "http://localhost:8086",
					Org:      "perfgate",
					Bucket:   "perf",
					Lookback: 30 * 24 * time.Hour,
				},
			},
		},
		Evaluation: EvaluationConfig{
			PartialMetrics:   "allow",
			MinConfidence:    0.1,
			BatchConcurrency: perfgate.DefaultBatchConcurrency,
		},
		Gate:      perfgate.DefaultGateConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
