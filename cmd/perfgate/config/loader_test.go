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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perfgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "allow", cfg.Evaluation.PartialMetrics)
	assert.Equal(t, 0.1, cfg.Evaluation.MinConfidence)
	assert.True(t, cfg.Gate.RequireBaseline)
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "perfgate.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Storage, cfg.Storage)

	err = WriteDefault(path)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  address: ":9000"
storage:
  backend: memory
gate:
  allowed_regressions: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 2, cfg.Gate.AllowedRegressions)
	assert.Equal(t, "profiles", cfg.Sources.ProfilesDir)
}

func TestLoad_Durations(t *testing.T) {
	path := writeFile(t, `
storage:
  baseline_ttl: 48h
server:
  shutdown_timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Storage.BaselineTTL)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: postgres\n"},
		{"badger without path", "storage:\n  backend: badger\n  path: \"\"\n"},
		{"confidence above one", "evaluation:\n  min_confidence: 1.5\n"},
		{"bad policy", "evaluation:\n  partial_metrics: maybe\n"},
		{"negative allowed regressions", "gate:\n  allowed_regressions: -1\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"influx without bucket", "sources:\n  metrics:\n    type: influx\n    influx:\n      bucket: \"\"\n"},
		{"unknown trace exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"auth without tokens", "server:\n  auth:\n    enabled: true\n"},
		{"short api token", "server:\n  auth:\n    enabled: true\n    tokens:\n      - user: ci\n        token: short\n"},
		{"unknown role", "server:\n  auth:\n    tokens:\n      - user: ci\n        token: 0123456789abcdef\n        roles: [root]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unclosed"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Server, cfg.Server)
	})

	t.Run("missing file with strict load", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoad_InfluxTokenFromEnv(t *testing.T) {
	t.Setenv(EnvInfluxToken, "secret-token")
	cfg, err := Load(writeFile(t, "sources:\n  metrics:\n    type: influx\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Sources.Metrics.Influx.Token)
}

func TestLoad_AuthTokens(t *testing.T) {
	cfg, err := Load(writeFile(t, `server:
  audit_log: true
  auth:
    enabled: true
    tokens:
      - user: ci
        token: 0123456789abcdef
        roles: [writer]
`))
	require.NoError(t, err)
	assert.True(t, cfg.Server.AuditLog)
	require.Len(t, cfg.Server.Auth.Tokens, 1)
	assert.Equal(t, APIToken{User: "ci", Token: "0123456789abcdef", Roles: []string{"writer"}}, cfg.Server.Auth.Tokens[0])
}

func TestLoad_APITokenFromEnv(t *testing.T) {
	t.Setenv(EnvAPIToken, "env-token-0123456789")
	cfg, err := Load(writeFile(t, "server:\n  address: \":9000\"\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Server.Auth.Enabled)
	require.Len(t, cfg.Server.Auth.Tokens, 1)
	assert.Equal(t, "env", cfg.Server.Auth.Tokens[0].User)
	assert.Equal(t, []string{"admin"}, cfg.Server.Auth.Tokens[0].Roles)
}
