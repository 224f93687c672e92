// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: 0.0.0.0
  port: 9443
logging:
  level: debug
  format: text
relying_party:
  id: example.com
  display_name: Example
  origins:
    - https://example.com
challenge:
  ttl: 90s
session:
  issuer: example
  ttl: 12h
storage:
  backend: memory
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "example.com", cfg.RelyingParty.ID)
	assert.Equal(t, 90*time.Second, cfg.Challenge.TTL)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
relying_party:
  id: example.com
  origins:
    - https://example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2*time.Minute, cfg.Challenge.TTL)
	assert.Equal(t, time.Minute, cfg.Challenge.CleanupInterval)
	assert.Equal(t, "go-passkey", cfg.Session.Issuer)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMin)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
relying_party:
  id: example.com
  origins:
    - https://example.com
`)

	t.Setenv("PASSKEY_PORT", "7000")
	t.Setenv("PASSKEY_LOG_LEVEL", "warn")
	t.Setenv("PASSKEY_RP_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("PASSKEY_SESSION_KEY", "supersecret")
	t.Setenv("PASSKEY_STORAGE_BACKEND", "postgres")
	t.Setenv("PASSKEY_DATABASE_DSN", "postgres://localhost/passkey")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RelyingParty.Origins)
	assert.Equal(t, "supersecret", cfg.Session.SigningKey)
	assert.Equal(t, StoragePostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/passkey", cfg.Storage.DSN)
}

func TestEnvOverrideInvalidPortIgnored(t *testing.T) {
	path := writeConfigFile(t, `
relying_party:
  id: example.com
  origins:
    - https://example.com
`)

	t.Setenv("PASSKEY_PORT", "not-a-port")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Server.Port)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rp id", func(c *Config) { c.RelyingParty.ID = "" }},
		{"missing origins", func(c *Config) { c.RelyingParty.Origins = nil }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) {
			c.Storage.Backend = StoragePostgres
			c.Storage.DSN = ""
		}},
		{"tls without cert", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.KeyFile = "key.pem"
		}},
		{"tls without key", func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.CertFile = "cert.pem"
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPasskeyConfig(t *testing.T) {
	cfg := Default()
	cfg.RelyingParty.ID = "example.com"
	cfg.RelyingParty.DisplayName = "Example"
	cfg.RelyingParty.Origins = []string{"https://example.com"}
	cfg.Challenge.TTL = 90 * time.Second
	cfg.Logging.Level = "debug"

	pc := cfg.PasskeyConfig()
	assert.Equal(t, "example.com", pc.RPID)
	assert.Equal(t, "Example", pc.RPDisplayName)
	assert.Equal(t, []string{"https://example.com"}, pc.RPOrigins)
	assert.Equal(t, 90*time.Second, pc.ChallengeTTL)
	assert.True(t, pc.Debug)
}
