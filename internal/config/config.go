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
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party"`
	Challenge    ChallengeConfig    `yaml:"challenge"`
	Session      SessionConfig      `yaml:"session"`
	Storage      StorageConfig      `yaml:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig controls TLS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RelyingPartyConfig identifies this server to authenticators
type RelyingPartyConfig struct {
	ID               string   `yaml:"id"`
	DisplayName      string   `yaml:"display_name"`
	Origins          []string `yaml:"origins"`
	UserVerification string   `yaml:"user_verification"`
	ResidentKey      string   `yaml:"resident_key"`
}

// ChallengeConfig controls challenge lifetime and housekeeping
type ChallengeConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SessionConfig controls session token minting
type SessionConfig struct {
	// SigningKey signs session JWTs. Empty generates an ephemeral key,
	// invalidating sessions on restart.
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	TTL        time.Duration `yaml:"ttl"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, postgres
	DSN     string `yaml:"dsn"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig controls per-client rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// Storage backend names
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration suitable for local development: memory
// storage, localhost relying party, metrics enabled.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8443},
		RelyingParty: RelyingPartyConfig{
			ID:          "localhost",
			DisplayName: "go-passkey",
			Origins:     []string{"http://localhost:8443"},
		},
		Storage: StorageConfig{Backend: StorageMemory},
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.SetDefaults()
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("PASSKEY_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.RelyingParty.ID = rpID
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		cfg.RelyingParty.Origins = strings.Split(origins, ",")
	}

	// Session signing key is a secret; prefer the environment over the file
	if key := os.Getenv("PASSKEY_SESSION_KEY"); key != "" {
		cfg.Session.SigningKey = key
	}

	// Storage
	if backend := os.Getenv("PASSKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dsn := os.Getenv("PASSKEY_DATABASE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RelyingParty.DisplayName == "" {
		c.RelyingParty.DisplayName = c.RelyingParty.ID
	}
	if c.Challenge.TTL == 0 {
		c.Challenge.TTL = 2 * time.Minute
	}
	if c.Challenge.CleanupInterval == 0 {
		c.Challenge.CleanupInterval = time.Minute
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "go-passkey"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = passkey.DefaultSessionTTL
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.RateLimit.RequestsPerMin == 0 {
		c.RateLimit.RequestsPerMin = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying party id must be specified")
	}
	if len(c.RelyingParty.Origins) == 0 {
		return fmt.Errorf("at least one relying party origin must be specified")
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be %s or %s)",
			c.Storage.Backend, StorageMemory, StoragePostgres)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	return nil
}

// PasskeyConfig converts the relying-party section into the ceremony
// service configuration.
func (c *Config) PasskeyConfig() *passkey.Config {
	return &passkey.Config{
		RPID:                   c.RelyingParty.ID,
		RPDisplayName:          c.RelyingParty.DisplayName,
		RPOrigins:              c.RelyingParty.Origins,
		ChallengeTTL:           c.Challenge.TTL,
		UserVerification:       c.RelyingParty.UserVerification,
		ResidentKeyRequirement: c.RelyingParty.ResidentKey,
		Debug:                  strings.EqualFold(c.Logging.Level, "debug"),
	}
}
