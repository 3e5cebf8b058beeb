// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the driftmark daemon.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	LocalState LocalStateConfig `koanf:"local_state"`
	Pairing    PairingConfig    `koanf:"pairing"`
	Identity   IdentityConfig   `koanf:"identity"`
	Views      ViewsConfig      `koanf:"views"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the listen port. Default: 4140
	Port int `koanf:"port"`

	// Timeout bounds request handling. Default: 30s
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed origins. Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs is the per-IP request budget per window. Default: 100
	RateLimitReqs int `koanf:"rate_limit_reqs"`

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig selects and configures the remote shared store.
type StoreConfig struct {
	// Backend is "nats" or "memory". The memory backend holds no state
	// across restarts and exists for development. Default: nats
	Backend string `koanf:"backend"`

	// URL is the NATS server URL. Default: nats://127.0.0.1:4222
	URL string `koanf:"url"`

	// Bucket is the JetStream KV bucket holding session documents.
	// Default: driftmark
	Bucket string `koanf:"bucket"`

	// MaxReconnects caps reconnection attempts; negative means unlimited.
	// Default: -1
	MaxReconnects int `koanf:"max_reconnects"`

	// ReconnectWait is the delay between reconnection attempts. Default: 2s
	ReconnectWait time.Duration `koanf:"reconnect_wait"`

	// BreakerFailures is the consecutive-failure threshold that opens the
	// circuit breaker. Default: 5
	BreakerFailures int `koanf:"breaker_failures"`

	// BreakerOpenTimeout is how long the breaker stays open before probing.
	// Default: 15s
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// LocalStateConfig configures durable local persistence.
type LocalStateConfig struct {
	// Path is the badger database directory. Default: /data/driftmark/state
	Path string `koanf:"path"`
}

// PairingConfig tunes the session lifecycle.
type PairingConfig struct {
	// CreateCooldown rejects repeat session creation within this window.
	// Default: 5s
	CreateCooldown time.Duration `koanf:"create_cooldown"`

	// SessionTTL sets session expiry relative to creation. Default: 24h
	SessionTTL time.Duration `koanf:"session_ttl"`

	// RetentionWindow is the age past which inactive sessions are swept.
	// Default: 24h
	RetentionWindow time.Duration `koanf:"retention_window"`
}

// IdentityConfig configures the device identity credential.
type IdentityConfig struct {
	// SigningKey signs the device credential. Auto-generated and persisted
	// when empty.
	SigningKey string `koanf:"signing_key"`

	// CredentialTTL bounds credential lifetime before re-mint. Default: 1h
	CredentialTTL time.Duration `koanf:"credential_ttl"`
}

// ViewsConfig tunes the derived stream views.
type ViewsConfig struct {
	// SelfHealInterval rate-limits corruption/expiry self-heal cascades so
	// a flapping remote record cannot thrash the role state. Default: 10s
	SelfHealInterval time.Duration `koanf:"self_heal_interval"`

	// LivenessWindow is how recent the primary's position write must be for
	// the primary to count as live. Default: 90s
	LivenessWindow time.Duration `koanf:"liveness_window"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, error, or fatal. Default: info
	Level string `koanf:"level"`

	// Format is json or console. Default: json
	Format string `koanf:"format"`

	// Caller adds file:line to log events. Default: false
	Caller bool `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4140,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Backend:            "nats",
			URL:                "nats://127.0.0.1:4222",
			Bucket:             "driftmark",
			MaxReconnects:      -1,
			ReconnectWait:      2 * time.Second,
			BreakerFailures:    5,
			BreakerOpenTimeout: 15 * time.Second,
		},
		LocalState: LocalStateConfig{
			Path: "/data/driftmark/state",
		},
		Pairing: PairingConfig{
			CreateCooldown:  5 * time.Second,
			SessionTTL:      24 * time.Hour,
			RetentionWindow: 24 * time.Hour,
		},
		Identity: IdentityConfig{
			SigningKey:    "",
			CredentialTTL: time.Hour,
		},
		Views: ViewsConfig{
			SelfHealInterval: 10 * time.Second,
			LivenessWindow:   90 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Timeout <= 0 {
		problems = append(problems, "server.timeout must be positive")
	}

	switch c.Store.Backend {
	case "nats", "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.backend %q unknown (nats or memory)", c.Store.Backend))
	}
	if c.Store.Backend == "nats" && c.Store.URL == "" {
		problems = append(problems, "store.url required for the nats backend")
	}
	if c.Store.Bucket == "" {
		problems = append(problems, "store.bucket must not be empty")
	}
	if c.Store.BreakerFailures < 1 {
		problems = append(problems, "store.breaker_failures must be at least 1")
	}

	if c.LocalState.Path == "" {
		problems = append(problems, "local_state.path must not be empty")
	}

	if c.Pairing.CreateCooldown < 0 {
		problems = append(problems, "pairing.create_cooldown must not be negative")
	}
	if c.Pairing.SessionTTL <= 0 {
		problems = append(problems, "pairing.session_ttl must be positive")
	}
	if c.Pairing.RetentionWindow <= 0 {
		problems = append(problems, "pairing.retention_window must be positive")
	}

	if c.Identity.CredentialTTL <= 0 {
		problems = append(problems, "identity.credential_ttl must be positive")
	}

	if c.Views.SelfHealInterval <= 0 {
		problems = append(problems, "views.self_heal_interval must be positive")
	}
	if c.Views.LivenessWindow <= 0 {
		problems = append(problems, "views.liveness_window must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q unknown", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q unknown", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
