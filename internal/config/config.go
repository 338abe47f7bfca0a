// Package config defines service configuration structures and loading hooks.
//
// Conventions follow the rest of the tree: defaults come from New, Load
// layers an optional YAML file and SELECT_-prefixed environment variables
// on top, and callers receive a validated copy.
package config

import "time"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file; ":memory:" is accepted for tests.
	DBPath string `koanf:"db_path"`

	// JWTSecret signs bearer tokens. The default is only fit for development.
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTLHours bounds bearer token lifetime.
	TokenTTLHours int `koanf:"token_ttl_hours"`

	// CORSOrigin is the browser client origin allowed on REST and websocket.
	CORSOrigin string `koanf:"cors_origin"`

	// QueueSize bounds the in-memory activity event queue.
	QueueSize int `koanf:"queue_size"`

	// PresencePollSeconds is the staleness sweep cadence.
	PresencePollSeconds int `koanf:"presence_poll_seconds"`

	// PresenceTimeoutSeconds is the heartbeat age after which a user is
	// treated as gone. Must exceed the poll interval.
	PresenceTimeoutSeconds int `koanf:"presence_timeout_seconds"`

	// RecencyWindowSeconds separates "offline (recently active)" from
	// "logged_out" on dashboard reads.
	RecencyWindowSeconds int `koanf:"recency_window_seconds"`

	// HistoryLimit caps per-user evaluation history on the dashboard.
	HistoryLimit int `koanf:"history_limit"`

	// WSReadLimit bounds inbound websocket frame size in bytes.
	WSReadLimit int64 `koanf:"ws_read_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":5000",
		DBPath:                 "select.db",
		JWTSecret:              "select-dev-secret",
		TokenTTLHours:          168, // 7 days
		CORSOrigin:             "http://localhost:3000",
		QueueSize:              4096,
		PresencePollSeconds:    30,
		PresenceTimeoutSeconds: 60,
		RecencyWindowSeconds:   300,
		HistoryLimit:           10,
		WSReadLimit:            8192,
	}
}

// PresencePoll returns the sweep cadence as a duration.
func (c *Config) PresencePoll() time.Duration {
	return time.Duration(c.PresencePollSeconds) * time.Second
}

// PresenceTimeout returns the staleness threshold as a duration.
func (c *Config) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceTimeoutSeconds) * time.Second
}

// RecencyWindow returns the offline/logged_out boundary as a duration.
func (c *Config) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyWindowSeconds) * time.Second
}

// TokenTTL returns the bearer token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
