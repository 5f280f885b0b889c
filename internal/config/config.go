// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package config loads and validates Playtrack configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables. The result is validated with struct
// tags (go-playground/validator) and cross-field checks before use.
//
// Configuration Categories:
//
//  1. Node identity: Node
//  2. Storage: Database, Spool
//  3. Aggregation: Ping, Session, AFK, Geolocation, Processing
//  4. Distribution: EventBus
//  5. Surfaces: Server, Logging, Supervisor
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load config")
//	}
package config

import (
	"time"

	"github.com/google/uuid"
)

// Config is the root configuration.
type Config struct {
	Node        NodeConfig        `koanf:"node"`
	Database    DatabaseConfig    `koanf:"database"`
	Ping        PingConfig        `koanf:"ping"`
	Session     SessionConfig     `koanf:"session"`
	AFK         AFKConfig         `koanf:"afk"`
	Geolocation GeolocationConfig `koanf:"geolocation"`
	Processing  ProcessingConfig  `koanf:"processing"`
	Spool       SpoolConfig       `koanf:"spool"`
	EventBus    EventBusConfig    `koanf:"eventbus"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
}

// NodeConfig identifies this node within the network.
type NodeConfig struct {
	// ID is the node UUID. Left empty, one is generated at load time.
	ID   string `koanf:"id" validate:"omitempty,uuid"`
	Name string `koanf:"name" validate:"required"`
}

// UUID returns the parsed node ID. Validate guarantees it parses.
func (n NodeConfig) UUID() uuid.UUID {
	id, err := uuid.Parse(n.ID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// DatabaseConfig selects and tunes the shared store.
type DatabaseConfig struct {
	// Driver is "duckdb" (embedded, single host) or "postgres" (shared by N nodes).
	Driver    string `koanf:"driver" validate:"oneof=duckdb postgres"`
	Path      string `koanf:"path"`
	DSN       string `koanf:"dsn"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`

	MaxConns        int32         `koanf:"max_conns" validate:"gte=0"`
	MinConns        int32         `koanf:"min_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"gte=0"`
}

// PingConfig tunes the ping aggregator.
type PingConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"gt=0"`
	BatchSize  int           `koanf:"batch_size" validate:"min=1"`
	MaxLatency int           `koanf:"max_latency" validate:"min=0"`
	LoginDelay time.Duration `koanf:"login_delay" validate:"gte=0"`

	// FlushOnUntrack flushes a partial buffer when the player leaves instead
	// of dropping it.
	FlushOnUntrack bool `koanf:"flush_on_untrack"`
}

// SessionConfig tunes the session cache.
type SessionConfig struct {
	Shards int `koanf:"shards" validate:"min=1,max=1024"`
}

// AFKConfig tunes the AFK tracker.
type AFKConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Threshold        time.Duration `koanf:"threshold" validate:"gt=0"`
	SweepInterval    time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	IgnorePermission string        `koanf:"ignore_permission"`
}

// GeolocationConfig controls country resolution for joining players.
type GeolocationConfig struct {
	Enabled bool `koanf:"enabled"`

	// Providers are tried in order: "ipapi", "maxmind".
	Providers         []string      `koanf:"providers" validate:"dive,oneof=ipapi maxmind"`
	MaxMindAccountID  string        `koanf:"maxmind_account_id"`
	MaxMindLicenseKey string        `koanf:"maxmind_license_key"`
	IPAPIRatePerMin   int           `koanf:"ipapi_rate_per_min" validate:"min=1"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ProcessingConfig tunes the ordered background lanes.
type ProcessingConfig struct {
	Lanes         int           `koanf:"lanes" validate:"min=1,max=256"`
	QueueSize     int           `koanf:"queue_size" validate:"min=1"`
	SubmitTimeout time.Duration `koanf:"submit_timeout" validate:"gt=0"`
	TaskTimeout   time.Duration `koanf:"task_timeout" validate:"gt=0"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace" validate:"gt=0"`
}

// SpoolConfig controls the failed-write spool.
type SpoolConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Path           string        `koanf:"path"`
	EntryTTL       time.Duration `koanf:"entry_ttl" validate:"gte=0"`
	ReplayInterval time.Duration `koanf:"replay_interval" validate:"gt=0"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1"`
}

// EventBusConfig selects how page invalidations reach other nodes.
type EventBusConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory nats"`
	URL     string `koanf:"url"`
	Topic   string `koanf:"topic" validate:"required"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	IntakeRateLimit int           `koanf:"intake_rate_limit" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config for file/env loading.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Load reads configuration from defaults, an optional file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
