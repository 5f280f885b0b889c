// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/playtrack/internal/models"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/playtrack/config.yaml",
	"/etc/playtrack/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the defaults applied before the file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "",
			Name: "playtrack",
		},
		Database: DatabaseConfig{
			Driver:          "duckdb",
			Path:            "/data/playtrack.duckdb",
			DSN:             "",
			MaxMemory:       "1GB",
			Threads:         0, // 0 = runtime.NumCPU()
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Ping: PingConfig{
			Interval:       2 * time.Second,
			BatchSize:      30,
			MaxLatency:     models.DefaultMaxLatency,
			LoginDelay:     15 * time.Second,
			FlushOnUntrack: true,
		},
		Session: SessionConfig{
			Shards: 32,
		},
		AFK: AFKConfig{
			Enabled:          true,
			Threshold:        3 * time.Minute,
			SweepInterval:    10 * time.Second,
			IgnorePermission: "playtrack.ignore.afk",
		},
		Geolocation: GeolocationConfig{
			Enabled:         true,
			Providers:       []string{"ipapi"},
			IPAPIRatePerMin: 45,
			Timeout:         10 * time.Second,
		},
		Processing: ProcessingConfig{
			Lanes:         16,
			QueueSize:     1024,
			SubmitTimeout: 50 * time.Millisecond,
			TaskTimeout:   30 * time.Second,
			ShutdownGrace: 10 * time.Second,
		},
		Spool: SpoolConfig{
			Enabled:        true,
			Path:           "/data/spool",
			EntryTTL:       30 * 24 * time.Hour,
			ReplayInterval: 5 * time.Minute,
			MaxAttempts:    5,
		},
		EventBus: EventBusConfig{
			Backend: "memory",
			URL:     "nats://127.0.0.1:4222",
			Topic:   "playtrack.pages.invalidated",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8804,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			IntakeRateLimit: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Optional YAML file (CONFIG_PATH, then DefaultConfigPaths)
//  3. Environment variables (highest priority)
func LoadWithKoanf() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return loadFrom(path)
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.applyGenerated()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set via env.
var sliceConfigPaths = []string{
	"geolocation.providers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables return "" and are ignored.
//
// Examples:
//   - NODE_ID -> node.id
//   - DATABASE_DRIVER -> database.driver
//   - PING_BATCH_SIZE -> ping.batch_size
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	mappings := map[string]string{
		// Node
		"node_id":   "node.id",
		"node_name": "node.name",

		// Database
		"database_driver":             "database.driver",
		"duckdb_path":                 "database.path",
		"duckdb_max_memory":           "database.max_memory",
		"duckdb_threads":              "database.threads",
		"database_dsn":                "database.dsn",
		"database_max_conns":          "database.max_conns",
		"database_min_conns":          "database.min_conns",
		"database_conn_max_lifetime":  "database.conn_max_lifetime",
		"database_conn_max_idle_time": "database.conn_max_idle_time",

		// Ping aggregator
		"ping_interval":         "ping.interval",
		"ping_batch_size":       "ping.batch_size",
		"ping_max_latency":      "ping.max_latency",
		"ping_login_delay":      "ping.login_delay",
		"ping_flush_on_untrack": "ping.flush_on_untrack",

		// Session cache
		"session_shards": "session.shards",

		// AFK
		"afk_enabled":           "afk.enabled",
		"afk_threshold":         "afk.threshold",
		"afk_sweep_interval":    "afk.sweep_interval",
		"afk_ignore_permission": "afk.ignore_permission",

		// Geolocation
		"geolocation_enabled":   "geolocation.enabled",
		"geolocation_providers": "geolocation.providers",
		"maxmind_account_id":    "geolocation.maxmind_account_id",
		"maxmind_license_key":   "geolocation.maxmind_license_key",
		"ipapi_rate_per_min":    "geolocation.ipapi_rate_per_min",
		"geolocation_timeout":   "geolocation.timeout",

		// Processing lanes
		"processing_lanes":          "processing.lanes",
		"processing_queue_size":     "processing.queue_size",
		"processing_submit_timeout": "processing.submit_timeout",
		"processing_task_timeout":   "processing.task_timeout",
		"processing_shutdown_grace": "processing.shutdown_grace",

		// Spool
		"spool_enabled":         "spool.enabled",
		"spool_path":            "spool.path",
		"spool_entry_ttl":       "spool.entry_ttl",
		"spool_replay_interval": "spool.replay_interval",
		"spool_max_attempts":    "spool.max_attempts",

		// Event bus
		"eventbus_backend": "eventbus.backend",
		"nats_url":         "eventbus.url",
		"eventbus_topic":   "eventbus.topic",

		// Server
		"http_host":          "server.host",
		"http_port":          "server.port",
		"http_read_timeout":  "server.read_timeout",
		"http_write_timeout": "server.write_timeout",
		"http_shutdown":      "server.shutdown_timeout",
		"intake_rate_limit":  "server.intake_rate_limit",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Supervisor
		"supervisor_failure_threshold": "supervisor.failure_threshold",
		"supervisor_failure_decay":     "supervisor.failure_decay",
		"supervisor_failure_backoff":   "supervisor.failure_backoff",
		"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
	}

	if path, ok := mappings[key]; ok {
		return path
	}
	return ""
}
