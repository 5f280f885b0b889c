// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/validation"
)

// applyGenerated fills values that are derived rather than defaulted.
func (c *Config) applyGenerated() {
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
}

// Validate checks struct tags first, then cross-field rules.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateGeolocation(); err != nil {
		return err
	}
	if err := c.validateEventBus(); err != nil {
		return err
	}
	if err := c.validateSpool(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required when DATABASE_DRIVER=duckdb")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when DATABASE_DRIVER=postgres")
		}
	}
	if c.Database.MinConns > c.Database.MaxConns && c.Database.MaxConns > 0 {
		return fmt.Errorf("DATABASE_MIN_CONNS (%d) exceeds DATABASE_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

func (c *Config) validateGeolocation() error {
	if !c.Geolocation.Enabled {
		return nil
	}
	if len(c.Geolocation.Providers) == 0 {
		return fmt.Errorf("GEOLOCATION_PROVIDERS must list at least one provider when geolocation is enabled")
	}
	for _, p := range c.Geolocation.Providers {
		if p == "maxmind" && (c.Geolocation.MaxMindAccountID == "" || c.Geolocation.MaxMindLicenseKey == "") {
			return fmt.Errorf("MAXMIND_ACCOUNT_ID and MAXMIND_LICENSE_KEY are required for the maxmind provider")
		}
	}
	return nil
}

func (c *Config) validateEventBus() error {
	if c.EventBus.Backend != "nats" {
		return nil
	}
	if !strings.HasPrefix(c.EventBus.URL, "nats://") && !strings.HasPrefix(c.EventBus.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.EventBus.URL)
	}
	return nil
}

func (c *Config) validateSpool() error {
	if c.Spool.Enabled && c.Spool.Path == "" {
		return fmt.Errorf("SPOOL_PATH is required when the spool is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	return nil
}

// LogConfig converts the loaded settings into a logging.Config.
func (c *Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	return cfg
}
