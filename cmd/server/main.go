// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Path to a config file. Defaults to the first config.yaml found." type:"path"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)."`
	NodeID   string `help:"Override the configured node UUID." name:"node-id"`
}

var cli struct {
	Globals `embed:""`

	Version     kong.VersionFlag `help:"Print version and exit."`
	Serve       ServeCmd         `cmd:"" default:"1" help:"Run the node (default)."`
	ReplaySpool ReplaySpoolCmd   `cmd:"" name:"replay-spool" help:"Store every spooled session once and exit."`
}

func main() {
	ctx := context.Background()
	kctx := kong.Parse(&cli,
		kong.Name("playtrack"),
		kong.Description("Per-node player activity telemetry for game server networks."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run(&cli.Globals)
	kctx.FatalIfErrorf(err)
}

// load reads the configuration, applies flag overrides and initializes
// logging.
func (g *Globals) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.Config != "" {
		cfg, err = config.LoadFile(g.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if g.NodeID != "" {
		id, err := uuid.Parse(g.NodeID)
		if err != nil || id == uuid.Nil {
			return nil, fmt.Errorf("invalid --node-id %q", g.NodeID)
		}
		cfg.Node.ID = id.String()
	}
	if g.LogLevel != "" {
		if !logging.ValidLevel(g.LogLevel) {
			return nil, fmt.Errorf("invalid --log-level %q", g.LogLevel)
		}
		cfg.Logging.Level = g.LogLevel
	}

	logging.Init(cfg.LogConfig())
	logging.Info().
		Str("version", version).
		Str("node_id", cfg.Node.ID).
		Str("node_name", cfg.Node.Name).
		Str("database", cfg.Database.Driver).
		Str("eventbus", cfg.EventBus.Backend).
		Msg("Configuration loaded")
	return cfg, nil
}
