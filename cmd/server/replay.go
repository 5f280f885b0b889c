// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/eventbus"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/processing"
	"github.com/tomtom215/playtrack/internal/spool"
)

// ReplaySpoolCmd stores spooled sessions once, for operators recovering a
// node whose database was unavailable. The node itself must be stopped:
// badger allows a single process per spool directory.
type ReplaySpoolCmd struct{}

// Run performs one replay pass. Stored sessions are announced on the
// invalidation bus so running peers drop their stale pages.
func (c *ReplaySpoolCmd) Run(g *Globals, ctx context.Context) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if !cfg.Spool.Enabled {
		return errors.New("spool is disabled in the configuration")
	}

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := spool.Open(cfg.Spool)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer store.Close()

	pages := cache.New()
	bus, err := eventbus.New(cfg.EventBus, cfg.Node.UUID(), pages, nil)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer bus.Close()

	replayer := spool.NewReplayer(store, processing.NewCommitter(db, pages, bus, nil), cfg.Spool)
	res, err := replayer.ReplayOnce(ctx)
	if err != nil {
		return fmt.Errorf("replay spool: %w", err)
	}

	left, err := store.Len(ctx)
	if err != nil {
		return fmt.Errorf("count spool: %w", err)
	}
	logging.Info().
		Int("replayed", res.Replayed).
		Int("failed", res.Failed).
		Int("abandoned", res.Abandoned).
		Int("remaining", left).
		Msg("Spool replay finished")
	if res.Failed > 0 {
		return fmt.Errorf("%d spooled sessions could not be stored", res.Failed)
	}
	return nil
}
