// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/tomtom215/playtrack/internal/afk"
	"github.com/tomtom215/playtrack/internal/api"
	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/eventbus"
	"github.com/tomtom215/playtrack/internal/geolocation"
	"github.com/tomtom215/playtrack/internal/intake"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/processing"
	"github.com/tomtom215/playtrack/internal/spool"
	"github.com/tomtom215/playtrack/internal/supervisor"
	"github.com/tomtom215/playtrack/internal/supervisor/services"
	"github.com/tomtom215/playtrack/internal/websocket"
)

// node is one fully wired playtrack process.
type node struct {
	cfg *config.Config

	db       *database.DB
	pages    *cache.Cache
	hub      *websocket.Hub
	bus      *eventbus.Bus
	commit   *processing.Committer
	lanes    *processing.Dispatcher
	spool    *spool.Store
	replayer *spool.Replayer
	afk      *afk.Tracker
	intake   *intake.Service
	http     *services.HTTPServerService
}

// newNode opens storage and builds every component. Close releases what
// it opened, including on a partial failure.
func newNode(ctx context.Context, cfg *config.Config) (_ *node, err error) {
	n := &node{cfg: cfg}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	if n.db, err = database.New(ctx, &cfg.Database); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	n.pages = cache.New()
	n.hub = websocket.NewHub()
	if n.bus, err = eventbus.New(cfg.EventBus, cfg.Node.UUID(), n.pages, n.hub); err != nil {
		return nil, fmt.Errorf("open event bus: %w", err)
	}
	n.commit = processing.NewCommitter(n.db, n.pages, n.bus, n.hub)
	n.lanes = processing.NewDispatcher(cfg.Processing)

	deps := intake.Deps{Lanes: n.lanes, Commit: n.commit}

	if cfg.Spool.Enabled {
		if n.spool, err = spool.Open(cfg.Spool); err != nil {
			return nil, fmt.Errorf("open spool: %w", err)
		}
		n.replayer = spool.NewReplayer(n.spool, n.commit, cfg.Spool)
		deps.Spool = n.spool
	} else {
		logging.Warn().Msg("Spool disabled: failed session writes are logged and lost")
	}

	if cfg.Geolocation.Enabled {
		deps.Geo = geolocation.NewCache(geolocation.NewFromConfig(&cfg.Geolocation))
	}
	if cfg.AFK.Enabled {
		n.afk = afk.New(cfg.AFK, nil)
		deps.AFK = n.afk
	}

	n.intake = intake.NewService(cfg, deps)

	handlerDeps := api.HandlerDeps{
		Intake:   n.intake,
		Store:    n.db,
		Pages:    n.pages,
		Clearer:  n.commit,
		Hub:      n.hub,
		Sessions: n.intake.Sessions(),
		NodeID:   cfg.Node.UUID(),
	}
	if n.replayer != nil {
		handlerDeps.Replay = n.replayer
	}
	mw := api.DefaultChiMiddlewareConfig()
	mw.IntakeRequests = cfg.Server.IntakeRateLimit
	router := api.NewRouter(api.NewHandler(handlerDeps), mw)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	n.http = services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout)
	return n, nil
}

// supervise places every long-lived component in its layer.
func (n *node) supervise(tree *supervisor.SupervisorTree) {
	if n.replayer != nil {
		tree.AddDataService(n.replayer)
	}

	tree.AddProcessingService(n.lanes)
	tree.AddProcessingService(n.intake.Pings())
	if n.afk != nil {
		tree.AddProcessingService(n.afk)
	}

	tree.AddMessagingService(n.hub)
	tree.AddMessagingService(n.bus)

	tree.AddAPIService(n.http)
}

// Close releases the bus, the spool and the database. Safe on a partially
// built node.
func (n *node) Close() {
	if n.bus != nil {
		if err := n.bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close event bus")
		}
	}
	if n.spool != nil {
		if err := n.spool.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close spool")
		}
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
