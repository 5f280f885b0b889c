// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"context"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/intake"
	"github.com/tomtom215/playtrack/internal/session"
	"github.com/tomtom215/playtrack/internal/spool"
	"github.com/tomtom215/playtrack/internal/websocket"
)

// Store is the database surface the handlers read from.
type Store interface {
	database.Executor
	Ping(ctx context.Context) error
}

// CacheClearer drops every cached page on this node and its peers.
type CacheClearer interface {
	InvalidateAll(ctx context.Context)
}

// SpoolReplayer retries spooled sessions on demand.
type SpoolReplayer interface {
	ReplayOnce(ctx context.Context) (spool.Result, error)
}

// HandlerDeps are the collaborators of a Handler. Replay and Hub may be nil.
type HandlerDeps struct {
	Intake   intake.Intake
	Store    Store
	Pages    *cache.Cache
	Clearer  CacheClearer
	Replay   SpoolReplayer
	Hub      *websocket.Hub
	Sessions *session.Cache
	NodeID   uuid.UUID
}

// Handler serves the intake, dashboard and operations endpoints.
type Handler struct {
	intake   intake.Intake
	store    Store
	pages    *cache.Cache
	clearer  CacheClearer
	replay   SpoolReplayer
	hub      *websocket.Hub
	sessions *session.Cache
	node     uuid.UUID

	startTime time.Time
	upgrader  gorillaws.Upgrader
	now       func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		intake:    deps.Intake,
		store:     deps.Store,
		pages:     deps.Pages,
		clearer:   deps.Clearer,
		replay:    deps.Replay,
		hub:       deps.Hub,
		sessions:  deps.Sessions,
		node:      deps.NodeID,
		startTime: time.Now(),
		// A nil CheckOrigin rejects cross-origin upgrades.
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		now: time.Now,
	}
}
