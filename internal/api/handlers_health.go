// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/websocket"
)

const healthPingTimeout = 2 * time.Second

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status            string      `json:"status"`
	NodeID            uuid.UUID   `json:"node_id"`
	DatabaseConnected bool        `json:"database_connected"`
	OnlinePlayers     int         `json:"online_players"`
	WebSocketClients  int         `json:"websocket_clients"`
	Cache             cache.Stats `json:"cache"`
	Uptime            float64     `json:"uptime_seconds"`
}

// Health handles GET /health. A database that fails to answer a ping
// reports degraded with status 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	dbConnected := h.store != nil && h.store.Ping(ctx) == nil

	health := HealthStatus{
		Status:            "healthy",
		NodeID:            h.node,
		DatabaseConnected: dbConnected,
		OnlinePlayers:     h.sessions.Len(),
		Cache:             h.pages.Stats(),
		Uptime:            time.Since(h.startTime).Seconds(),
	}
	if h.hub != nil {
		health.WebSocketClients = h.hub.ClientCount()
	}

	status := http.StatusOK
	if !dbConnected {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, r, status, health)
}

// ClearCache handles POST /api/v1/admin/cache/clear.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.clearer.InvalidateAll(r.Context())
	logging.Ctx(r.Context()).Info().Msg("Response cache cleared by operator")
	respondJSON(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

// ReplaySpool handles POST /api/v1/admin/spool/replay.
func (h *Handler) ReplaySpool(w http.ResponseWriter, r *http.Request) {
	if h.replay == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Spool is disabled", nil)
		return
	}
	res, err := h.replay.ReplayOnce(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Spool replay failed", err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

// WebSocket handles GET /ws and streams page invalidations to the client.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.hub, conn)
	if !h.hub.Join(client) {
		_ = conn.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseGoingAway, "node stopping"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	client.Start()
}
