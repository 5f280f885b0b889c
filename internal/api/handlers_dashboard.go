// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/models"
)

// Server pages list sessions from this window, capped at serverSessionLimit.
const (
	serverSessionWindow = 7 * 24 * time.Hour
	serverSessionLimit  = 100
)

var errPlayerNotFound = errors.New("player not found")

// ServerPage is the body of GET /api/v1/servers/{nodeID}.
type ServerPage struct {
	NodeID   uuid.UUID          `json:"node_id"`
	Players  []models.BaseUser  `json:"players"`
	Sessions []models.Session   `json:"sessions"`
	Ping     models.PingSummary `json:"ping"`
}

// PlayerPage is the body of GET /api/v1/players/{playerID}.
type PlayerPage struct {
	Player   models.BaseUser    `json:"player"`
	Sessions []models.Session   `json:"sessions"`
	GeoInfo  []models.GeoInfo   `json:"geo_info"`
	Ping     models.PingSummary `json:"ping"`
}

// servePage answers from the response cache, rendering on a miss.
func (h *Handler) servePage(w http.ResponseWriter, r *http.Request, id cache.PageID, build func(ctx context.Context) (any, error)) {
	body, err := h.pages.Render(id, func() ([]byte, error) {
		data, err := build(r.Context())
		if err != nil {
			return nil, err
		}
		return json.Marshal(APIResponse{
			Success: true,
			Data:    data,
			Meta:    &APIMeta{Timestamp: h.now().UTC()},
		})
	})
	switch {
	case errors.Is(err, errPlayerNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Player not found", nil)
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to render page", err)
	default:
		writeRaw(w, http.StatusOK, body)
	}
}

// Network handles GET /api/v1/network.
func (h *Handler) Network(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, cache.NetworkPage(), func(ctx context.Context) (any, error) {
		overview, err := database.ExecuteQuery(ctx, h.store, database.FetchNetworkOverview())
		if err != nil {
			return nil, fmt.Errorf("network overview: %w", err)
		}
		overview.OnlineHere = h.sessions.Len()
		overview.GeneratedAt = h.now().UTC()
		overview.GeneratedBy = h.node
		return overview, nil
	})
}

// Players handles GET /api/v1/players.
func (h *Handler) Players(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, cache.PlayersPage(), func(ctx context.Context) (any, error) {
		users, err := database.ExecuteQuery(ctx, h.store, database.FetchAllBaseUsers())
		if err != nil {
			return nil, fmt.Errorf("players: %w", err)
		}
		return users, nil
	})
}

// Server handles GET /api/v1/servers/{nodeID}.
func (h *Handler) Server(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "nodeID")
	if !ok {
		return
	}
	h.servePage(w, r, cache.ServerPage(nodeID), func(ctx context.Context) (any, error) {
		page := ServerPage{NodeID: nodeID}
		var err error
		if page.Players, err = database.ExecuteQuery(ctx, h.store, database.FetchServerBaseUsers(nodeID)); err != nil {
			return nil, fmt.Errorf("server players: %w", err)
		}
		since := h.now().Add(-serverSessionWindow)
		if page.Sessions, err = database.ExecuteQuery(ctx, h.store, database.FetchServerSessions(nodeID, since, serverSessionLimit)); err != nil {
			return nil, fmt.Errorf("server sessions: %w", err)
		}
		if page.Ping, err = database.ExecuteQuery(ctx, h.store, database.FetchPingSummary(database.PingFilter{NodeID: nodeID})); err != nil {
			return nil, fmt.Errorf("server ping: %w", err)
		}
		return page, nil
	})
}

// Player handles GET /api/v1/players/{playerID}. Unknown players get a 404
// that is not cached.
func (h *Handler) Player(w http.ResponseWriter, r *http.Request) {
	playerID, ok := pathUUID(w, r, "playerID")
	if !ok {
		return
	}
	h.servePage(w, r, cache.PlayerPage(playerID), func(ctx context.Context) (any, error) {
		user, err := database.ExecuteQuery(ctx, h.store, database.FetchBaseUserOfPlayer(playerID))
		if err != nil {
			return nil, fmt.Errorf("player: %w", err)
		}
		if user == nil {
			return nil, errPlayerNotFound
		}
		page := PlayerPage{Player: *user}
		if page.Sessions, err = database.ExecuteQuery(ctx, h.store, database.FetchPlayerSessions(playerID)); err != nil {
			return nil, fmt.Errorf("player sessions: %w", err)
		}
		if page.GeoInfo, err = database.ExecuteQuery(ctx, h.store, database.FetchPlayerGeoInfo(playerID)); err != nil {
			return nil, fmt.Errorf("player geo info: %w", err)
		}
		if page.Ping, err = database.ExecuteQuery(ctx, h.store, database.FetchPingSummary(database.PingFilter{PlayerID: playerID})); err != nil {
			return nil, fmt.Errorf("player ping: %w", err)
		}
		return page, nil
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil || id == uuid.Nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("Invalid %s", param), nil)
		return uuid.Nil, false
	}
	return id, true
}
