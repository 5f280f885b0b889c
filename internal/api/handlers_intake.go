// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/validation"
)

// maxEventBody caps intake request bodies.
const maxEventBody = 16 << 10

// accepted is the body of every intake response. Events are processed
// asynchronously, so acceptance says nothing about persistence.
type accepted struct {
	Event    string    `json:"event"`
	PlayerID uuid.UUID `json:"player_id"`
}

// decodeEvent reads and validates an intake body. It writes the error
// response itself and reports whether the handler should continue.
func decodeEvent[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large", nil)
			return req, false
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", nil)
		return req, false
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr)
		return req, false
	}
	return req, true
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request, event string, playerID uuid.UUID) {
	respondJSON(w, r, http.StatusAccepted, accepted{Event: event, PlayerID: playerID})
}

// EventJoin handles POST /api/v1/events/join.
func (h *Handler) EventJoin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[joinRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnJoin(id, uuid.MustParse(req.NodeID), req.IP, req.at(h.now()))
	h.acknowledge(w, r, "join", id)
}

// EventQuit handles POST /api/v1/events/quit.
func (h *Handler) EventQuit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[playerEvent](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnQuit(id, req.at(h.now()))
	h.acknowledge(w, r, "quit", id)
}

// EventSwitch handles POST /api/v1/events/switch.
func (h *Handler) EventSwitch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[switchRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnServerSwitch(id, uuid.MustParse(req.NodeID), req.at(h.now()))
	h.acknowledge(w, r, "switch", id)
}

// EventRegister handles POST /api/v1/events/register.
func (h *Handler) EventRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[registerRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnRegister(id, req.Name, req.at(h.now()))
	h.acknowledge(w, r, "register", id)
}

// EventKick handles POST /api/v1/events/kick.
func (h *Handler) EventKick(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[playerEvent](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnKick(id, req.at(h.now()))
	h.acknowledge(w, r, "kick", id)
}

// EventActivity handles POST /api/v1/events/activity.
func (h *Handler) EventActivity(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[playerEvent](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnActivity(id, req.at(h.now()))
	h.acknowledge(w, r, "activity", id)
}

// EventWorld handles POST /api/v1/events/world.
func (h *Handler) EventWorld(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[worldRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnWorldChange(id, req.World, req.at(h.now()))
	h.acknowledge(w, r, "world", id)
}

// EventKill handles POST /api/v1/events/kill.
func (h *Handler) EventKill(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[killRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnKill(id, req.VictimIsPlayer)
	h.acknowledge(w, r, "kill", id)
}

// EventDeath handles POST /api/v1/events/death.
func (h *Handler) EventDeath(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[playerEvent](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnDeath(id)
	h.acknowledge(w, r, "death", id)
}

// EventLatency handles POST /api/v1/events/latency.
func (h *Handler) EventLatency(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEvent[latencyRequest](w, r)
	if !ok {
		return
	}
	id := req.player()
	h.intake.OnLatency(id, *req.LatencyMS)
	h.acknowledge(w, r, "latency", id)
}
