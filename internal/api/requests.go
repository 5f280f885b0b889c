// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"time"

	"github.com/google/uuid"
)

// Event request bodies posted by platform adapters. IDs travel as strings
// so a malformed one is reported as a validation failure rather than a
// decode error. At defaults to the time the request is received.

type playerEvent struct {
	PlayerID string     `json:"player_id" validate:"required,uuid"`
	At       *time.Time `json:"at"`
}

type joinRequest struct {
	playerEvent
	NodeID string `json:"node_id" validate:"required,uuid"`
	IP     string `json:"ip" validate:"omitempty,ip"`
}

type switchRequest struct {
	playerEvent
	NodeID string `json:"node_id" validate:"required,uuid"`
}

type registerRequest struct {
	playerEvent
	Name string `json:"name" validate:"required,max=64"`
}

type worldRequest struct {
	playerEvent
	World string `json:"world" validate:"required,max=128"`
}

type killRequest struct {
	playerEvent
	VictimIsPlayer bool `json:"victim_is_player"`
}

type latencyRequest struct {
	playerEvent
	LatencyMS *int `json:"latency_ms" validate:"required,min=-1"`
}

// player returns the parsed player ID. Validation guarantees it parses.
func (e playerEvent) player() uuid.UUID {
	return uuid.MustParse(e.PlayerID)
}

func (e playerEvent) at(now time.Time) time.Time {
	if e.At == nil || e.At.IsZero() {
		return now
	}
	return *e.At
}
