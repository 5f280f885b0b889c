// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseUser is the registration record of a player across the network.
type BaseUser struct {
	PlayerID    uuid.UUID `json:"player_id"`
	Name        string    `json:"name"`
	Registered  time.Time `json:"registered"`
	TimesKicked int       `json:"times_kicked"`
}

// GeoInfo is a country resolved for one of a player's IP addresses.
type GeoInfo struct {
	IP       string    `json:"ip"`
	Country  string    `json:"country"`
	LastUsed time.Time `json:"last_used"`
}

// NetworkOverview backs the network dashboard page.
type NetworkOverview struct {
	Players     int64         `json:"players"`
	Sessions    int64         `json:"sessions"`
	Playtime    time.Duration `json:"playtime_ns"`
	Countries   int64         `json:"countries"`
	OnlineHere  int           `json:"online_on_node"`
	GeneratedAt time.Time     `json:"generated_at"`
	GeneratedBy uuid.UUID     `json:"generated_by"`
}
