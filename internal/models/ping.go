// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// UnknownLatency is the sentinel a platform reports when it has no reading.
	UnknownLatency = -1

	// DefaultMaxLatency is the sanity ceiling for a latency sample in milliseconds.
	DefaultMaxLatency = 8000
)

// PingSample is one latency reading for a player.
type PingSample struct {
	PlayerID  uuid.UUID `json:"player_id"`
	Timestamp time.Time `json:"timestamp"`
	Latency   int       `json:"latency_ms"`
}

// ValidLatency reports whether ms lies in [UnknownLatency, maxLatency].
func ValidLatency(ms, maxLatency int) bool {
	return ms >= UnknownLatency && ms <= maxLatency
}

// PingBatch is the unit the ping aggregator flushes to the store.
type PingBatch struct {
	PlayerID uuid.UUID    `json:"player_id"`
	NodeID   uuid.UUID    `json:"node_id"`
	Samples  []PingSample `json:"samples"`
}

// PingSummary aggregates persisted samples for a player.
type PingSummary struct {
	Samples int64   `json:"samples"`
	Min     int     `json:"min_ms"`
	Max     int     `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}
