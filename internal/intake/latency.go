// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package intake

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/models"
)

// LatencyBoard holds the last latency each platform reported per player.
// It is the ping aggregator's view of who is online.
type LatencyBoard struct {
	mu sync.RWMutex
	ms map[uuid.UUID]int
}

// NewLatencyBoard creates an empty board.
func NewLatencyBoard() *LatencyBoard {
	return &LatencyBoard{ms: make(map[uuid.UUID]int)}
}

// Set records a reading for a player marked Online and reports whether it
// did. Readings for unknown players are dropped so a late report cannot
// bring a departed player back.
func (b *LatencyBoard) Set(playerID uuid.UUID, ms int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ms[playerID]; !ok {
		return false
	}
	b.ms[playerID] = ms
	return true
}

// Online marks a player present without overwriting a known reading.
func (b *LatencyBoard) Online(playerID uuid.UUID) {
	b.mu.Lock()
	if _, ok := b.ms[playerID]; !ok {
		b.ms[playerID] = models.UnknownLatency
	}
	b.mu.Unlock()
}

// Remove forgets a player.
func (b *LatencyBoard) Remove(playerID uuid.UUID) {
	b.mu.Lock()
	delete(b.ms, playerID)
	b.mu.Unlock()
}

// Latency implements ping.LatencySource.
func (b *LatencyBoard) Latency(playerID uuid.UUID) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ms, ok := b.ms[playerID]
	return ms, ok
}
