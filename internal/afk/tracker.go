// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package afk measures how long online players sit idle.
//
// A player is AFK once no activity has been seen for the configured
// threshold. The idle stretch is charged to the session when the player acts
// again or leaves. Players holding the ignore permission are never tracked;
// the permission is checked once per player and remembered until they leave.
package afk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
)

// PermissionChecker asks the game platform whether a player holds a
// permission node.
type PermissionChecker interface {
	HasPermission(playerID uuid.UUID, permission string) bool
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(playerID uuid.UUID, permission string) bool

func (f PermissionFunc) HasPermission(playerID uuid.UUID, permission string) bool {
	return f(playerID, permission)
}

type state struct {
	lastActive time.Time
	afk        bool
}

// Tracker keeps the last activity time of every online player.
type Tracker struct {
	threshold  time.Duration
	sweepEvery time.Duration
	permission string
	perms      PermissionChecker
	logger     zerolog.Logger

	mu      sync.Mutex
	players map[uuid.UUID]*state
	ignored map[uuid.UUID]bool

	now func() time.Time
}

// New creates a tracker. perms may be nil, in which case nobody is exempt.
func New(cfg config.AFKConfig, perms PermissionChecker) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &Tracker{
		threshold:  cfg.Threshold,
		sweepEvery: cfg.SweepInterval,
		permission: cfg.IgnorePermission,
		perms:      perms,
		logger:     logging.WithComponent("afk"),
		players:    make(map[uuid.UUID]*state),
		ignored:    make(map[uuid.UUID]bool),
		now:        time.Now,
	}
}

// Join starts tracking a player as active at the given time.
func (t *Tracker) Join(playerID uuid.UUID, at time.Time) {
	if t.isIgnored(playerID) {
		return
	}
	t.mu.Lock()
	t.players[playerID] = &state{lastActive: at}
	t.mu.Unlock()
}

// Activity records that the player acted at the given time and returns the
// idle time to add to their session, zero unless they had been idle for at
// least the threshold.
func (t *Tracker) Activity(playerID uuid.UUID, at time.Time) time.Duration {
	if t.isIgnored(playerID) {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.players[playerID]
	if !ok {
		t.players[playerID] = &state{lastActive: at}
		return 0
	}
	idle := t.idle(s, at)
	if s.afk {
		metrics.AFKTransitions.WithLabelValues("active").Inc()
	}
	s.lastActive = at
	s.afk = false
	return idle
}

// Leave stops tracking the player and returns the idle time to add to the
// closing session.
func (t *Tracker) Leave(playerID uuid.UUID, at time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.ignored, playerID)
	s, ok := t.players[playerID]
	if !ok {
		return 0
	}
	delete(t.players, playerID)
	return t.idle(s, at)
}

// IsAFK reports whether the player has been idle for at least the threshold.
func (t *Tracker) IsAFK(playerID uuid.UUID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.players[playerID]
	return ok && at.Sub(s.lastActive) >= t.threshold
}

// Sweep flags players that crossed the threshold since the last sweep and
// returns how many are AFK now.
func (t *Tracker) Sweep(at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	afk := 0
	for _, s := range t.players {
		if at.Sub(s.lastActive) < t.threshold {
			continue
		}
		afk++
		if !s.afk {
			s.afk = true
			metrics.AFKTransitions.WithLabelValues("afk").Inc()
		}
	}
	return afk
}

// Tracked returns the number of tracked players.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.players)
}

// Serve sweeps on an interval until ctx is canceled.
func (t *Tracker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := t.Sweep(t.now()); n > 0 {
				t.logger.Debug().Int("afk", n).Msg("AFK sweep")
			}
		}
	}
}

func (t *Tracker) String() string { return "afk-tracker" }

// idle must be called with t.mu held.
func (t *Tracker) idle(s *state, at time.Time) time.Duration {
	d := at.Sub(s.lastActive)
	if d < t.threshold {
		return 0
	}
	return d
}

// isIgnored checks the ignore permission at most once per online player.
func (t *Tracker) isIgnored(playerID uuid.UUID) bool {
	if t.perms == nil || t.permission == "" {
		return false
	}

	t.mu.Lock()
	ignored, known := t.ignored[playerID]
	t.mu.Unlock()
	if known {
		return ignored
	}

	ignored = t.perms.HasPermission(playerID, t.permission)
	t.mu.Lock()
	t.ignored[playerID] = ignored
	t.mu.Unlock()
	return ignored
}
