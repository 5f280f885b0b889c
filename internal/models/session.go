// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one continuous interval a player spends on a node.
// End is the zero time while the session is open.
type Session struct {
	ID       uuid.UUID `json:"id"`
	PlayerID uuid.UUID `json:"player_id"`
	NodeID   uuid.UUID `json:"node_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`

	PlayerKills int           `json:"player_kills"`
	MobKills    int           `json:"mob_kills"`
	Deaths      int           `json:"deaths"`
	AFK         time.Duration `json:"afk_ns"`

	// WorldTimes accumulates time spent per world. The world the player is
	// currently in is only added when it is left or the session ends.
	WorldTimes   map[string]time.Duration `json:"world_times,omitempty"`
	CurrentWorld string                   `json:"current_world,omitempty"`
	WorldSince   time.Time                `json:"world_since,omitempty"`
}

// NewSession creates an open session starting at start.
func NewSession(playerID, nodeID uuid.UUID, start time.Time) *Session {
	return &Session{
		ID:       uuid.New(),
		PlayerID: playerID,
		NodeID:   nodeID,
		Start:    start.UTC(),
	}
}

// IsOpen reports whether the session has not been ended.
func (s *Session) IsOpen() bool {
	return s.End.IsZero()
}

// Length returns the session duration. Open sessions report zero.
func (s *Session) Length() time.Duration {
	if s.IsOpen() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// EndAt closes the session. An end before Start is clamped to Start so a
// persisted interval is never negative.
func (s *Session) EndAt(end time.Time) {
	end = end.UTC()
	if end.Before(s.Start) {
		end = s.Start
	}
	s.End = end
	s.settleWorld(end)
}

// Clone returns a deep copy that is safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	if s.WorldTimes != nil {
		c.WorldTimes = make(map[string]time.Duration, len(s.WorldTimes))
		for k, v := range s.WorldTimes {
			c.WorldTimes[k] = v
		}
	}
	return &c
}

// Merge applies extra to the session.
func (s *Session) Merge(extra SessionExtra) {
	s.PlayerKills += extra.PlayerKills
	s.MobKills += extra.MobKills
	s.Deaths += extra.Deaths
	s.AFK += extra.AFK

	if extra.World != "" && extra.World != s.CurrentWorld {
		at := extra.At.UTC()
		if extra.At.IsZero() || at.Before(s.Start) {
			at = s.Start
		}
		s.settleWorld(at)
		s.CurrentWorld = extra.World
		s.WorldSince = at
	}
}

func (s *Session) settleWorld(at time.Time) {
	if s.CurrentWorld == "" {
		return
	}
	if s.WorldTimes == nil {
		s.WorldTimes = make(map[string]time.Duration)
	}
	if d := at.Sub(s.WorldSince); d > 0 {
		s.WorldTimes[s.CurrentWorld] += d
	}
	s.WorldSince = at
}

// SessionExtra is auxiliary data merged into an open session.
// Counters are deltas. World, when set, records a world change at At.
type SessionExtra struct {
	PlayerKills int
	MobKills    int
	Deaths      int
	AFK         time.Duration
	World       string
	At          time.Time
}
