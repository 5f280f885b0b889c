// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package session tracks the currently open play session of every player
// connected to this node.
//
// The cache holds at most one open session per player. Opening a session for
// a player who already has one on another node closes the old one at the new
// start time and hands it back to the caller for persistence, so a
// server switch without a quit never loses or overlaps an interval.
//
// The cache knows nothing about the datastore. Callers persist the sessions
// returned by Open and Close.
package session

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
	"github.com/tomtom215/playtrack/internal/models"
)

// DefaultShards is used when NewCache is given a non-positive shard count.
const DefaultShards = 32

// Cache holds open sessions, sharded by player so unrelated players never
// contend on the same lock.
type Cache struct {
	shards []*shard
}

// NewCache creates a cache with the given number of shards.
func NewCache(shards int) *Cache {
	if shards <= 0 {
		shards = DefaultShards
	}
	c := &Cache{shards: make([]*shard, shards)}
	for i := range c.shards {
		c.shards[i] = newShard()
	}
	return c
}

func (c *Cache) shardFor(playerID uuid.UUID) *shard {
	return c.shards[xxhash.Sum64(playerID[:])%uint64(len(c.shards))]
}

// Open installs a new session for playerID on nodeID.
//
// If the player already has an open session on a different node, that
// session is closed with End = start and returned as previous. A second open
// on the same node is a duplicate event and is ignored: opened is false and
// the existing session stays untouched.
func (c *Cache) Open(playerID, nodeID uuid.UUID, start time.Time) (previous *models.Session, opened bool) {
	s := c.shardFor(playerID)

	s.mu.Lock()
	existing, ok := s.sessions[playerID]
	if ok && existing.NodeID == nodeID {
		s.mu.Unlock()
		metrics.SessionDuplicateOpens.Inc()
		logging.Warn().
			Str("player_id", playerID.String()).
			Str("node_id", nodeID.String()).
			Time("open_since", existing.Start).
			Msg("Ignoring duplicate session open on the same node")
		return nil, false
	}
	if ok {
		existing.EndAt(start)
		previous = existing
	}
	s.sessions[playerID] = models.NewSession(playerID, nodeID, start)
	s.mu.Unlock()

	if previous != nil {
		metrics.SessionsClosed.WithLabelValues("switch").Inc()
	} else {
		metrics.SessionsOpen.Inc()
	}
	return previous, true
}

// Close removes the player's open session and returns it with End set.
// A duplicate quit returns (nil, false).
func (c *Cache) Close(playerID uuid.UUID, end time.Time) (*models.Session, bool) {
	s := c.shardFor(playerID)

	s.mu.Lock()
	existing, ok := s.sessions[playerID]
	if ok {
		delete(s.sessions, playerID)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	existing.EndAt(end)
	metrics.SessionsOpen.Dec()
	metrics.SessionsClosed.WithLabelValues("quit").Inc()
	return existing, true
}

// Attach merges extra into the player's open session. It reports false and
// does nothing when no session is open, so late events never resurrect a
// closed session.
func (c *Cache) Attach(playerID uuid.UUID, extra models.SessionExtra) bool {
	s := c.shardFor(playerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[playerID]
	if !ok {
		return false
	}
	existing.Merge(extra)
	return true
}

// Get returns a copy of the player's open session.
func (c *Cache) Get(playerID uuid.UUID) (*models.Session, bool) {
	s := c.shardFor(playerID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.sessions[playerID]
	if !ok {
		return nil, false
	}
	return existing.Clone(), true
}

// Online reports whether the player has an open session.
func (c *Cache) Online(playerID uuid.UUID) bool {
	s := c.shardFor(playerID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[playerID]
	return ok
}

// Len returns the number of open sessions.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// OnNode returns copies of the sessions open on nodeID.
func (c *Cache) OnNode(nodeID uuid.UUID) []*models.Session {
	var out []*models.Session
	for _, s := range c.shards {
		s.mu.RLock()
		for _, sess := range s.sessions {
			if sess.NodeID == nodeID {
				out = append(out, sess.Clone())
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// CloseAll closes every open session at end and returns them. Used when
// the node shuts down.
func (c *Cache) CloseAll(end time.Time) []*models.Session {
	var closed []*models.Session
	for _, s := range c.shards {
		s.mu.Lock()
		for id, sess := range s.sessions {
			sess.EndAt(end)
			closed = append(closed, sess)
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}

	metrics.SessionsOpen.Sub(float64(len(closed)))
	metrics.SessionsClosed.WithLabelValues("shutdown").Add(float64(len(closed)))
	return closed
}
