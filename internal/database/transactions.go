// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/models"
)

// SessionStore persists a closed session and its world times. Storing the
// same session twice is a no-op, so spooled writes can be replayed safely.
type SessionStore struct {
	Session *models.Session
}

func (SessionStore) Name() string { return "session_store" }

func (t SessionStore) Apply(ctx context.Context, tx Execer) error {
	s := t.Session
	if s == nil {
		return fmt.Errorf("session is nil")
	}
	if s.IsOpen() {
		return fmt.Errorf("session %s is still open", s.ID)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, uuid, server_uuid, session_start, session_end, player_kills, mob_kills, deaths, afk_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		s.ID.String(), s.PlayerID.String(), s.NodeID.String(),
		toMillis(s.Start), toMillis(s.End),
		s.PlayerKills, s.MobKills, s.Deaths, s.AFK.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	worlds := make([]string, 0, len(s.WorldTimes))
	for w := range s.WorldTimes {
		worlds = append(worlds, w)
	}
	sort.Strings(worlds)
	for _, w := range worlds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO world_times (session_id, world, played_ms) VALUES ($1, $2, $3)
			ON CONFLICT (session_id, world) DO NOTHING`,
			s.ID.String(), w, s.WorldTimes[w].Milliseconds())
		if err != nil {
			return fmt.Errorf("insert world time %q: %w", w, err)
		}
	}
	return nil
}

// PingStore appends one flushed ping batch.
type PingStore struct {
	Batch models.PingBatch
}

func (PingStore) Name() string { return "ping_store" }

func (t PingStore) Apply(ctx context.Context, tx Execer) error {
	for _, p := range t.Batch.Samples {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pings (uuid, server_uuid, sampled_at, latency_ms) VALUES ($1, $2, $3, $4)`,
			t.Batch.PlayerID.String(), t.Batch.NodeID.String(), toMillis(p.Timestamp), p.Latency)
		if err != nil {
			return fmt.Errorf("insert ping: %w", err)
		}
	}
	return nil
}

// PlayerRegister records a player on the network and on a node. An empty
// PlayerName never overwrites a known one.
type PlayerRegister struct {
	PlayerID   uuid.UUID
	NodeID     uuid.UUID
	PlayerName string
	Registered time.Time
}

func (PlayerRegister) Name() string { return "player_register" }

func (t PlayerRegister) Apply(ctx context.Context, tx Execer) error {
	query := `INSERT INTO users (uuid, name, registered, times_kicked) VALUES ($1, $2, $3, 0)
		ON CONFLICT (uuid) DO UPDATE SET name = excluded.name`
	if t.PlayerName == "" {
		query = `INSERT INTO users (uuid, name, registered, times_kicked) VALUES ($1, $2, $3, 0)
			ON CONFLICT (uuid) DO NOTHING`
	}
	if _, err := tx.ExecContext(ctx, query, t.PlayerID.String(), t.PlayerName, toMillis(t.Registered)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_info (uuid, server_uuid, registered) VALUES ($1, $2, $3)
		ON CONFLICT (uuid, server_uuid) DO NOTHING`,
		t.PlayerID.String(), t.NodeID.String(), toMillis(t.Registered))
	if err != nil {
		return fmt.Errorf("insert user info: %w", err)
	}
	return nil
}

// GeoInfoStore records the country an address resolved to for a player.
type GeoInfoStore struct {
	PlayerID uuid.UUID
	Info     models.GeoInfo
}

func (GeoInfoStore) Name() string { return "geo_info_store" }

func (t GeoInfoStore) Apply(ctx context.Context, tx Execer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO geolocations (uuid, ip, country, last_used) VALUES ($1, $2, $3, $4)
		ON CONFLICT (uuid, ip) DO UPDATE SET country = excluded.country, last_used = excluded.last_used`,
		t.PlayerID.String(), t.Info.IP, t.Info.Country, toMillis(t.Info.LastUsed))
	if err != nil {
		return fmt.Errorf("upsert geolocation: %w", err)
	}
	return nil
}

// KickIncrement bumps a player's kick counter.
type KickIncrement struct {
	PlayerID uuid.UUID
}

func (KickIncrement) Name() string { return "kick_increment" }

func (t KickIncrement) Apply(ctx context.Context, tx Execer) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET times_kicked = times_kicked + 1 WHERE uuid = $1`,
		t.PlayerID.String())
	if err != nil {
		return fmt.Errorf("increment kicks: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
