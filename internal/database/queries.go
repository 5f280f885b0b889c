// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/models"
)

const baseUserColumns = `u.uuid, u.name, u.registered, u.times_kicked`

// FetchAllBaseUsers lists every player known to the network.
func FetchAllBaseUsers() Query[[]models.BaseUser] {
	return func(ctx context.Context, q Querier) ([]models.BaseUser, error) {
		rows, err := q.QueryContext(ctx, `SELECT `+baseUserColumns+` FROM users u ORDER BY u.registered, u.uuid`)
		if err != nil {
			return nil, fmt.Errorf("query users: %w", err)
		}
		return scanBaseUsers(rows)
	}
}

// FetchServerBaseUsers lists players registered on one node.
func FetchServerBaseUsers(nodeID uuid.UUID) Query[[]models.BaseUser] {
	return func(ctx context.Context, q Querier) ([]models.BaseUser, error) {
		rows, err := q.QueryContext(ctx, `
			SELECT `+baseUserColumns+`
			FROM users u
			JOIN user_info i ON i.uuid = u.uuid
			WHERE i.server_uuid = $1
			ORDER BY u.registered, u.uuid`, nodeID.String())
		if err != nil {
			return nil, fmt.Errorf("query server users: %w", err)
		}
		return scanBaseUsers(rows)
	}
}

// FetchBaseUserOfPlayer returns nil when the player is unknown.
func FetchBaseUserOfPlayer(playerID uuid.UUID) Query[*models.BaseUser] {
	return func(ctx context.Context, q Querier) (*models.BaseUser, error) {
		row := q.QueryRowContext(ctx, `SELECT `+baseUserColumns+` FROM users u WHERE u.uuid = $1`, playerID.String())
		u, err := scanBaseUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("query user: %w", err)
		}
		return &u, nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBaseUser(row rowScanner) (models.BaseUser, error) {
	var (
		u          models.BaseUser
		id         string
		registered int64
	)
	if err := row.Scan(&id, &u.Name, &registered, &u.TimesKicked); err != nil {
		return u, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return u, fmt.Errorf("invalid player uuid %q: %w", id, err)
	}
	u.PlayerID = parsed
	u.Registered = fromMillis(registered)
	return u, nil
}

func scanBaseUsers(rows *sql.Rows) ([]models.BaseUser, error) {
	defer closeWithLog(rows, "user rows")

	users := make([]models.BaseUser, 0)
	for rows.Next() {
		u, err := scanBaseUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const sessionColumns = `id, uuid, server_uuid, session_start, session_end, player_kills, mob_kills, deaths, afk_ms`

// FetchPlayerSessions returns a player's stored sessions, newest first.
func FetchPlayerSessions(playerID uuid.UUID) Query[[]models.Session] {
	return func(ctx context.Context, q Querier) ([]models.Session, error) {
		rows, err := q.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE uuid = $1
			ORDER BY session_start DESC`, playerID.String())
		if err != nil {
			return nil, fmt.Errorf("query player sessions: %w", err)
		}
		sessions, err := scanSessions(rows)
		if err != nil {
			return nil, err
		}
		if err := loadWorldTimes(ctx, q, sessions,
			`SELECT w.session_id, w.world, w.played_ms FROM world_times w
			 JOIN sessions s ON s.id = w.session_id WHERE s.uuid = $1`, playerID.String()); err != nil {
			return nil, err
		}
		return sessions, nil
	}
}

// FetchServerSessions returns sessions held on a node that started at or
// after since, newest first. limit <= 0 means no limit.
func FetchServerSessions(nodeID uuid.UUID, since time.Time, limit int) Query[[]models.Session] {
	return func(ctx context.Context, q Querier) ([]models.Session, error) {
		query := `SELECT ` + sessionColumns + ` FROM sessions
			WHERE server_uuid = $1 AND session_start >= $2
			ORDER BY session_start DESC`
		args := []any{nodeID.String(), toMillis(since)}
		if limit > 0 {
			query += ` LIMIT $3`
			args = append(args, limit)
		}
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query server sessions: %w", err)
		}
		sessions, err := scanSessions(rows)
		if err != nil {
			return nil, err
		}
		if err := loadWorldTimes(ctx, q, sessions,
			`SELECT w.session_id, w.world, w.played_ms FROM world_times w
			 JOIN sessions s ON s.id = w.session_id WHERE s.server_uuid = $1 AND s.session_start >= $2`,
			nodeID.String(), toMillis(since)); err != nil {
			return nil, err
		}
		return sessions, nil
	}
}

func scanSessions(rows *sql.Rows) ([]models.Session, error) {
	defer closeWithLog(rows, "session rows")

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var (
			s                    models.Session
			id, player, node     string
			start, end, afkMilli int64
		)
		if err := rows.Scan(&id, &player, &node, &start, &end,
			&s.PlayerKills, &s.MobKills, &s.Deaths, &afkMilli); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var err error
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", id, err)
		}
		if s.PlayerID, err = uuid.Parse(player); err != nil {
			return nil, fmt.Errorf("invalid player uuid %q: %w", player, err)
		}
		if s.NodeID, err = uuid.Parse(node); err != nil {
			return nil, fmt.Errorf("invalid server uuid %q: %w", node, err)
		}
		s.Start = fromMillis(start)
		s.End = fromMillis(end)
		s.AFK = time.Duration(afkMilli) * time.Millisecond
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func loadWorldTimes(ctx context.Context, q Querier, sessions []models.Session, query string, args ...any) error {
	if len(sessions) == 0 {
		return nil
	}
	index := make(map[string]int, len(sessions))
	for i := range sessions {
		index[sessions[i].ID.String()] = i
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query world times: %w", err)
	}
	defer closeWithLog(rows, "world time rows")

	for rows.Next() {
		var (
			id, world string
			played    int64
		)
		if err := rows.Scan(&id, &world, &played); err != nil {
			return fmt.Errorf("scan world time: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		if sessions[i].WorldTimes == nil {
			sessions[i].WorldTimes = make(map[string]time.Duration)
		}
		sessions[i].WorldTimes[world] = time.Duration(played) * time.Millisecond
	}
	return rows.Err()
}

// PingFilter narrows FetchPingSummary. Zero fields match everything.
type PingFilter struct {
	PlayerID uuid.UUID
	NodeID   uuid.UUID
	Since    time.Time
}

// FetchPingSummary aggregates known latency samples. Samples reported as
// unknown (-1) are not counted.
func FetchPingSummary(f PingFilter) Query[models.PingSummary] {
	return func(ctx context.Context, q Querier) (models.PingSummary, error) {
		where := []string{`latency_ms >= 0`}
		var args []any
		if f.PlayerID != uuid.Nil {
			args = append(args, f.PlayerID.String())
			where = append(where, fmt.Sprintf("uuid = $%d", len(args)))
		}
		if f.NodeID != uuid.Nil {
			args = append(args, f.NodeID.String())
			where = append(where, fmt.Sprintf("server_uuid = $%d", len(args)))
		}
		if !f.Since.IsZero() {
			args = append(args, toMillis(f.Since))
			where = append(where, fmt.Sprintf("sampled_at >= $%d", len(args)))
		}

		var (
			summary models.PingSummary
			minLat  sql.NullInt64
			maxLat  sql.NullInt64
			avgLat  sql.NullFloat64
		)
		err := q.QueryRowContext(ctx, `
			SELECT COUNT(*), MIN(latency_ms), MAX(latency_ms), CAST(AVG(latency_ms) AS DOUBLE PRECISION)
			FROM pings WHERE `+strings.Join(where, " AND "), args...).
			Scan(&summary.Samples, &minLat, &maxLat, &avgLat)
		if err != nil {
			return summary, fmt.Errorf("query ping summary: %w", err)
		}
		summary.Min = int(minLat.Int64)
		summary.Max = int(maxLat.Int64)
		summary.Average = avgLat.Float64
		return summary, nil
	}
}

// FetchPlayerGeoInfo returns every address a player used, most recent first.
func FetchPlayerGeoInfo(playerID uuid.UUID) Query[[]models.GeoInfo] {
	return func(ctx context.Context, q Querier) ([]models.GeoInfo, error) {
		rows, err := q.QueryContext(ctx, `
			SELECT ip, country, last_used FROM geolocations
			WHERE uuid = $1
			ORDER BY last_used DESC, ip`, playerID.String())
		if err != nil {
			return nil, fmt.Errorf("query geolocations: %w", err)
		}
		defer closeWithLog(rows, "geolocation rows")

		infos := make([]models.GeoInfo, 0)
		for rows.Next() {
			var (
				g        models.GeoInfo
				lastUsed int64
			)
			if err := rows.Scan(&g.IP, &g.Country, &lastUsed); err != nil {
				return nil, fmt.Errorf("scan geolocation: %w", err)
			}
			g.LastUsed = fromMillis(lastUsed)
			infos = append(infos, g)
		}
		return infos, rows.Err()
	}
}

// FetchNetworkOverview aggregates network-wide totals. OnlineHere and the
// Generated fields are filled by the caller from in-memory state.
func FetchNetworkOverview() Query[models.NetworkOverview] {
	return func(ctx context.Context, q Querier) (models.NetworkOverview, error) {
		var (
			o        models.NetworkOverview
			playtime int64
		)
		err := q.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM users),
				(SELECT COUNT(*) FROM sessions),
				(SELECT CAST(COALESCE(SUM(session_end - session_start), 0) AS BIGINT) FROM sessions),
				(SELECT COUNT(DISTINCT country) FROM geolocations)`).
			Scan(&o.Players, &o.Sessions, &playtime, &o.Countries)
		if err != nil {
			return o, fmt.Errorf("query network overview: %w", err)
		}
		o.Playtime = time.Duration(playtime) * time.Millisecond
		return o, nil
	}
}
