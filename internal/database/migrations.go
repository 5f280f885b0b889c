// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/playtrack/internal/logging"
)

// migrationLockID serializes schema changes when several nodes share a
// postgres database and start at the same time.
const migrationLockID = 7_270_001

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Name        string
	Description string
	Statements  []string
}

// migrations lists every schema change in application order. Versions are
// never reused or edited once released.
var migrations = []Migration{
	{
		Version:     1,
		Name:        "players",
		Description: "Network-wide player identities and per-node registrations",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				uuid         VARCHAR(36) PRIMARY KEY,
				name         VARCHAR(36) NOT NULL,
				registered   BIGINT NOT NULL,
				times_kicked INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS user_info (
				uuid        VARCHAR(36) NOT NULL,
				server_uuid VARCHAR(36) NOT NULL,
				registered  BIGINT NOT NULL,
				PRIMARY KEY (uuid, server_uuid)
			)`,
		},
	},
	{
		Version:     2,
		Name:        "sessions",
		Description: "Closed play sessions and per-world play time",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id            VARCHAR(36) PRIMARY KEY,
				uuid          VARCHAR(36) NOT NULL,
				server_uuid   VARCHAR(36) NOT NULL,
				session_start BIGINT NOT NULL,
				session_end   BIGINT NOT NULL,
				player_kills  INTEGER NOT NULL DEFAULT 0,
				mob_kills     INTEGER NOT NULL DEFAULT 0,
				deaths        INTEGER NOT NULL DEFAULT 0,
				afk_ms        BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_uuid ON sessions (uuid)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_server ON sessions (server_uuid, session_start)`,
			`CREATE TABLE IF NOT EXISTS world_times (
				session_id VARCHAR(36) NOT NULL,
				world      VARCHAR(100) NOT NULL,
				played_ms  BIGINT NOT NULL,
				PRIMARY KEY (session_id, world)
			)`,
		},
	},
	{
		Version:     3,
		Name:        "pings",
		Description: "Batched latency samples",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS pings (
				uuid        VARCHAR(36) NOT NULL,
				server_uuid VARCHAR(36) NOT NULL,
				sampled_at  BIGINT NOT NULL,
				latency_ms  INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pings_uuid ON pings (uuid, sampled_at)`,
			`CREATE INDEX IF NOT EXISTS idx_pings_server ON pings (server_uuid, sampled_at)`,
		},
	},
	{
		Version:     4,
		Name:        "geolocations",
		Description: "Resolved countries per player address",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS geolocations (
				uuid      VARCHAR(36) NOT NULL,
				ip        VARCHAR(45) NOT NULL,
				country   VARCHAR(100) NOT NULL,
				last_used BIGINT NOT NULL,
				PRIMARY KEY (uuid, ip)
			)`,
		},
	},
}

// runMigrations applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction together with its record.
func (db *DB) runMigrations(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer closeWithLog(conn, "migration connection")

	if db.driver == DriverPostgres {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
				logging.Warn().Err(err).Msg("Failed to release migration lock")
			}
		}()
	}

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		description VARCHAR(500),
		applied_at  BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	newMigrations := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, conn, m); err != nil {
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
		newMigrations++
	}

	if newMigrations > 0 {
		logging.Info().Int("count", newMigrations).Msg("Applied database migrations")
	}
	return nil
}

func appliedMigrations(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, "migration rows")

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *sql.Conn, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, description, applied_at) VALUES ($1, $2, $3, $4)`,
		m.Version, m.Name, m.Description, time.Now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
