// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package database is the persistent store behind the telemetry caches.
//
// Every read goes through ExecuteQuery and every write is a named Transaction
// executed atomically by ExecuteTransaction. Two backends are supported:
//
//   - duckdb: embedded single-file store, the default for a single game server host
//   - postgres: shared store for a network of nodes, via a pgx pool bridged to database/sql
//
// All SQL is written once with $N placeholders, epoch-millisecond timestamps
// and UUIDs stored as text so both backends accept it unchanged.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// DB owns the shared connection pool.
type DB struct {
	conn   *sql.DB
	pool   *pgxpool.Pool
	cfg    *config.DatabaseConfig
	driver string
}

// New opens the configured backend and brings the schema up to date.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	db := &DB{cfg: cfg, driver: cfg.Driver}
	if db.driver == "" {
		db.driver = DriverDuckDB
	}

	var err error
	switch db.driver {
	case DriverDuckDB:
		db.conn, err = openDuckDB(cfg)
	case DriverPostgres:
		db.conn, db.pool, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db.configureConnectionPool()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.closeConn()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.runMigrations(ctx); err != nil {
		db.closeConn()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logging.Info().
		Str("driver", db.driver).
		Msg("Database ready")
	return db, nil
}

func openDuckDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	// Extensions are never needed, so keep DuckDB off the network.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return conn, nil
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, *pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return stdlib.OpenDBFromPool(pool), pool, nil
}

// configureConnectionPool sets database/sql pool limits. For postgres the
// pgx pool enforces the real limits and database/sql only caches wrappers.
func (db *DB) configureConnectionPool() {
	maxOpen := runtime.NumCPU()
	if db.cfg.MaxConns > 0 {
		maxOpen = int(db.cfg.MaxConns)
	}
	lifetime := time.Hour
	if db.cfg.ConnMaxLifetime > 0 {
		lifetime = db.cfg.ConnMaxLifetime
	}
	idle := 5 * time.Minute
	if db.cfg.ConnMaxIdleTime > 0 {
		idle = db.cfg.ConnMaxIdleTime
	}

	db.conn.SetMaxOpenConns(maxOpen)
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(lifetime)
	db.conn.SetConnMaxIdleTime(idle)
}

// Driver returns the active backend name.
func (db *DB) Driver() string {
	return db.driver
}

// Conn returns the underlying connection pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks if the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Checkpoint flushes the DuckDB WAL into the main file. No-op for postgres.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.driver != DriverDuckDB {
		return nil
	}
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// Close checkpoints (DuckDB) and releases the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Checkpoint(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	cancel()

	err := db.conn.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	db.conn = nil
	return err
}

func (db *DB) closeConn() {
	closeQuietly(db.conn)
	if db.pool != nil {
		db.pool.Close()
	}
}
