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
	"time"

	"github.com/tomtom215/playtrack/internal/metrics"
)

// Querier is the read surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer adds writes to Querier. Transactions receive one bound to a single *sql.Tx.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var errDatabaseClosed = errors.New("database is closed")

// Query is a read-only unit of work producing R.
type Query[R any] func(ctx context.Context, q Querier) (R, error)

// Transaction is a named, atomic set of writes.
type Transaction interface {
	Name() string
	Apply(ctx context.Context, tx Execer) error
}

// Executor runs queries and transactions against a backend.
type Executor interface {
	View(ctx context.Context, fn func(Querier) error) error
	ExecuteTransaction(ctx context.Context, tx Transaction) error
}

// ExecuteQuery runs q against ex and returns its result.
func ExecuteQuery[R any](ctx context.Context, ex Executor, q Query[R]) (R, error) {
	var out R
	err := ex.View(ctx, func(qr Querier) error {
		r, err := q(ctx, qr)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// View runs fn against the pool. DuckDB has no read-only transaction mode,
// so reads are issued directly on pooled connections.
func (db *DB) View(ctx context.Context, fn func(Querier) error) error {
	if db.conn == nil {
		return &DataStoreError{Op: "query", Kind: KindConnection, Err: errDatabaseClosed}
	}
	start := time.Now()
	err := fn(db.conn)
	if err != nil {
		dsErr := newDataStoreError("query", err)
		metrics.RecordDBOperation("query", "view", time.Since(start), dsErr.Kind.String())
		return dsErr
	}
	metrics.RecordDBOperation("query", "view", time.Since(start), "")
	return nil
}

// ExecuteTransaction runs tx inside BEGIN/COMMIT, rolling back on any error.
func (db *DB) ExecuteTransaction(ctx context.Context, tx Transaction) error {
	start := time.Now()
	err := db.runTransaction(ctx, tx)
	if err != nil {
		dsErr := newDataStoreError(tx.Name(), err)
		metrics.RecordDBOperation("transaction", tx.Name(), time.Since(start), dsErr.Kind.String())
		return dsErr
	}
	metrics.RecordDBOperation("transaction", tx.Name(), time.Since(start), "")
	return nil
}

func (db *DB) runTransaction(ctx context.Context, tx Transaction) error {
	if db.conn == nil {
		return errDatabaseClosed
	}

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := tx.Apply(ctx, sqlTx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
