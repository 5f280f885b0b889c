// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/playtrack/internal/logging"
)

// ErrorKind classifies a datastore failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConflict
	KindConstraint
	KindConnection
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindConstraint:
		return "constraint"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// DataStoreError is returned by ExecuteQuery and ExecuteTransaction.
type DataStoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *DataStoreError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *DataStoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether running the same operation again may succeed.
func (e *DataStoreError) IsRetryable() bool {
	return e.Kind == KindConflict || e.Kind == KindConnection
}

// IsDataStoreError reports whether err wraps a *DataStoreError.
func IsDataStoreError(err error) bool {
	var dsErr *DataStoreError
	return errors.As(err, &dsErr)
}

// IsRetryable reports whether err wraps a retryable *DataStoreError.
func IsRetryable(err error) bool {
	var dsErr *DataStoreError
	return errors.As(err, &dsErr) && dsErr.IsRetryable()
}

func newDataStoreError(op string, err error) *DataStoreError {
	var dsErr *DataStoreError
	if errors.As(err, &dsErr) {
		return dsErr
	}
	return &DataStoreError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.SerializationFailure, pgErr.Code == pgerrcode.DeadlockDetected:
			return KindConflict
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code):
			return KindConstraint
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return KindConnection
		}
		return KindUnknown
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, driver.ErrBadConn),
		isConnectionError(err):
		return KindConnection
	case isTransactionConflict(err):
		return KindConflict
	case isConstraintViolation(err):
		return KindConstraint
	}
	return KindUnknown
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

func isConstraintViolation(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "Constraint Error") ||
		strings.Contains(errStr, "violates primary key constraint") ||
		strings.Contains(errStr, "violates unique constraint") ||
		strings.Contains(errStr, "NOT NULL constraint failed")
}

// isConnectionError checks if an error indicates database connection loss
func isConnectionError(err error) bool {
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "bad connection") ||
		strings.Contains(errMsg, "database is closed")
}

// closeWithLog closes a resource and logs failures.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource during error cleanup, ignoring the result.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
