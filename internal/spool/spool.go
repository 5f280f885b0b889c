// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package spool keeps closed sessions whose write failed, so an operator (or
// the replay service) can store them later.
//
// Entries live in BadgerDB under "pending:<id>" as JSON. Replaying an entry
// goes through the same SessionStore transaction as a normal quit; that
// transaction ignores sessions it already holds, so an entry may be replayed
// more than once without duplicating rows.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
	"github.com/tomtom215/playtrack/internal/models"
)

const prefixPending = "pending:"

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("spool is closed")

	// ErrNilSession is returned when Put is given no session.
	ErrNilSession = errors.New("session is nil")

	// ErrEntryNotFound is returned for an unknown entry ID.
	ErrEntryNotFound = errors.New("spool entry not found")
)

// Entry is one spooled session.
type Entry struct {
	ID            string          `json:"id"`
	Session       *models.Session `json:"session"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// Store is a Badger-backed spool.
type Store struct {
	db  *badger.DB
	ttl time.Duration

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
}

// Open opens (or creates) the spool at cfg.Path. An empty path keeps the
// spool in memory, which only makes sense in tests.
func Open(cfg config.SpoolConfig) (*Store, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}

	s := &Store{db: db, ttl: cfg.EntryTTL}
	if n, err := s.Len(context.Background()); err == nil {
		metrics.SpoolPending.Set(float64(n))
		if n > 0 {
			logging.Warn().Int("pending", n).Str("path", cfg.Path).Msg("Spool holds sessions from a previous run")
		}
	}
	logging.Info().Str("path", cfg.Path).Dur("entry_ttl", cfg.EntryTTL).Msg("Spool opened")
	return s, nil
}

// Put spools a closed session and returns the entry ID.
func (s *Store) Put(ctx context.Context, session *models.Session) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrNilSession
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Session:   session.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal spool entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(prefixPending+entry.ID), data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		metrics.SpoolEntries.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("write spool entry: %w", err)
	}

	s.written.Add(1)
	metrics.SpoolEntries.WithLabelValues("written").Inc()
	metrics.SpoolPending.Inc()
	return entry.ID, nil
}

// Pending returns every spooled entry, oldest first.
func (s *Store) Pending(ctx context.Context) ([]*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()

			var entry Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable spool entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate spool: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// Len returns the number of spooled entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Delete removes an entry once it has been stored or abandoned.
func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := []byte(prefixPending + id)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	metrics.SpoolPending.Dec()
	return nil
}

// RecordAttempt stores a failed replay attempt on the entry.
func (s *Store) RecordAttempt(_ context.Context, id string, attemptErr error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := []byte(prefixPending + id)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("get spool entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("unmarshal spool entry: %w", err)
		}

		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		if attemptErr != nil {
			entry.LastError = attemptErr.Error()
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal spool entry: %w", err)
		}
		e := badger.NewEntry(key, data)
		if expires := item.ExpiresAt(); expires > 0 {
			e = e.WithTTL(time.Until(time.Unix(int64(expires), 0)))
		}
		return txn.SetEntry(e)
	})
}

// Written returns the number of entries written since Open.
func (s *Store) Written() int64 { return s.written.Load() }

// Close flushes and closes the spool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
