// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package spool

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
	"github.com/tomtom215/playtrack/internal/processing"
)

// Committer is the write path replayed sessions go through.
type Committer interface {
	Commit(ctx context.Context, m processing.Mutation) error
}

// Result summarizes one replay pass.
type Result struct {
	Replayed  int `json:"replayed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// Replayer stores spooled sessions through the committer.
type Replayer struct {
	store       *Store
	commit      Committer
	interval    time.Duration
	maxAttempts int
	logger      zerolog.Logger

	// newBackOff builds the per-entry retry schedule within one pass.
	newBackOff func() backoff.BackOff
	tries      uint
}

// NewReplayer creates a replayer. Entries that fail MaxAttempts passes are
// logged at error level and removed.
func NewReplayer(store *Store, commit Committer, cfg config.SpoolConfig) *Replayer {
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Replayer{
		store:       store,
		commit:      commit,
		interval:    cfg.ReplayInterval,
		maxAttempts: cfg.MaxAttempts,
		logger:      logging.WithComponent("spool"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		tries: 3,
	}
}

// ReplayOnce makes one pass over the spool.
func (r *Replayer) ReplayOnce(ctx context.Context) (Result, error) {
	var res Result

	entries, err := r.store.Pending(ctx)
	if err != nil {
		return res, err
	}
	if len(entries) == 0 {
		return res, nil
	}
	r.logger.Info().Int("pending", len(entries)).Msg("Replaying spooled sessions")

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.Session == nil {
			r.abandon(ctx, e, errors.New("entry has no session"))
			res.Abandoned++
			continue
		}

		err := r.replay(ctx, e)
		switch {
		case err == nil:
			if delErr := r.store.Delete(ctx, e.ID); delErr != nil && !errors.Is(delErr, ErrEntryNotFound) {
				r.logger.Warn().Err(delErr).Str("entry_id", e.ID).Msg("Failed to remove replayed spool entry")
			}
			metrics.SpoolEntries.WithLabelValues("replayed").Inc()
			res.Replayed++
		case e.Attempts+1 >= r.maxAttempts:
			r.abandon(ctx, e, err)
			res.Abandoned++
		default:
			if recErr := r.store.RecordAttempt(ctx, e.ID, err); recErr != nil {
				r.logger.Warn().Err(recErr).Str("entry_id", e.ID).Msg("Failed to record spool attempt")
			}
			metrics.SpoolEntries.WithLabelValues("failed").Inc()
			res.Failed++
		}
	}

	r.logger.Info().
		Int("replayed", res.Replayed).
		Int("failed", res.Failed).
		Int("abandoned", res.Abandoned).
		Msg("Spool replay complete")
	return res, nil
}

func (r *Replayer) replay(ctx context.Context, e *Entry) error {
	s := e.Session
	m := processing.Mutation{
		Tx:       database.SessionStore{Session: s},
		Pages:    cache.SessionPages(s.PlayerID, s.NodeID),
		Severity: processing.SeverityWarn,
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.commit.Commit(ctx, m)
		if err != nil && !database.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.tries))
	return err
}

func (r *Replayer) abandon(ctx context.Context, e *Entry, err error) {
	ev := r.logger.Error().Err(err).Str("entry_id", e.ID).Int("attempts", e.Attempts+1)
	if s := e.Session; s != nil {
		ev = ev.Str("session_id", s.ID.String()).
			Str("player_id", s.PlayerID.String()).
			Str("node_id", s.NodeID.String()).
			Time("start", s.Start).
			Time("end", s.End)
	}
	ev.Msg("Abandoning spooled session")

	if delErr := r.store.Delete(ctx, e.ID); delErr != nil && !errors.Is(delErr, ErrEntryNotFound) {
		r.logger.Warn().Err(delErr).Str("entry_id", e.ID).Msg("Failed to remove abandoned spool entry")
	}
	metrics.SpoolEntries.WithLabelValues("abandoned").Inc()
}

// Serve replays on an interval until ctx is canceled.
func (r *Replayer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReplayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("Spool replay pass failed")
			}
		}
	}
}

func (r *Replayer) String() string { return "spool-replay" }
