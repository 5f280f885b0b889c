// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package processing

import (
	"context"
	"errors"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/logging"
)

// Publisher forwards invalidations to the other nodes of the network.
type Publisher interface {
	PublishInvalidation(ctx context.Context, pages []cache.PageID, all bool) error
}

// Broadcaster pushes invalidations to connected dashboards.
type Broadcaster interface {
	BroadcastInvalidation(pages []cache.PageID, all bool)
}

// Severity selects the log level of a failed commit.
type Severity int

const (
	// SeverityWarn is for writes whose loss is tolerable (pings, kicks).
	SeverityWarn Severity = iota
	// SeverityError is for writes that must reach an operator (sessions).
	SeverityError
)

// Mutation is one write plus the pages it makes stale.
type Mutation struct {
	Tx       database.Transaction
	Pages    []cache.PageID
	Severity Severity

	// Fallback runs after a failed commit has been logged.
	Fallback func(ctx context.Context, err error)
}

// Committer applies mutations and invalidates the pages they touched, in
// that order, so a page is never dropped before the write it reflects is
// visible.
type Committer struct {
	db    database.Executor
	pages cache.Invalidator
	bus   Publisher
	push  Broadcaster
}

// NewCommitter wires the chokepoint. bus and push may be nil.
func NewCommitter(db database.Executor, pages cache.Invalidator, bus Publisher, push Broadcaster) *Committer {
	return &Committer{
		db:    db,
		pages: pages,
		bus:   bus,
		push:  push,
	}
}

// Commit executes m.Tx. On success the pages are invalidated locally, then on
// the other nodes, then on dashboards. On failure the error is logged at
// m.Severity, m.Fallback runs and the error is returned.
func (c *Committer) Commit(ctx context.Context, m Mutation) error {
	if err := c.db.ExecuteTransaction(ctx, m.Tx); err != nil {
		c.logFailure(ctx, m, err)
		if m.Fallback != nil {
			m.Fallback(ctx, err)
		}
		return err
	}

	if len(m.Pages) == 0 {
		return nil
	}
	c.pages.Invalidate(m.Pages...)
	c.fanOut(ctx, m.Pages, false)
	return nil
}

// Invalidate drops pages whose content changed without a database write,
// such as the online count after a session opens. It fans out like Commit.
func (c *Committer) Invalidate(ctx context.Context, pages ...cache.PageID) {
	if len(pages) == 0 {
		return
	}
	c.pages.Invalidate(pages...)
	c.fanOut(ctx, pages, false)
}

// InvalidateAll clears every page on this node and asks the others to do the
// same.
func (c *Committer) InvalidateAll(ctx context.Context) {
	c.pages.InvalidateAll()
	c.fanOut(ctx, nil, true)
}

func (c *Committer) fanOut(ctx context.Context, pages []cache.PageID, all bool) {
	if c.bus != nil {
		if err := c.bus.PublishInvalidation(ctx, pages, all); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int("pages", len(pages)).Bool("all", all).
				Msg("Failed to publish invalidation to other nodes")
		}
	}
	if c.push != nil {
		c.push.BroadcastInvalidation(pages, all)
	}
}

func (c *Committer) logFailure(ctx context.Context, m Mutation, err error) {
	ev := logging.Ctx(ctx).Warn()
	if m.Severity == SeverityError {
		ev = logging.Ctx(ctx).Error()
	}

	var dsErr *database.DataStoreError
	if errors.As(err, &dsErr) {
		ev = ev.Str("error_kind", dsErr.Kind.String()).Bool("retryable", dsErr.IsRetryable())
	}
	ev.Err(err).Str("transaction", m.Tx.Name()).Msg("Transaction failed")
}
