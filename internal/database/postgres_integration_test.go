// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

//go:build integration

package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/models"
	"github.com/tomtom215/playtrack/internal/testinfra"
)

func setupPostgresDB(t *testing.T, ctx context.Context) (*config.DatabaseConfig, func()) {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	pg, err := testinfra.NewPostgresContainer(ctx)
	require.NoError(t, err)

	cfg := &config.DatabaseConfig{
		Driver:   DriverPostgres,
		DSN:      pg.DSN,
		MaxConns: 4,
	}
	return cfg, func() { testinfra.CleanupContainer(t, ctx, pg) }
}

func TestIntegration_PostgresSharedByNodes(t *testing.T) {
	ctx := context.Background()
	cfg, cleanup := setupPostgresDB(t, ctx)
	defer cleanup()

	// Two nodes starting together must agree on one schema.
	nodes := make([]*DB, 2)
	var wg sync.WaitGroup
	errs := make([]error, len(nodes))
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes[i], errs[i] = New(ctx, cfg)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "node %d", i)
		defer nodes[i].Close()
	}

	version, err := nodes[0].SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, migrations[len(migrations)-1].Version, version)

	player, nodeA, nodeB := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("session written on one node is read on another", func(t *testing.T) {
		s := models.NewSession(player, nodeA, start)
		s.EndAt(start.Add(100 * time.Millisecond))
		require.NoError(t, nodes[0].ExecuteTransaction(ctx, SessionStore{Session: s}))
		require.NoError(t, nodes[0].ExecuteTransaction(ctx, SessionStore{Session: s}))

		got, err := ExecuteQuery(ctx, nodes[1], FetchPlayerSessions(player))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, 100*time.Millisecond, got[0].Length())
	})

	t.Run("register and kick", func(t *testing.T) {
		require.NoError(t, nodes[0].ExecuteTransaction(ctx, PlayerRegister{PlayerID: player, NodeID: nodeA, PlayerName: "Alex", Registered: start}))
		require.NoError(t, nodes[1].ExecuteTransaction(ctx, PlayerRegister{PlayerID: player, NodeID: nodeB, Registered: start}))
		require.NoError(t, nodes[1].ExecuteTransaction(ctx, KickIncrement{PlayerID: player}))

		u, err := ExecuteQuery(ctx, nodes[0], FetchBaseUserOfPlayer(player))
		require.NoError(t, err)
		require.NotNil(t, u)
		require.Equal(t, "Alex", u.Name)
		require.Equal(t, 1, u.TimesKicked)
	})

	t.Run("ping summary", func(t *testing.T) {
		batch := models.PingBatch{PlayerID: player, NodeID: nodeB}
		for i, ms := range []int{10, 20, 30} {
			batch.Samples = append(batch.Samples, models.PingSample{PlayerID: player, Timestamp: start.Add(time.Duration(i) * time.Second), Latency: ms})
		}
		require.NoError(t, nodes[1].ExecuteTransaction(ctx, PingStore{Batch: batch}))

		summary, err := ExecuteQuery(ctx, nodes[0], FetchPingSummary(PingFilter{NodeID: nodeB}))
		require.NoError(t, err)
		require.Equal(t, models.PingSummary{Samples: 3, Min: 10, Max: 30, Average: 20}, summary)
	})

	t.Run("constraint errors are classified", func(t *testing.T) {
		err := nodes[0].ExecuteTransaction(ctx, duplicateInsert{})
		require.Error(t, err)

		var dsErr *DataStoreError
		require.ErrorAs(t, err, &dsErr)
		require.Equal(t, KindConstraint, dsErr.Kind)
		require.False(t, dsErr.IsRetryable())
	})
}

// duplicateInsert writes the same primary key twice without ON CONFLICT.
type duplicateInsert struct{}

func (duplicateInsert) Name() string { return "duplicate_insert" }

func (duplicateInsert) Apply(ctx context.Context, tx Execer) error {
	id := uuid.NewString()
	for i := 0; i < 2; i++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (uuid, name, registered, times_kicked) VALUES ($1, 'dup', 0, 0)`, id); err != nil {
			return err
		}
	}
	return nil
}
