// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/models"
)

// testDBSemaphore serializes DuckDB usage across parallel tests. Concurrent
// CGO connections from many tests can hang under CI resource pressure, so
// the slot is held for the whole test and released in t.Cleanup.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Driver:    DriverDuckDB,
		Path:      ":memory:",
		MaxMemory: "512MB",
		Threads:   2,
		MaxConns:  1,
	}

	type result struct {
		db  *DB
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		db, err := New(context.Background(), cfg)
		resultCh <- result{db: db, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("Failed to create test database: %v", r.err)
		}
		t.Cleanup(func() {
			if err := r.db.Close(); err != nil {
				t.Errorf("Failed to close test database: %v", err)
			}
		})
		return r.db
	case <-time.After(120 * time.Second):
		t.Fatal("Timed out creating test database")
		return nil
	}
}

func closedSession(player, node uuid.UUID, start time.Time, length time.Duration) *models.Session {
	s := models.NewSession(player, node, start)
	s.EndAt(start.Add(length))
	return s
}

func TestNewAppliesMigrations(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if want := migrations[len(migrations)-1].Version; version != want {
		t.Errorf("SchemaVersion() = %d, want %d", version, want)
	}

	// A second run must find nothing to apply.
	if err := db.runMigrations(ctx); err != nil {
		t.Fatalf("second runMigrations() error = %v", err)
	}
	var count int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("schema_migrations has %d rows, want %d", count, len(migrations))
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &config.DatabaseConfig{Driver: "sqlite"})
	if err == nil {
		t.Fatal("New() with unknown driver should fail")
	}
}

func TestSessionStore(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	player, node := uuid.New(), uuid.New()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := models.NewSession(player, node, start)
	s.Merge(models.SessionExtra{PlayerKills: 2, MobKills: 5, Deaths: 1, AFK: 30 * time.Second})
	s.Merge(models.SessionExtra{World: "overworld", At: start})
	s.Merge(models.SessionExtra{World: "nether", At: start.Add(10 * time.Minute)})
	s.EndAt(start.Add(25 * time.Minute))

	if err := db.ExecuteTransaction(ctx, SessionStore{Session: s}); err != nil {
		t.Fatalf("ExecuteTransaction(SessionStore) error = %v", err)
	}
	// Replays are idempotent.
	if err := db.ExecuteTransaction(ctx, SessionStore{Session: s}); err != nil {
		t.Fatalf("replayed SessionStore error = %v", err)
	}

	got, err := ExecuteQuery(ctx, db, FetchPlayerSessions(player))
	if err != nil {
		t.Fatalf("FetchPlayerSessions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("FetchPlayerSessions() returned %d sessions, want 1", len(got))
	}

	stored := got[0]
	if stored.ID != s.ID || stored.NodeID != node {
		t.Errorf("stored identity = (%s, %s), want (%s, %s)", stored.ID, stored.NodeID, s.ID, node)
	}
	if !stored.Start.Equal(s.Start) || !stored.End.Equal(s.End) {
		t.Errorf("stored interval = [%v, %v), want [%v, %v)", stored.Start, stored.End, s.Start, s.End)
	}
	if stored.PlayerKills != 2 || stored.MobKills != 5 || stored.Deaths != 1 {
		t.Errorf("stored kills/deaths = %d/%d/%d, want 2/5/1", stored.PlayerKills, stored.MobKills, stored.Deaths)
	}
	if stored.AFK != 30*time.Second {
		t.Errorf("stored AFK = %v, want 30s", stored.AFK)
	}
	if stored.WorldTimes["overworld"] != 10*time.Minute || stored.WorldTimes["nether"] != 15*time.Minute {
		t.Errorf("stored world times = %v", stored.WorldTimes)
	}

	serverSessions, err := ExecuteQuery(ctx, db, FetchServerSessions(node, start.Add(-time.Hour), 10))
	if err != nil {
		t.Fatalf("FetchServerSessions() error = %v", err)
	}
	if len(serverSessions) != 1 {
		t.Errorf("FetchServerSessions() returned %d sessions, want 1", len(serverSessions))
	}

	none, err := ExecuteQuery(ctx, db, FetchServerSessions(node, start.Add(time.Hour), 0))
	if err != nil {
		t.Fatalf("FetchServerSessions(later) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("FetchServerSessions(later) returned %d sessions, want 0", len(none))
	}
}

func TestSessionStoreRejectsOpenSession(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	s := models.NewSession(uuid.New(), uuid.New(), time.Now())
	err := db.ExecuteTransaction(ctx, SessionStore{Session: s})
	if err == nil {
		t.Fatal("storing an open session should fail")
	}

	var dsErr *DataStoreError
	if !errors.As(err, &dsErr) {
		t.Fatalf("error = %T, want *DataStoreError", err)
	}
	if dsErr.Op != "session_store" {
		t.Errorf("Op = %q, want session_store", dsErr.Op)
	}
}

// failingTx writes a row and then fails, so the write must be rolled back.
type failingTx struct {
	player uuid.UUID
}

func (failingTx) Name() string { return "failing" }

func (f failingTx) Apply(ctx context.Context, tx Execer) error {
	if err := (PlayerRegister{PlayerID: f.player, NodeID: uuid.New(), PlayerName: "ghost", Registered: time.Now()}).Apply(ctx, tx); err != nil {
		return err
	}
	return fmt.Errorf("boom")
}

func TestExecuteTransactionRollsBack(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	player := uuid.New()
	if err := db.ExecuteTransaction(ctx, failingTx{player: player}); err == nil {
		t.Fatal("ExecuteTransaction() should return the Apply error")
	}

	u, err := ExecuteQuery(ctx, db, FetchBaseUserOfPlayer(player))
	if err != nil {
		t.Fatalf("FetchBaseUserOfPlayer() error = %v", err)
	}
	if u != nil {
		t.Errorf("rolled back user is visible: %+v", u)
	}
}

func TestPlayerRegisterAndKicks(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	player, nodeA, nodeB := uuid.New(), uuid.New(), uuid.New()
	registered := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	steps := []Transaction{
		PlayerRegister{PlayerID: player, NodeID: nodeA, PlayerName: "Steve", Registered: registered},
		// Joining another node without a known name keeps the stored one.
		PlayerRegister{PlayerID: player, NodeID: nodeB, Registered: registered.Add(time.Hour)},
		KickIncrement{PlayerID: player},
		KickIncrement{PlayerID: player},
		KickIncrement{PlayerID: uuid.New()},
	}
	for _, tx := range steps {
		if err := db.ExecuteTransaction(ctx, tx); err != nil {
			t.Fatalf("ExecuteTransaction(%s) error = %v", tx.Name(), err)
		}
	}

	u, err := ExecuteQuery(ctx, db, FetchBaseUserOfPlayer(player))
	if err != nil {
		t.Fatalf("FetchBaseUserOfPlayer() error = %v", err)
	}
	if u == nil {
		t.Fatal("FetchBaseUserOfPlayer() = nil, want user")
	}
	if u.Name != "Steve" {
		t.Errorf("Name = %q, want Steve", u.Name)
	}
	if !u.Registered.Equal(registered) {
		t.Errorf("Registered = %v, want %v", u.Registered, registered)
	}
	if u.TimesKicked != 2 {
		t.Errorf("TimesKicked = %d, want 2", u.TimesKicked)
	}

	for _, node := range []uuid.UUID{nodeA, nodeB} {
		users, err := ExecuteQuery(ctx, db, FetchServerBaseUsers(node))
		if err != nil {
			t.Fatalf("FetchServerBaseUsers() error = %v", err)
		}
		if len(users) != 1 || users[0].PlayerID != player {
			t.Errorf("FetchServerBaseUsers(%s) = %+v, want [%s]", node, users, player)
		}
	}

	all, err := ExecuteQuery(ctx, db, FetchAllBaseUsers())
	if err != nil {
		t.Fatalf("FetchAllBaseUsers() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("FetchAllBaseUsers() returned %d users, want 1", len(all))
	}
}

func TestPingStoreAndSummary(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	player, node := uuid.New(), uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := models.PingBatch{PlayerID: player, NodeID: node}
	for i, ms := range []int{40, 60, models.UnknownLatency, 80} {
		batch.Samples = append(batch.Samples, models.PingSample{
			PlayerID:  player,
			Timestamp: base.Add(time.Duration(i) * 2 * time.Second),
			Latency:   ms,
		})
	}

	if err := db.ExecuteTransaction(ctx, PingStore{Batch: batch}); err != nil {
		t.Fatalf("ExecuteTransaction(PingStore) error = %v", err)
	}

	tests := []struct {
		name   string
		filter PingFilter
		want   models.PingSummary
	}{
		{"by player", PingFilter{PlayerID: player}, models.PingSummary{Samples: 3, Min: 40, Max: 80, Average: 60}},
		{"by node", PingFilter{NodeID: node}, models.PingSummary{Samples: 3, Min: 40, Max: 80, Average: 60}},
		{"since excludes early samples", PingFilter{NodeID: node, Since: base.Add(3 * time.Second)}, models.PingSummary{Samples: 1, Min: 80, Max: 80, Average: 80}},
		{"unknown player", PingFilter{PlayerID: uuid.New()}, models.PingSummary{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExecuteQuery(ctx, db, FetchPingSummary(tt.filter))
			if err != nil {
				t.Fatalf("FetchPingSummary() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FetchPingSummary() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGeoInfoStoreUpserts(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	player := uuid.New()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writes := []models.GeoInfo{
		{IP: "203.0.113.7", Country: "Unknown", LastUsed: first},
		{IP: "203.0.113.7", Country: "Finland", LastUsed: first.Add(time.Hour)},
		{IP: "198.51.100.2", Country: "Sweden", LastUsed: first.Add(30 * time.Minute)},
	}
	for _, g := range writes {
		if err := db.ExecuteTransaction(ctx, GeoInfoStore{PlayerID: player, Info: g}); err != nil {
			t.Fatalf("ExecuteTransaction(GeoInfoStore) error = %v", err)
		}
	}

	infos, err := ExecuteQuery(ctx, db, FetchPlayerGeoInfo(player))
	if err != nil {
		t.Fatalf("FetchPlayerGeoInfo() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("FetchPlayerGeoInfo() returned %d rows, want 2", len(infos))
	}
	if infos[0].IP != "203.0.113.7" || infos[0].Country != "Finland" {
		t.Errorf("most recent = %+v, want 203.0.113.7 in Finland", infos[0])
	}
}

func TestFetchNetworkOverview(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()

	node := uuid.New()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		player := uuid.New()
		txs := []Transaction{
			PlayerRegister{PlayerID: player, NodeID: node, PlayerName: fmt.Sprintf("p%d", i), Registered: start},
			SessionStore{Session: closedSession(player, node, start, 10*time.Minute)},
			GeoInfoStore{PlayerID: player, Info: models.GeoInfo{IP: fmt.Sprintf("203.0.113.%d", i), Country: []string{"Finland", "Sweden", "Finland"}[i], LastUsed: start}},
		}
		for _, tx := range txs {
			if err := db.ExecuteTransaction(ctx, tx); err != nil {
				t.Fatalf("ExecuteTransaction(%s) error = %v", tx.Name(), err)
			}
		}
	}

	o, err := ExecuteQuery(ctx, db, FetchNetworkOverview())
	if err != nil {
		t.Fatalf("FetchNetworkOverview() error = %v", err)
	}
	if o.Players != 3 || o.Sessions != 3 || o.Countries != 2 {
		t.Errorf("overview = %+v, want 3 players, 3 sessions, 2 countries", o)
	}
	if o.Playtime != 30*time.Minute {
		t.Errorf("Playtime = %v, want 30m", o.Playtime)
	}
}

func TestViewAfterClose(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	// Close early; the cleanup Close is then a no-op.
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := ExecuteQuery(context.Background(), db, FetchAllBaseUsers())
	var dsErr *DataStoreError
	if !errors.As(err, &dsErr) {
		t.Fatalf("error = %v, want *DataStoreError", err)
	}
	if dsErr.Kind != KindConnection || !dsErr.IsRetryable() {
		t.Errorf("Kind = %v retryable=%v, want retryable connection error", dsErr.Kind, dsErr.IsRetryable())
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"duckdb conflict", errors.New("TransactionContext Error: Transaction conflict: cannot update"), KindConflict},
		{"duckdb constraint", errors.New("Constraint Error: Duplicate key \"id: 1\" violates primary key constraint"), KindConstraint},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), KindConnection},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindConnection},
		{"postgres serialization", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, KindConflict},
		{"postgres unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation}), KindConstraint},
		{"postgres shutdown", &pgconn.PgError{Code: pgerrcode.AdminShutdown}, KindConnection},
		{"postgres syntax", &pgconn.PgError{Code: pgerrcode.SyntaxError}, KindUnknown},
		{"plain", errors.New("something else"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataStoreErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
	err := fmt.Errorf("commit: %w", newDataStoreError("ping_store", cause))

	if !IsDataStoreError(err) {
		t.Fatal("IsDataStoreError() = false, want true")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Error("DataStoreError should unwrap to the driver error")
	}

	// Re-wrapping keeps the original classification.
	again := newDataStoreError("outer", err)
	if again.Op != "ping_store" || again.Kind != KindConflict {
		t.Errorf("rewrapped = %+v, want Op=ping_store Kind=conflict", again)
	}

	if !IsRetryable(err) {
		t.Error("IsRetryable() = false for a deadlock")
	}
	if IsRetryable(newDataStoreError("x", &pgconn.PgError{Code: pgerrcode.UniqueViolation})) {
		t.Error("IsRetryable() = true for a constraint violation")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable() = true for a non-datastore error")
	}
}
