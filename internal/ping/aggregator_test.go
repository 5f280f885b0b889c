// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package ping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/models"
)

// fakeSource serves scripted latencies.
type fakeSource struct {
	mu      sync.Mutex
	latency map[uuid.UUID]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{latency: make(map[uuid.UUID]int)}
}

func (f *fakeSource) set(id uuid.UUID, ms int) {
	f.mu.Lock()
	f.latency[id] = ms
	f.mu.Unlock()
}

func (f *fakeSource) remove(id uuid.UUID) {
	f.mu.Lock()
	delete(f.latency, id)
	f.mu.Unlock()
}

func (f *fakeSource) Latency(id uuid.UUID) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms, ok := f.latency[id]
	return ms, ok
}

// recorder collects flushed batches.
type recorder struct {
	mu      sync.Mutex
	batches []models.PingBatch
}

func (r *recorder) flush(b models.PingBatch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []models.PingBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PingBatch(nil), r.batches...)
}

func testConfig(flushOnUntrack bool) config.PingConfig {
	return config.PingConfig{
		Interval:       time.Hour,
		BatchSize:      30,
		MaxLatency:     8000,
		FlushOnUntrack: flushOnUntrack,
	}
}

func TestFlushExactlyAtBatchSize(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	a := New(testConfig(true), src, rec.flush)
	player, node := uuid.New(), uuid.New()
	src.set(player, 42)
	a.Track(player, node)

	for i := 0; i < 29; i++ {
		a.Tick()
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("flushed %d batches after 29 samples, want 0", n)
	}
	if got := a.Buffered(player); got != 29 {
		t.Fatalf("Buffered() = %d, want 29", got)
	}

	a.Tick()
	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushed %d batches after 30 samples, want 1", len(batches))
	}
	if len(batches[0].Samples) != 30 || batches[0].PlayerID != player || batches[0].NodeID != node {
		t.Errorf("batch = %d samples for %s on %s", len(batches[0].Samples), batches[0].PlayerID, batches[0].NodeID)
	}
	if got := a.Buffered(player); got != 0 {
		t.Errorf("Buffered() after flush = %d, want 0", got)
	}
}

func TestOutOfRangeSamplesRejected(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	cfg := testConfig(true)
	cfg.BatchSize = 3
	a := New(cfg, src, rec.flush)
	player := uuid.New()
	a.Track(player, uuid.New())

	for _, ms := range []int{-2, 8001, 100000, -1, 0, 8000} {
		src.set(player, ms)
		a.Tick()
	}

	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushed %d batches, want 1", len(batches))
	}
	for _, s := range batches[0].Samples {
		if !models.ValidLatency(s.Latency, 8000) {
			t.Errorf("out-of-range sample %d reached the flush function", s.Latency)
		}
	}
	want := []int{-1, 0, 8000}
	for i, s := range batches[0].Samples {
		if s.Latency != want[i] {
			t.Errorf("sample %d = %d, want %d", i, s.Latency, want[i])
		}
	}
}

func TestUntrackPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		flushOnUntrack bool
		wantBatches    int
	}{
		{"flush on untrack issues one batch of 29", true, 1},
		{"drop policy issues nothing", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src, rec := newFakeSource(), &recorder{}
			a := New(testConfig(tt.flushOnUntrack), src, rec.flush)
			player := uuid.New()
			src.set(player, 55)
			a.Track(player, uuid.New())

			for i := 0; i < 29; i++ {
				a.Tick()
			}
			a.Untrack(player)

			batches := rec.snapshot()
			if len(batches) != tt.wantBatches {
				t.Fatalf("flushed %d batches, want %d", len(batches), tt.wantBatches)
			}
			if tt.wantBatches == 1 && len(batches[0].Samples) != 29 {
				t.Errorf("batch has %d samples, want 29", len(batches[0].Samples))
			}
			if a.Tracked() != 0 {
				t.Errorf("Tracked() = %d after Untrack", a.Tracked())
			}
		})
	}
}

func TestAbsentPlayerIsUntracked(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	a := New(testConfig(true), src, rec.flush)
	player := uuid.New()
	src.set(player, 20)
	a.Track(player, uuid.New())

	for i := 0; i < 5; i++ {
		a.Tick()
	}
	src.remove(player)
	a.Tick()

	if a.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0 after player vanished", a.Tracked())
	}
	batches := rec.snapshot()
	if len(batches) != 1 || len(batches[0].Samples) != 5 {
		t.Errorf("batches = %+v, want one batch of 5", batches)
	}
}

func TestLoginDelay(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	cfg := testConfig(true)
	cfg.LoginDelay = 15 * time.Second
	a := New(cfg, src, rec.flush)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	early, leaver := uuid.New(), uuid.New()
	src.set(early, 30)
	src.set(leaver, 30)
	a.Track(early, uuid.New())
	a.Track(leaver, uuid.New())

	a.Tick()
	if a.Tracked() != 0 {
		t.Fatalf("Tracked() = %d inside login delay, want 0", a.Tracked())
	}

	// The leaver disconnects before becoming eligible and is never sampled.
	src.remove(leaver)
	clock = clock.Add(15 * time.Second)
	a.Tick()

	if a.Tracked() != 1 {
		t.Fatalf("Tracked() = %d after delay, want 1", a.Tracked())
	}
	if a.Buffered(early) != 1 || a.Buffered(leaver) != 0 {
		t.Errorf("Buffered = (%d, %d), want (1, 0)", a.Buffered(early), a.Buffered(leaver))
	}
}

func TestRetrackOnOtherNodeSettlesBuffer(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	a := New(testConfig(true), src, rec.flush)
	player, node1, node2 := uuid.New(), uuid.New(), uuid.New()
	src.set(player, 70)

	a.Track(player, node1)
	for i := 0; i < 4; i++ {
		a.Tick()
	}
	a.Track(player, node1) // same node, no effect
	if a.Buffered(player) != 4 {
		t.Fatalf("Buffered() = %d after same-node Track, want 4", a.Buffered(player))
	}

	a.Track(player, node2)
	batches := rec.snapshot()
	if len(batches) != 1 || batches[0].NodeID != node1 || len(batches[0].Samples) != 4 {
		t.Fatalf("batches = %+v, want one node1 batch of 4", batches)
	}

	a.Tick()
	if a.Buffered(player) != 1 {
		t.Errorf("Buffered() on node2 = %d, want 1", a.Buffered(player))
	}
}

func TestServeFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	a := New(testConfig(false), src, rec.flush)
	player := uuid.New()
	src.set(player, 12)
	a.Track(player, uuid.New())
	a.Tick()
	a.Tick()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	a.Trigger()
	deadline := time.Now().Add(5 * time.Second)
	for a.Buffered(player) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	batches := rec.snapshot()
	if len(batches) != 1 || len(batches[0].Samples) != 3 {
		t.Errorf("batches = %+v, want one shutdown batch of 3", batches)
	}
	if a.Tracked() != 0 {
		t.Errorf("Tracked() = %d after shutdown, want 0", a.Tracked())
	}
}

func TestConcurrentTrackAndTick(t *testing.T) {
	t.Parallel()

	src, rec := newFakeSource(), &recorder{}
	cfg := testConfig(true)
	cfg.BatchSize = 5
	a := New(cfg, src, rec.flush)
	node := uuid.New()

	players := make([]uuid.UUID, 50)
	for i := range players {
		players[i] = uuid.New()
		src.set(players[i], i)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, p := range players {
			a.Track(p, node)
		}
		for _, p := range players {
			a.Untrack(p)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			a.Tick()
		}
	}()
	wg.Wait()

	if a.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0", a.Tracked())
	}
	for _, b := range rec.snapshot() {
		if len(b.Samples) == 0 || len(b.Samples) > cfg.BatchSize {
			t.Errorf("batch with %d samples", len(b.Samples))
		}
	}
}
