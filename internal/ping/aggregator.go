// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package ping batches per-player latency samples on a node.
//
// Every tick the Aggregator asks a LatencySource for the latency of each
// tracked player and appends accepted samples to that player's buffer. A
// buffer is handed to the flush function exactly when it reaches BatchSize,
// turning BatchSize raw samples into one datastore write.
//
// Players become eligible for sampling LoginDelay after Track, so the
// handshake spike right after joining is never recorded. When a player
// leaves, the partial buffer is flushed (FlushOnUntrack) or dropped.
package ping

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
	"github.com/tomtom215/playtrack/internal/models"
)

// LatencySource reports the current latency of an online player.
// online is false once the platform no longer knows the player.
type LatencySource interface {
	Latency(playerID uuid.UUID) (ms int, online bool)
}

// FlushFunc receives a full or settled buffer. It is called without any
// aggregator lock held and must not block for long.
type FlushFunc func(models.PingBatch)

type pending struct {
	nodeID     uuid.UUID
	eligibleAt time.Time
}

type buffer struct {
	nodeID  uuid.UUID
	samples []models.PingSample
}

// Aggregator owns the ping buffers of one node.
type Aggregator struct {
	cfg    config.PingConfig
	source LatencySource
	flush  FlushFunc
	now    func() time.Time

	trigger chan struct{}

	mu      sync.Mutex
	pending map[uuid.UUID]pending
	buffers map[uuid.UUID]*buffer
}

// New creates an aggregator. Zero config values fall back to the defaults
// of a 2s interval, batches of 30 and a 8000ms latency ceiling.
func New(cfg config.PingConfig, source LatencySource, flush FlushFunc) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 30
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = models.DefaultMaxLatency
	}
	return &Aggregator{
		cfg:     cfg,
		source:  source,
		flush:   flush,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		pending: make(map[uuid.UUID]pending),
		buffers: make(map[uuid.UUID]*buffer),
	}
}

// Track starts sampling playerID on nodeID after the login delay. Tracking a
// player already sampled on another node settles the old buffer first.
func (a *Aggregator) Track(playerID, nodeID uuid.UUID) {
	a.mu.Lock()
	if p, ok := a.pending[playerID]; ok && p.nodeID == nodeID {
		a.mu.Unlock()
		return
	}
	if b, ok := a.buffers[playerID]; ok && b.nodeID == nodeID {
		a.mu.Unlock()
		return
	}
	old := a.removeLocked(playerID)
	a.pending[playerID] = pending{nodeID: nodeID, eligibleAt: a.now().Add(a.cfg.LoginDelay)}
	a.mu.Unlock()

	a.settle(playerID, old)
}

// Untrack stops sampling playerID and settles its partial buffer.
func (a *Aggregator) Untrack(playerID uuid.UUID) {
	a.mu.Lock()
	old := a.removeLocked(playerID)
	a.mu.Unlock()

	a.settle(playerID, old)
}

func (a *Aggregator) removeLocked(playerID uuid.UUID) *buffer {
	delete(a.pending, playerID)
	b, ok := a.buffers[playerID]
	if !ok {
		return nil
	}
	delete(a.buffers, playerID)
	metrics.PingTracked.Set(float64(len(a.buffers)))
	return b
}

// settle applies the untrack policy to a removed buffer.
func (a *Aggregator) settle(playerID uuid.UUID, b *buffer) {
	if b == nil || len(b.samples) == 0 {
		return
	}
	if !a.cfg.FlushOnUntrack {
		metrics.PingBatches.WithLabelValues("dropped").Inc()
		logging.Trace().
			Str("player_id", playerID.String()).
			Int("samples", len(b.samples)).
			Msg("Dropping partial ping buffer")
		return
	}
	metrics.PingBatches.WithLabelValues("untrack").Inc()
	a.flush(models.PingBatch{PlayerID: playerID, NodeID: b.nodeID, Samples: b.samples})
}

// Tick promotes eligible players, samples every tracked player and flushes
// full buffers.
func (a *Aggregator) Tick() {
	now := a.now()

	a.mu.Lock()
	var promote []uuid.UUID
	for id, p := range a.pending {
		if !now.Before(p.eligibleAt) {
			promote = append(promote, id)
		}
	}
	tracked := make([]uuid.UUID, 0, len(a.buffers)+len(promote))
	for id := range a.buffers {
		tracked = append(tracked, id)
	}
	a.mu.Unlock()

	// The source is consulted without the lock held.
	type reading struct {
		id     uuid.UUID
		ms     int
		online bool
	}
	readings := make([]reading, 0, len(tracked)+len(promote))
	for _, id := range append(tracked, promote...) {
		ms, online := a.source.Latency(id)
		readings = append(readings, reading{id: id, ms: ms, online: online})
	}

	var (
		full    []models.PingBatch
		offline []*buffer
		gone    []uuid.UUID
	)

	a.mu.Lock()
	for i, r := range readings {
		isPromotion := i >= len(tracked)
		if isPromotion {
			p, ok := a.pending[r.id]
			if !ok || now.Before(p.eligibleAt) {
				continue
			}
			delete(a.pending, r.id)
			if !r.online {
				continue
			}
			a.buffers[r.id] = &buffer{nodeID: p.nodeID, samples: make([]models.PingSample, 0, a.cfg.BatchSize)}
		}

		b, ok := a.buffers[r.id]
		if !ok {
			continue // untracked meanwhile
		}
		if !r.online {
			delete(a.buffers, r.id)
			offline = append(offline, b)
			gone = append(gone, r.id)
			continue
		}
		if !models.ValidLatency(r.ms, a.cfg.MaxLatency) {
			metrics.PingSamples.WithLabelValues("rejected").Inc()
			continue
		}
		metrics.PingSamples.WithLabelValues("accepted").Inc()
		b.samples = append(b.samples, models.PingSample{PlayerID: r.id, Timestamp: now, Latency: r.ms})
		if len(b.samples) >= a.cfg.BatchSize {
			full = append(full, models.PingBatch{PlayerID: r.id, NodeID: b.nodeID, Samples: b.samples})
			b.samples = make([]models.PingSample, 0, a.cfg.BatchSize)
		}
	}
	metrics.PingTracked.Set(float64(len(a.buffers)))
	a.mu.Unlock()

	for i, b := range offline {
		a.settle(gone[i], b)
	}
	for _, batch := range full {
		metrics.PingBatches.WithLabelValues("threshold").Inc()
		a.flush(batch)
	}
}

// Trigger requests a tick from Serve without blocking. Platforms that drive
// sampling from their own game loop call this instead of relying on the
// interval alone.
func (a *Aggregator) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Tracked returns the number of players being sampled, excluding those still
// inside the login delay.
func (a *Aggregator) Tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

// Buffered returns the number of samples held for playerID.
func (a *Aggregator) Buffered(playerID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[playerID]; ok {
		return len(b.samples)
	}
	return 0
}

// FlushAll hands every non-empty buffer to the flush function and clears
// all state. Used at shutdown.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	buffers := a.buffers
	a.buffers = make(map[uuid.UUID]*buffer)
	a.pending = make(map[uuid.UUID]pending)
	metrics.PingTracked.Set(0)
	a.mu.Unlock()

	for id, b := range buffers {
		if len(b.samples) == 0 {
			continue
		}
		metrics.PingBatches.WithLabelValues("shutdown").Inc()
		a.flush(models.PingBatch{PlayerID: id, NodeID: b.nodeID, Samples: b.samples})
	}
}

// Serve ticks every Interval until ctx is cancelled, then flushes what is
// buffered. It implements suture.Service.
func (a *Aggregator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", a.cfg.Interval).
		Int("batch_size", a.cfg.BatchSize).
		Bool("flush_on_untrack", a.cfg.FlushOnUntrack).
		Msg("Ping aggregator started")

	for {
		select {
		case <-ctx.Done():
			a.FlushAll()
			return ctx.Err()
		case <-ticker.C:
			a.Tick()
		case <-a.trigger:
			a.Tick()
		}
	}
}

// String names the service in supervisor logs.
func (a *Aggregator) String() string {
	return "ping-aggregator"
}
