// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package processing runs intake work off the caller's goroutine.
//
// The Dispatcher owns a fixed set of lanes. Every task carries an ordering
// key (the player) and all tasks for one key land on the same lane, where
// they run one at a time in submission order. The Committer is the single
// place where a mutation is written and the pages it touched are invalidated.
package processing

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
)

// TaskFunc is a unit of background work. ctx is bounded by the task timeout
// and tagged with the task's player.
type TaskFunc func(ctx context.Context)

type task struct {
	key  uuid.UUID
	name string
	fn   TaskFunc
	done chan struct{} // barrier marker, fn is nil
}

// Dispatcher fans tasks out to ordered lanes.
type Dispatcher struct {
	cfg    config.ProcessingConfig
	lanes  []chan task
	logger zerolog.Logger

	// gate orders Submit against shutdown: once stopping is set under the
	// write lock no task can enter a lane, so the final drain sees them all.
	gate     sync.RWMutex
	stopping atomic.Bool
	running  atomic.Bool

	graceEnd time.Time // set before quit closes, read by workers after
}

// NewDispatcher creates the lanes. Tasks submitted before Serve starts are
// queued and run once it does.
func NewDispatcher(cfg config.ProcessingConfig) *Dispatcher {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 50 * time.Millisecond
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	lanes := make([]chan task, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan task, cfg.QueueSize)
	}
	return &Dispatcher{
		cfg:    cfg,
		lanes:  lanes,
		logger: logging.WithComponent("dispatcher"),
	}
}

// Submit enqueues fn on the lane owning key. It waits at most the submit
// timeout for room and reports whether the task was accepted. A dropped task
// is counted and logged, never retried.
func (d *Dispatcher) Submit(key uuid.UUID, name string, fn TaskFunc) bool {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.stopping.Load() {
		d.drop(key, name, "shutting down")
		return false
	}

	lane := d.laneFor(key)
	t := task{key: key, name: name, fn: fn}

	select {
	case d.lanes[lane] <- t:
	default:
		timer := time.NewTimer(d.cfg.SubmitTimeout)
		defer timer.Stop()
		select {
		case d.lanes[lane] <- t:
		case <-timer.C:
			d.drop(key, name, "lane full")
			return false
		}
	}

	metrics.LaneTasks.WithLabelValues("submitted").Inc()
	metrics.LaneQueueDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(len(d.lanes[lane])))
	return true
}

// Barrier blocks until every task submitted before the call has run, or ctx
// ends. It requires Serve to be running.
func (d *Dispatcher) Barrier(ctx context.Context) error {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if !d.running.Load() || d.stopping.Load() {
		return fmt.Errorf("dispatcher is not running")
	}

	markers := make([]chan struct{}, len(d.lanes))
	for i, lane := range d.lanes {
		markers[i] = make(chan struct{})
		select {
		case lane <- task{name: "barrier", done: markers[i]}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, m := range markers {
		select {
		case <-m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lanes returns the number of lanes.
func (d *Dispatcher) Lanes() int { return len(d.lanes) }

// Running reports whether Serve is accepting and running tasks.
func (d *Dispatcher) Running() bool { return d.running.Load() && !d.stopping.Load() }

// Pending returns the number of queued tasks across all lanes.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, lane := range d.lanes {
		n += len(lane)
	}
	return n
}

// Serve runs one worker per lane until ctx is canceled, then lets the workers
// drain queued tasks for up to the shutdown grace and discards the rest.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer d.running.Store(false)
	d.stopping.Store(false)

	d.logger.Info().Int("lanes", len(d.lanes)).Int("queue_size", d.cfg.QueueSize).Msg("Dispatcher started")

	quit := make(chan struct{})
	var wg sync.WaitGroup
	for i := range d.lanes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.work(context.WithoutCancel(ctx), quit, i)
		}(i)
	}
	<-ctx.Done()

	d.gate.Lock()
	d.stopping.Store(true)
	d.gate.Unlock()
	d.graceEnd = time.Now().Add(d.cfg.ShutdownGrace)
	close(quit)
	wg.Wait()

	d.logger.Info().Msg("Dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) String() string { return "dispatcher" }

// work runs a lane's tasks in order. Once quit closes no more tasks can be
// submitted and the same goroutine drains the lane. Tasks never see Serve's
// cancellation, only their own timeout.
func (d *Dispatcher) work(ctx context.Context, quit <-chan struct{}, lane int) {
	ch := d.lanes[lane]
	for {
		select {
		case <-quit:
			d.drain(ctx, lane, d.graceEnd)
			return
		default:
		}
		select {
		case <-quit:
			d.drain(ctx, lane, d.graceEnd)
			return
		case t := <-ch:
			d.run(ctx, t)
		}
	}
}

// drain runs what is left on a lane until it is empty or the deadline passes.
func (d *Dispatcher) drain(ctx context.Context, lane int, deadline time.Time) {
	ch := d.lanes[lane]
	for {
		select {
		case t := <-ch:
			if time.Now().After(deadline) {
				d.discard(t, ch)
				return
			}
			d.run(ctx, t)
		default:
			return
		}
	}
}

func (d *Dispatcher) discard(first task, ch chan task) {
	discarded := 0
	for t, ok := first, true; ok; {
		if t.done != nil {
			close(t.done)
		} else {
			discarded++
		}
		select {
		case t = <-ch:
		default:
			ok = false
		}
	}
	if discarded > 0 {
		metrics.LaneTasks.WithLabelValues("discarded").Add(float64(discarded))
		d.logger.Warn().Int("tasks", discarded).Msg("Discarded queued tasks after shutdown grace")
	}
}

// run executes one task and recovers its panic.
func (d *Dispatcher) run(parent context.Context, t task) {
	if t.done != nil {
		close(t.done)
		return
	}

	ctx, cancel := context.WithTimeout(logging.ContextWithPlayer(parent, t.key), d.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				logging.Ctx(ctx).Error().
					Str("task", t.name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Recovered panic in background task")
			}
		}()
		t.fn(ctx)
	}()
	metrics.RecordLaneTask(time.Since(start), panicked)
}

func (d *Dispatcher) drop(key uuid.UUID, name, reason string) {
	metrics.LaneTasks.WithLabelValues("dropped").Inc()
	d.logger.Warn().
		Str("player_id", key.String()).
		Str("task", name).
		Str("reason", reason).
		Msg("Dropped background task")
}

func (d *Dispatcher) laneFor(key uuid.UUID) int {
	return int(xxhash.Sum64(key[:]) % uint64(len(d.lanes)))
}
