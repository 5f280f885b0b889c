// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package intake is the boundary between a game platform and the node's
// telemetry state.
//
// Platform adapters translate their native callbacks into Intake calls.
// Every call returns immediately: the work is queued on the player's
// processing lane, so one player's events apply in the order they arrived
// while different players proceed in parallel. Nothing is reported back to
// the caller; failures are logged, counted and, for sessions, spooled.
package intake

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/playtrack/internal/afk"
	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/database"
	"github.com/tomtom215/playtrack/internal/geolocation"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
	"github.com/tomtom215/playtrack/internal/models"
	"github.com/tomtom215/playtrack/internal/ping"
	"github.com/tomtom215/playtrack/internal/processing"
	"github.com/tomtom215/playtrack/internal/session"
)

// Intake is what a platform adapter calls. Implementations must not block.
type Intake interface {
	OnJoin(playerID, nodeID uuid.UUID, ip string, at time.Time)
	OnQuit(playerID uuid.UUID, at time.Time)
	OnServerSwitch(playerID, nodeID uuid.UUID, at time.Time)
	OnTick()

	OnRegister(playerID uuid.UUID, name string, at time.Time)
	OnKick(playerID uuid.UUID, at time.Time)
	OnActivity(playerID uuid.UUID, at time.Time)
	OnWorldChange(playerID uuid.UUID, world string, at time.Time)
	OnKill(playerID uuid.UUID, victimIsPlayer bool)
	OnDeath(playerID uuid.UUID)
	OnLatency(playerID uuid.UUID, ms int)
}

// Committer is the write path. Invalidate covers state changes that have
// no write of their own.
type Committer interface {
	Commit(ctx context.Context, m processing.Mutation) error
	Invalidate(ctx context.Context, pages ...cache.PageID)
}

// Spooler keeps sessions whose write failed.
type Spooler interface {
	Put(ctx context.Context, s *models.Session) (string, error)
}

var errLaneUnavailable = errors.New("processing lane unavailable")

// Deps are the collaborators of a Service. Geo, AFK and Spool may be nil.
type Deps struct {
	Lanes  *processing.Dispatcher
	Commit Committer
	Geo    *geolocation.Cache
	AFK    *afk.Tracker
	Spool  Spooler
}

// Service implements Intake for one node.
type Service struct {
	node     uuid.UUID
	sessions *session.Cache
	latency  *LatencyBoard
	pings    *ping.Aggregator

	lanes  *processing.Dispatcher
	commit Committer
	geo    *geolocation.Cache
	afk    *afk.Tracker
	spool  Spooler

	closing atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
}

var _ Intake = (*Service)(nil)

// NewService builds the node's intake. The returned service owns its ping
// aggregator; run Pings().Serve under the supervisor.
func NewService(cfg *config.Config, deps Deps) *Service {
	s := &Service{
		node:     cfg.Node.UUID(),
		sessions: session.NewCache(cfg.Session.Shards),
		latency:  NewLatencyBoard(),
		lanes:    deps.Lanes,
		commit:   deps.Commit,
		geo:      deps.Geo,
		afk:      deps.AFK,
		spool:    deps.Spool,
		now:      time.Now,
		logger:   logging.WithComponent("intake"),
	}
	s.pings = ping.New(cfg.Ping, s.latency, s.flushPings)
	return s
}

// Sessions exposes the session cache for read-only dashboard use.
func (s *Service) Sessions() *session.Cache { return s.sessions }

// Pings returns the aggregator so it can be supervised.
func (s *Service) Pings() *ping.Aggregator { return s.pings }

// NodeID returns the node this service reports for.
func (s *Service) NodeID() uuid.UUID { return s.node }

// OnJoin opens a session, starts ping sampling and records the player's
// country.
func (s *Service) OnJoin(playerID, nodeID uuid.UUID, ip string, at time.Time) {
	if !s.valid("join", playerID, nodeID) {
		return
	}
	s.submit("join", playerID, func(ctx context.Context) {
		s.open(ctx, playerID, nodeID, at)
		s.register(ctx, playerID, nodeID, "", at)
		s.locate(ctx, playerID, ip, at)
	})
}

// OnServerSwitch moves the player's session to nodeID at the given time.
func (s *Service) OnServerSwitch(playerID, nodeID uuid.UUID, at time.Time) {
	if !s.valid("switch", playerID, nodeID) {
		return
	}
	s.submit("switch", playerID, func(ctx context.Context) {
		s.open(ctx, playerID, nodeID, at)
		s.register(ctx, playerID, nodeID, "", at)
	})
}

// OnQuit closes and stores the player's session.
func (s *Service) OnQuit(playerID uuid.UUID, at time.Time) {
	if !s.valid("quit", playerID) {
		return
	}
	s.submit("quit", playerID, func(ctx context.Context) {
		s.chargeIdle(playerID, at)
		s.pings.Untrack(playerID)
		s.latency.Remove(playerID)

		closed, ok := s.sessions.Close(playerID, at)
		if !ok {
			logging.Ctx(ctx).Debug().Msg("Quit without an open session")
			return
		}
		s.persist(ctx, closed)
	})
}

// OnTick asks the ping aggregator to sample now.
func (s *Service) OnTick() {
	if s.closing.Load() {
		return
	}
	s.pings.Trigger()
}

// OnRegister records a player's name on the node they are on.
func (s *Service) OnRegister(playerID uuid.UUID, name string, at time.Time) {
	if !s.valid("register", playerID) {
		return
	}
	s.submit("register", playerID, func(ctx context.Context) {
		nodeID := s.node
		if open, ok := s.sessions.Get(playerID); ok {
			nodeID = open.NodeID
		}
		s.register(ctx, playerID, nodeID, name, at)
	})
}

// OnKick counts a kick against the player.
func (s *Service) OnKick(playerID uuid.UUID, _ time.Time) {
	if !s.valid("kick", playerID) {
		return
	}
	s.submit("kick", playerID, func(ctx context.Context) {
		s.apply(ctx, processing.Mutation{
			Tx:       database.KickIncrement{PlayerID: playerID},
			Pages:    []cache.PageID{cache.PlayerPage(playerID), cache.PlayersPage()},
			Severity: processing.SeverityWarn,
		})
	})
}

// OnActivity resets the player's idle timer. Idle time past the AFK
// threshold is added to the open session.
func (s *Service) OnActivity(playerID uuid.UUID, at time.Time) {
	if s.afk == nil || !s.valid("activity", playerID) {
		return
	}
	s.submit("activity", playerID, func(context.Context) {
		if idle := s.afk.Activity(playerID, at); idle > 0 {
			s.sessions.Attach(playerID, models.SessionExtra{AFK: idle})
		}
	})
}

// OnWorldChange starts attributing play time to world.
func (s *Service) OnWorldChange(playerID uuid.UUID, world string, at time.Time) {
	if !s.valid("world", playerID) || world == "" {
		return
	}
	s.attach("world", playerID, models.SessionExtra{World: world, At: at})
}

// OnKill counts a kill in the open session.
func (s *Service) OnKill(playerID uuid.UUID, victimIsPlayer bool) {
	if !s.valid("kill", playerID) {
		return
	}
	extra := models.SessionExtra{MobKills: 1}
	if victimIsPlayer {
		extra = models.SessionExtra{PlayerKills: 1}
	}
	s.attach("kill", playerID, extra)
}

// OnDeath counts a death in the open session.
func (s *Service) OnDeath(playerID uuid.UUID) {
	if !s.valid("death", playerID) {
		return
	}
	s.attach("death", playerID, models.SessionExtra{Deaths: 1})
}

// OnLatency records the platform's latest reading. The aggregator samples it
// on the next tick. The reading is applied on the player's lane, after any
// earlier join or quit, and ignored when no session is open.
func (s *Service) OnLatency(playerID uuid.UUID, ms int) {
	if !s.valid("latency", playerID) {
		return
	}
	s.submit("latency", playerID, func(ctx context.Context) {
		if !s.sessions.Online(playerID) || !s.latency.Set(playerID, ms) {
			metrics.IntakeEvents.WithLabelValues("latency", "ignored").Inc()
			logging.Ctx(ctx).Trace().Int("latency_ms", ms).Msg("Latency for a player without a session")
		}
	})
}

// Sync waits until every queued task has run, including ping batches queued
// by quit tasks.
func (s *Service) Sync(ctx context.Context) error {
	for range 2 {
		if err := s.lanes.Barrier(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops accepting events, flushes ping buffers and stores every
// open session. It must run while the dispatcher is still serving; if it is
// not, sessions are stored on the calling goroutine.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	end := s.now()

	if !s.lanes.Running() {
		s.pings.FlushAll()
		closed := s.sessions.CloseAll(end)
		for _, sess := range closed {
			s.persist(ctx, sess)
		}
		s.logger.Info().Int("sessions", len(closed)).Msg("Intake stopped without lanes")
		return nil
	}

	if err := s.Sync(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Queued events did not finish before shutdown")
	}

	s.pings.FlushAll()
	closed := s.sessions.CloseAll(end)
	for _, sess := range closed {
		if !s.lanes.Submit(sess.PlayerID, "shutdown_store", func(ctx context.Context) { s.persist(ctx, sess) }) {
			s.fallback(sess)(ctx, errLaneUnavailable)
		}
	}

	err := s.lanes.Barrier(ctx)
	s.logger.Info().Int("sessions", len(closed)).Msg("Intake stopped")
	return err
}

func (s *Service) valid(event string, ids ...uuid.UUID) bool {
	for _, id := range ids {
		if id == uuid.Nil {
			metrics.IntakeEvents.WithLabelValues(event, "invalid").Inc()
			return false
		}
	}
	return true
}

func (s *Service) submit(event string, playerID uuid.UUID, fn processing.TaskFunc) {
	if s.closing.Load() {
		metrics.IntakeEvents.WithLabelValues(event, "rejected").Inc()
		return
	}
	if !s.lanes.Submit(playerID, event, fn) {
		metrics.IntakeEvents.WithLabelValues(event, "dropped").Inc()
		return
	}
	metrics.IntakeEvents.WithLabelValues(event, "accepted").Inc()
}

func (s *Service) attach(event string, playerID uuid.UUID, extra models.SessionExtra) {
	s.submit(event, playerID, func(ctx context.Context) {
		if !s.sessions.Attach(playerID, extra) {
			logging.Ctx(ctx).Trace().Str("event", event).Msg("No open session to attach to")
		}
	})
}

// open runs inside the player's lane.
func (s *Service) open(ctx context.Context, playerID, nodeID uuid.UUID, at time.Time) {
	if cur, ok := s.sessions.Get(playerID); ok && cur.NodeID != nodeID {
		s.chargeIdle(playerID, at)
	}
	previous, opened := s.sessions.Open(playerID, nodeID, at)
	if previous != nil {
		s.persist(ctx, previous)
	}
	if !opened {
		return
	}
	s.latency.Online(playerID)
	s.pings.Track(playerID, nodeID)
	if s.afk != nil {
		s.afk.Join(playerID, at)
	}
	// The online count changed even if the register write below fails.
	s.commit.Invalidate(ctx, cache.NetworkPage(), cache.ServerPage(nodeID), cache.PlayerPage(playerID))
}

// chargeIdle adds idle time accrued up to at to the open session and stops
// AFK tracking for it.
func (s *Service) chargeIdle(playerID uuid.UUID, at time.Time) {
	if s.afk == nil {
		return
	}
	if idle := s.afk.Leave(playerID, at); idle > 0 {
		s.sessions.Attach(playerID, models.SessionExtra{AFK: idle})
	}
}

// apply commits m. Failures are logged by the committer and handled by
// m.Fallback, so the error is not needed here.
func (s *Service) apply(ctx context.Context, m processing.Mutation) {
	_ = s.commit.Commit(ctx, m)
}

func (s *Service) register(ctx context.Context, playerID, nodeID uuid.UUID, name string, at time.Time) {
	s.apply(ctx, processing.Mutation{
		Tx: database.PlayerRegister{
			PlayerID:   playerID,
			NodeID:     nodeID,
			PlayerName: name,
			Registered: at,
		},
		Pages:    []cache.PageID{cache.NetworkPage(), cache.PlayersPage(), cache.ServerPage(nodeID), cache.PlayerPage(playerID)},
		Severity: processing.SeverityWarn,
	})
}

func (s *Service) locate(ctx context.Context, playerID uuid.UUID, ip string, at time.Time) {
	if s.geo == nil || ip == "" {
		return
	}
	country := s.geo.Resolve(ctx, ip)
	s.apply(ctx, processing.Mutation{
		Tx: database.GeoInfoStore{
			PlayerID: playerID,
			Info:     models.GeoInfo{IP: geolocation.NormalizeIP(ip), Country: country, LastUsed: at},
		},
		Pages:    []cache.PageID{cache.PlayerPage(playerID), cache.NetworkPage()},
		Severity: processing.SeverityWarn,
	})
}

func (s *Service) persist(ctx context.Context, sess *models.Session) {
	s.apply(ctx, processing.Mutation{
		Tx:       database.SessionStore{Session: sess},
		Pages:    cache.SessionPages(sess.PlayerID, sess.NodeID),
		Severity: processing.SeverityError,
		Fallback: s.fallback(sess),
	})
}

// fallback spools a session whose write failed.
func (s *Service) fallback(sess *models.Session) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		// The session is no longer open here, whatever the store says.
		s.commit.Invalidate(ctx, cache.SessionPages(sess.PlayerID, sess.NodeID)...)

		ev := logging.Ctx(ctx).Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("player_id", sess.PlayerID.String()).
			Str("node_id", sess.NodeID.String()).
			Time("start", sess.Start).
			Time("end", sess.End)

		if s.spool == nil {
			ev.Msg("Session not stored and no spool configured")
			return
		}
		id, spoolErr := s.spool.Put(ctx, sess)
		if spoolErr != nil {
			ev.AnErr("spool_error", spoolErr).Msg("Session not stored and could not be spooled")
			return
		}
		ev.Str("spool_entry", id).Msg("Session not stored, spooled for replay")
	}
}

// flushPings is the aggregator's flush function. Batches are stored on the
// player's lane; ping loss is tolerated, so a full lane drops the batch.
func (s *Service) flushPings(batch models.PingBatch) {
	ok := s.lanes.Submit(batch.PlayerID, "ping_store", func(ctx context.Context) {
		s.apply(ctx, processing.Mutation{
			Tx:       database.PingStore{Batch: batch},
			Pages:    []cache.PageID{cache.PlayerPage(batch.PlayerID), cache.ServerPage(batch.NodeID)},
			Severity: processing.SeverityWarn,
		})
	})
	if !ok {
		metrics.PingBatches.WithLabelValues("dropped").Inc()
	}
}
