// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package metrics holds the Prometheus instrumentation for Playtrack.
//
// Metrics are package-level collectors registered with the default registry
// through promauto and exposed by the API server on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Datastore
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playtrack_db_operation_duration_seconds",
			Help:    "Duration of datastore queries and transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "name"}, // kind: query, transaction
	)

	DBOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_db_operation_errors_total",
			Help: "Total number of failed datastore operations",
		},
		[]string{"kind", "name", "error_kind"},
	)

	// Session cache
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtrack_sessions_open",
			Help: "Current number of open sessions held by this node",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_sessions_closed_total",
			Help: "Total number of sessions closed",
		},
		[]string{"reason"}, // quit, switch, shutdown
	)

	SessionDuplicateOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playtrack_session_duplicate_opens_total",
			Help: "Open events ignored because the player already had a session on the same node",
		},
	)

	// Ping aggregator
	PingSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_ping_samples_total",
			Help: "Total number of latency samples by outcome",
		},
		[]string{"outcome"}, // accepted, rejected
	)

	PingBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_ping_batches_total",
			Help: "Total number of ping buffers settled by trigger",
		},
		[]string{"trigger"}, // threshold, untrack, shutdown, dropped
	)

	PingTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtrack_ping_tracked_players",
			Help: "Current number of players sampled by the ping aggregator",
		},
	)

	// Geolocation cache
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_geolocation_lookups_total",
			Help: "Total number of geolocation lookups by result",
		},
		[]string{"result"}, // hit, resolved, private, unknown
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playtrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_circuit_breaker_requests_total",
			Help: "Requests passing through a circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	// Response cache
	PageCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_page_cache_requests_total",
			Help: "Total number of page cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	PageCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_page_cache_invalidations_total",
			Help: "Total number of page invalidations by page kind",
		},
		[]string{"kind"},
	)

	PageCacheRejectedPuts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playtrack_page_cache_rejected_puts_total",
			Help: "Rendered pages discarded because the page was invalidated during rendering",
		},
	)

	PageCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtrack_page_cache_entries",
			Help: "Current number of cached pages",
		},
	)

	// Event intake
	IntakeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_intake_events_total",
			Help: "Total number of platform events by outcome",
		},
		[]string{"event", "outcome"}, // accepted, dropped, rejected, invalid
	)

	// Processing lanes
	LaneTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_lane_tasks_total",
			Help: "Total number of background tasks by outcome",
		},
		[]string{"outcome"}, // submitted, dropped, completed, panicked, discarded
	)

	LaneTaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playtrack_lane_task_duration_seconds",
			Help:    "Duration of background tasks in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	LaneQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playtrack_lane_queue_depth",
			Help: "Current number of queued tasks per lane",
		},
		[]string{"lane"},
	)

	// Spool
	SpoolEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_spool_entries_total",
			Help: "Total number of spool operations by outcome",
		},
		[]string{"outcome"}, // written, replayed, failed, abandoned
	)

	SpoolPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtrack_spool_pending",
			Help: "Current number of spooled writes awaiting replay",
		},
	)

	// Invalidation bus
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_bus_messages_total",
			Help: "Total number of invalidation bus messages",
		},
		[]string{"direction", "outcome"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playtrack_websocket_connections",
			Help: "Current number of dashboard websocket clients",
		},
	)

	WSDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playtrack_websocket_dropped_messages_total",
			Help: "Messages dropped because a broadcast or client buffer was full",
		},
	)

	// AFK
	AFKTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_afk_transitions_total",
			Help: "Total number of AFK state transitions",
		},
		[]string{"to"}, // afk, active
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playtrack_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playtrack_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// RecordDBOperation records a datastore query or transaction.
// errorKind is empty on success.
func RecordDBOperation(kind, name string, duration time.Duration, errorKind string) {
	DBOperationDuration.WithLabelValues(kind, name).Observe(duration.Seconds())
	if errorKind != "" {
		DBOperationErrors.WithLabelValues(kind, name, errorKind).Inc()
	}
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLaneTask records a finished background task.
func RecordLaneTask(duration time.Duration, panicked bool) {
	LaneTaskDuration.Observe(duration.Seconds())
	if panicked {
		LaneTasks.WithLabelValues("panicked").Inc()
		return
	}
	LaneTasks.WithLabelValues("completed").Inc()
}
