// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/playtrack/internal/middleware"
)

// Router binds a Handler to its routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. A nil config uses DefaultChiMiddlewareConfig.
func NewRouter(handler *Handler, config *ChiMiddlewareConfig) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(config),
	}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/events", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitIntake())

			r.Post("/join", router.handler.EventJoin)
			r.Post("/quit", router.handler.EventQuit)
			r.Post("/switch", router.handler.EventSwitch)
			r.Post("/register", router.handler.EventRegister)
			r.Post("/kick", router.handler.EventKick)
			r.Post("/activity", router.handler.EventActivity)
			r.Post("/world", router.handler.EventWorld)
			r.Post("/kill", router.handler.EventKill)
			r.Post("/death", router.handler.EventDeath)
			r.Post("/latency", router.handler.EventLatency)
		})

		r.Get("/network", router.handler.Network)
		r.Get("/players", router.handler.Players)
		r.Get("/players/{playerID}", router.handler.Player)
		r.Get("/servers/{nodeID}", router.handler.Server)

		r.Route("/admin", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitAdmin())

			r.Post("/cache/clear", router.handler.ClearCache)
			r.Post("/spool/replay", router.handler.ReplaySpool)
		})
	})

	return r
}
