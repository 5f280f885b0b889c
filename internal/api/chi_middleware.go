// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/tomtom215/playtrack/internal/logging"
)

// ChiMiddlewareConfig configures the router-level middleware.
type ChiMiddlewareConfig struct {
	// IntakeRequests is the per-IP budget for event posts per IntakeWindow.
	// Zero disables intake rate limiting.
	IntakeRequests int
	IntakeWindow   time.Duration

	// AdminRequests limits the operations endpoints per IP.
	AdminRequests int
	AdminWindow   time.Duration
}

// DefaultChiMiddlewareConfig returns production defaults.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		IntakeRequests: 600,
		IntakeWindow:   time.Minute,
		AdminRequests:  10,
		AdminWindow:    time.Minute,
	}
}

// ChiMiddleware builds the rate limiters used by the router.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
}

// NewChiMiddleware creates the middleware set. A nil config uses defaults.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}
	return &ChiMiddleware{config: config}
}

// RateLimitIntake limits event posts per client IP.
func (m *ChiMiddleware) RateLimitIntake() func(http.Handler) http.Handler {
	return limitByIP("intake", m.config.IntakeRequests, m.config.IntakeWindow)
}

// RateLimitAdmin limits the operations endpoints per client IP.
func (m *ChiMiddleware) RateLimitAdmin() func(http.Handler) http.Handler {
	return limitByIP("admin", m.config.AdminRequests, m.config.AdminWindow)
}

func limitByIP(scope string, requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.Ctx(r.Context()).Warn().
				Str("scope", scope).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded")
			respondError(w, r, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests", nil)
		}),
	)
}
