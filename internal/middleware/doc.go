// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package middleware holds the HTTP middleware shared by every route:
// request IDs that flow into the logging context, and Prometheus request
// metrics labeled by route pattern.
package middleware
