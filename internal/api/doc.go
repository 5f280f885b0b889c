// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

/*
Package api is the HTTP surface of a playtrack node.

It has three groups of endpoints.

Intake (POST /api/v1/events/*) lets platform adapters post player events.
Bodies are JSON and validated with go-playground/validator. A malformed
identifier is rejected with 400. Accepted events are handed to the intake
service and answered with 202. Processing is asynchronous.

Dashboard (GET /api/v1/network, /players, /players/{playerID},
/servers/{nodeID}) pages are served through the response cache. A page
rendered from the database is stored only if no write invalidated it while
it was being built.

Operations:

	GET  /health                    database ping and node state
	GET  /metrics                   Prometheus exposition
	GET  /ws                        page_invalidated push
	POST /api/v1/admin/cache/clear  drop every cached page on every node
	POST /api/v1/admin/spool/replay retry spooled sessions now

Responses use the APIResponse envelope. Every request carries an
X-Request-ID that is echoed in error bodies and log lines.
*/
package api
