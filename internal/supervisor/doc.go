// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

/*
Package supervisor runs the node's long-lived services under a suture v4
tree.

Each layer is its own supervisor so a crashing service is restarted with
backoff without taking down unrelated layers. The dispatcher, the ping
aggregator, the AFK sweeper, the invalidation bus, the websocket hub, the
spool replayer and the HTTP server all implement suture.Service directly;
package services adapts *http.Server.

Stopping the tree does not flush open sessions. Call the intake service's
Shutdown before canceling the tree's context so queued writes still have a
running dispatcher.
*/
package supervisor
