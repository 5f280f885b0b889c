// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

/*
Package models defines the data structures shared by Playtrack components.

Model Categories:

 1. Live state (held in memory by a node):
    - Session: one continuous interval a player is connected to a node
    - SessionExtra: auxiliary data merged into an open session
    - PingSample / PingBatch: latency samples and the unit they are flushed in

 2. Persisted records (read back through database queries):
    - BaseUser: registration record of a player
    - GeoInfo: country resolved for a player's IP address
    - PingSummary / NetworkOverview: aggregates backing dashboard pages

All identifiers are UUIDs. Timestamps are stored in UTC.
*/
package models
