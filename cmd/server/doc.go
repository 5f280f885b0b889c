// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

/*
Command server runs one playtrack node.

A node owns the live sessions, ping buffers and AFK state of the players
connected to it, and stores finished sessions in the shared database.
Several nodes form a network by sharing one PostgreSQL database and one
NATS invalidation subject; a single host can use embedded DuckDB and the
in-memory bus.

# Supervisor Tree

	playtrack
	├── data-layer
	│   └── spool-replay
	├── processing-layer
	│   ├── dispatcher
	│   ├── ping-aggregator
	│   └── afk-tracker
	├── messaging-layer
	│   ├── websocket-hub
	│   └── eventbus
	└── api-layer
	    └── http-server

# Configuration

Defaults, then the YAML file (--config, CONFIG_PATH, or the first of
config.yaml, config.yml, /etc/playtrack/config.yaml), then environment
variables:

	NODE_ID=<uuid>               # generated per start when empty
	DATABASE_DRIVER=duckdb       # or postgres with DATABASE_DSN
	EVENTBUS_BACKEND=memory      # or nats with NATS_URL
	SPOOL_PATH=/data/spool
	HTTP_PORT=8804
	LOG_LEVEL=info
	LOG_FORMAT=json

# Commands

	playtrack [serve]            run the node
	playtrack replay-spool       store spooled sessions once and exit

# Signal Handling

On SIGINT or SIGTERM the intake service stops accepting events, flushes
ping buffers and stores every open session while the dispatcher is still
running. Only then is the supervisor tree canceled. Sessions that cannot
be stored go to the spool.
*/
package main
