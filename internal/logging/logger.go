// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package logging owns the node's zerolog logger.
//
// Intake handlers, processing lanes and supervised services all write
// through the same sink, so node_id, player_id and correlation_id can be
// followed from the HTTP request to the stored session.
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("node_id", id).Msg("Node starting")
//	logging.Ctx(ctx).Warn().Err(err).Msg("Session spooled")
//
//	log := logging.WithComponent("ping")
//	log.Debug().Int("tracked", n).Msg("Tick")
//
// An event chain writes nothing until .Msg or .Send is called.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and sink.
type Config struct {
	Level     string    // trace, debug, info, warn, error, fatal, panic, disabled
	Format    string    // json or console
	Caller    bool      // add file:line
	Timestamp bool      // add the "time" field
	Output    io.Writer // nil means os.Stderr
}

// DefaultConfig is JSON at info level on stderr, timestamped.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json", Timestamp: true, Output: os.Stderr}
}

var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"panic":    zerolog.PanicLevel,
	"disabled": zerolog.Disabled,
}

// current is swapped whole by Init; readers never lock.
var current atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // packages log before main reaches Init
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	Init(DefaultConfig())
}

// Init builds a logger from cfg and installs it. Later calls replace it.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	b := zerolog.New(out).With()
	if cfg.Timestamp {
		b = b.Timestamp()
	}
	if cfg.Caller {
		b = b.Caller()
	}
	l := b.Logger()
	current.Store(&l)
}

// parseLevel maps a level name to zerolog; unknown or empty names are info.
func parseLevel(name string) zerolog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether name is a level Init understands.
func ValidLevel(name string) bool {
	_, ok := levels[strings.ToLower(name)]
	return ok
}

// Logger returns the installed logger by value.
func Logger() zerolog.Logger { return *current.Load() }

// With starts a child logger context.
func With() zerolog.Context { return current.Load().With() }

// Trace, Debug, Info, Warn and Error start an event on the installed logger.
func Trace() *zerolog.Event { return current.Load().Trace() }
func Debug() *zerolog.Event { return current.Load().Debug() }
func Info() *zerolog.Event { return current.Load().Info() }
func Warn() *zerolog.Event { return current.Load().Warn() }
func Error() *zerolog.Event { return current.Load().Error() }

// Fatal exits the process with status 1 once the event is written.
func Fatal() *zerolog.Event { return current.Load().Fatal() }

// Err logs at error level with err attached, or at info when err is nil.
func Err(err error) *zerolog.Event { return current.Load().Err(err) }

// NewTestLogger writes timestamped JSON to w.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
