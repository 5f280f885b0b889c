// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	got := DefaultConfig()
	if got.Level != "info" || got.Format != "json" || got.Caller || !got.Timestamp || got.Output == nil {
		t.Errorf("DefaultConfig() = %+v", got)
	}
}

// TestInit and TestCtx mutate the global logger and must not run in parallel.
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}
	if !strings.Contains(output, `"level":"info"`) {
		t.Errorf("expected output to contain level, got: %s", output)
	}
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	player := uuid.New()
	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithPlayer(ctx, player)

	Ctx(ctx).Info().Msg("session closed")

	output := buf.String()
	if !strings.Contains(output, `"correlation_id":"abc12345"`) {
		t.Errorf("missing correlation_id in %s", output)
	}
	if !strings.Contains(output, player.String()) {
		t.Errorf("missing player_id in %s", output)
	}
	if strings.Contains(output, "request_id") {
		t.Errorf("unexpected request_id in %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for name, want := range levels {
		if got := parseLevel(strings.ToUpper(name)); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", strings.ToUpper(name), got, want)
		}
	}
	for _, name := range []string{"", "verbose", "inf"} {
		if got := parseLevel(name); got != zerolog.InfoLevel {
			t.Errorf("parseLevel(%q) = %v, want info fallback", name, got)
		}
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	if !ValidLevel("WARN") {
		t.Error("expected WARN to be valid")
	}
	if ValidLevel("verbose") {
		t.Error("expected verbose to be invalid")
	}
}

func TestCorrelationIDs(t *testing.T) {
	t.Parallel()

	if got := len(GenerateCorrelationID()); got != 8 {
		t.Errorf("correlation ID length = %d, want 8", got)
	}
	if _, err := uuid.Parse(GenerateRequestID()); err != nil {
		t.Errorf("request ID is not a UUID: %v", err)
	}
	if CorrelationIDFromContext(context.Background()) != "" {
		t.Error("expected empty correlation ID on bare context")
	}
	if _, ok := PlayerFromContext(context.Background()); ok {
		t.Error("expected no player on bare context")
	}
}

func TestSlogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	slogger := NewSlogHandlerWithLogger(logger).WithGroup("supervisor").WithAttrs(nil)

	h, ok := slogger.(*SlogHandler)
	if !ok {
		t.Fatalf("unexpected handler type %T", slogger)
	}

	l := slog.New(h)
	l.Warn("service restarted", "service", "ping-aggregator", "attempt", 2)

	output := buf.String()
	if !strings.Contains(output, `"level":"warn"`) {
		t.Errorf("expected warn level, got: %s", output)
	}
	if !strings.Contains(output, `"supervisor.service":"ping-aggregator"`) {
		t.Errorf("expected grouped key, got: %s", output)
	}
	if !strings.Contains(output, `"supervisor.attempt":2`) {
		t.Errorf("expected grouped int, got: %s", output)
	}
}

func TestSlogHandlerWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewSlogHandlerWithLogger(NewTestLogger(&buf)).
		WithAttrs([]slog.Attr{slog.String("tree", "playtrack"), slog.Group("svc", slog.Int("restarts", 3))})

	slog.New(h).Info("backoff", slog.Group("", slog.Bool("inline", true)))

	output := buf.String()
	for _, want := range []string{`"tree":"playtrack"`, `"svc.restarts":3`, `"inline":true`, `"message":"backoff"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in %s", want, output)
		}
	}
}
