// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package eventbus carries page invalidations between the nodes of a
// network.
//
// Every node publishes the pages its commits touched and subscribes to the
// pages other nodes touched. Messages carry the origin node so a node skips
// its own. Delivery is best effort: a lost message leaves a page stale until
// the next write to it, which is acceptable for dashboard pages.
//
// The "memory" backend uses a watermill gochannel and suits a single node and
// tests. The "nats" backend uses core NATS, so every node sees every
// message.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/playtrack/internal/cache"
	"github.com/tomtom215/playtrack/internal/config"
	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
)

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// ErrClosed is returned by PublishInvalidation after Close.
var ErrClosed = errors.New("event bus is closed")

// Invalidation is the wire form of one bus message.
type Invalidation struct {
	Origin uuid.UUID      `json:"origin"`
	Pages  []cache.PageID `json:"pages,omitempty"`
	All    bool           `json:"all,omitempty"`
	At     time.Time      `json:"at"`
}

// Broadcaster pushes remote invalidations to local dashboards.
type Broadcaster interface {
	BroadcastInvalidation(pages []cache.PageID, all bool)
}

// Bus publishes local invalidations and applies remote ones.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	topic   string
	origin  uuid.UUID
	pages   cache.Invalidator
	push    Broadcaster
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New builds the bus for cfg.Backend. push may be nil.
func New(cfg config.EventBusConfig, origin uuid.UUID, pages cache.Invalidator, push Broadcaster) (*Bus, error) {
	logger := logging.WithComponent("eventbus")
	wmLogger := NewLoggerAdapter(logger)

	switch cfg.Backend {
	case BackendMemory, "":
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		return NewWithPubSub(ch, ch, cfg.Topic, origin, pages, push), nil

	case BackendNATS:
		pub, sub, err := newNATS(cfg.URL, wmLogger)
		if err != nil {
			return nil, err
		}
		return NewWithPubSub(pub, sub, cfg.Topic, origin, pages, push), nil

	default:
		return nil, fmt.Errorf("unknown event bus backend %q", cfg.Backend)
	}
}

// NewWithPubSub builds a bus over an existing publisher and subscriber.
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, topic string, origin uuid.UUID, pages cache.Invalidator, push Broadcaster) *Bus {
	if topic == "" {
		topic = "playtrack.invalidations"
	}
	logger := logging.WithComponent("eventbus")

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "eventbus-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Event bus circuit breaker state changed")
		},
	})

	return &Bus{
		pub:     pub,
		sub:     sub,
		topic:   topic,
		origin:  origin,
		pages:   pages,
		push:    push,
		breaker: breaker,
		logger:  logger,
	}
}

func newNATS(url string, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	if url == "" {
		url = natsgo.DefaultURL
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("playtrack"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
	// Invalidations are only useful while fresh; no stream, no replay.
	js := wmNats.JetStreamConfig{Disabled: true}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   js,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		AckWaitTimeout:   5 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        js,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("create nats subscriber: %w", err)
	}
	return pub, sub, nil
}

// PublishInvalidation announces pages (or everything, when all is set) to
// the other nodes.
func (b *Bus) PublishInvalidation(_ context.Context, pages []cache.PageID, all bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	payload, err := json.Marshal(Invalidation{Origin: b.origin, Pages: pages, All: all, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("origin", b.origin.String())

	_, err = b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.pub.Publish(b.topic, msg)
	})
	if err != nil {
		metrics.BusMessages.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("publish invalidation: %w", err)
	}
	metrics.BusMessages.WithLabelValues("out", "ok").Inc()
	return nil
}

// Serve applies invalidations from other nodes until ctx is canceled.
func (b *Bus) Serve(ctx context.Context) error {
	messages, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.topic, err)
	}
	b.logger.Info().Str("topic", b.topic).Str("origin", b.origin.String()).Msg("Event bus subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", b.topic)
			}
			b.handle(msg)
			msg.Ack()
		}
	}
}

func (b *Bus) handle(msg *message.Message) {
	var inv Invalidation
	if err := json.Unmarshal(msg.Payload, &inv); err != nil {
		metrics.BusMessages.WithLabelValues("in", "error").Inc()
		b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("Discarding malformed invalidation")
		return
	}
	if inv.Origin == b.origin {
		metrics.BusMessages.WithLabelValues("in", "skipped").Inc()
		return
	}

	if inv.All {
		b.pages.InvalidateAll()
	} else if len(inv.Pages) > 0 {
		b.pages.Invalidate(inv.Pages...)
	}
	if b.push != nil {
		b.push.BroadcastInvalidation(inv.Pages, inv.All)
	}
	metrics.BusMessages.WithLabelValues("in", "ok").Inc()
	b.logger.Debug().Str("origin", inv.Origin.String()).Int("pages", len(inv.Pages)).Bool("all", inv.All).
		Msg("Applied remote invalidation")
}

// Close shuts the publisher and subscriber down.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.pub.Close()
	if closer, ok := b.sub.(message.Publisher); ok && closer == b.pub {
		// gochannel serves both sides.
		return err
	}
	if subErr := b.sub.Close(); subErr != nil && err == nil {
		err = subErr
	}
	return err
}

func (b *Bus) String() string { return "eventbus" }
