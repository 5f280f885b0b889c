// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package geolocation resolves player addresses to country names.
//
// The Cache sits in front of a Resolver chain. Successful lookups are kept
// forever (an address rarely moves country); failures are never cached so
// the next join retries them. Private addresses short-circuit to LocalNetwork.
//
// Resolve may block on network I/O and is only called from background lanes.
package geolocation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/playtrack/internal/logging"
	"github.com/tomtom215/playtrack/internal/metrics"
)

const (
	// Unknown is returned when no resolver could place an address.
	Unknown = "Unknown"

	// LocalNetwork is returned for private and loopback addresses.
	LocalNetwork = "Local Network"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Failures int64 `json:"failures"`
	Entries  int   `json:"entries"`
}

// Cache maps IP addresses to country names.
//
// There is no per-key lock: two lanes resolving the same
// address concurrently both call the resolver and the last write wins.
type Cache struct {
	resolver Resolver

	mu      sync.RWMutex
	entries map[string]string

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// NewCache creates a cache backed by resolver. A nil resolver resolves
// every public address to Unknown.
func NewCache(resolver Resolver) *Cache {
	return &Cache{
		resolver: resolver,
		entries:  make(map[string]string),
	}
}

// Resolve returns the country for addr, never an error.
func (c *Cache) Resolve(ctx context.Context, addr string) string {
	ip := NormalizeIP(addr)

	c.mu.RLock()
	country, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		metrics.GeoLookups.WithLabelValues("hit").Inc()
		return country
	}
	c.misses.Add(1)

	if IsPrivateIP(ip) {
		metrics.GeoLookups.WithLabelValues("private").Inc()
		return LocalNetwork
	}

	if c.resolver == nil || ip == "" {
		c.failures.Add(1)
		metrics.GeoLookups.WithLabelValues("unknown").Inc()
		return Unknown
	}

	country, err := c.resolver.Resolve(ctx, ip)
	if err != nil || country == "" {
		c.failures.Add(1)
		metrics.GeoLookups.WithLabelValues("unknown").Inc()
		logging.Debug().Err(err).Str("ip", ip).Msg("Geolocation lookup failed")
		return Unknown
	}

	c.mu.Lock()
	c.entries[ip] = country
	c.mu.Unlock()

	metrics.GeoLookups.WithLabelValues("resolved").Inc()
	return country
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]string)
	c.mu.Unlock()
}

// Len returns the number of cached addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Failures: c.failures.Load(),
		Entries:  c.Len(),
	}
}
