// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

// Package cache holds rendered dashboard pages until a write invalidates them.
//
// Pages never expire. Every committed mutation names the pages it touched and
// the committer invalidates them after the commit succeeds. A renderer that
// read the database before that commit must not put its stale body back, so
// renders go through Render, which compares invalidation sequence numbers
// taken before and after rendering.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/playtrack/internal/metrics"
)

// Invalidator is the write side of the cache, used by the committer and the
// invalidation bus subscriber.
type Invalidator interface {
	Invalidate(ids ...PageID)
	InvalidateAll()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
	RejectedPuts  int64 `json:"rejected_puts"`
	Entries       int   `json:"entries"`
}

// Cache is a write-invalidated page cache.
//
// Thread Safety: all methods are safe for concurrent use. Render functions run
// without the cache lock held.
type Cache struct {
	mu    sync.Mutex
	pages map[PageID]CachedPage

	// seq increases on every invalidation. marks records the seq at which a
	// page was last invalidated and allMark the last InvalidateAll; both are
	// only consulted by renders that started earlier.
	seq      uint64
	marks    map[PageID]uint64
	allMark  uint64
	inflight int

	now func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	rejected      atomic.Int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		pages: make(map[PageID]CachedPage),
		marks: make(map[PageID]uint64),
		now:   time.Now,
	}
}

// Get returns the cached body of id.
func (c *Cache) Get(id PageID) ([]byte, bool) {
	c.mu.Lock()
	page, ok := c.pages[id]
	c.mu.Unlock()

	if ok {
		c.recordHit()
		return page.Body, true
	}
	c.recordMiss()
	return nil, false
}

// Page returns the cached page with its generation time.
func (c *Cache) Page(id PageID) (CachedPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[id]
	return page, ok
}

// Put stores body unconditionally. Renderers should use Render instead.
func (c *Cache) Put(id PageID, body []byte) {
	c.mu.Lock()
	c.store(id, body)
	c.mu.Unlock()
}

// Render returns the cached body of id, or calls fn to produce it.
//
// The body fn returns is stored only if neither id nor the whole cache was
// invalidated while fn ran; otherwise it is still returned to the caller but
// counted as a rejected put. Errors from fn are returned and nothing is
// stored.
func (c *Cache) Render(id PageID, fn func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if page, ok := c.pages[id]; ok {
		c.mu.Unlock()
		c.recordHit()
		return page.Body, nil
	}
	snapshot := c.seq
	c.inflight++
	c.mu.Unlock()
	c.recordMiss()

	body, err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.finishRender()

	if err != nil {
		return nil, err
	}
	if c.allMark > snapshot || c.marks[id] > snapshot {
		c.rejected.Add(1)
		metrics.PageCacheRejectedPuts.Inc()
		return body, nil
	}
	c.store(id, body)
	return body, nil
}

// Invalidate drops the given pages.
func (c *Cache) Invalidate(ids ...PageID) {
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	c.seq++
	for _, id := range ids {
		delete(c.pages, id)
		if c.inflight > 0 {
			c.marks[id] = c.seq
		}
		metrics.PageCacheInvalidations.WithLabelValues(string(id.Kind)).Inc()
	}
	metrics.PageCacheEntries.Set(float64(len(c.pages)))
	c.mu.Unlock()

	c.invalidations.Add(int64(len(ids)))
}

// InvalidateAll drops every page, e.g. after an operator clears the cache or
// a remote node asks for a full flush.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.seq++
	c.allMark = c.seq
	c.pages = make(map[PageID]CachedPage)
	metrics.PageCacheEntries.Set(0)
	c.mu.Unlock()

	c.invalidations.Add(1)
	metrics.PageCacheInvalidations.WithLabelValues("all").Inc()
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		RejectedPuts:  c.rejected.Load(),
		Entries:       c.Len(),
	}
}

// pendingMarks reports how many per-page marks are retained. Test hook.
func (c *Cache) pendingMarks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.marks)
}

// store must be called with c.mu held.
func (c *Cache) store(id PageID, body []byte) {
	c.pages[id] = CachedPage{PageID: id, Body: body, Generated: c.now()}
	metrics.PageCacheEntries.Set(float64(len(c.pages)))
}

// finishRender must be called with c.mu held.
func (c *Cache) finishRender() {
	c.inflight--
	if c.inflight == 0 && len(c.marks) > 0 {
		c.marks = make(map[PageID]uint64)
	}
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	metrics.PageCacheRequests.WithLabelValues("hit").Inc()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	metrics.PageCacheRequests.WithLabelValues("miss").Inc()
}
