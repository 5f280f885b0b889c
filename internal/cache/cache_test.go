// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestPageIDString(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6f1c9a4e-2b7d-4c1e-9a0f-3d5b8e7c1a22")
	tests := []struct {
		name string
		page PageID
		want string
	}{
		{"network", NetworkPage(), "network"},
		{"players", PlayersPage(), "players"},
		{"server", ServerPage(id), "server:" + id.String()},
		{"player", PlayerPage(id), "player:" + id.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.page.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	if ServerPage(id) == PlayerPage(id) {
		t.Error("server and player pages with the same key must differ")
	}
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	c := New()
	if _, ok := c.Get(NetworkPage()); ok {
		t.Fatal("Get() on empty cache should miss")
	}

	c.Put(NetworkPage(), []byte("overview"))
	body, ok := c.Get(NetworkPage())
	if !ok || string(body) != "overview" {
		t.Fatalf("Get() = (%q, %v), want (overview, true)", body, ok)
	}

	page, ok := c.Page(NetworkPage())
	if !ok || page.Generated.IsZero() || page.PageID != NetworkPage() {
		t.Errorf("Page() = %+v, %v", page, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("Stats() = %+v, want 1 hit, 1 miss, 1 entry", stats)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c := New()
	p1, p2 := PlayerPage(uuid.New()), PlayerPage(uuid.New())
	c.Put(p1, []byte("a"))
	c.Put(p2, []byte("b"))
	c.Put(NetworkPage(), []byte("n"))

	c.Invalidate(p1, NetworkPage())

	if _, ok := c.Get(p1); ok {
		t.Error("p1 still cached after Invalidate")
	}
	if _, ok := c.Get(NetworkPage()); ok {
		t.Error("network page still cached after Invalidate")
	}
	if _, ok := c.Get(p2); !ok {
		t.Error("p2 was invalidated but not named")
	}
	if got := c.Stats().Invalidations; got != 2 {
		t.Errorf("Invalidations = %d, want 2", got)
	}

	// Invalidating a missing page is harmless.
	c.Invalidate(ServerPage(uuid.New()))
	c.Invalidate()
}

func TestInvalidateAll(t *testing.T) {
	t.Parallel()

	c := New()
	for i := 0; i < 5; i++ {
		c.Put(PlayerPage(uuid.New()), []byte{byte(i)})
	}
	c.InvalidateAll()

	if c.Len() != 0 {
		t.Errorf("Len() after InvalidateAll = %d, want 0", c.Len())
	}
}

func TestRenderStoresAndHits(t *testing.T) {
	t.Parallel()

	c := New()
	calls := 0
	render := func() ([]byte, error) {
		calls++
		return []byte(fmt.Sprintf("v%d", calls)), nil
	}

	for i := 0; i < 3; i++ {
		body, err := c.Render(PlayersPage(), render)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if string(body) != "v1" {
			t.Errorf("Render() = %q, want v1", body)
		}
	}
	if calls != 1 {
		t.Errorf("renderer called %d times, want 1", calls)
	}
}

func TestRenderErrorIsNotCached(t *testing.T) {
	t.Parallel()

	c := New()
	wantErr := errors.New("database unavailable")
	_, err := c.Render(NetworkPage(), func() ([]byte, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Render() error = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Error("failed render populated the cache")
	}
	if c.pendingMarks() != 0 {
		t.Error("marks retained after the last render finished")
	}
}

// TestRenderDoesNotRepopulateAfterCommit reproduces the read-before-commit
// race: the renderer reads old data, a write commits and invalidates, and the
// renderer then tries to store what it read.
func TestRenderDoesNotRepopulateAfterCommit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		invalidate func(c *Cache, page PageID)
		wantStored bool
	}{
		{"same page invalidated", func(c *Cache, p PageID) { c.Invalidate(p) }, false},
		{"whole cache invalidated", func(c *Cache, _ PageID) { c.InvalidateAll() }, false},
		{"other page invalidated", func(c *Cache, _ PageID) { c.Invalidate(PlayersPage()) }, true},
		{"nothing invalidated", func(*Cache, PageID) {}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New()
			page := PlayerPage(uuid.New())

			readDone := make(chan struct{})
			committed := make(chan struct{})
			result := make(chan []byte, 1)

			go func() {
				body, err := c.Render(page, func() ([]byte, error) {
					close(readDone)
					<-committed
					return []byte("stale"), nil
				})
				if err != nil {
					t.Errorf("Render() error = %v", err)
				}
				result <- body
			}()

			<-readDone
			tt.invalidate(c, page)
			close(committed)

			if body := <-result; string(body) != "stale" {
				t.Errorf("Render() returned %q to its caller, want stale", body)
			}

			_, stored := c.Page(page)
			if stored != tt.wantStored {
				t.Errorf("page stored = %v, want %v", stored, tt.wantStored)
			}
			if !tt.wantStored && c.Stats().RejectedPuts != 1 {
				t.Errorf("RejectedPuts = %d, want 1", c.Stats().RejectedPuts)
			}
			if c.pendingMarks() != 0 {
				t.Errorf("%d marks retained with no render in flight", c.pendingMarks())
			}
		})
	}
}

func TestRenderStartedAfterInvalidateStores(t *testing.T) {
	t.Parallel()

	c := New()
	page := ServerPage(uuid.New())

	// A long render keeps marks alive while a second render starts after the
	// invalidation; the second one read fresh data and must be stored.
	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Render(NetworkPage(), func() ([]byte, error) {
			close(started)
			<-hold
			return []byte("n"), nil
		})
	}()
	<-started

	c.Invalidate(page)
	if _, err := c.Render(page, func() ([]byte, error) { return []byte("fresh"), nil }); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if body, ok := c.Get(page); !ok || string(body) != "fresh" {
		t.Errorf("Get() = (%q, %v), want fresh", body, ok)
	}

	close(hold)
	wg.Wait()
	if c.pendingMarks() != 0 {
		t.Errorf("%d marks retained with no render in flight", c.pendingMarks())
	}
}

func TestConcurrentRenderAndInvalidate(t *testing.T) {
	t.Parallel()

	c := New()
	pages := []PageID{NetworkPage(), PlayersPage(), PlayerPage(uuid.New())}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p := pages[(i+j)%len(pages)]
				switch j % 4 {
				case 0:
					c.Invalidate(p)
				case 1:
					if j%40 == 1 {
						c.InvalidateAll()
					}
				default:
					_, _ = c.Render(p, func() ([]byte, error) { return []byte("x"), nil })
				}
			}
		}(i)
	}
	wg.Wait()

	if c.pendingMarks() != 0 {
		t.Errorf("%d marks retained after all renders finished", c.pendingMarks())
	}
	if c.Len() > len(pages) {
		t.Errorf("Len() = %d, more than %d distinct pages", c.Len(), len(pages))
	}
}
