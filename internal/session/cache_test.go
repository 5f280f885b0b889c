// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package session

import (
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestOpenClose(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	player, node := uuid.New(), uuid.New()

	prev, opened := c.Open(player, node, at(0))
	if !opened || prev != nil {
		t.Fatalf("Open() = (%v, %v), want (nil, true)", prev, opened)
	}
	if !c.Online(player) || c.Len() != 1 {
		t.Fatalf("Online() = %v, Len() = %d after open", c.Online(player), c.Len())
	}

	s, ok := c.Close(player, at(500))
	if !ok {
		t.Fatal("Close() = false, want true")
	}
	if !s.Start.Equal(at(0)) || !s.End.Equal(at(500)) {
		t.Errorf("closed session = [%v, %v), want [%v, %v)", s.Start, s.End, at(0), at(500))
	}
	if c.Online(player) || c.Len() != 0 {
		t.Error("session still cached after Close")
	}

	// Duplicate quit is tolerated.
	if s, ok := c.Close(player, at(600)); ok || s != nil {
		t.Errorf("second Close() = (%v, %v), want (nil, false)", s, ok)
	}
}

func TestOpenOnOtherNodeClosesPrevious(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	player, node1, node2 := uuid.New(), uuid.New(), uuid.New()

	c.Open(player, node1, at(0))
	prev, opened := c.Open(player, node2, at(100))
	if !opened {
		t.Fatal("Open() on new node should open")
	}
	if prev == nil {
		t.Fatal("Open() on new node should return the previous session")
	}
	if prev.NodeID != node1 || !prev.End.Equal(at(100)) {
		t.Errorf("previous = node %s end %v, want node %s end %v", prev.NodeID, prev.End, node1, at(100))
	}

	cur, ok := c.Get(player)
	if !ok || cur.NodeID != node2 || !cur.Start.Equal(at(100)) {
		t.Errorf("current = %+v, want node2 session starting at 100", cur)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestDuplicateOpenOnSameNodeIsIgnored(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	player, node := uuid.New(), uuid.New()

	c.Open(player, node, at(0))
	before, _ := c.Get(player)

	prev, opened := c.Open(player, node, at(50))
	if opened || prev != nil {
		t.Errorf("duplicate Open() = (%v, %v), want (nil, false)", prev, opened)
	}

	after, _ := c.Get(player)
	if after.ID != before.ID || !after.Start.Equal(at(0)) {
		t.Errorf("duplicate open replaced the session: %+v", after)
	}
}

func TestOpenBeforePreviousStartClampsEnd(t *testing.T) {
	t.Parallel()

	c := NewCache(1)
	player := uuid.New()

	c.Open(player, uuid.New(), at(200))
	prev, _ := c.Open(player, uuid.New(), at(100))
	if prev == nil {
		t.Fatal("expected previous session")
	}
	if prev.Length() != 0 || !prev.End.Equal(prev.Start) {
		t.Errorf("previous = [%v, %v), want zero-length", prev.Start, prev.End)
	}
}

func TestAttach(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	player, node := uuid.New(), uuid.New()

	if c.Attach(player, models.SessionExtra{Deaths: 1}) {
		t.Error("Attach() with no open session should report false")
	}

	c.Open(player, node, at(0))
	c.Attach(player, models.SessionExtra{PlayerKills: 1, World: "overworld", At: at(0)})
	c.Attach(player, models.SessionExtra{MobKills: 3, Deaths: 1, World: "nether", At: at(300)})

	s, _ := c.Close(player, at(1000))
	if s.PlayerKills != 1 || s.MobKills != 3 || s.Deaths != 1 {
		t.Errorf("kills/deaths = %d/%d/%d, want 1/3/1", s.PlayerKills, s.MobKills, s.Deaths)
	}
	if s.WorldTimes["overworld"] != 300*time.Millisecond || s.WorldTimes["nether"] != 700*time.Millisecond {
		t.Errorf("WorldTimes = %v", s.WorldTimes)
	}

	// A late event must not touch the closed session.
	if c.Attach(player, models.SessionExtra{Deaths: 5}) {
		t.Error("Attach() after Close should report false")
	}
	if s.Deaths != 1 {
		t.Errorf("closed session mutated: Deaths = %d", s.Deaths)
	}
	if c.Online(player) {
		t.Error("Attach() after Close resurrected the session")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	c := NewCache(4)
	player := uuid.New()
	c.Open(player, uuid.New(), at(0))

	s, _ := c.Get(player)
	s.Deaths = 99

	again, _ := c.Get(player)
	if again.Deaths != 0 {
		t.Error("Get() exposed the cached session")
	}
}

func TestCloseAllAndOnNode(t *testing.T) {
	t.Parallel()

	c := NewCache(8)
	node, other := uuid.New(), uuid.New()
	for i := 0; i < 10; i++ {
		n := node
		if i%2 == 1 {
			n = other
		}
		c.Open(uuid.New(), n, at(i))
	}

	if got := len(c.OnNode(node)); got != 5 {
		t.Errorf("OnNode() returned %d sessions, want 5", got)
	}

	closed := c.CloseAll(at(1000))
	if len(closed) != 10 {
		t.Fatalf("CloseAll() returned %d sessions, want 10", len(closed))
	}
	for _, s := range closed {
		if !s.End.Equal(at(1000)) {
			t.Errorf("session %s end = %v, want %v", s.ID, s.End, at(1000))
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len() after CloseAll = %d, want 0", c.Len())
	}
}

// TestSessionsCoverTimeline drives random open/switch/close sequences for one
// player and checks that at most one session is ever open and that the
// persisted sessions tile the online intervals exactly.
func TestSessionsCoverTimeline(t *testing.T) {
	t.Parallel()

	nodes := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		c := NewCache(4)
		player := uuid.New()

		var (
			persisted   []*models.Session
			onlineSince = -1
			onNode      uuid.UUID
			online      [][2]int
			now         = 0
		)

		for step := 0; step < 20; step++ {
			now += 1 + rng.Intn(50)
			switch rng.Intn(3) {
			case 0, 1: // join or switch
				n := nodes[rng.Intn(len(nodes))]
				if onlineSince >= 0 && n == onNode {
					continue
				}
				prev, opened := c.Open(player, n, at(now))
				if !opened {
					t.Fatalf("run %d: Open() refused a node change", run)
				}
				if prev != nil {
					persisted = append(persisted, prev)
				}
				if onlineSince < 0 {
					onlineSince = now
				}
				onNode = n
			case 2: // quit
				if s, ok := c.Close(player, at(now)); ok {
					persisted = append(persisted, s)
					online = append(online, [2]int{onlineSince, now})
					onlineSince = -1
				}
			}
			if c.Len() > 1 {
				t.Fatalf("run %d: %d open sessions", run, c.Len())
			}
		}
		if s, ok := c.Close(player, at(now+1)); ok {
			persisted = append(persisted, s)
			online = append(online, [2]int{onlineSince, now + 1})
		}

		sort.Slice(persisted, func(i, j int) bool { return persisted[i].Start.Before(persisted[j].Start) })

		// Walk the persisted sessions and check they tile each online interval.
		i := 0
		for _, iv := range online {
			cursor := at(iv[0])
			for i < len(persisted) && persisted[i].Start.Before(at(iv[1])) {
				s := persisted[i]
				if !s.Start.Equal(cursor) {
					t.Fatalf("run %d: gap or overlap at %v (session starts %v)", run, cursor, s.Start)
				}
				cursor = s.End
				i++
			}
			if !cursor.Equal(at(iv[1])) {
				t.Fatalf("run %d: interval %v not covered, ends at %v", run, iv, cursor)
			}
		}
		if i != len(persisted) {
			t.Fatalf("run %d: %d sessions outside online intervals", run, len(persisted)-i)
		}
	}
}

func TestConcurrentPlayers(t *testing.T) {
	t.Parallel()

	c := NewCache(16)
	node := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			player := uuid.New()
			for j := 0; j < 50; j++ {
				c.Open(player, node, at(j*10))
				c.Attach(player, models.SessionExtra{MobKills: 1})
				c.Close(player, at(j*10+5))
			}
		}()
	}
	wg.Wait()

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
