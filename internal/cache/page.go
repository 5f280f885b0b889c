// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package cache

import (
	"time"

	"github.com/google/uuid"
)

// PageKind identifies a family of dashboard pages.
type PageKind string

const (
	KindNetwork PageKind = "network"
	KindServer  PageKind = "server"
	KindPlayer  PageKind = "player"
	KindPlayers PageKind = "players"
)

// PageID is the composite cache key of one rendered page. Key is uuid.Nil
// for pages that are not scoped to a node or player.
type PageID struct {
	Kind PageKind  `json:"kind"`
	Key  uuid.UUID `json:"key,omitempty"`
}

// NetworkPage is the network overview.
func NetworkPage() PageID { return PageID{Kind: KindNetwork} }

// ServerPage is the page of one node.
func ServerPage(nodeID uuid.UUID) PageID { return PageID{Kind: KindServer, Key: nodeID} }

// PlayerPage is the page of one player.
func PlayerPage(playerID uuid.UUID) PageID { return PageID{Kind: KindPlayer, Key: playerID} }

// PlayersPage is the player list.
func PlayersPage() PageID { return PageID{Kind: KindPlayers} }

// SessionPages lists the pages a stored session makes stale.
func SessionPages(playerID, nodeID uuid.UUID) []PageID {
	return []PageID{NetworkPage(), PlayersPage(), ServerPage(nodeID), PlayerPage(playerID)}
}

func (p PageID) String() string {
	if p.Key == uuid.Nil {
		return string(p.Kind)
	}
	return string(p.Kind) + ":" + p.Key.String()
}

// CachedPage is a rendered page body.
type CachedPage struct {
	PageID    PageID
	Body      []byte
	Generated time.Time
}
