// Playtrack - Game Server Player Activity Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/playtrack

package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/playtrack/internal/models"
)

type shard struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

func newShard() *shard {
	return &shard{sessions: make(map[uuid.UUID]*models.Session)}
}
