// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package rendezvous

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sage-x-project/vps-signal/store"
)

func TestMergeDailyPointConcurrentKeepsLaterExpiry(t *testing.T) {
	now := time.Now()
	into := map[string]*store.DailyPointEntry{}

	older := &store.DailyPointEntry{
		PointHash:   "p1",
		PeerID:      "peer-a",
		ExpiresAt:   now,
		VectorClock: store.VectorClock{"node-a": 1},
	}
	mergeDailyPoint(into, older)

	// Concurrent write from a different server: neither vector clock
	// dominates, so the later expiresAt should win (§4.6 op-1).
	newer := &store.DailyPointEntry{
		PointHash:   "p1",
		PeerID:      "peer-a",
		ExpiresAt:   now.Add(time.Hour),
		VectorClock: store.VectorClock{"node-b": 1},
	}
	mergeDailyPoint(into, newer)

	got := into["p1\x00peer-a"]
	assert.Same(t, newer, got)
}

func TestMergeDailyPointDominatingClockWinsRegardlessOfExpiry(t *testing.T) {
	now := time.Now()
	into := map[string]*store.DailyPointEntry{}

	latest := &store.DailyPointEntry{
		PointHash:   "p1",
		PeerID:      "peer-a",
		ExpiresAt:   now.Add(time.Hour),
		VectorClock: store.VectorClock{"node-a": 2},
	}
	mergeDailyPoint(into, latest)

	// Stale write with an earlier clock but a later expiresAt must not
	// override a dominating entry.
	stale := &store.DailyPointEntry{
		PointHash:   "p1",
		PeerID:      "peer-a",
		ExpiresAt:   now.Add(2 * time.Hour),
		VectorClock: store.VectorClock{"node-a": 1},
	}
	mergeDailyPoint(into, stale)

	got := into["p1\x00peer-a"]
	assert.Same(t, latest, got)
}

func TestMergeHourlyTokenConcurrentKeepsLaterExpiry(t *testing.T) {
	now := time.Now()
	into := map[string]*store.HourlyTokenEntry{}

	older := &store.HourlyTokenEntry{
		TokenHash:   "t1",
		PeerID:      "peer-a",
		ExpiresAt:   now,
		VectorClock: store.VectorClock{"node-a": 1},
	}
	mergeHourlyToken(into, older)

	newer := &store.HourlyTokenEntry{
		TokenHash:   "t1",
		PeerID:      "peer-a",
		ExpiresAt:   now.Add(time.Hour),
		VectorClock: store.VectorClock{"node-b": 1},
	}
	mergeHourlyToken(into, newer)

	got := into["t1\x00peer-a"]
	assert.Same(t, newer, got)
}
