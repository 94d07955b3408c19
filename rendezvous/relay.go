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
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
	"github.com/sage-x-project/vps-signal/store"
)

// AnnounceRelay registers peerID as willing to act as a WebRTC
// rendezvous relay, replicated across the relay's owners the same way
// as daily points and hourly tokens.
func (e *Engine) AnnounceRelay(ctx context.Context, peerID string, maxConnections int, publicKey []byte) (*PublishResult, error) {
	now := time.Now()
	entry := &store.RelayEntry{
		PeerID:         peerID,
		MaxConnections: maxConnections,
		ConnectedCount: 0,
		PublicKey:      publicKey,
		RegisteredAt:   now,
		LastUpdate:     now,
	}
	result, err := e.replicateRelay(ctx, entry)
	if err == nil {
		metrics.RendezvousRelayAnnounceTotal.Inc()
	}
	return result, err
}

// UpdateRelayLoad reports a relay's current connectedCount, replicated
// the same way as AnnounceRelay.
func (e *Engine) UpdateRelayLoad(ctx context.Context, peerID string, connectedCount int) (*PublishResult, error) {
	existing, err := e.store.GetRelay(ctx, peerID)
	maxConnections := 0
	publicKey := []byte(nil)
	registeredAt := time.Now()
	if err == nil && existing != nil {
		maxConnections = existing.MaxConnections
		publicKey = existing.PublicKey
		registeredAt = existing.RegisteredAt
	}
	entry := &store.RelayEntry{
		PeerID:         peerID,
		MaxConnections: maxConnections,
		ConnectedCount: connectedCount,
		PublicKey:      publicKey,
		RegisteredAt:   registeredAt,
		LastUpdate:     time.Now(),
	}
	return e.replicateRelay(ctx, entry)
}

func (e *Engine) replicateRelay(ctx context.Context, entry *store.RelayEntry) (*PublishResult, error) {
	owners := e.owners(entry.PeerID)
	if len(owners) == 0 {
		return &PublishResult{Needed: e.writeQuorum()}, nil
	}

	var acked int64
	var g errgroup.Group
	for _, n := range owners {
		n := n
		g.Go(func() error {
			if e.isSelf(n) {
				if err := e.store.UpsertRelay(ctx, entry); err != nil {
					logger.Warn("local relay write failed", logger.Error(err))
					return nil
				}
				atomic.AddInt64(&acked, 1)
				return nil
			}
			resp, err := e.transport.Replicate(ctx, n.ServerID, &ReplicateRequest{Kind: ReplicateRelay, Relay: entry})
			if err != nil || !resp.OK {
				logger.Warn("remote relay replication failed", logger.String("peer", n.ServerID), logger.Error(err))
				metrics.RendezvousReplicationFailuresTotal.Inc()
				return nil
			}
			atomic.AddInt64(&acked, 1)
			return nil
		})
	}
	_ = g.Wait()

	return &PublishResult{Acked: int(acked), Needed: e.writeQuorum(), Partial: int(acked) < e.writeQuorum()}, nil
}

// PickAvailableRelays returns up to limit relays, chosen uniformly at
// random, excluding peerID and any relay whose connectedCount /
// maxConnections is at or above maxCapRatio. maxCapRatio<=0 falls back
// to DefaultMaxCapRatio.
func (e *Engine) PickAvailableRelays(ctx context.Context, exclude string, maxCapRatio float64, limit int) ([]*store.RelayEntry, error) {
	if maxCapRatio <= 0 {
		maxCapRatio = DefaultMaxCapRatio
	}
	all, err := e.store.ListRelays(ctx)
	if err != nil {
		return nil, nil // Store fails open for queries.
	}

	candidates := make([]*store.RelayEntry, 0, len(all))
	for _, r := range all {
		if r.PeerID == exclude {
			continue
		}
		if r.MaxConnections <= 0 {
			continue
		}
		if float64(r.ConnectedCount)/float64(r.MaxConnections) >= maxCapRatio {
			continue
		}
		candidates = append(candidates, r)
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
