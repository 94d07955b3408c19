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
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
	"github.com/sage-x-project/vps-signal/store"
)

// PublishDailyPoint locates the replicationFactor owners of pointHash,
// writes locally if self is among them, fans out to the remainder, and
// reports success once at least writeQuorum owners (including self) have
// acknowledged.
func (e *Engine) PublishDailyPoint(ctx context.Context, pointHash, peerID string, deadDrop []byte, relayID string, ttl time.Duration) (*PublishResult, error) {
	owners := e.owners(pointHash)
	if len(owners) == 0 {
		return nil, fmt.Errorf("rendezvous: no owners available for point %s", pointHash)
	}

	now := time.Now()
	entry := &store.DailyPointEntry{
		PointHash:   pointHash,
		PeerID:      peerID,
		DeadDrop:    deadDrop,
		RelayID:     relayID,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
		VectorClock: store.VectorClock{}.Increment(e.id.ServerID),
	}

	var acked int64
	var g errgroup.Group
	for _, n := range owners {
		n := n
		g.Go(func() error {
			if e.isSelf(n) {
				if err := e.store.UpsertDailyPoint(ctx, entry); err != nil {
					logger.Warn("local daily point write failed", logger.Error(err))
					return nil
				}
				atomic.AddInt64(&acked, 1)
				return nil
			}
			resp, err := e.transport.Replicate(ctx, n.ServerID, &ReplicateRequest{Kind: ReplicateDailyPoint, DailyPoint: entry})
			if err != nil || !resp.OK {
				logger.Warn("remote daily point replication failed", logger.String("peer", n.ServerID), logger.Error(err))
				metrics.RendezvousReplicationFailuresTotal.Inc()
				return nil
			}
			atomic.AddInt64(&acked, 1)
			return nil
		})
	}
	_ = g.Wait()

	result := &PublishResult{Acked: int(acked), Needed: e.writeQuorum()}
	result.Partial = result.Acked < result.Needed
	metrics.RendezvousDailyPointPublishTotal.Inc()
	return result, nil
}

// QueryDailyPoint queries up to readQuorum owners in parallel, unions
// their results, and de-duplicates by (pointHash, peerId) keeping the
// entry with the higher vector clock. Owners this server could not reach
// or does not own are returned as redirects.
func (e *Engine) QueryDailyPoint(ctx context.Context, pointHash string) (*PartialResult, error) {
	owners := e.owners(pointHash)
	if len(owners) == 0 {
		return &PartialResult{}, nil
	}

	queried := owners
	if len(queried) > e.readQuorum() {
		queried = shuffled(owners)[:e.readQuorum()]
	}

	type queryOutcome struct {
		entries  []*store.DailyPointEntry
		redirect *Redirect
	}
	outcomes := make([]queryOutcome, len(queried))
	var g errgroup.Group
	for i, n := range queried {
		i, n := i, n
		g.Go(func() error {
			if e.isSelf(n) {
				entries, err := e.store.QueryDailyPoint(ctx, pointHash)
				if err != nil {
					return nil // Store fails open for queries.
				}
				outcomes[i] = queryOutcome{entries: entries}
				return nil
			}
			resp, err := e.transport.QueryForward(ctx, n.ServerID, &QueryRequest{Kind: QueryDailyPoint, Key: pointHash})
			if err != nil {
				r := redirectFor(n)
				outcomes[i] = queryOutcome{redirect: &r}
				return nil
			}
			outcomes[i] = queryOutcome{entries: resp.DailyPoints}
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]*store.DailyPointEntry)
	var redirects []Redirect
	for _, o := range outcomes {
		if o.redirect != nil {
			redirects = append(redirects, *o.redirect)
			continue
		}
		for _, entry := range o.entries {
			mergeDailyPoint(merged, entry)
		}
	}
	out := make([]*store.DailyPointEntry, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return &PartialResult{DailyPoints: out, Redirects: redirects}, nil
}

func mergeDailyPoint(into map[string]*store.DailyPointEntry, e *store.DailyPointEntry) {
	key := e.PointHash + "\x00" + e.PeerID
	existing, ok := into[key]
	if !ok {
		into[key] = e
		return
	}
	if e.VectorClock.Dominates(existing.VectorClock) {
		into[key] = e
		return
	}
	if existing.VectorClock.Dominates(e.VectorClock) {
		return
	}
	// Concurrent: neither dominates. Keep the later-expiring entry,
	// matching the store upsert's tiebreak (§4.6 op-1).
	if e.ExpiresAt.After(existing.ExpiresAt) {
		into[key] = e
	}
}
