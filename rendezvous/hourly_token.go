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

// PublishHourlyToken is the short-TTL analogue of PublishDailyPoint.
// Presence of a live hourly token signals a *live* match candidate.
func (e *Engine) PublishHourlyToken(ctx context.Context, tokenHash, peerID, relayID string, ttl time.Duration) (*PublishResult, error) {
	owners := e.owners(tokenHash)
	if len(owners) == 0 {
		return nil, fmt.Errorf("rendezvous: no owners available for token %s", tokenHash)
	}

	now := time.Now()
	entry := &store.HourlyTokenEntry{
		TokenHash:   tokenHash,
		PeerID:      peerID,
		RelayID:     relayID,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		VectorClock: store.VectorClock{}.Increment(e.id.ServerID),
	}

	var acked int64
	var g errgroup.Group
	for _, n := range owners {
		n := n
		g.Go(func() error {
			if e.isSelf(n) {
				if err := e.store.UpsertHourlyToken(ctx, entry); err != nil {
					logger.Warn("local hourly token write failed", logger.Error(err))
					return nil
				}
				atomic.AddInt64(&acked, 1)
				return nil
			}
			resp, err := e.transport.Replicate(ctx, n.ServerID, &ReplicateRequest{Kind: ReplicateHourlyToken, HourlyToken: entry})
			if err != nil || !resp.OK {
				logger.Warn("remote hourly token replication failed", logger.String("peer", n.ServerID), logger.Error(err))
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
	metrics.RendezvousHourlyTokenPublishTotal.Inc()
	return result, nil
}

// QueryHourlyToken is the short-TTL analogue of QueryDailyPoint.
func (e *Engine) QueryHourlyToken(ctx context.Context, tokenHash string) (*PartialResult, error) {
	owners := e.owners(tokenHash)
	if len(owners) == 0 {
		return &PartialResult{}, nil
	}

	queried := owners
	if len(queried) > e.readQuorum() {
		queried = shuffled(owners)[:e.readQuorum()]
	}

	type queryOutcome struct {
		entries  []*store.HourlyTokenEntry
		redirect *Redirect
	}
	outcomes := make([]queryOutcome, len(queried))
	var g errgroup.Group
	for i, n := range queried {
		i, n := i, n
		g.Go(func() error {
			if e.isSelf(n) {
				entries, err := e.store.QueryHourlyToken(ctx, tokenHash)
				if err != nil {
					return nil
				}
				outcomes[i] = queryOutcome{entries: entries}
				return nil
			}
			resp, err := e.transport.QueryForward(ctx, n.ServerID, &QueryRequest{Kind: QueryHourlyToken, Key: tokenHash})
			if err != nil {
				metrics.RendezvousQueryForwardFailuresTotal.Inc()
				r := redirectFor(n)
				outcomes[i] = queryOutcome{redirect: &r}
				return nil
			}
			outcomes[i] = queryOutcome{entries: resp.HourlyTokens}
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]*store.HourlyTokenEntry)
	var redirects []Redirect
	for _, o := range outcomes {
		if o.redirect != nil {
			redirects = append(redirects, *o.redirect)
			continue
		}
		for _, entry := range o.entries {
			mergeHourlyToken(merged, entry)
		}
	}
	out := make([]*store.HourlyTokenEntry, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return &PartialResult{HourlyTokens: out, Redirects: redirects}, nil
}

func mergeHourlyToken(into map[string]*store.HourlyTokenEntry, e *store.HourlyTokenEntry) {
	key := e.TokenHash + "\x00" + e.PeerID
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
