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

package supervisor

import (
	"context"
	"time"

	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/store"
)

// runRingSync periodically reconciles the hash ring's node set against
// gossip's membership table. This is the only bridge between the two:
// gossip owns liveness detection, the ring owns rendezvous-key routing,
// and neither package imports the other.
func (s *Supervisor) runRingSync(ctx context.Context) {
	interval := s.cfg.Gossip.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.syncRingFromMembership()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncRingFromMembership()
		}
	}
}

// syncRingFromMembership walks the current membership snapshot and
// makes the ring agree with it: every known peer gets an up-to-date
// ring entry (AddNode replaces in place), and peers membership has
// dropped entirely (GC'd failed/left nodes) are removed from the ring
// too so stale routing targets don't linger.
func (s *Supervisor) syncRingFromMembership() {
	entries := s.membership.Snapshot()
	present := make(map[string]bool, len(entries))

	for _, e := range entries {
		present[e.ServerID] = true
		s.ring.AddNode(hashring.Node{
			ServerID: e.ServerID,
			NodeID:   e.NodeID,
			Endpoint: e.Endpoint,
			Status:   ringStatus(e.Status),
		})
	}

	for _, n := range s.ring.Nodes() {
		if !present[n.ServerID] {
			s.ring.RemoveNode(n.ServerID)
		}
	}
}

func ringStatus(s store.MembershipStatus) hashring.NodeStatus {
	switch s {
	case store.StatusAlive:
		return hashring.StatusAlive
	case store.StatusSuspect:
		return hashring.StatusSuspect
	case store.StatusFailed:
		return hashring.StatusFailed
	default:
		return hashring.StatusLeft
	}
}
