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
	"github.com/sage-x-project/vps-signal/bootstrap"
	"github.com/sage-x-project/vps-signal/gossip"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/store"
)

// onBootstrapPeers is bootstrapClient.Run's peer callback: it adapts
// the directory's fleet listing into gossip membership entries.
// bootstrap knows nothing about gossip or the hash ring by design (see
// DESIGN.md); this is the one place that translation happens.
//
// A peer already known to membership is left alone — SWIM's own
// probing is the source of truth for liveness once a peer has been
// seen, and a directory snapshot must never downgrade that. New peers
// are seeded as alive so SWIM starts probing them; runRingSync folds
// them into the hash ring on its next tick.
func (s *Supervisor) onBootstrapPeers(peers []bootstrap.PeerInfo) {
	for _, p := range peers {
		if p.ServerID == s.id.ServerID {
			continue
		}
		if _, known := s.membership.Get(p.ServerID); known {
			continue
		}
		logger.Info("supervisor: seeding peer from directory", logger.String("serverId", p.ServerID), logger.String("endpoint", p.Endpoint))
		s.membership.Upsert(gossip.Entry{
			ServerID:  p.ServerID,
			Endpoint:  p.Endpoint,
			PublicKey: p.PublicKey,
			Status:    store.StatusAlive,
		})
	}
}
