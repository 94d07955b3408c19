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

package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sage-x-project/vps-signal/gossip"
)

// WireGossip registers the KindGossip envelope handler that decodes
// inbound frames and hands them to swim.HandleMessage using the
// sender's handshake-verified public key.
func (m *Manager) WireGossip(swim *gossip.SWIM) {
	m.RegisterHandler(KindGossip, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var msg gossip.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("transport: decode gossip envelope: %w", err)
		}
		p, ok := m.Peer(peerServerID)
		if !ok {
			return nil, fmt.Errorf("transport: no peer record for %s", peerServerID)
		}
		swim.HandleMessage(context.Background(), p.PublicKey, &msg)
		return nil, nil
	})
}
