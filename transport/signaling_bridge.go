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

	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/signaling"
)

// ForwardSignal implements signaling.PeerTransport. Relay traffic is
// fire-and-forget: the caller has already delivered its own offer/answer
// to the client and does not block a peer's acknowledgement on it.
func (m *Manager) ForwardSignal(ctx context.Context, serverID string, msg *signaling.ForwardMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal signal_forward message: %w", err)
	}
	return m.Send(ctx, serverID, &Envelope{Kind: KindSignalForward, Payload: payload})
}

// WireSignaling registers the signal_forward envelope handler that
// decodes inbound relay messages and hands them to relay.
func (m *Manager) WireSignaling(relay *signaling.Relay) {
	m.RegisterHandler(KindSignalForward, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var msg signaling.ForwardMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, fmt.Errorf("transport: decode signal_forward envelope: %w", err)
		}
		if err := relay.HandleForward(&msg); err != nil {
			logger.Warn("transport: signal_forward delivery failed", logger.Error(err))
		}
		return nil, nil
	})
}
