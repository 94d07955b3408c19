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

	"github.com/sage-x-project/vps-signal/pairing"
)

// Forward implements pairing.PeerTransport: it forwards req to
// serverID as a pair_forward envelope and waits for the reply.
func (m *Manager) Forward(ctx context.Context, serverID string, req *pairing.ForwardRequest) (*pairing.ForwardResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal pair_forward request: %w", err)
	}
	reply, err := m.Call(ctx, serverID, &Envelope{Kind: KindPairForward, Payload: payload})
	if err != nil {
		return nil, err
	}
	var resp pairing.ForwardResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode pair_forward response: %w", err)
	}
	return &resp, nil
}

// WirePairing registers the pair_forward envelope handler that decodes
// inbound requests and dispatches them to registry.
func (m *Manager) WirePairing(registry *pairing.Registry) {
	m.RegisterHandler(KindPairForward, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var req pairing.ForwardRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("transport: decode pair_forward envelope: %w", err)
		}
		resp, err := registry.HandleForward(context.Background(), &req)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal pair_forward response: %w", err)
		}
		return &Envelope{Kind: KindPairForward, Payload: payload}, nil
	})
}
