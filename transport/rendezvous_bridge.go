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

	"github.com/sage-x-project/vps-signal/rendezvous"
)

// Replicate implements rendezvous.PeerTransport: it forwards req to
// serverID as an rv_replicate envelope and waits for the reply.
func (m *Manager) Replicate(ctx context.Context, serverID string, req *rendezvous.ReplicateRequest) (*rendezvous.ReplicateResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal replicate request: %w", err)
	}
	reply, err := m.Call(ctx, serverID, &Envelope{Kind: KindRVReplicate, Payload: payload})
	if err != nil {
		return nil, err
	}
	var resp rendezvous.ReplicateResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode replicate response: %w", err)
	}
	return &resp, nil
}

// QueryForward implements rendezvous.PeerTransport: it forwards req to
// serverID as an rv_query_forward envelope and waits for the reply.
func (m *Manager) QueryForward(ctx context.Context, serverID string, req *rendezvous.QueryRequest) (*rendezvous.QueryResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal query forward request: %w", err)
	}
	reply, err := m.Call(ctx, serverID, &Envelope{Kind: KindRVQueryForward, Payload: payload})
	if err != nil {
		return nil, err
	}
	var resp rendezvous.QueryResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("transport: decode query forward response: %w", err)
	}
	return &resp, nil
}

// WireRendezvous registers the rv_replicate / rv_query_forward envelope
// handlers that decode inbound requests and dispatch them to engine.
func (m *Manager) WireRendezvous(engine *rendezvous.Engine) {
	m.RegisterHandler(KindRVReplicate, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var req rendezvous.ReplicateRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("transport: decode rv_replicate envelope: %w", err)
		}
		resp, err := engine.HandleReplicate(context.Background(), &req)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal rv_replicate response: %w", err)
		}
		return &Envelope{Kind: KindRVReplicate, Payload: payload}, nil
	})

	m.RegisterHandler(KindRVQueryForward, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var req rendezvous.QueryRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, fmt.Errorf("transport: decode rv_query_forward envelope: %w", err)
		}
		resp, err := engine.HandleQueryForward(context.Background(), &req)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal rv_query_forward response: %w", err)
		}
		return &Envelope{Kind: KindRVQueryForward, Payload: payload}, nil
	})
}
