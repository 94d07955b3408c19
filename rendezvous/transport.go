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

import "context"

// PeerTransport is the narrow capability the engine needs from the
// server-to-server transport layer: replicate one write to a remote
// owner and forward one query to a remote owner. Transport owns
// connections and envelope framing; the engine only needs delivery.
type PeerTransport interface {
	Replicate(ctx context.Context, serverID string, req *ReplicateRequest) (*ReplicateResponse, error)
	QueryForward(ctx context.Context, serverID string, req *QueryRequest) (*QueryResponse, error)
}
