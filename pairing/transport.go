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

package pairing

import "context"

// PeerTransport is the narrow capability the registry needs from the
// server-to-server transport layer: deliver one pairing operation to a
// named server and wait for its reply. Transport owns connections and
// envelope framing; the registry only needs delivery.
type PeerTransport interface {
	Forward(ctx context.Context, serverID string, req *ForwardRequest) (*ForwardResponse, error)
}
