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

import (
	"context"
	"fmt"
)

// HandleForward dispatches one inbound cross-server pairing operation
// to the method that implements it. It is the single entry point the
// transport bridge calls for every pair_forward envelope.
func (r *Registry) HandleForward(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	switch req.Kind {
	case ForwardReserve:
		return r.HandleReserve(req), nil
	case ForwardRelease:
		return r.HandleRelease(req), nil
	case ForwardPairRequest:
		return r.HandleForwardPairRequest(ctx, req), nil
	case ForwardPairCancel:
		return r.HandleForwardPairCancel(req), nil
	case ForwardPairResponse:
		return r.HandleForwardPairResponse(req), nil
	case ForwardPairWarning:
		return r.HandleForwardPairWarning(req), nil
	case ForwardPairExpired:
		return r.HandleForwardPairExpired(req), nil
	default:
		return nil, fmt.Errorf("pairing: unknown forward kind %q", req.Kind)
	}
}
