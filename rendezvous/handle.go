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
)

// HandleReplicate applies an inbound replication write from a remote
// owner. Called by the transport layer's rv_replicate envelope handler.
func (e *Engine) HandleReplicate(ctx context.Context, req *ReplicateRequest) (*ReplicateResponse, error) {
	switch req.Kind {
	case ReplicateDailyPoint:
		if req.DailyPoint == nil {
			return &ReplicateResponse{Error: "missing dailyPoint payload"}, nil
		}
		if err := e.store.UpsertDailyPoint(ctx, req.DailyPoint); err != nil {
			return &ReplicateResponse{Error: err.Error()}, nil
		}
	case ReplicateHourlyToken:
		if req.HourlyToken == nil {
			return &ReplicateResponse{Error: "missing hourlyToken payload"}, nil
		}
		if err := e.store.UpsertHourlyToken(ctx, req.HourlyToken); err != nil {
			return &ReplicateResponse{Error: err.Error()}, nil
		}
	case ReplicateRelay:
		if req.Relay == nil {
			return &ReplicateResponse{Error: "missing relay payload"}, nil
		}
		if err := e.store.UpsertRelay(ctx, req.Relay); err != nil {
			return &ReplicateResponse{Error: err.Error()}, nil
		}
	default:
		return nil, fmt.Errorf("rendezvous: unknown replicate kind %q", req.Kind)
	}
	return &ReplicateResponse{OK: true}, nil
}

// HandleQueryForward answers an inbound query forward from a peer that
// does not own this key locally. Called by the transport layer's
// rv_query_forward envelope handler.
func (e *Engine) HandleQueryForward(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	switch req.Kind {
	case QueryDailyPoint:
		entries, err := e.store.QueryDailyPoint(ctx, req.Key)
		if err != nil {
			return &QueryResponse{}, nil
		}
		return &QueryResponse{DailyPoints: entries}, nil
	case QueryHourlyToken:
		entries, err := e.store.QueryHourlyToken(ctx, req.Key)
		if err != nil {
			return &QueryResponse{}, nil
		}
		return &QueryResponse{HourlyTokens: entries}, nil
	default:
		return nil, fmt.Errorf("rendezvous: unknown query kind %q", req.Kind)
	}
}
