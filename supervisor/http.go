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
	"encoding/json"
	"net/http"
	"time"

	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// buildMux assembles the one HTTP mux a server process serves: the
// server-to-server transport WebSocket, the client-facing WebSocket,
// and the operator-facing /health, /stats, /metrics endpoints.
func (s *Supervisor) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/transport", s.transportServer.Handler())
	mux.Handle("/ws", s.clientServer.Handler())

	if s.cfg.Health.Enabled {
		mux.HandleFunc(s.cfg.Health.Path, s.handleHealth)
	}
	mux.HandleFunc("/stats", s.handleStats)
	if s.cfg.Metrics.Enabled {
		mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}
	return mux
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if snapshot.Status == healthUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(snapshot)
}

// statsResponse is a point-in-time operational summary, distinct from
// the Prometheus series served at /metrics.
type statsResponse struct {
	ServerID          string    `json:"serverId"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	ClientConnections int       `json:"clientConnections"`
	TransportPeers    []string  `json:"transportPeers"`
	RingNodes         int       `json:"ringNodes"`
	MembershipSize    int       `json:"membershipSize"`
	Timestamp         time.Time `json:"timestamp"`
}

func (s *Supervisor) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := statsResponse{
		ServerID:          s.id.ServerID,
		UptimeSeconds:     time.Since(s.startedAt).Seconds(),
		ClientConnections: s.clientServer.ConnectionCount(),
		TransportPeers:    s.manager.Peers(),
		RingNodes:         len(s.ring.Nodes()),
		MembershipSize:    len(s.membership.Snapshot()),
		Timestamp:         time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
