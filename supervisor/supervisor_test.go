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
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Network.Host = "127.0.0.1"
	cfg.Network.Port = freePort(t)
	cfg.Network.PublicEndpoint = fmt.Sprintf("ws://127.0.0.1:%d/transport", cfg.Network.Port)
	cfg.Identity.KeyPath = filepath.Join(t.TempDir(), "identity.json")
	cfg.Storage.Type = "memory"
	cfg.DHT.WriteQuorum = 1
	cfg.DHT.ReadQuorum = 1
	cfg.DHT.ReplicationFactor = 1
	cfg.Gossip.Interval = 50 * time.Millisecond
	cfg.Cleanup.Interval = 50 * time.Millisecond
	cfg.Health.Enabled = true
	cfg.Health.Path = "/health"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	cfg.Bootstrap.ServerURL = ""
	return cfg
}

func TestSupervisorServesHealthAndStats(t *testing.T) {
	cfg := testConfig(t)
	sup, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Network.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health systemHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, healthHealthy, health.Status)
	require.Contains(t, health.Checks, "store")
	require.Contains(t, health.Checks, "ring_quorum")

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	var stats statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Equal(t, sup.id.ServerID, stats.ServerID)
	require.Equal(t, 0, stats.ClientConnections)
	require.Equal(t, 1, stats.RingNodes)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cancel()
	require.NoError(t, <-runDone)
}

func TestSupervisorRingSyncSeedsSelf(t *testing.T) {
	cfg := testConfig(t)
	sup, err := New(cfg)
	require.NoError(t, err)

	nodes := sup.ring.Nodes()
	require.Len(t, nodes, 1)
	require.Equal(t, sup.id.ServerID, nodes[0].ServerID)

	sup.syncRingFromMembership()
	nodes = sup.ring.Nodes()
	require.Len(t, nodes, 1)
	require.Equal(t, sup.id.ServerID, nodes[0].ServerID)
}

func TestOpenStoreRejectsUnknownType(t *testing.T) {
	_, err := openStore(config.StorageConfig{Type: "dynamodb"})
	require.Error(t, err)
}
