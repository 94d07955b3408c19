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

package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
)

func testCfg(url string) config.BootstrapConfig {
	return config.BootstrapConfig{
		ServerURL:         url,
		HeartbeatInterval: 20 * time.Millisecond,
		RetryInterval:     5 * time.Millisecond,
		MaxRetries:        0,
		RequestTimeout:    time.Second,
	}
}

func TestRegisterSendsExpectedBodyAndParsesPeers(t *testing.T) {
	id, err := identity.Generate("test")
	require.NoError(t, err)

	var gotReq registerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/servers", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(registerResponse{Peers: []PeerInfo{{ServerID: "peer-1", Endpoint: "wss://peer-1"}}})
	}))
	defer srv.Close()

	c := New(id, testCfg(srv.URL), "wss://self", "us-east")
	peers, err := c.Register(context.Background())
	require.NoError(t, err)
	require.Equal(t, id.ServerID, gotReq.ServerID)
	require.Equal(t, "wss://self", gotReq.Endpoint)
	require.Equal(t, "us-east", gotReq.Region)
	require.Len(t, peers, 1)
	require.Equal(t, "peer-1", peers[0].ServerID)
}

func TestRegisterRetriesUntilDirectoryRecovers(t *testing.T) {
	id, err := identity.Generate("test")
	require.NoError(t, err)

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(registerResponse{})
	}))
	defer srv.Close()

	c := New(id, testCfg(srv.URL), "wss://self", "")
	peers, err := c.Register(context.Background())
	require.Error(t, err) // first call still fails; Register itself does not retry

	ok := c.registerWithRetry(context.Background(), nil)
	require.True(t, ok)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
	_ = peers
}

func TestDeregisterSendsDelete(t *testing.T) {
	id, err := identity.Generate("test")
	require.NoError(t, err)

	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	c := New(id, testCfg(srv.URL), "wss://self", "")
	require.NoError(t, c.Deregister(context.Background()))
	require.Equal(t, http.MethodDelete, gotMethod)
	require.Equal(t, "/servers/"+id.ServerID, gotPath)
}

func TestRunDeliversHeartbeatPeersUntilCancelled(t *testing.T) {
	id, err := identity.Generate("test")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/servers":
			_ = json.NewEncoder(w).Encode(registerResponse{Peers: []PeerInfo{{ServerID: "seed-1"}}})
		case "/servers/heartbeat":
			_ = json.NewEncoder(w).Encode(heartbeatResponse{Peers: []PeerInfo{{ServerID: "seed-1"}, {ServerID: "seed-2"}}})
		}
	}))
	defer srv.Close()

	c := New(id, testCfg(srv.URL), "wss://self", "")

	var calls int32
	var lastPeerCount int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func(peers []PeerInfo) {
			atomic.AddInt32(&calls, 1)
			atomic.StoreInt32(&lastPeerCount, int32(len(peers)))
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.Equal(t, int32(2), atomic.LoadInt32(&lastPeerCount))
}
