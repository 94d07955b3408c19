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

// Package clienthandler accepts client WebSocket connections, proves
// server identity with a signed server_info frame, rate-limits and
// bounds inbound frames, and dispatches the closed message set of the
// client protocol to the pairing, signaling and rendezvous engines.
package clienthandler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
	"github.com/sage-x-project/vps-signal/pairing"
	"github.com/sage-x-project/vps-signal/rendezvous"
	"github.com/sage-x-project/vps-signal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts client WebSocket connections and wires each one to
// the shared pairing/signaling/rendezvous engines.
type Server struct {
	id         *identity.ServerIdentity
	cfg        config.ClientConfig
	cleanup    config.CleanupConfig
	pairing    *pairing.Registry
	signaling  *signaling.Relay
	rendezvous *rendezvous.Engine

	mu           sync.Mutex
	conns        map[string]*connection
	perPeerCount map[string]int
}

// New creates a Server. The three engines are shared across every
// connection this Server accepts. cleanup supplies the default
// daily-point/hourly-token TTL applied when a publish message omits
// ttlMs.
func New(id *identity.ServerIdentity, cfg config.ClientConfig, cleanup config.CleanupConfig, pairingRegistry *pairing.Registry, relay *signaling.Relay, rvEngine *rendezvous.Engine) *Server {
	return &Server{
		id:           id,
		cfg:          cfg,
		cleanup:      cleanup,
		pairing:      pairingRegistry,
		signaling:    relay,
		rendezvous:   rvEngine,
		conns:        make(map[string]*connection),
		perPeerCount: make(map[string]int),
	}
}

// Handler returns the http.Handler that upgrades incoming requests to
// WebSocket client connections.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerHost := remoteHost(r.RemoteAddr)
		if !s.admitPeer(peerHost) {
			http.Error(w, "too many connections from this host", http.StatusTooManyRequests)
			return
		}

		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.releasePeer(peerHost)
			return
		}

		connID := uuid.NewString()
		conn := newConnection(connID, wsConn, s)
		conn.peerHost = peerHost

		s.mu.Lock()
		s.conns[connID] = conn
		s.mu.Unlock()

		if err := s.sendServerInfo(conn); err != nil {
			logger.Warn("clienthandler: server_info failed", logger.String("conn", connID), logger.Error(err))
			s.releasePeer(peerHost)
			conn.closeConn()
			return
		}

		metrics.ClientConnectionsTotal.Inc()
		conn.run()
	})
}

func (s *Server) admitPeer(peerHost string) bool {
	max := s.cfg.MaxConnectionsPerPeer
	if max <= 0 {
		max = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perPeerCount[peerHost] >= max {
		return false
	}
	s.perPeerCount[peerHost]++
	return true
}

func (s *Server) releasePeer(peerHost string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perPeerCount[peerHost] > 0 {
		s.perPeerCount[peerHost]--
	}
}

func (s *Server) removeConnection(c *connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.releasePeer(c.peerHost)
	metrics.ClientDisconnectionsTotal.Inc()
}

// unregisterAll releases every piece of server-side state tied to a
// closing connection: its registered pairing code (which in turn
// cancels its pending pair requests, per §5).
func (s *Server) unregisterAll(ctx context.Context, c *connection) {
	c.mu.Lock()
	code := c.registeredAs
	c.mu.Unlock()
	if code == "" {
		return
	}
	s.pairing.Unregister(ctx, code)
}

func (s *Server) connByID(connID string) (*connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[connID]
	return c, ok
}

// ConnectionCount returns the number of currently connected clients,
// for the process owner's /stats endpoint.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) sendServerInfo(c *connection) error {
	nonce := uuid.NewString()
	payload := serverInfoPayload{ServerID: s.id.ServerID, Nonce: nonce}
	sig, _, err := s.id.Sign(payload)
	if err != nil {
		return fmt.Errorf("clienthandler: sign server_info: %w", err)
	}
	c.send(&serverInfoMsg{
		Type:      typeServerInfo,
		ServerID:  s.id.ServerID,
		PublicKey: s.id.PublicKey,
		Nonce:     nonce,
		Signature: sig,
	})
	return nil
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
