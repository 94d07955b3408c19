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
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// Server accepts incoming server-to-server WebSocket connections,
// performs the signed handshake (§4.5), and hands verified connections
// to Manager for dedupe/dispatch.
type Server struct {
	id       *identity.ServerIdentity
	endpoint string
	manager  *Manager
	upgrader websocket.Upgrader

	handshakeTimeout time.Duration
	pingInterval     time.Duration
	pongTimeout      time.Duration
}

// NewServer creates the incoming-connection side of the transport.
func NewServer(id *identity.ServerIdentity, endpoint string, manager *Manager, handshakeTimeout, pingInterval, pongTimeout time.Duration) *Server {
	return &Server{
		id:       id,
		endpoint: endpoint,
		manager:  manager,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		handshakeTimeout: handshakeTimeout,
		pingInterval:     pingInterval,
		pongTimeout:      pongTimeout,
	}
}

// Handler returns the http.Handler to mount at the server-to-server
// WebSocket path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		s.handleIncoming(conn)
	})
}

func (s *Server) handleIncoming(conn *websocket.Conn) {
	peer, err := s.handshakeIncoming(conn)
	if err != nil {
		logger.Warn("incoming handshake failed", logger.Error(err))
		_ = conn.Close()
		return
	}
	if !s.manager.adopt(peer, false) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4001, "duplicate"))
		_ = conn.Close()
	}
}

func (s *Server) handshakeIncoming(conn *websocket.Conn) (peer *Peer, err error) {
	metrics.HandshakesInitiated.WithLabelValues("server").Inc()
	start := time.Now()
	defer func() {
		metrics.HandshakeDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		} else {
			metrics.HandshakesCompleted.WithLabelValues("success").Inc()
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))

	var f frame
	if readErr := conn.ReadJSON(&f); readErr != nil {
		metrics.HandshakesFailed.WithLabelValues("timeout").Inc()
		return nil, fmt.Errorf("transport: read handshake: %w", readErr)
	}
	if f.Type != frameHandshake || f.Handshake == nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("transport: expected handshake frame, got %q", f.Type)
	}
	if verifyErr := verifyHandshake(f.Handshake); verifyErr != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		return nil, verifyErr
	}

	ack, ackErr := newHandshake(s.id, s.endpoint)
	if ackErr != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		return nil, ackErr
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.handshakeTimeout))
	if writeErr := conn.WriteJSON(&frame{Type: frameHandshakeAck, Handshake: ack}); writeErr != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("transport: write handshake_ack: %w", writeErr)
	}

	return newPeer(f.Handshake, conn, s.pingInterval, s.pongTimeout), nil
}
