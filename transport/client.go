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
	"fmt"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/internal/metrics"
)

// Dialer maintains an outgoing connection to one peer, reconnecting
// with capped exponential backoff and ±1s jitter on every drop (§4.5).
type Dialer struct {
	id      *identity.ServerIdentity
	manager *Manager
	cfg     config.TransportConfig

	selfEndpointAddr string
	peerServerID     string
	peerEndpoint     string
}

// NewDialer creates a Dialer for one known peer endpoint. selfEndpoint
// is this server's own advertised endpoint, sent in the handshake so
// the peer can dial us back.
func NewDialer(id *identity.ServerIdentity, manager *Manager, cfg config.TransportConfig, selfEndpoint, peerServerID, peerEndpoint string) *Dialer {
	return &Dialer{id: id, manager: manager, cfg: cfg, selfEndpointAddr: selfEndpoint, peerServerID: peerServerID, peerEndpoint: peerEndpoint}
}

// Run dials and reconnects until ctx is cancelled. It returns once ctx
// is done; callers typically run it in its own goroutine per peer.
func (d *Dialer) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// A connection to this peer may already exist (e.g. they dialed
		// us first and won the tiebreak on the incoming side); ride that
		// one instead of opening a redundant outgoing connection.
		if existing, ok := d.manager.Peer(d.peerServerID); ok {
			select {
			case <-existing.Closed():
				continue
			case <-ctx.Done():
				return
			}
		}

		peer, err := d.connectOnce(ctx)
		if err != nil {
			logger.Warn("outgoing handshake failed", logger.String("peer", d.peerServerID), logger.Error(err))
			attempt++
			if !sleepBackoff(ctx, d.cfg, attempt) {
				return
			}
			continue
		}

		attempt = 0
		if !d.manager.adopt(peer, true) {
			// Lost the duplicate-connection tiebreak; the surviving
			// incoming connection is already registered with Manager.
			peer.Close()
			continue
		}

		select {
		case <-peer.Closed():
		case <-ctx.Done():
			peer.Close()
			return
		}
	}
}

func sleepBackoff(ctx context.Context, cfg config.TransportConfig, attempt int) bool {
	base := cfg.ReconnectBaseInterval
	if base <= 0 {
		base = time.Second
	}
	max := cfg.ReconnectMaxInterval
	if max <= 0 {
		max = 30 * time.Second
	}
	backoff := base * time.Duration(1<<uint(minInt(attempt, 20)))
	if backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int63n(int64(2*time.Second))) - time.Second
	wait := backoff + jitter
	if wait < 0 {
		wait = 0
	}
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (d *Dialer) connectOnce(ctx context.Context) (peer *Peer, err error) {
	metrics.HandshakesInitiated.WithLabelValues("client").Inc()
	start := time.Now()
	defer func() {
		metrics.HandshakeDuration.WithLabelValues("full").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		} else {
			metrics.HandshakesCompleted.WithLabelValues("success").Inc()
		}
	}()

	dialer := &websocket.Dialer{HandshakeTimeout: d.cfg.HandshakeTimeout}
	conn, resp, dialErr := dialer.DialContext(ctx, d.peerEndpoint, nil)
	if dialErr != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s failed (HTTP %d): %w", d.peerEndpoint, resp.StatusCode, dialErr)
		}
		return nil, fmt.Errorf("transport: dial %s failed: %w", d.peerEndpoint, dialErr)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	hs, hsErr := newHandshake(d.id, d.selfEndpointAddr)
	if hsErr != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		_ = conn.Close()
		return nil, hsErr
	}
	if err := conn.WriteJSON(&frame{Type: frameHandshake, Handshake: hs}); err != nil {
		metrics.HandshakesFailed.WithLabelValues("network").Inc()
		_ = conn.Close()
		return nil, fmt.Errorf("transport: write handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		metrics.HandshakesFailed.WithLabelValues("timeout").Inc()
		_ = conn.Close()
		return nil, fmt.Errorf("transport: read handshake_ack: %w", err)
	}
	if f.Type != frameHandshakeAck || f.Handshake == nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		_ = conn.Close()
		return nil, fmt.Errorf("transport: expected handshake_ack, got %q", f.Type)
	}
	if err := verifyHandshake(f.Handshake); err != nil {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		_ = conn.Close()
		return nil, err
	}
	if f.Handshake.ServerID != d.peerServerID {
		metrics.HandshakesFailed.WithLabelValues("invalid").Inc()
		_ = conn.Close()
		return nil, fmt.Errorf("transport: handshake_ack serverId %q does not match expected %q", f.Handshake.ServerID, d.peerServerID)
	}

	return newPeer(f.Handshake, conn, d.cfg.PingInterval, d.cfg.PongTimeout), nil
}
