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
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/vps-signal/internal/logger"
)

// wsConn is the subset of *websocket.Conn a Peer needs; lets tests
// substitute an in-memory fake.
type wsConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// EnvelopeHandler processes one inbound Envelope from a peer and
// optionally returns a reply Envelope.
type EnvelopeHandler func(peerServerID string, env *Envelope) (*Envelope, error)

// Peer is one established, handshake-verified server-to-server
// connection.
type Peer struct {
	ServerID  string
	NodeID    string
	Endpoint  string
	PublicKey []byte

	conn         wsConn
	pingInterval time.Duration
	pongTimeout  time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope
	seq       uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(h *HandshakeMsg, conn wsConn, pingInterval, pongTimeout time.Duration) *Peer {
	return &Peer{
		ServerID:     h.ServerID,
		NodeID:       h.NodeID,
		Endpoint:     h.Endpoint,
		PublicKey:    h.PublicKey,
		conn:         conn,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		pending:      make(map[string]chan *Envelope),
		closed:       make(chan struct{}),
	}
}

// Send writes env as a fire-and-forget envelope frame (used for gossip,
// which carries its own sequence number and signature).
func (p *Peer) Send(env *Envelope) error {
	return p.writeFrame(&frame{Type: frameEnvelope, Envelope: env})
}

// Call writes env and blocks for a correlated reply, used by
// rv_query_forward/pair_forward request-response exchanges.
func (p *Peer) Call(env *Envelope, timeout time.Duration) (*Envelope, error) {
	p.pendingMu.Lock()
	p.seq++
	id := fmt.Sprintf("%s-%d", p.ServerID, p.seq)
	ch := make(chan *Envelope, 1)
	p.pending[id] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	env.ReplyTo = id
	if err := p.writeFrame(&frame{Type: frameEnvelope, Envelope: env}); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("transport: call to %s timed out", p.ServerID)
	case <-p.closed:
		return nil, fmt.Errorf("transport: connection to %s closed", p.ServerID)
	}
}

func (p *Peer) writeFrame(f *frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return p.conn.WriteJSON(f)
}

// readLoop processes frames until the connection errors or closes,
// dispatching envelopes to handle and correlating replies against
// ReplyTo ids registered by Call.
func (p *Peer) readLoop(handle EnvelopeHandler) {
	defer p.Close()

	if p.pongTimeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
		})
	}

	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Type {
		case frameEnvelope:
			if f.Envelope == nil {
				continue
			}
			p.dispatch(f.Envelope, handle)
		case framePing:
			_ = p.writeFrame(&frame{Type: framePong})
		case framePong:
			// handled by gorilla's pong handler for control-frame pongs;
			// an application-level pong frame just refreshes liveness.
			_ = p.conn.SetReadDeadline(time.Now().Add(p.pongTimeout))
		}
	}
}

func (p *Peer) dispatch(env *Envelope, handle EnvelopeHandler) {
	// A reply to one of our own outstanding Calls is recognized by its
	// ReplyTo matching a registered id, not by Kind.
	if env.ReplyTo != "" {
		p.pendingMu.Lock()
		ch, ok := p.pending[env.ReplyTo]
		p.pendingMu.Unlock()
		if ok {
			select {
			case ch <- env:
			default:
			}
			return
		}
	}

	reply, err := handle(p.ServerID, env)
	if err != nil {
		logger.Warn("envelope handler error", logger.String("peer", p.ServerID), logger.String("kind", string(env.Kind)), logger.Error(err))
		return
	}
	if reply != nil {
		reply.ReplyTo = env.ReplyTo
		_ = p.writeFrame(&frame{Type: frameEnvelope, Envelope: reply})
	}
}

// keepalive sends periodic pings until the connection closes.
func (p *Peer) keepalive() {
	if p.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteMessage(websocket.PingMessage, nil)
			p.writeMu.Unlock()
			if err != nil {
				p.Close()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// Close closes the underlying connection exactly once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// Closed reports whether the peer connection has been torn down.
func (p *Peer) Closed() <-chan struct{} { return p.closed }
