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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/gossip"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/internal/logger"
)

// Manager tracks every established server-to-server Peer, applies the
// duplicate-connection tiebreak, and dispatches inbound envelopes by
// kind to whichever package registered a handler for it.
type Manager struct {
	id  *identity.ServerIdentity
	cfg config.TransportConfig

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[EnvelopeKind]EnvelopeHandler
}

// NewManager creates an empty peer manager for this server's identity.
func NewManager(id *identity.ServerIdentity, cfg config.TransportConfig) *Manager {
	return &Manager{
		id:       id,
		cfg:      cfg,
		peers:    make(map[string]*Peer),
		handlers: make(map[EnvelopeKind]EnvelopeHandler),
	}
}

// RegisterHandler installs the handler invoked for inbound envelopes of
// kind. Only one handler per kind; a later call replaces an earlier one.
func (m *Manager) RegisterHandler(kind EnvelopeKind, h EnvelopeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

func (m *Manager) handle(peerServerID string, env *Envelope) (*Envelope, error) {
	m.mu.RLock()
	h, ok := m.handlers[env.Kind]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no handler registered for kind %q", env.Kind)
	}
	return h(peerServerID, env)
}

// adopt registers a freshly handshaken connection, applying the
// lexicographic-serverId tiebreak against any existing connection to
// the same peer (§4.5): the side whose local serverId is smaller keeps
// its outgoing connection; incoming duplicates on the "losing" side are
// closed instead of replacing the survivor.
//
// outgoing is true when this connection was dialed by us.
func (m *Manager) adopt(p *Peer, outgoing bool) bool {
	m.mu.Lock()
	existing, ok := m.peers[p.ServerID]
	if ok {
		keepOutgoing := m.id.ServerID < p.ServerID
		if keepOutgoing != outgoing {
			m.mu.Unlock()
			logger.Info("closing duplicate peer connection", logger.String("peer", p.ServerID), logger.String("reason", "duplicate"))
			return false
		}
		m.mu.Unlock()
		existing.Close()
		m.mu.Lock()
	}
	m.peers[p.ServerID] = p
	m.mu.Unlock()

	go p.readLoop(m.handle)
	go p.keepalive()
	go func() {
		<-p.Closed()
		m.mu.Lock()
		if m.peers[p.ServerID] == p {
			delete(m.peers, p.ServerID)
		}
		m.mu.Unlock()
	}()
	return true
}

// Peer returns the live connection to serverID, if any.
func (m *Manager) Peer(serverID string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[serverID]
	return p, ok
}

// Peers returns every currently connected peer's serverId.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Send delivers env to serverID fire-and-forget. Returns an error if no
// connection to that peer currently exists.
func (m *Manager) Send(ctx context.Context, serverID string, env *Envelope) error {
	p, ok := m.Peer(serverID)
	if !ok {
		return fmt.Errorf("transport: no connection to %s", serverID)
	}
	return p.Send(env)
}

// Call delivers env to serverID and waits for a correlated reply, using
// the configured RPC timeout.
func (m *Manager) Call(ctx context.Context, serverID string, env *Envelope) (*Envelope, error) {
	p, ok := m.Peer(serverID)
	if !ok {
		return nil, fmt.Errorf("transport: no connection to %s", serverID)
	}
	timeout := m.cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return p.Call(env, timeout)
}

// SendGossip implements gossip.PeerTransport.
func (m *Manager) SendGossip(ctx context.Context, serverID string, msg *gossip.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal gossip message: %w", err)
	}
	return m.Send(ctx, serverID, &Envelope{Kind: KindGossip, Payload: payload})
}

// closeAll shuts down every connected peer, used on server shutdown.
func (m *Manager) closeAll() {
	m.mu.RLock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.RUnlock()
	for _, p := range peers {
		p.Close()
	}
}

// Close shuts down every connected peer. It is the exported entry
// point a process owner calls during shutdown.
func (m *Manager) Close() {
	m.closeAll()
}
