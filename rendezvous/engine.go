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

// Package rendezvous implements the replicated daily-point, hourly-token
// and relay-registry operations: quorum writes/reads across the hash
// ring's replica set, vector-clock merge on conflict, and cross-server
// redirects for keys this server does not own.
package rendezvous

import (
	"math/big"
	"math/rand"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/store"
)

// DefaultMaxCapRatio is the default connectedCount/maxConnections
// threshold a relay must be under to be considered available.
const DefaultMaxCapRatio = 0.8

// Engine owns the replicated rendezvous operations for one server.
type Engine struct {
	id        *identity.ServerIdentity
	ring      *hashring.Ring
	store     store.RendezvousStore
	transport PeerTransport
	cfg       config.DHTConfig
}

// New creates a rendezvous engine. ring and store are shared with the
// rest of the server; transport is used only to reach remote owners.
func New(id *identity.ServerIdentity, ring *hashring.Ring, rvStore store.RendezvousStore, transport PeerTransport, cfg config.DHTConfig) *Engine {
	return &Engine{id: id, ring: ring, store: rvStore, transport: transport, cfg: cfg}
}

// owners returns the replicationFactor distinct alive owners of key,
// in ring order.
func (e *Engine) owners(key string) []hashring.Node {
	return e.ring.ResponsibleNodes(hashring.Hash([]byte(key)), e.replicationFactor())
}

func (e *Engine) replicationFactor() int {
	if e.cfg.ReplicationFactor <= 0 {
		return 3
	}
	return e.cfg.ReplicationFactor
}

func (e *Engine) writeQuorum() int {
	if e.cfg.WriteQuorum <= 0 {
		return 2
	}
	return e.cfg.WriteQuorum
}

func (e *Engine) readQuorum() int {
	if e.cfg.ReadQuorum <= 0 {
		return 1
	}
	return e.cfg.ReadQuorum
}

func (e *Engine) isSelf(n hashring.Node) bool { return n.ServerID == e.id.ServerID }

// redirectFor builds the Redirect pointing at owner n, used for an
// owner that a query could not reach.
func redirectFor(n hashring.Node) Redirect {
	return Redirect{ServerID: n.ServerID, Endpoint: n.Endpoint}
}

// hashPosition is exposed for tests that need to assert on ring order
// without depending on hashring internals.
func hashPosition(key string) *big.Int { return hashring.Hash([]byte(key)) }

func shuffled(nodes []hashring.Node) []hashring.Node {
	out := make([]hashring.Node, len(nodes))
	copy(out, nodes)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
