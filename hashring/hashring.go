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

// Package hashring implements a consistent hash ring with virtual nodes,
// used to route rendezvous keys to the servers responsible for them.
package hashring

import (
	"crypto/sha256"
	"math/big"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the recommended number of virtual positions per
// physical node (V=150).
const DefaultVirtualNodes = 150

// NodeStatus mirrors the membership status that determines whether a
// node currently participates in routing.
type NodeStatus string

const (
	StatusAlive   NodeStatus = "alive"
	StatusSuspect NodeStatus = "suspect"
	StatusFailed  NodeStatus = "failed"
	StatusLeft    NodeStatus = "left"
)

// Node is a physical server on the ring.
type Node struct {
	ServerID string
	NodeID   string
	Endpoint string
	Status   NodeStatus
}

// vpos is one virtual position on the ring.
type vpos struct {
	position *big.Int
	serverID string
}

// Ring is a consistent hash ring with virtual nodes. All methods are
// safe for concurrent use.
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	nodes        map[string]*Node
	positions    []vpos // kept sorted by (position, serverID)
}

// New creates an empty ring with v virtual positions per node. v<=0
// falls back to DefaultVirtualNodes.
func New(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: v,
		nodes:        make(map[string]*Node),
	}
}

// hashToPosition derives a node's deterministic position on the ring:
// sha256 truncated to the first 20 bytes (160 bits), interpreted as an
// unsigned big-endian integer.
func hashToPosition(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	return new(big.Int).SetBytes(sum[:20])
}

// virtualKey derives the i-th virtual position's input for a server.
func virtualKey(serverID string, i int) []byte {
	buf := make([]byte, 0, len(serverID)+11)
	buf = append(buf, serverID...)
	buf = append(buf, '#')
	buf = appendInt(buf, i)
	return buf
}

func appendInt(buf []byte, n int) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	start := len(buf)
	for n > 0 {
		buf = append(buf, byte('0'+n%10))
		n /= 10
	}
	// reverse the digits just appended
	for l, r := start, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return buf
}

// AddNode inserts or replaces a node and its virtual positions.
func (r *Ring) AddNode(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeNodeLocked(n.ServerID)

	cp := n
	r.nodes[n.ServerID] = &cp
	for i := 0; i < r.virtualNodes; i++ {
		r.positions = append(r.positions, vpos{
			position: hashToPosition(virtualKey(n.ServerID, i)),
			serverID: n.ServerID,
		})
	}
	r.sortPositionsLocked()
}

// RemoveNode deletes a node and all of its virtual positions.
func (r *Ring) RemoveNode(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeNodeLocked(serverID)
}

func (r *Ring) removeNodeLocked(serverID string) {
	if _, ok := r.nodes[serverID]; !ok {
		return
	}
	delete(r.nodes, serverID)
	filtered := r.positions[:0]
	for _, p := range r.positions {
		if p.serverID != serverID {
			filtered = append(filtered, p)
		}
	}
	r.positions = filtered
}

func (r *Ring) sortPositionsLocked() {
	sort.Slice(r.positions, func(i, j int) bool {
		c := r.positions[i].position.Cmp(r.positions[j].position)
		if c != 0 {
			return c < 0
		}
		return r.positions[i].serverID < r.positions[j].serverID
	})
}

// UpdateStatus changes a node's status in place. A no-op if the node is
// unknown.
func (r *Ring) UpdateStatus(serverID string, status NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[serverID]; ok {
		n.Status = status
	}
}

// Hash exposes the position-derivation function so callers can compute a
// routing key once and reuse it across ring operations.
func Hash(key []byte) *big.Int {
	return hashToPosition(key)
}

// ResponsibleNodes returns the first k distinct alive nodes encountered
// walking clockwise from hash's position across the sorted virtual
// position list.
func (r *Ring) ResponsibleNodes(hash *big.Int, k int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if k <= 0 || len(r.positions) == 0 {
		return nil
	}

	start := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i].position.Cmp(hash) >= 0
	})

	seen := make(map[string]bool, k)
	out := make([]Node, 0, k)
	total := len(r.positions)
	for i := 0; i < total && len(out) < k; i++ {
		p := r.positions[(start+i)%total]
		if seen[p.serverID] {
			continue
		}
		n, ok := r.nodes[p.serverID]
		if !ok || n.Status != StatusAlive {
			continue
		}
		seen[p.serverID] = true
		out = append(out, *n)
	}
	return out
}

// PrimaryOwner returns the single node responsible for hash, or the zero
// Node and false if the ring has no alive nodes.
func (r *Ring) PrimaryOwner(hash *big.Int) (Node, bool) {
	owners := r.ResponsibleNodes(hash, 1)
	if len(owners) == 0 {
		return Node{}, false
	}
	return owners[0], true
}

// IsResponsible reports whether serverID appears among the first
// replicationFactor owners of hash.
func (r *Ring) IsResponsible(hash *big.Int, serverID string, replicationFactor int) bool {
	for _, n := range r.ResponsibleNodes(hash, replicationFactor) {
		if n.ServerID == serverID {
			return true
		}
	}
	return false
}

// Nodes returns a snapshot of every node currently tracked by the ring,
// regardless of status.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	return out
}
