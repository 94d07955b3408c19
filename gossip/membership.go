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

// Package gossip implements a SWIM-variant failure detector for the
// server-to-server membership ring: direct/indirect probing, incarnation
// numbers, a suspect→failed state machine and piggybacked state exchange.
package gossip

import (
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/store"
)

// Entry is the in-memory membership record the SWIM engine maintains.
// It mirrors store.MembershipEntry but also tracks when a node entered
// its current suspect state, needed to time out the suspect→failed
// transition.
type Entry struct {
	ServerID    string
	NodeID      string
	Endpoint    string
	PublicKey   []byte
	Status      store.MembershipStatus
	Incarnation uint64
	LastSeen    time.Time
	SuspectedAt time.Time
	Metadata    map[string]string
}

func (e *Entry) snapshot() Entry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

func (e *Entry) toStoreEntry() *store.MembershipEntry {
	return &store.MembershipEntry{
		ServerID:    e.ServerID,
		NodeID:      e.NodeID,
		Endpoint:    e.Endpoint,
		PublicKey:   e.PublicKey,
		Status:      e.Status,
		Incarnation: e.Incarnation,
		LastSeen:    e.LastSeen,
		Metadata:    e.Metadata,
	}
}

// Membership is the set of known peers, keyed by serverId. Self is
// tracked like any other entry so its incarnation can be disseminated,
// but probing logic always excludes Self.
type Membership struct {
	mu    sync.RWMutex
	self  string
	peers map[string]*Entry
}

// NewMembership creates an empty membership table, seeded with selfID
// as an alive entry at incarnation 0.
func NewMembership(selfID, selfNodeID, selfEndpoint string, selfPublicKey []byte) *Membership {
	m := &Membership{
		self:  selfID,
		peers: make(map[string]*Entry),
	}
	m.peers[selfID] = &Entry{
		ServerID:  selfID,
		NodeID:    selfNodeID,
		Endpoint:  selfEndpoint,
		PublicKey: selfPublicKey,
		Status:    store.StatusAlive,
		LastSeen:  time.Now(),
	}
	return m
}

// SelfID returns this server's serverId.
func (m *Membership) SelfID() string { return m.self }

// Self returns a snapshot of this server's own entry.
func (m *Membership) Self() Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[m.self].snapshot()
}

// Upsert inserts or fully replaces a peer entry (used at handshake time
// when a brand-new peer joins).
func (m *Membership) Upsert(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := e.snapshot()
	m.peers[e.ServerID] = &cp
}

// Get returns a snapshot of one entry.
func (m *Membership) Get(serverID string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.peers[serverID]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Snapshot returns every known entry, self included.
func (m *Membership) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, e.snapshot())
	}
	return out
}

// AliveExcludingSelf returns the serverIds of every alive peer other
// than self, for probe-target selection.
func (m *Membership) AliveExcludingSelf() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for id, e := range m.peers {
		if id != m.self && e.Status == store.StatusAlive {
			out = append(out, id)
		}
	}
	return out
}

// RecordAck marks a peer alive and refreshes LastSeen after a
// successful direct or indirect probe.
func (m *Membership) RecordAck(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.peers[serverID]
	if !ok {
		return
	}
	e.Status = store.StatusAlive
	e.LastSeen = time.Now()
	e.SuspectedAt = time.Time{}
}

// MarkSuspect transitions an alive peer to suspect after a failed probe
// round. A no-op if the peer is already suspect/failed/left, or unknown.
// Returns true if a transition happened (so the caller can queue a
// broadcast).
func (m *Membership) MarkSuspect(serverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.peers[serverID]
	if !ok || e.Status != store.StatusAlive {
		return false
	}
	e.Status = store.StatusSuspect
	e.SuspectedAt = time.Now()
	return true
}

// PromoteExpiredSuspects transitions every suspect peer whose
// SuspectedAt is older than failureTimeout to failed, returning the
// serverIds that changed so the caller can broadcast them.
func (m *Membership) PromoteExpiredSuspects(failureTimeout time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var changed []string
	for id, e := range m.peers {
		if e.Status == store.StatusSuspect && now.Sub(e.SuspectedAt) > failureTimeout {
			e.Status = store.StatusFailed
			changed = append(changed, id)
		}
	}
	return changed
}

// GCFailed removes failed entries whose LastSeen is older than horizon,
// per the spec's GC-horizon retention policy.
func (m *Membership) GCFailed(horizon time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-horizon)
	for id, e := range m.peers {
		if id == m.self {
			continue
		}
		if (e.Status == store.StatusFailed || e.Status == store.StatusLeft) && e.LastSeen.Before(cutoff) {
			delete(m.peers, id)
		}
	}
}

// ApplyRemote reconciles an incoming (remote) view of a peer's state
// against the locally known state using SWIM's incarnation rule: remote
// gossip about a peer is ignored if its incarnation is lower than the
// locally known incarnation for that peer; at equal incarnation it is
// applied only if its status is worse (see statusPriority); a higher
// incarnation always wins regardless of status. Returns true if the local entry
// changed (so the caller can re-broadcast it).
func (m *Membership) ApplyRemote(remote Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A server refutes suspicion about itself by raising its own
	// incarnation; never let remote gossip downgrade self.
	if remote.ServerID == m.self {
		local := m.peers[m.self]
		if remote.Incarnation > local.Incarnation {
			local.Incarnation = remote.Incarnation
		}
		return false
	}

	local, ok := m.peers[remote.ServerID]
	if !ok {
		cp := remote.snapshot()
		cp.LastSeen = time.Now()
		m.peers[remote.ServerID] = &cp
		return true
	}

	if remote.Incarnation < local.Incarnation {
		return false
	}
	if remote.Incarnation == local.Incarnation && statusPriority(remote.Status) <= statusPriority(local.Status) {
		return false
	}

	local.Status = remote.Status
	local.Incarnation = remote.Incarnation
	local.Endpoint = remote.Endpoint
	local.PublicKey = remote.PublicKey
	local.LastSeen = time.Now()
	if remote.Status == store.StatusSuspect {
		local.SuspectedAt = time.Now()
	} else {
		local.SuspectedAt = time.Time{}
	}
	return true
}

// IncrementSelfIncarnation raises this server's own incarnation, used to
// refute a suspect/failed rumor about itself.
func (m *Membership) IncrementSelfIncarnation() Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	self := m.peers[m.self]
	self.Incarnation++
	self.Status = store.StatusAlive
	self.SuspectedAt = time.Time{}
	return self.snapshot()
}

// statusPriority orders statuses so that, at equal incarnation, a worse
// status wins reconciliation (failed beats suspect beats alive), matching
// SWIM's "pessimistic" pairwise reconciliation.
func statusPriority(s store.MembershipStatus) int {
	switch s {
	case store.StatusAlive:
		return 0
	case store.StatusSuspect:
		return 1
	case store.StatusFailed:
		return 2
	case store.StatusLeft:
		return 3
	default:
		return -1
	}
}

// ToStoreEntries converts every known peer to a store.MembershipEntry,
// for persisting a restart-survivable snapshot.
func (m *Membership) ToStoreEntries() []*store.MembershipEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.MembershipEntry, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, e.toStoreEntry())
	}
	return out
}
