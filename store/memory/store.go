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

// Package memory implements store.Store with in-memory maps, for tests
// and single-node development deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sage-x-project/vps-signal/store"
)

// Store implements store.Store with in-memory maps guarded by per-entity
// RWMutexes, matching the concurrency contract that operations are
// serializable w.r.t. a single entity key.
type Store struct {
	membership *MembershipStore
	rendezvous *RendezvousStore
	identity   *IdentityStore
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		membership: newMembershipStore(),
		rendezvous: newRendezvousStore(),
		identity:   newIdentityStore(),
	}
}

func (s *Store) Membership() store.MembershipStore { return s.membership }
func (s *Store) Rendezvous() store.RendezvousStore { return s.rendezvous }
func (s *Store) Identity() store.IdentityStore     { return s.identity }

func (s *Store) Close() error { return nil }

func (s *Store) Ping(ctx context.Context) error { return nil }

// Clear removes all membership and rendezvous data; the identity record
// is kept. Useful for testing.
func (s *Store) Clear() {
	s.membership.clear()
	s.rendezvous.clear()
}

var errNotFound = fmt.Errorf("not found")

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool {
	return err == errNotFound
}

// IdentityStore implements store.IdentityStore in memory.
type IdentityStore struct {
	mu  sync.RWMutex
	rec *store.IdentityRecord
}

func newIdentityStore() *IdentityStore {
	return &IdentityStore{}
}

func (s *IdentityStore) Save(ctx context.Context, rec *store.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.rec = &cp
	return nil
}

func (s *IdentityStore) Load(ctx context.Context) (*store.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec == nil {
		return nil, errNotFound
	}
	cp := *s.rec
	return &cp, nil
}
