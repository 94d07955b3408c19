package memory

import (
	"context"
	"sync"

	"github.com/sage-x-project/vps-signal/store"
)

// MembershipStore implements store.MembershipStore in memory.
type MembershipStore struct {
	mu      sync.RWMutex
	entries map[string]*store.MembershipEntry
}

func newMembershipStore() *MembershipStore {
	return &MembershipStore{entries: make(map[string]*store.MembershipEntry)}
}

func (s *MembershipStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*store.MembershipEntry)
}

func (s *MembershipStore) Upsert(ctx context.Context, entry *store.MembershipEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[entry.ServerID] = &cp
	return nil
}

func (s *MembershipStore) Get(ctx context.Context, serverID string) (*store.MembershipEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[serverID]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MembershipStore) List(ctx context.Context) ([]*store.MembershipEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.MembershipEntry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MembershipStore) Delete(ctx context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, serverID)
	return nil
}
