package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sage-x-project/vps-signal/store"
)

type dailyPointKey struct {
	pointHash string
	peerID    string
}

type hourlyTokenKey struct {
	tokenHash string
	peerID    string
}

// RendezvousStore implements store.RendezvousStore in memory, merging
// concurrent writes to the same key with element-wise vector-clock max
// and keeping the entry with the later expiry on ties.
type RendezvousStore struct {
	mu            sync.RWMutex
	dailyPoints   map[dailyPointKey]*store.DailyPointEntry
	hourlyTokens  map[hourlyTokenKey]*store.HourlyTokenEntry
	relays        map[string]*store.RelayEntry
}

func newRendezvousStore() *RendezvousStore {
	return &RendezvousStore{
		dailyPoints:  make(map[dailyPointKey]*store.DailyPointEntry),
		hourlyTokens: make(map[hourlyTokenKey]*store.HourlyTokenEntry),
		relays:       make(map[string]*store.RelayEntry),
	}
}

func (s *RendezvousStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPoints = make(map[dailyPointKey]*store.DailyPointEntry)
	s.hourlyTokens = make(map[hourlyTokenKey]*store.HourlyTokenEntry)
	s.relays = make(map[string]*store.RelayEntry)
}

func (s *RendezvousStore) UpsertDailyPoint(ctx context.Context, entry *store.DailyPointEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyPointKey{pointHash: entry.PointHash, peerID: entry.PeerID}
	existing, ok := s.dailyPoints[key]
	if !ok {
		cp := *entry
		s.dailyPoints[key] = &cp
		return nil
	}

	merged := *entry
	merged.VectorClock = existing.VectorClock.Merge(entry.VectorClock)
	if existing.ExpiresAt.After(merged.ExpiresAt) {
		merged.ExpiresAt = existing.ExpiresAt
	}
	if existing.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = existing.CreatedAt
	}
	s.dailyPoints[key] = &merged
	return nil
}

func (s *RendezvousStore) GetDailyPoint(ctx context.Context, pointHash, peerID string) (*store.DailyPointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.dailyPoints[dailyPointKey{pointHash, peerID}]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *RendezvousStore) QueryDailyPoint(ctx context.Context, pointHash string) ([]*store.DailyPointEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.DailyPointEntry
	for k, e := range s.dailyPoints {
		if k.pointHash == pointHash {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *RendezvousStore) DeleteDailyPointsByPeer(ctx context.Context, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.dailyPoints {
		if k.peerID == peerID {
			delete(s.dailyPoints, k)
		}
	}
	return nil
}

func (s *RendezvousStore) DeleteExpiredDailyPoints(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.dailyPoints {
		if e.ExpiresAt.Before(before) {
			delete(s.dailyPoints, k)
			n++
		}
	}
	return n, nil
}

func (s *RendezvousStore) UpsertHourlyToken(ctx context.Context, entry *store.HourlyTokenEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hourlyTokenKey{tokenHash: entry.TokenHash, peerID: entry.PeerID}
	existing, ok := s.hourlyTokens[key]
	if !ok {
		cp := *entry
		s.hourlyTokens[key] = &cp
		return nil
	}

	merged := *entry
	merged.VectorClock = existing.VectorClock.Merge(entry.VectorClock)
	if existing.ExpiresAt.After(merged.ExpiresAt) {
		merged.ExpiresAt = existing.ExpiresAt
	}
	if existing.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = existing.CreatedAt
	}
	s.hourlyTokens[key] = &merged
	return nil
}

func (s *RendezvousStore) GetHourlyToken(ctx context.Context, tokenHash, peerID string) (*store.HourlyTokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.hourlyTokens[hourlyTokenKey{tokenHash, peerID}]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *RendezvousStore) QueryHourlyToken(ctx context.Context, tokenHash string) ([]*store.HourlyTokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.HourlyTokenEntry
	for k, e := range s.hourlyTokens {
		if k.tokenHash == tokenHash {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *RendezvousStore) DeleteHourlyTokensByPeer(ctx context.Context, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.hourlyTokens {
		if k.peerID == peerID {
			delete(s.hourlyTokens, k)
		}
	}
	return nil
}

func (s *RendezvousStore) DeleteExpiredHourlyTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.hourlyTokens {
		if e.ExpiresAt.Before(before) {
			delete(s.hourlyTokens, k)
			n++
		}
	}
	return n, nil
}

func (s *RendezvousStore) UpsertRelay(ctx context.Context, entry *store.RelayEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.relays[entry.PeerID] = &cp
	return nil
}

func (s *RendezvousStore) GetRelay(ctx context.Context, peerID string) (*store.RelayEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.relays[peerID]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *RendezvousStore) ListRelays(ctx context.Context) ([]*store.RelayEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.RelayEntry, 0, len(s.relays))
	for _, e := range s.relays {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *RendezvousStore) DeleteRelay(ctx context.Context, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.relays, peerID)
	return nil
}
