package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/store"
)

func TestMembershipUpsertAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	entry := &store.MembershipEntry{
		ServerID:    "ed25519:abc",
		NodeID:      "node-1",
		Endpoint:    "wss://peer1:8765",
		Status:      store.StatusAlive,
		Incarnation: 1,
		LastSeen:    time.Now(),
	}
	require.NoError(t, s.Membership().Upsert(ctx, entry))

	got, err := s.Membership().Get(ctx, entry.ServerID)
	require.NoError(t, err)
	assert.Equal(t, entry.Endpoint, got.Endpoint)
	assert.Equal(t, store.StatusAlive, got.Status)

	list, err := s.Membership().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Membership().Delete(ctx, entry.ServerID))
	_, err = s.Membership().Get(ctx, entry.ServerID)
	assert.True(t, IsNotFound(err))
}

func TestDailyPointMergesVectorClockOnConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Now()
	first := &store.DailyPointEntry{
		PointHash:   "hash1",
		PeerID:      "peer1",
		ExpiresAt:   base.Add(24 * time.Hour),
		CreatedAt:   base,
		VectorClock: store.VectorClock{"serverA": 1},
	}
	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, first))

	second := &store.DailyPointEntry{
		PointHash:   "hash1",
		PeerID:      "peer1",
		ExpiresAt:   base.Add(48 * time.Hour),
		CreatedAt:   base,
		VectorClock: store.VectorClock{"serverB": 1},
	}
	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, second))

	got, err := s.Rendezvous().GetDailyPoint(ctx, "hash1", "peer1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.VectorClock["serverA"])
	assert.Equal(t, uint64(1), got.VectorClock["serverB"])
	assert.Equal(t, base.Add(48*time.Hour), got.ExpiresAt)
}

func TestQueryDailyPointReturnsAllPeersForHash(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, &store.DailyPointEntry{
		PointHash: "h", PeerID: "p1", ExpiresAt: now.Add(time.Hour), VectorClock: store.VectorClock{},
	}))
	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, &store.DailyPointEntry{
		PointHash: "h", PeerID: "p2", ExpiresAt: now.Add(time.Hour), VectorClock: store.VectorClock{},
	}))

	results, err := s.Rendezvous().QueryDailyPoint(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDeleteExpiredDailyPoints(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, &store.DailyPointEntry{
		PointHash: "expired", PeerID: "p1", ExpiresAt: now.Add(-time.Hour), VectorClock: store.VectorClock{},
	}))
	require.NoError(t, s.Rendezvous().UpsertDailyPoint(ctx, &store.DailyPointEntry{
		PointHash: "fresh", PeerID: "p2", ExpiresAt: now.Add(time.Hour), VectorClock: store.VectorClock{},
	}))

	n, err := s.Rendezvous().DeleteExpiredDailyPoints(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	remaining, err := s.Rendezvous().QueryDailyPoint(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestHourlyTokenLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	entry := &store.HourlyTokenEntry{
		TokenHash:   "tok",
		PeerID:      "peerX",
		ExpiresAt:   now.Add(3 * time.Hour),
		VectorClock: store.VectorClock{"serverA": 1},
	}
	require.NoError(t, s.Rendezvous().UpsertHourlyToken(ctx, entry))

	got, err := s.Rendezvous().GetHourlyToken(ctx, "tok", "peerX")
	require.NoError(t, err)
	assert.Equal(t, entry.PeerID, got.PeerID)

	require.NoError(t, s.Rendezvous().DeleteHourlyTokensByPeer(ctx, "peerX"))
	_, err = s.Rendezvous().GetHourlyToken(ctx, "tok", "peerX")
	assert.True(t, IsNotFound(err))
}

func TestRelayLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	relay := &store.RelayEntry{PeerID: "relay1", MaxConnections: 10, ConnectedCount: 2}
	require.NoError(t, s.Rendezvous().UpsertRelay(ctx, relay))

	got, err := s.Rendezvous().GetRelay(ctx, "relay1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxConnections)

	list, err := s.Rendezvous().ListRelays(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Rendezvous().DeleteRelay(ctx, "relay1"))
	_, err = s.Rendezvous().GetRelay(ctx, "relay1")
	assert.True(t, IsNotFound(err))
}

func TestIdentityStoreSaveAndLoad(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Identity().Load(ctx)
	assert.True(t, IsNotFound(err))

	rec := &store.IdentityRecord{ServerID: "ed25519:xyz", NodeID: "node1", PublicKey: []byte("pub")}
	require.NoError(t, s.Identity().Save(ctx, rec))

	loaded, err := s.Identity().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.ServerID, loaded.ServerID)
}

func TestVectorClockMergeAndDominates(t *testing.T) {
	a := store.VectorClock{"x": 2, "y": 1}
	b := store.VectorClock{"x": 1, "z": 3}

	merged := a.Merge(b)
	assert.Equal(t, uint64(2), merged["x"])
	assert.Equal(t, uint64(1), merged["y"])
	assert.Equal(t, uint64(3), merged["z"])

	assert.True(t, merged.Dominates(a))
	assert.True(t, merged.Dominates(b))
	assert.False(t, a.Dominates(b))
}
