package gossip

import (
	"testing"
	"time"

	"github.com/sage-x-project/vps-signal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMembershipSeedsSelfAlive(t *testing.T) {
	m := NewMembership("self", "node-self", "wss://self", []byte("pub"))
	self := m.Self()
	assert.Equal(t, store.StatusAlive, self.Status)
	assert.Equal(t, uint64(0), self.Incarnation)
}

func TestUpsertAndGet(t *testing.T) {
	m := NewMembership("self", "node-self", "wss://self", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive})

	e, ok := m.Get("peerA")
	require.True(t, ok)
	assert.Equal(t, store.StatusAlive, e.Status)
}

func TestAliveExcludingSelfOmitsSelfAndDeadPeers(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive})
	m.Upsert(Entry{ServerID: "peerB", Status: store.StatusFailed})

	alive := m.AliveExcludingSelf()
	assert.Equal(t, []string{"peerA"}, alive)
}

func TestMarkSuspectThenPromoteToFailed(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive})

	changed := m.MarkSuspect("peerA")
	assert.True(t, changed)

	e, _ := m.Get("peerA")
	assert.Equal(t, store.StatusSuspect, e.Status)

	// not yet expired
	promoted := m.PromoteExpiredSuspects(1 * time.Hour)
	assert.Empty(t, promoted)

	// force expiry by marking suspicion far in the past via Upsert
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusSuspect, SuspectedAt: time.Now().Add(-1 * time.Hour)})
	promoted = m.PromoteExpiredSuspects(1 * time.Second)
	assert.Equal(t, []string{"peerA"}, promoted)

	e, _ = m.Get("peerA")
	assert.Equal(t, store.StatusFailed, e.Status)
}

func TestRecordAckClearsSuspicion(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusSuspect, SuspectedAt: time.Now()})
	m.RecordAck("peerA")

	e, _ := m.Get("peerA")
	assert.Equal(t, store.StatusAlive, e.Status)
	assert.True(t, e.SuspectedAt.IsZero())
}

func TestGCFailedRemovesOldEntriesButNeverSelf(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusFailed, LastSeen: time.Now().Add(-2 * time.Hour)})
	m.Upsert(Entry{ServerID: "peerB", Status: store.StatusFailed, LastSeen: time.Now()})

	m.GCFailed(1 * time.Hour)

	_, ok := m.Get("peerA")
	assert.False(t, ok)
	_, ok = m.Get("peerB")
	assert.True(t, ok)
	_, ok = m.Get("self")
	assert.True(t, ok)
}

func TestApplyRemoteIgnoresStaleIncarnation(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive, Incarnation: 5})

	changed := m.ApplyRemote(Entry{ServerID: "peerA", Status: store.StatusFailed, Incarnation: 3})
	assert.False(t, changed)

	e, _ := m.Get("peerA")
	assert.Equal(t, store.StatusAlive, e.Status)
}

func TestApplyRemotePrefersWorseStatusAtEqualIncarnation(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive, Incarnation: 5})

	changed := m.ApplyRemote(Entry{ServerID: "peerA", Status: store.StatusSuspect, Incarnation: 5})
	assert.True(t, changed)

	e, _ := m.Get("peerA")
	assert.Equal(t, store.StatusSuspect, e.Status)
}

func TestApplyRemoteNeverDowngradesSelf(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)

	changed := m.ApplyRemote(Entry{ServerID: "self", Status: store.StatusFailed, Incarnation: 0})
	assert.False(t, changed)

	self := m.Self()
	assert.Equal(t, store.StatusAlive, self.Status)
}

func TestApplyRemoteHigherIncarnationAlwaysWins(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusFailed, Incarnation: 1})

	changed := m.ApplyRemote(Entry{ServerID: "peerA", Status: store.StatusAlive, Incarnation: 2})
	assert.True(t, changed)

	e, _ := m.Get("peerA")
	assert.Equal(t, store.StatusAlive, e.Status)
	assert.Equal(t, uint64(2), e.Incarnation)
}

func TestIncrementSelfIncarnationRefutesSuspicion(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	self := m.IncrementSelfIncarnation()
	assert.Equal(t, uint64(1), self.Incarnation)
	assert.Equal(t, store.StatusAlive, self.Status)
}

func TestToStoreEntriesCoversEveryPeer(t *testing.T) {
	m := NewMembership("self", "n", "e", nil)
	m.Upsert(Entry{ServerID: "peerA", Status: store.StatusAlive})

	entries := m.ToStoreEntries()
	assert.Len(t, entries, 2)
}
