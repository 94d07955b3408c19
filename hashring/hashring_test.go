package hashring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAliveNode(serverID string) Node {
	return Node{ServerID: serverID, NodeID: serverID + "-node", Endpoint: "wss://" + serverID, Status: StatusAlive}
}

func TestHashToPositionIsDeterministic(t *testing.T) {
	a := Hash([]byte("point-hash-1"))
	b := Hash([]byte("point-hash-1"))
	assert.Equal(t, 0, a.Cmp(b))
}

func TestResponsibleNodesReturnsKDistinctAliveNodes(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	r.AddNode(newAliveNode("serverB"))
	r.AddNode(newAliveNode("serverC"))

	hash := Hash([]byte("some-key"))
	owners := r.ResponsibleNodes(hash, 2)
	require.Len(t, owners, 2)
	assert.NotEqual(t, owners[0].ServerID, owners[1].ServerID)
}

func TestResponsibleNodesSkipsNonAliveNodes(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	suspect := newAliveNode("serverB")
	suspect.Status = StatusSuspect
	r.AddNode(suspect)
	r.AddNode(newAliveNode("serverC"))

	hash := Hash([]byte("some-key"))
	owners := r.ResponsibleNodes(hash, 3)
	require.Len(t, owners, 2)
	for _, o := range owners {
		assert.NotEqual(t, "serverB", o.ServerID)
	}
}

func TestPrimaryOwnerMatchesFirstOfResponsibleNodes(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	r.AddNode(newAliveNode("serverB"))

	hash := Hash([]byte("key"))
	owner, ok := r.PrimaryOwner(hash)
	require.True(t, ok)

	responsible := r.ResponsibleNodes(hash, 1)
	require.Len(t, responsible, 1)
	assert.Equal(t, responsible[0].ServerID, owner.ServerID)
}

func TestIsResponsibleChecksMembershipAmongReplicationFactor(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	r.AddNode(newAliveNode("serverB"))
	r.AddNode(newAliveNode("serverC"))

	hash := Hash([]byte("key"))
	owners := r.ResponsibleNodes(hash, 2)
	require.Len(t, owners, 2)

	assert.True(t, r.IsResponsible(hash, owners[0].ServerID, 2))
	assert.True(t, r.IsResponsible(hash, owners[1].ServerID, 2))
}

func TestRemoveNodeExcludesItFromRouting(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	r.AddNode(newAliveNode("serverB"))
	r.RemoveNode("serverA")

	hash := Hash([]byte("key"))
	owners := r.ResponsibleNodes(hash, 2)
	require.Len(t, owners, 1)
	assert.Equal(t, "serverB", owners[0].ServerID)
}

func TestUpdateStatusAffectsRouting(t *testing.T) {
	r := New(50)
	r.AddNode(newAliveNode("serverA"))
	r.AddNode(newAliveNode("serverB"))

	r.UpdateStatus("serverA", StatusFailed)

	hash := Hash([]byte("key"))
	owners := r.ResponsibleNodes(hash, 2)
	require.Len(t, owners, 1)
	assert.Equal(t, "serverB", owners[0].ServerID)
}

func TestRingIsConsistentAcrossIndependentInstances(t *testing.T) {
	build := func() *Ring {
		r := New(100)
		r.AddNode(newAliveNode("serverA"))
		r.AddNode(newAliveNode("serverB"))
		r.AddNode(newAliveNode("serverC"))
		return r
	}

	r1, r2 := build(), build()
	hash := Hash([]byte("cross-instance-key"))

	owner1, ok1 := r1.PrimaryOwner(hash)
	owner2, ok2 := r2.PrimaryOwner(hash)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, owner1.ServerID, owner2.ServerID)
}

func TestNoAliveNodesYieldsNoOwner(t *testing.T) {
	r := New(10)
	_, ok := r.PrimaryOwner(Hash([]byte("key")))
	assert.False(t, ok)
}
