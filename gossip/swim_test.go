package gossip

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport routes gossip messages directly to the recipient's
// HandleMessage, synchronously, so tests never depend on real sockets
// or timing.
type fakeTransport struct {
	engines map[string]*SWIM
	keys    map[string]ed25519.PublicKey
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{engines: map[string]*SWIM{}, keys: map[string]ed25519.PublicKey{}}
}

func (f *fakeTransport) register(serverID string, s *SWIM, pub ed25519.PublicKey) {
	f.engines[serverID] = s
	f.keys[serverID] = pub
}

func (f *fakeTransport) SendGossip(ctx context.Context, serverID string, msg *Message) error {
	target, ok := f.engines[serverID]
	if !ok {
		return nil
	}
	senderKey := f.keys[msg.From]
	target.HandleMessage(ctx, senderKey, msg)
	return nil
}

func testConfig() Config {
	return Config{
		Interval:              time.Second,
		ProbeTimeout:          500 * time.Millisecond,
		SuspicionTimeout:      5 * time.Second,
		FailureTimeout:        10 * time.Second,
		IndirectPingCount:     2,
		StateExchangeInterval: 10 * time.Second,
		GCHorizon:             time.Hour,
	}
}

func newPeerIdentity(t *testing.T) *identity.ServerIdentity {
	id, err := identity.Generate("test")
	require.NoError(t, err)
	return id
}

func TestProbeCycleRoundTripRecordsAck(t *testing.T) {
	idA := newPeerIdentity(t)
	idB := newPeerIdentity(t)

	mA := NewMembership(idA.ServerID, idA.NodeID, "wss://a", idA.PublicKey)
	mA.Upsert(Entry{ServerID: idB.ServerID, Status: store.StatusAlive})
	mB := NewMembership(idB.ServerID, idB.NodeID, "wss://b", idB.PublicKey)
	mB.Upsert(Entry{ServerID: idA.ServerID, Status: store.StatusAlive})

	transport := newFakeTransport()
	swimA := New(testConfig(), mA, idA, transport)
	swimB := New(testConfig(), mB, idB, transport)
	transport.register(idA.ServerID, swimA, idA.PublicKey)
	transport.register(idB.ServerID, swimB, idB.PublicKey)

	swimA.probeCycle(context.Background())

	e, ok := mA.Get(idB.ServerID)
	require.True(t, ok)
	assert.Equal(t, store.StatusAlive, e.Status)
}

func TestProbeCycleMarksSuspectWhenPeerUnreachable(t *testing.T) {
	idA := newPeerIdentity(t)
	mA := NewMembership(idA.ServerID, idA.NodeID, "wss://a", idA.PublicKey)
	mA.Upsert(Entry{ServerID: "ghost-peer", Status: store.StatusAlive})

	transport := newFakeTransport() // no peers registered: every send is a no-op, ack never arrives
	cfg := testConfig()
	cfg.ProbeTimeout = 10 * time.Millisecond
	swimA := New(cfg, mA, idA, transport)
	transport.register(idA.ServerID, swimA, idA.PublicKey)

	swimA.probeCycle(context.Background())

	e, ok := mA.Get("ghost-peer")
	require.True(t, ok)
	assert.Equal(t, store.StatusSuspect, e.Status)
}

func TestHandleMessageRejectsBadSignature(t *testing.T) {
	idA := newPeerIdentity(t)
	idB := newPeerIdentity(t)
	other := newPeerIdentity(t)

	mA := NewMembership(idA.ServerID, idA.NodeID, "wss://a", idA.PublicKey)
	transport := newFakeTransport()
	swimA := New(testConfig(), mA, idA, transport)

	msg := &Message{Type: MsgPing, SeqNo: 1, From: idB.ServerID, Timestamp: time.Now()}
	sig, _, err := other.Sign(msg.payload())
	require.NoError(t, err)
	msg.Signature = sig

	// signed by `other`, but claiming to be from idB; verifying against
	// idB's public key must fail and the ping must be dropped.
	swimA.HandleMessage(context.Background(), idB.PublicKey, msg)

	_, ok := mA.Get(idB.ServerID)
	assert.False(t, ok)
}

func TestHandleMessageStateExchangeAppliesRemoteEntries(t *testing.T) {
	idA := newPeerIdentity(t)
	idB := newPeerIdentity(t)
	idC := newPeerIdentity(t)

	mA := NewMembership(idA.ServerID, idA.NodeID, "wss://a", idA.PublicKey)
	transport := newFakeTransport()
	swimA := New(testConfig(), mA, idA, transport)

	msg := &Message{
		Type:  MsgState,
		SeqNo: 1,
		From:  idB.ServerID,
		State: []StateUpdate{
			{ServerID: idC.ServerID, Status: string(store.StatusAlive), Incarnation: 1},
		},
		Timestamp: time.Now(),
	}
	sig, _, err := idB.Sign(msg.payload())
	require.NoError(t, err)
	msg.Signature = sig

	swimA.HandleMessage(context.Background(), idB.PublicKey, msg)

	e, ok := mA.Get(idC.ServerID)
	require.True(t, ok)
	assert.Equal(t, store.StatusAlive, e.Status)
}

func TestStartAndStopDoesNotPanic(t *testing.T) {
	idA := newPeerIdentity(t)
	mA := NewMembership(idA.ServerID, idA.NodeID, "wss://a", idA.PublicKey)
	transport := newFakeTransport()
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.StateExchangeInterval = 5 * time.Millisecond
	cfg.GCHorizon = 20 * time.Millisecond
	swimA := New(cfg, mA, idA, transport)
	transport.register(idA.ServerID, swimA, idA.PublicKey)

	ctx, cancel := context.WithCancel(context.Background())
	swimA.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	swimA.Stop()
}
