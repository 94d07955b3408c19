package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/identity"
)

// routingTransport dispatches Forward calls directly into another
// Registry's HandleForward, keyed by serverId, so tests can exercise
// real cross-server forwarding without a network.
type routingTransport struct {
	registries map[string]*Registry
}

func newRoutingTransport() *routingTransport {
	return &routingTransport{registries: make(map[string]*Registry)}
}

func (t *routingTransport) register(serverID string, r *Registry) {
	t.registries[serverID] = r
}

func (t *routingTransport) Forward(ctx context.Context, serverID string, req *ForwardRequest) (*ForwardResponse, error) {
	r, ok := t.registries[serverID]
	if !ok {
		return nil, assert.AnError
	}
	return r.HandleForward(ctx, req)
}

// recordedEvent captures one notifier call for assertions.
type recordedEvent struct {
	kind             string
	connID           string
	peerCode         string
	isInitiator      bool
	secondsRemaining int
	errorCode        string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) record(e recordedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeNotifier) snapshot() []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeNotifier) NotifyPairIncoming(connID, fromCode string) {
	f.record(recordedEvent{kind: TypePairIncoming, connID: connID, peerCode: fromCode})
}

func (f *fakeNotifier) NotifyPairMatched(connID, peerCode string, isInitiator bool) {
	f.record(recordedEvent{kind: TypePairMatched, connID: connID, peerCode: peerCode, isInitiator: isInitiator})
}

func (f *fakeNotifier) NotifyPairWarning(connID string, secondsRemaining int) {
	f.record(recordedEvent{kind: TypePairWarning, connID: connID, secondsRemaining: secondsRemaining})
}

func (f *fakeNotifier) NotifyPairExpired(connID string) {
	f.record(recordedEvent{kind: TypePairExpired, connID: connID})
}

func (f *fakeNotifier) NotifyPairRejected(connID string) {
	f.record(recordedEvent{kind: TypePairRejected, connID: connID})
}

func (f *fakeNotifier) NotifyPairError(connID, code string) {
	f.record(recordedEvent{kind: TypePairError, connID: connID, errorCode: code})
}

func (f *fakeNotifier) has(kind, connID string) bool {
	for _, e := range f.snapshot() {
		if e.kind == kind && e.connID == connID {
			return true
		}
	}
	return false
}

func newTestIdentity(t *testing.T) *identity.ServerIdentity {
	t.Helper()
	id, err := identity.Generate("test")
	require.NoError(t, err)
	return id
}

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		PairRequestTimeout:          120 * time.Second,
		PairRequestWarningTime:      30 * time.Second,
		MaxPendingRequestsPerTarget: 10,
	}
}

func singleNodeRing(t *testing.T, self *identity.ServerIdentity, endpoint string) *hashring.Ring {
	t.Helper()
	ring := hashring.New(8)
	ring.AddNode(hashring.Node{ServerID: self.ServerID, NodeID: self.NodeID, Endpoint: endpoint, Status: hashring.StatusAlive})
	return ring
}

func TestRegisterRejectsDuplicateCode(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	reg := New(id, "wss://self", ring, nil, notifier, testClientConfig())

	require.NoError(t, reg.Register(context.Background(), "ABC234", []byte("pk"), "conn-1"))
	err := reg.Register(context.Background(), "ABC234", []byte("pk2"), "conn-2")
	require.Error(t, err)
}

func TestSameServerPairAcceptedFlow(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	reg := New(id, "wss://self", ring, nil, notifier, testClientConfig())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA"), "conn-alice"))
	require.NoError(t, reg.Register(ctx, "XYZ567", []byte("pkB"), "conn-bob"))

	require.NoError(t, reg.OnPairRequest(ctx, "ABC234", "XYZ567"))
	assert.True(t, notifier.has(TypePairIncoming, "conn-bob"))

	require.NoError(t, reg.OnPairResponse(ctx, "XYZ567", "ABC234", true))

	events := notifier.snapshot()
	var aliceMatched, bobMatched *recordedEvent
	for i := range events {
		e := &events[i]
		if e.kind != TypePairMatched {
			continue
		}
		if e.connID == "conn-alice" {
			aliceMatched = e
		}
		if e.connID == "conn-bob" {
			bobMatched = e
		}
	}
	require.NotNil(t, aliceMatched)
	require.NotNil(t, bobMatched)
	assert.True(t, aliceMatched.isInitiator)
	assert.Equal(t, "XYZ567", aliceMatched.peerCode)
	assert.False(t, bobMatched.isInitiator)
	assert.Equal(t, "ABC234", bobMatched.peerCode)

	peer, ok := reg.IsPaired("ABC234")
	require.True(t, ok)
	assert.Equal(t, "XYZ567", peer)
}

func TestSameServerPairRejectedFlow(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	reg := New(id, "wss://self", ring, nil, notifier, testClientConfig())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA"), "conn-alice"))
	require.NoError(t, reg.Register(ctx, "XYZ567", []byte("pkB"), "conn-bob"))
	require.NoError(t, reg.OnPairRequest(ctx, "ABC234", "XYZ567"))

	require.NoError(t, reg.OnPairResponse(ctx, "XYZ567", "ABC234", false))
	assert.True(t, notifier.has(TypePairRejected, "conn-alice"))
	_, paired := reg.IsPaired("ABC234")
	assert.False(t, paired)
}

func TestExplicitCancelDeliversRejectedToTarget(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	reg := New(id, "wss://self", ring, nil, notifier, testClientConfig())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA"), "conn-alice"))
	require.NoError(t, reg.Register(ctx, "XYZ567", []byte("pkB"), "conn-bob"))
	require.NoError(t, reg.OnPairRequest(ctx, "ABC234", "XYZ567"))

	reg.OnPairCancel(ctx, "ABC234", "XYZ567")
	assert.True(t, notifier.has(TypePairRejected, "conn-bob"))
}

func TestMaxPendingRequestsPerTargetEnforced(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	cfg := testClientConfig()
	cfg.MaxPendingRequestsPerTarget = 1
	reg := New(id, "wss://self", ring, nil, notifier, cfg)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "TARGET", []byte("pk"), "conn-target"))
	require.NoError(t, reg.Register(ctx, "REQ1", []byte("pk"), "conn-req1"))
	require.NoError(t, reg.Register(ctx, "REQ2", []byte("pk"), "conn-req2"))

	require.NoError(t, reg.OnPairRequest(ctx, "REQ1", "TARGET"))
	err := reg.OnPairRequest(ctx, "REQ2", "TARGET")
	require.Error(t, err)
	assert.True(t, notifier.has(TypePairError, "conn-req2"))
}

func TestConnectionCloseCancelsPendingAndOutgoing(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	reg := New(id, "wss://self", ring, nil, notifier, testClientConfig())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA"), "conn-alice"))
	require.NoError(t, reg.Register(ctx, "XYZ567", []byte("pkB"), "conn-bob"))
	require.NoError(t, reg.OnPairRequest(ctx, "ABC234", "XYZ567"))

	reg.Unregister(ctx, "ABC234")
	assert.True(t, notifier.has(TypePairRejected, "conn-bob"))

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA2"), "conn-alice-2"))
}

func TestPairTimeoutDeliversWarningThenExpiry(t *testing.T) {
	id := newTestIdentity(t)
	ring := singleNodeRing(t, id, "wss://self")
	notifier := &fakeNotifier{}
	cfg := testClientConfig()
	cfg.PairRequestTimeout = 40 * time.Millisecond
	cfg.PairRequestWarningTime = 25 * time.Millisecond
	reg := New(id, "wss://self", ring, nil, notifier, cfg)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "ABC234", []byte("pkA"), "conn-alice"))
	require.NoError(t, reg.Register(ctx, "XYZ567", []byte("pkB"), "conn-bob"))
	require.NoError(t, reg.OnPairRequest(ctx, "ABC234", "XYZ567"))

	require.Eventually(t, func() bool { return notifier.has(TypePairWarning, "conn-alice") }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return notifier.has(TypePairExpired, "conn-bob") }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return notifier.has(TypePairExpired, "conn-alice") }, time.Second, time.Millisecond)
}

func TestCrossServerPairViaForward(t *testing.T) {
	idA := newTestIdentity(t)
	idB := newTestIdentity(t)

	ring := hashring.New(32)
	ring.AddNode(hashring.Node{ServerID: idA.ServerID, NodeID: idA.NodeID, Endpoint: "wss://a", Status: hashring.StatusAlive})
	ring.AddNode(hashring.Node{ServerID: idB.ServerID, NodeID: idB.NodeID, Endpoint: "wss://b", Status: hashring.StatusAlive})

	routing := newRoutingTransport()
	notifierA := &fakeNotifier{}
	notifierB := &fakeNotifier{}
	regA := New(idA, "wss://a", ring, routing, notifierA, testClientConfig())
	regB := New(idB, "wss://b", ring, routing, notifierB, testClientConfig())
	routing.register(idA.ServerID, regA)
	routing.register(idB.ServerID, regB)

	ctx := context.Background()
	require.NoError(t, regA.Register(ctx, "REQCODE", []byte("pkA"), "conn-a"))
	require.NoError(t, regB.Register(ctx, "TGTCODE", []byte("pkB"), "conn-b"))

	require.NoError(t, regA.OnPairRequest(ctx, "REQCODE", "TGTCODE"))
	assert.True(t, notifierB.has(TypePairIncoming, "conn-b"))

	require.NoError(t, regB.OnPairResponse(ctx, "TGTCODE", "REQCODE", true))
	assert.True(t, notifierB.has(TypePairMatched, "conn-b"))
	require.Eventually(t, func() bool { return notifierA.has(TypePairMatched, "conn-a") }, time.Second, time.Millisecond)
}
