package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/identity"
)

// fakePairLookup/fakeLocator let tests set up arbitrary pairing and
// routing state without depending on the pairing package's Registry.
type fakePairLookup struct{ pairs map[string]string }

func (f *fakePairLookup) IsPaired(code string) (string, bool) {
	peer, ok := f.pairs[code]
	return peer, ok
}

type holderEntry struct {
	serverID, endpoint string
}

type fakeLocator struct {
	holders map[string]holderEntry
	conns   map[string]string
}

func (f *fakeLocator) Holder(code string) (string, string, bool) {
	h, ok := f.holders[code]
	return h.serverID, h.endpoint, ok
}

func (f *fakeLocator) ConnID(code string) (string, bool) {
	c, ok := f.conns[code]
	return c, ok
}

// routingTransport dispatches ForwardSignal calls directly into another
// Relay's HandleForward, keyed by serverId.
type routingTransport struct {
	relays map[string]*Relay
}

func newRoutingTransport() *routingTransport {
	return &routingTransport{relays: make(map[string]*Relay)}
}

func (t *routingTransport) register(serverID string, r *Relay) {
	t.relays[serverID] = r
}

func (t *routingTransport) ForwardSignal(ctx context.Context, serverID string, msg *ForwardMessage) error {
	r, ok := t.relays[serverID]
	if !ok {
		return assert.AnError
	}
	return r.HandleForward(msg)
}

type recordedDelivery struct {
	connID string
	msg    *InboundMessage
}

type fakeNotifier struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

func (f *fakeNotifier) DeliverSignal(connID string, msg *InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, recordedDelivery{connID: connID, msg: msg})
}

func (f *fakeNotifier) snapshot() []recordedDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedDelivery, len(f.deliveries))
	copy(out, f.deliveries)
	return out
}

func newTestIdentity(t *testing.T) *identity.ServerIdentity {
	t.Helper()
	id, err := identity.Generate("test")
	require.NoError(t, err)
	return id
}

func TestSendRejectsUnknownMessageType(t *testing.T) {
	id := newTestIdentity(t)
	pairs := &fakePairLookup{pairs: map[string]string{"ABC234": "XYZ567"}}
	locator := &fakeLocator{holders: map[string]holderEntry{}, conns: map[string]string{}}
	notifier := &fakeNotifier{}
	relay := New(id, pairs, locator, nil, notifier)

	err := relay.Send(context.Background(), "ABC234", "bogus", "XYZ567", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestSendRejectsUnpairedSender(t *testing.T) {
	id := newTestIdentity(t)
	pairs := &fakePairLookup{pairs: map[string]string{}}
	locator := &fakeLocator{}
	notifier := &fakeNotifier{}
	relay := New(id, pairs, locator, nil, notifier)

	err := relay.Send(context.Background(), "ABC234", TypeOffer, "XYZ567", json.RawMessage(`{"sdp":"x"}`))
	require.Error(t, err)
}

func TestSendRejectsMismatchedTarget(t *testing.T) {
	id := newTestIdentity(t)
	pairs := &fakePairLookup{pairs: map[string]string{"ABC234": "XYZ567"}}
	locator := &fakeLocator{}
	notifier := &fakeNotifier{}
	relay := New(id, pairs, locator, nil, notifier)

	err := relay.Send(context.Background(), "ABC234", TypeOffer, "OTHER99", json.RawMessage(`{"sdp":"x"}`))
	require.Error(t, err)
}

func TestSendDeliversLocally(t *testing.T) {
	id := newTestIdentity(t)
	pairs := &fakePairLookup{pairs: map[string]string{"ABC234": "XYZ567"}}
	locator := &fakeLocator{
		holders: map[string]holderEntry{"XYZ567": {serverID: id.ServerID, endpoint: "wss://self"}},
		conns:   map[string]string{"XYZ567": "conn-bob"},
	}
	notifier := &fakeNotifier{}
	relay := New(id, pairs, locator, nil, notifier)

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	require.NoError(t, relay.Send(context.Background(), "ABC234", TypeOffer, "XYZ567", payload))

	deliveries := notifier.snapshot()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "conn-bob", deliveries[0].connID)
	assert.Equal(t, TypeOffer, deliveries[0].msg.Type)
	assert.Equal(t, "ABC234", deliveries[0].msg.From)
	assert.JSONEq(t, string(payload), string(deliveries[0].msg.Payload))
}

func TestSendForwardsCrossServer(t *testing.T) {
	idA := newTestIdentity(t)
	idB := newTestIdentity(t)
	routing := newRoutingTransport()

	pairsA := &fakePairLookup{pairs: map[string]string{"ABC234": "XYZ567"}}
	locatorA := &fakeLocator{holders: map[string]holderEntry{"XYZ567": {serverID: idB.ServerID, endpoint: "wss://b"}}}
	notifierA := &fakeNotifier{}
	relayA := New(idA, pairsA, locatorA, routing, notifierA)

	pairsB := &fakePairLookup{pairs: map[string]string{"XYZ567": "ABC234"}}
	locatorB := &fakeLocator{conns: map[string]string{"XYZ567": "conn-bob"}}
	notifierB := &fakeNotifier{}
	relayB := New(idB, pairsB, locatorB, routing, notifierB)

	routing.register(idA.ServerID, relayA)
	routing.register(idB.ServerID, relayB)

	payload := json.RawMessage(`{"candidate":"x"}`)
	require.NoError(t, relayA.Send(context.Background(), "ABC234", TypeICECandidate, "XYZ567", payload))

	deliveries := notifierB.snapshot()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "conn-bob", deliveries[0].connID)
	assert.Equal(t, "ABC234", deliveries[0].msg.From)
	assert.Empty(t, notifierA.snapshot())
}

func TestSendFailsWhenTargetNotConnectedHere(t *testing.T) {
	id := newTestIdentity(t)
	pairs := &fakePairLookup{pairs: map[string]string{"ABC234": "XYZ567"}}
	locator := &fakeLocator{holders: map[string]holderEntry{"XYZ567": {serverID: id.ServerID, endpoint: "wss://self"}}}
	notifier := &fakeNotifier{}
	relay := New(id, pairs, locator, nil, notifier)

	err := relay.Send(context.Background(), "ABC234", TypeAnswer, "XYZ567", json.RawMessage(`{}`))
	require.Error(t, err)
}
