package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/identity"
)

func testTransportConfig() config.TransportConfig {
	return config.TransportConfig{
		HandshakeTimeout:      2 * time.Second,
		PingInterval:          0, // disabled for deterministic tests
		PongTimeout:           30 * time.Second,
		ReconnectBaseInterval: 10 * time.Millisecond,
		ReconnectMaxInterval:  50 * time.Millisecond,
		RPCTimeout:            2 * time.Second,
	}
}

func newTestIdentity(t *testing.T) *identity.ServerIdentity {
	id, err := identity.Generate("test")
	require.NoError(t, err)
	return id
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestHandshakeEstablishesPeerOnBothSides(t *testing.T) {
	serverID := newTestIdentity(t)
	clientID := newTestIdentity(t)

	serverManager := NewManager(serverID, testTransportConfig())
	srv := NewServer(serverID, "wss://server.example", serverManager, 2*time.Second, 0, 30*time.Second)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	clientManager := NewManager(clientID, testTransportConfig())
	dialer := NewDialer(clientID, clientManager, testTransportConfig(), "wss://client.example", serverID.ServerID, wsURL(httpSrv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go dialer.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := clientManager.Peer(serverID.ServerID)
		return ok
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := serverManager.Peer(clientID.ServerID)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestEnvelopeRoundTripsThroughHandler(t *testing.T) {
	serverID := newTestIdentity(t)
	clientID := newTestIdentity(t)

	serverManager := NewManager(serverID, testTransportConfig())
	received := make(chan string, 1)
	serverManager.RegisterHandler(KindGossip, func(peerServerID string, env *Envelope) (*Envelope, error) {
		var payload map[string]string
		_ = json.Unmarshal(env.Payload, &payload)
		received <- payload["hello"]
		return nil, nil
	})

	srv := NewServer(serverID, "wss://server.example", serverManager, 2*time.Second, 0, 30*time.Second)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	clientManager := NewManager(clientID, testTransportConfig())
	dialer := NewDialer(clientID, clientManager, testTransportConfig(), "wss://client.example", serverID.ServerID, wsURL(httpSrv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go dialer.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := clientManager.Peer(serverID.ServerID)
		return ok
	}, time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	err := clientManager.Send(ctx, serverID.ServerID, &Envelope{Kind: KindGossip, Payload: payload})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "world", got)
	case <-time.After(time.Second):
		t.Fatal("envelope was never received")
	}
}

func TestVerifyHandshakeRejectsMismatchedKey(t *testing.T) {
	id := newTestIdentity(t)
	other := newTestIdentity(t)

	h, err := newHandshake(id, "wss://a")
	require.NoError(t, err)
	h.PublicKey = other.PublicKey // tamper with the carried key

	err = verifyHandshake(h)
	assert.Error(t, err)
}
