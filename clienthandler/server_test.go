package clienthandler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/hashring"
	"github.com/sage-x-project/vps-signal/identity"
	"github.com/sage-x-project/vps-signal/pairing"
	"github.com/sage-x-project/vps-signal/rendezvous"
	"github.com/sage-x-project/vps-signal/signaling"
	"github.com/sage-x-project/vps-signal/store/memory"
)

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		MaxConnectionsPerPeer:       20,
		HeartbeatInterval:           time.Minute,
		HeartbeatTimeout:            time.Minute,
		PairRequestTimeout:          120 * time.Second,
		PairRequestWarningTime:      30 * time.Second,
		MaxPendingRequestsPerTarget: 10,
		MaxFrameBytes:               64 * 1024,
		RateLimitPerMinute:          1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	id, err := identity.Generate("test")
	require.NoError(t, err)

	ring := hashring.New(8)
	ring.AddNode(hashring.Node{ServerID: id.ServerID, NodeID: id.NodeID, Endpoint: "wss://self", Status: hashring.StatusAlive})

	cfg := testClientConfig()

	rvStore := memory.NewStore().Rendezvous()
	rvEngine := rendezvous.New(id, ring, rvStore, nil, config.DHTConfig{ReplicationFactor: 1, WriteQuorum: 1, ReadQuorum: 1, VirtualNodes: 8})

	srv := &Server{}
	pairingRegistry := pairing.New(id, "wss://self", ring, nil, srv, cfg)
	relay := signaling.New(id, pairingRegistry, pairingRegistry, nil, srv)

	*srv = Server{
		id:           id,
		cfg:          cfg,
		cleanup:      config.CleanupConfig{DailyPointTTL: 48 * time.Hour, HourlyTokenTTL: 3 * time.Hour},
		pairing:      pairingRegistry,
		signaling:    relay,
		rendezvous:   rvEngine,
		conns:        make(map[string]*connection),
		perPeerCount: make(map[string]int),
	}
	return srv
}

func dialTestServer(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	testServer := httptest.NewServer(srv.Handler())
	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		_ = conn.Close()
		testServer.Close()
	}
}

func readTyped(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &env))
	typ, _ := env["type"].(string)
	return typ, env
}

func TestServerSendsServerInfoOnConnect(t *testing.T) {
	srv := newTestServer(t)
	conn, cleanup := dialTestServer(t, srv)
	defer cleanup()

	typ, env := readTyped(t, conn)
	require.Equal(t, typeServerInfo, typ)
	require.Equal(t, srv.id.ServerID, env["serverId"])
}

func TestRegisterThenPairThenSignal(t *testing.T) {
	srv := newTestServer(t)

	aliceConn, aliceCleanup := dialTestServer(t, srv)
	defer aliceCleanup()
	bobConn, bobCleanup := dialTestServer(t, srv)
	defer bobCleanup()

	_, _ = readTyped(t, aliceConn) // server_info
	_, _ = readTyped(t, bobConn)   // server_info

	require.NoError(t, aliceConn.WriteJSON(map[string]interface{}{
		"type": "register", "pairingCode": "ABC234", "publicKey": []byte("pkA"),
	}))
	typ, _ := readTyped(t, aliceConn)
	require.Equal(t, typeRegistered, typ)

	require.NoError(t, bobConn.WriteJSON(map[string]interface{}{
		"type": "register", "pairingCode": "XYZ567", "publicKey": []byte("pkB"),
	}))
	typ, _ = readTyped(t, bobConn)
	require.Equal(t, typeRegistered, typ)

	require.NoError(t, aliceConn.WriteJSON(map[string]interface{}{
		"type": "pair_request", "targetCode": "XYZ567",
	}))
	typ, env := readTyped(t, bobConn)
	require.Equal(t, pairing.TypePairIncoming, typ)
	require.Equal(t, "ABC234", env["fromCode"])

	require.NoError(t, bobConn.WriteJSON(map[string]interface{}{
		"type": "pair_response", "targetCode": "ABC234", "accepted": true,
	}))

	typ, env = readTyped(t, aliceConn)
	require.Equal(t, pairing.TypePairMatched, typ)
	require.Equal(t, true, env["isInitiator"])
	typ, env = readTyped(t, bobConn)
	require.Equal(t, pairing.TypePairMatched, typ)
	require.Equal(t, false, env["isInitiator"])

	require.NoError(t, aliceConn.WriteJSON(map[string]interface{}{
		"type": "offer", "target": "XYZ567", "payload": map[string]string{"sdp": "v=0..A"},
	}))
	typ, env = readTyped(t, bobConn)
	require.Equal(t, "offer", typ)
	require.Equal(t, "ABC234", env["from"])
}

func TestUnknownTypeReturnsError(t *testing.T) {
	srv := newTestServer(t)
	conn, cleanup := dialTestServer(t, srv)
	defer cleanup()
	_, _ = readTyped(t, conn) // server_info

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "bogus_type"}))
	typ, env := readTyped(t, conn)
	require.Equal(t, typeError, typ)
	require.Equal(t, "unknown_type", env["code"])
}

func TestMalformedMessageReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	conn, cleanup := dialTestServer(t, srv)
	defer cleanup()
	_, _ = readTyped(t, conn) // server_info

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	typ, env := readTyped(t, conn)
	require.Equal(t, typeError, typ)
	require.Equal(t, "bad_request", env["code"])
}

func TestRepeatedMalformedMessagesCloseConnection(t *testing.T) {
	srv := newTestServer(t)
	conn, cleanup := dialTestServer(t, srv)
	defer cleanup()
	_, _ = readTyped(t, conn) // server_info

	// The close frame (written directly off the read loop) and a
	// still-queued bad_request reply (drained by the write loop) can
	// arrive in either order, so just read until the close shows up
	// rather than asserting a reply for every single write.
	var closeErr *websocket.CloseError
	for i := 0; i < protocolViolationLimit+2; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ok bool
			closeErr, ok = err.(*websocket.CloseError)
			require.True(t, ok, "expected a close error, got %T: %v", err, err)
			break
		}
		var env map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, "bad_request", env["code"])
	}
	require.NotNil(t, closeErr, "connection was never closed as a repeat offender")
	require.Equal(t, "slow_consumer", closeErr.Text)
}
