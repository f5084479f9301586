package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/internal/router"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// stubVerifier maps known tokens to subjects.
type stubVerifier struct {
	subjects map[string]string
}

func (s stubVerifier) Verify(_ context.Context, token string) (string, error) {
	if subject, ok := s.subjects[token]; ok {
		return subject, nil
	}
	return "", errors.New("invalid token")
}

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) Append(ctx context.Context, senderID, recipientID, text string, sentAt time.Time) error {
	args := m.Called(ctx, senderID, recipientID, text, sentAt)
	return args.Error(0)
}

type testFixture struct {
	manager  *Manager
	registry *registry.Registry
	store    *mockMessageStore
	server   *httptest.Server
}

func setup(t *testing.T, timeouts Timeouts) *testFixture {
	t.Helper()
	logger := zerolog.Nop()

	reg := registry.New(logger)
	store := new(mockMessageStore)
	rooms := router.NewRoomRouter(reg, logger)
	direct, err := router.NewDirectRouter(reg, store, logger)
	require.NoError(t, err)

	verifier := stubVerifier{subjects: map[string]string{
		"token-7": "7",
		"token-9": "9",
		"token-a": "user-a",
		"token-b": "user-b",
	}}

	manager, err := NewManager("0", verifier, reg, rooms, direct, timeouts, logger)
	require.NoError(t, err, "NewManager failed")

	server := httptest.NewServer(manager.Handler())
	t.Cleanup(server.Close)

	return &testFixture{manager: manager, registry: reg, store: store, server: server}
}

func (fx *testFixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "Failed to dial %s", path)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one satisfies the predicate, failing the test
// if none arrives in time.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "Timed out waiting for a matching frame")
		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		if match(wire) {
			return wire
		}
	}
}

func typeIs(want string) func(map[string]any) bool {
	return func(wire map[string]any) bool { return wire["type"] == want }
}

func TestHandshake_MissingTokenRejected(t *testing.T) {
	fx := setup(t, Timeouts{})

	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/ws/rooms?room=42"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_InvalidTokenRejected(t *testing.T) {
	fx := setup(t, Timeouts{})

	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/ws/rooms?token=bogus&room=42"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, fx.registry.NumChannels(), "no session state may exist after a rejected handshake")
}

func TestHandshake_NonNumericRoomRejected(t *testing.T) {
	fx := setup(t, Timeouts{})

	for _, room := range []string{"", "lobby"} {
		wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/ws/rooms?token=token-a&room=" + room
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestRoomChat_BroadcastReachesAllMembers(t *testing.T) {
	fx := setup(t, Timeouts{})

	connA := fx.dial(t, "/ws/rooms?token=token-a&room=42")
	connB := fx.dial(t, "/ws/rooms?token=token-b&room=42")

	// Both clients see user-b's join notice once B is registered.
	joined := func(wire map[string]any) bool {
		return wire["type"] == "system" && strings.Contains(wire["text"].(string), "user-b joined")
	}
	readUntil(t, connA, joined)
	readUntil(t, connB, joined)

	payload := `{"text":"hi","senderName":"Alice"}`
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(payload)))

	for _, conn := range []*websocket.Conn{connA, connB} {
		wire := readUntil(t, conn, typeIs("chat"))
		assert.Equal(t, "hi", wire["text"])
		assert.Equal(t, "user-a", wire["senderId"])
		assert.Equal(t, "Alice", wire["sender"])
		assert.NotEmpty(t, wire["id"])
		assert.NotEmpty(t, wire["timestamp"])
	}
}

func TestHeartbeat_SentinelAnsweredAndNotRouted(t *testing.T) {
	fx := setup(t, Timeouts{})

	conn := fx.dial(t, "/ws/direct?token=token-7")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	readUntil(t, conn, typeIs("pong"))

	// The sentinel must never reach the direct router's store.
	fx.store.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHeartbeat_SentinelsKeepSessionAlive(t *testing.T) {
	fx := setup(t, Timeouts{Heartbeat: 300 * time.Millisecond})

	conn := fx.dial(t, "/ws/direct?token=token-7")

	// Keep pinging well past several heartbeat intervals.
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
		readUntil(t, conn, typeIs("pong"))
		time.Sleep(150 * time.Millisecond)
	}

	assert.Equal(t, 1, fx.registry.NumChannels(), "session must survive on sentinels alone")
}

func TestHeartbeat_TimeoutClosesSession(t *testing.T) {
	fx := setup(t, Timeouts{Heartbeat: 200 * time.Millisecond})

	conn := fx.dial(t, "/ws/direct?token=token-7")

	require.Eventually(t, func() bool {
		return fx.registry.NumChannels() == 1
	}, 2*time.Second, 10*time.Millisecond, "session was not registered")

	// Send nothing. The server must close the connection on its own.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "server should have closed the idle connection")

	require.Eventually(t, func() bool {
		return fx.registry.NumChannels() == 0
	}, 2*time.Second, 10*time.Millisecond, "registry entry was not removed after timeout")
}

func TestDirectMessage_DeliveredAndPersisted(t *testing.T) {
	fx := setup(t, Timeouts{})

	appended := make(chan struct{})
	fx.store.On("Append", mock.Anything, "7", "9", "hello", mock.AnythingOfType("time.Time")).
		Return(nil).
		Run(func(mock.Arguments) { close(appended) }).
		Once()

	recipient := fx.dial(t, "/ws/direct?token=token-9")
	sender := fx.dial(t, "/ws/direct?token=token-7")

	require.Eventually(t, func() bool {
		return fx.registry.NumChannels() == 2
	}, 2*time.Second, 10*time.Millisecond)

	payload := `{"text":"hello","recipientId":"9"}`
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(payload)))

	wire := readUntil(t, recipient, typeIs("chat"))
	assert.Equal(t, "hello", wire["text"])
	assert.Equal(t, "7", wire["senderId"])

	select {
	case <-appended:
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for message persistence")
	}
	fx.store.AssertExpectations(t)
}

func TestDirectMessage_PersistedWithOfflineRecipient(t *testing.T) {
	fx := setup(t, Timeouts{})

	appended := make(chan struct{})
	fx.store.On("Append", mock.Anything, "7", "9", "into the void", mock.AnythingOfType("time.Time")).
		Return(nil).
		Run(func(mock.Arguments) { close(appended) }).
		Once()

	sender := fx.dial(t, "/ws/direct?token=token-7")

	payload := `{"text":"into the void","recipientId":"9"}`
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(payload)))

	select {
	case <-appended:
	case <-time.After(3 * time.Second):
		t.Fatal("Persistence must not depend on a live recipient")
	}
}

func TestSessionTeardown_LeaveNoticeAfterUnregister(t *testing.T) {
	fx := setup(t, Timeouts{})

	connA := fx.dial(t, "/ws/rooms?token=token-a&room=42")
	connB := fx.dial(t, "/ws/rooms?token=token-b&room=42")

	joined := func(wire map[string]any) bool {
		return wire["type"] == "system" && strings.Contains(wire["text"].(string), "user-b joined")
	}
	readUntil(t, connA, joined)
	readUntil(t, connB, joined)

	// B leaves; A gets the leave notice and B is gone from the registry.
	require.NoError(t, connB.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	))

	left := func(wire map[string]any) bool {
		return wire["type"] == "system" && strings.Contains(wire["text"].(string), "user-b left")
	}
	readUntil(t, connA, left)

	require.Eventually(t, func() bool {
		return len(fx.registry.Snapshot(fabric.RoomKey(42))) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_ClosesLiveSessions(t *testing.T) {
	fx := setup(t, Timeouts{})

	conn := fx.dial(t, "/ws/notifications?token=token-7")

	require.Eventually(t, func() bool {
		return fx.registry.NumChannels() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.manager.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "client read should fail once the server closed the session")
}
