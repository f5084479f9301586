package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// wsHandle binds a fabric.Handle to one gorilla websocket connection. Sends
// are serialized by a mutex and bounded by the write timeout; a failed send
// marks the handle closed so registry snapshots prune it.
type wsHandle struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
}

func newHandle(conn *websocket.Conn, writeTimeout time.Duration) *wsHandle {
	return &wsHandle{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (h *wsHandle) ID() string { return h.id }

func (h *wsHandle) Send(payload []byte) error {
	if h.closed.Load() {
		return fabric.ErrHandleClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := h.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.closed.Store(true)
		return err
	}
	return nil
}

// Close sends a best-effort normal-closure frame and tears the socket down.
// Safe to call from any goroutine, any number of times.
func (h *wsHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	deadline := time.Now().Add(h.writeTimeout)
	_ = h.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	return h.conn.Close()
}

func (h *wsHandle) IsClosed() bool { return h.closed.Load() }
