// Package session owns the websocket connection lifecycle: the authenticated
// handshake, registration, the heartbeat read loop, and teardown on close
// frames, timeouts, and read errors.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/internal/router"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// Timeouts holds the per-connection deadlines. Zero values fall back to the
// defaults.
type Timeouts struct {
	// Heartbeat is the inactivity deadline: a session receiving no frames for
	// this long is closed.
	Heartbeat time.Duration
	// Write bounds every outbound frame, including fan-out sends.
	Write time.Duration
}

const (
	defaultHeartbeat    = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

func (t Timeouts) withDefaults() Timeouts {
	if t.Heartbeat <= 0 {
		t.Heartbeat = defaultHeartbeat
	}
	if t.Write <= 0 {
		t.Write = defaultWriteTimeout
	}
	return t
}

// channelKind selects the routing behaviour of a session's read loop.
type channelKind int

const (
	kindRoom channelKind = iota
	kindDirect
	kindNotification
)

// session is the live state of one connection. It is mutated only by the
// read-loop goroutine that owns it.
type session struct {
	subject    string
	kind       channelKind
	key        fabric.ChannelKey
	roomID     int64
	handle     *wsHandle
	lastActive time.Time
}

// inboundFrame is the structured payload clients send on room and direct
// channels. Recipient and sender metadata are advisory, client-assigned.
type inboundFrame struct {
	Text         string `json:"text"`
	RecipientID  string `json:"recipientId,omitempty"`
	SenderName   string `json:"senderName,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Manager runs the websocket server hosting the room, direct-message, and
// notification upgrade endpoints, and owns every session's lifecycle.
type Manager struct {
	server   *http.Server
	upgrader websocket.Upgrader

	verifier fabric.IdentityVerifier
	registry *registry.Registry
	rooms    *router.RoomRouter
	direct   *router.DirectRouter

	timeouts Timeouts
	sessions sync.Map // handle ID -> *wsHandle, for shutdown teardown
	logger   zerolog.Logger
}

// NewManager wires up the websocket server on the given port.
func NewManager(
	port string,
	verifier fabric.IdentityVerifier,
	reg *registry.Registry,
	rooms *router.RoomRouter,
	direct *router.DirectRouter,
	timeouts Timeouts,
	logger zerolog.Logger,
) (*Manager, error) {
	if verifier == nil {
		return nil, fmt.Errorf("identity verifier cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	m := &Manager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement a real origin check
				return true
			},
		},
		verifier: verifier,
		registry: reg,
		rooms:    rooms,
		direct:   direct,
		timeouts: timeouts.withDefaults(),
		logger:   logger.With().Str("component", "SessionManager").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/rooms", m.roomHandler)
	mux.HandleFunc("/ws/direct", m.directHandler)
	mux.HandleFunc("/ws/notifications", m.notificationHandler)
	m.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return m, nil
}

// Handler exposes the endpoint mux, used by tests to run the manager behind
// an httptest server.
func (m *Manager) Handler() http.Handler {
	return m.server.Handler
}

// Start runs the websocket HTTP server until Shutdown is called.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info().Str("addr", m.server.Addr).Msg("WebSocket server starting...")
	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting upgrades and closes every live session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info().Msg("Shutting down WebSocket service...")
	var finalErr error

	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
		finalErr = err
	}

	m.sessions.Range(func(_, value any) bool {
		_ = value.(*wsHandle).Close()
		return true
	})

	m.logger.Info().Msg("WebSocket service shut down.")
	return finalErr
}

// authenticate resolves the credential token from the query string. The
// transport does not carry custom headers during the handshake, so the token
// travels as a query parameter.
func (m *Manager) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	subject, err := m.verifier.Verify(r.Context(), token)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Credential verification failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return subject, true
}

// roomHandler upgrades a room-chat connection. Requires a numeric 'room'
// query parameter alongside the credential token.
func (m *Manager) roomHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := m.authenticate(w, r)
	if !ok {
		return
	}

	roomID, err := strconv.ParseInt(r.URL.Query().Get("room"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid room identifier", http.StatusBadRequest)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	sess := &session{
		subject: subject,
		kind:    kindRoom,
		key:     fabric.RoomKey(roomID),
		roomID:  roomID,
		handle:  newHandle(conn, m.timeouts.Write),
	}
	m.open(sess)
}

// directHandler upgrades a direct-message connection, addressed by the
// verified subject itself.
func (m *Manager) directHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := m.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	sess := &session{
		subject: subject,
		kind:    kindDirect,
		key:     fabric.UserKey(subject),
		handle:  newHandle(conn, m.timeouts.Write),
	}
	m.open(sess)
}

// notificationHandler upgrades a notification connection. The channel is
// outbound-only: inbound frames other than the heartbeat sentinel are
// dropped.
func (m *Manager) notificationHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := m.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	sess := &session{
		subject: subject,
		kind:    kindNotification,
		key:     fabric.UserKey(subject),
		handle:  newHandle(conn, m.timeouts.Write),
	}
	m.open(sess)
}

// open registers the session and runs its read loop to completion. The
// calling handler goroutine is the session's single concurrent unit.
func (m *Manager) open(sess *session) {
	log := m.logger.With().
		Str("subject", sess.subject).
		Str("channel", sess.key.String()).
		Str("handle", sess.handle.ID()).
		Logger()

	m.registry.Register(sess.key, sess.handle)
	m.sessions.Store(sess.handle.ID(), sess.handle)
	log.Info().Msg("Session open")

	if sess.kind == kindRoom {
		m.rooms.Notice(sess.roomID, sess.subject+" joined the room")
	}

	m.readLoop(sess, log)

	// Teardown order matters: the registry entry goes first, then the
	// best-effort leave notice, then the transport close.
	m.registry.Unregister(sess.key, sess.handle)
	m.sessions.Delete(sess.handle.ID())
	if sess.kind == kindRoom {
		m.rooms.Notice(sess.roomID, sess.subject+" left the room")
	}
	_ = sess.handle.Close()
	log.Info().Msg("Session closed")
}

// readLoop races the next inbound frame against the heartbeat deadline. Any
// frame resets the deadline; the heartbeat sentinel is consumed and answered
// with a pong; everything else is handed to the router for the channel kind.
func (m *Manager) readLoop(sess *session, log zerolog.Logger) {
	conn := sess.handle.conn
	for {
		_ = conn.SetReadDeadline(time.Now().Add(m.timeouts.Heartbeat))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Info().Time("last_active", sess.lastActive).Msg("Heartbeat deadline exceeded")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Debug().Msg("Peer closed the connection")
			default:
				log.Warn().Err(err).Msg("Read failed")
			}
			return
		}
		sess.lastActive = time.Now()

		if strings.TrimSpace(string(data)) == fabric.HeartbeatSentinel {
			if pong, err := (fabric.Pong{}).Encode(); err == nil {
				_ = sess.handle.Send(pong)
			}
			continue
		}

		m.route(sess, data, log)
	}
}

// route decodes a deliverable frame and hands it to the router appropriate
// to the session's channel kind.
func (m *Manager) route(sess *session, data []byte, log zerolog.Logger) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}
	if frame.Text == "" {
		return
	}

	msg := fabric.ChatMessage{
		SenderID:     sess.subject,
		SenderName:   frame.SenderName,
		ProfileImage: frame.ProfileImage,
		Text:         frame.Text,
	}

	switch sess.kind {
	case kindRoom:
		if err := m.rooms.Broadcast(sess.roomID, msg); err != nil {
			log.Error().Err(err).Msg("Broadcast failed")
		}
	case kindDirect:
		if frame.RecipientID == "" {
			log.Warn().Msg("Dropping direct message without recipient")
			return
		}
		if _, err := m.direct.Route(sess.subject, frame.RecipientID, msg); err != nil {
			log.Error().Err(err).Msg("Direct routing failed")
		}
	case kindNotification:
		// Outbound-only channel.
	}
}
