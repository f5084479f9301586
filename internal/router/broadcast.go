package router

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// RoomRouter fans chat messages and system notices out to every live handle
// in a room.
type RoomRouter struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewRoomRouter creates a router over the given registry.
func NewRoomRouter(reg *registry.Registry, logger zerolog.Logger) *RoomRouter {
	return &RoomRouter{
		registry: reg,
		logger:   logger.With().Str("component", "RoomRouter").Logger(),
	}
}

// Broadcast stamps the message with a server identity and timestamp,
// serializes it once, and delivers it to every live handle in the room.
// Partial failures are routed into registry cleanup, never to the caller.
// A room with zero live handles is a normal occurrence, not an error.
func (r *RoomRouter) Broadcast(roomID int64, msg fabric.ChatMessage) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()

	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	n := Deliver(r.registry, fabric.RoomKey(roomID), payload, r.logger)
	r.logger.Debug().Int64("room", roomID).Int("recipients", n).Str("msg_id", msg.ID).Msg("Broadcast delivered")
	return nil
}

// Notice broadcasts a best-effort system notice to a room, e.g. a member
// join or leave announcement.
func (r *RoomRouter) Notice(roomID int64, text string) {
	payload, err := fabric.SystemNotice{Text: text, Timestamp: time.Now().UTC()}.Encode()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode system notice")
		return
	}
	Deliver(r.registry, fabric.RoomKey(roomID), payload, r.logger)
}
