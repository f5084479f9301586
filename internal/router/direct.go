package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

const persistTimeout = 15 * time.Second

// DirectRouter delivers one-to-one messages: best-effort live delivery to
// every handle the recipient holds open, plus unconditional durable
// persistence through the message store.
type DirectRouter struct {
	registry *registry.Registry
	store    fabric.MessageStore
	logger   zerolog.Logger
}

// NewDirectRouter creates a router over the given registry and store.
func NewDirectRouter(reg *registry.Registry, store fabric.MessageStore, logger zerolog.Logger) (*DirectRouter, error) {
	if store == nil {
		return nil, fmt.Errorf("message store cannot be nil")
	}
	return &DirectRouter{
		registry: reg,
		store:    store,
		logger:   logger.With().Str("component", "DirectRouter").Logger(),
	}, nil
}

// Route stamps the message with a server identity and UTC timestamp,
// attempts live delivery to the recipient's open handles, and forwards the
// stamped message to the durable store regardless of whether a live
// recipient was found. Persistence runs asynchronously; the returned channel
// carries its result and may be awaited or dropped. Persistence failure is
// logged and never surfaced to the sender's connection.
func (r *DirectRouter) Route(senderID, recipientID string, msg fabric.ChatMessage) (<-chan error, error) {
	msg.ID = uuid.NewString()
	msg.SenderID = senderID
	msg.RecipientID = recipientID
	msg.Timestamp = time.Now().UTC()

	payload, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode direct message: %w", err)
	}

	log := r.logger.With().Str("sender", senderID).Str("recipient", recipientID).Str("msg_id", msg.ID).Logger()

	n := Deliver(r.registry, fabric.UserKey(recipientID), payload, r.logger)
	log.Debug().Int("recipients", n).Msg("Live delivery attempted")

	// Persistence is detached from the session's lifetime on purpose: the
	// sender disconnecting must not lose the durable copy.
	result := make(chan error, 1)
	go func() {
		defer close(result)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := r.store.Append(ctx, senderID, recipientID, msg.Text, msg.Timestamp); err != nil {
			log.Error().Err(err).Msg("Failed to persist direct message")
			result <- err
			return
		}
		log.Debug().Msg("Direct message persisted")
	}()

	return result, nil
}
