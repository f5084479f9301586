// Package pubsub contains the Google Cloud Pub/Sub adapter that lets sibling
// services request notification dispatches asynchronously.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// errMalformed marks a message that can never be processed; it is acked and
// dropped rather than redelivered.
var errMalformed = errors.New("malformed dispatch request")

// DispatchRequest is the event body sibling services publish to the
// notifications topic.
type DispatchRequest struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// Dispatcher is the slice of the notification dispatcher the ingestor needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, title, body, url string) (*fabric.NotificationRecord, error)
}

// subscriberClient is the slice of the pubsub subscriber the ingestor needs,
// so tests can supply a fake.
type subscriberClient interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Ingestor consumes dispatch requests from a Pub/Sub subscription and feeds
// them to the notification dispatcher.
type Ingestor struct {
	sub        subscriberClient
	dispatcher Dispatcher
	logger     zerolog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewIngestor is the constructor for the ingestor.
func NewIngestor(sub subscriberClient, dispatcher Dispatcher, logger zerolog.Logger) (*Ingestor, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber cannot be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	return &Ingestor{
		sub:        sub,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "NotificationIngestor").Logger(),
		stop:       make(chan struct{}),
	}, nil
}

// Start blocks receiving messages until Shutdown is called or the context is
// cancelled. Undecodable messages are acked and dropped; dispatch failures
// are nacked for redelivery.
func (i *Ingestor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-i.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	i.logger.Info().Msg("Notification ingestor starting...")
	err := i.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := i.process(ctx, msg.Data); err != nil {
			if errors.Is(err, errMalformed) {
				i.logger.Warn().Err(err).Msg("Dropping undecodable dispatch request")
				msg.Ack()
				return
			}
			i.logger.Error().Err(err).Msg("Dispatch failed, message will be redelivered")
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive failed: %w", err)
	}
	return nil
}

// Shutdown stops the receive loop.
func (i *Ingestor) Shutdown(_ context.Context) error {
	i.stopOnce.Do(func() { close(i.stop) })
	i.logger.Info().Msg("Notification ingestor stopped.")
	return nil
}

// process decodes and dispatches one event body.
func (i *Ingestor) process(ctx context.Context, data []byte) error {
	var req DispatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %s", errMalformed, err)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: missing userId", errMalformed)
	}

	rec, err := i.dispatcher.Dispatch(ctx, req.UserID, req.Title, req.Message, req.URL)
	if err != nil {
		return err
	}

	i.logger.Debug().Str("user", req.UserID).Str("notification_id", rec.ID).Msg("Dispatch request processed")
	return nil
}
