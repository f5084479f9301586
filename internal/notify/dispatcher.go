// Package notify implements the notification delivery path: durable record
// first, then best-effort live delivery and web-push fan-out, with retirement
// of push endpoints the provider reports as gone.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/internal/router"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

// Dispatcher persists notifications and delivers them over live connections
// and push endpoints.
type Dispatcher struct {
	store     fabric.NotificationStore
	endpoints fabric.PushEndpointStore
	provider  fabric.PushProvider
	registry  *registry.Registry
	logger    zerolog.Logger
}

// NewDispatcher wires up a dispatcher. The push provider and endpoint store
// travel together: both or neither may be nil.
func NewDispatcher(
	store fabric.NotificationStore,
	endpoints fabric.PushEndpointStore,
	provider fabric.PushProvider,
	reg *registry.Registry,
	logger zerolog.Logger,
) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("notification store cannot be nil")
	}
	if (endpoints == nil) != (provider == nil) {
		return nil, fmt.Errorf("push endpoint store and push provider must be configured together")
	}
	return &Dispatcher{
		store:     store,
		endpoints: endpoints,
		provider:  provider,
		registry:  reg,
		logger:    logger.With().Str("component", "NotificationDispatcher").Logger(),
	}, nil
}

// Dispatch persists a notification record for the target user, then attempts
// live delivery over the user's notification channel and push delivery to
// every non-expired endpoint on file. Persistence failure aborts the whole
// dispatch; delivery failures are best effort and never fail the call. A
// provider reporting an endpoint as permanently invalid causes that endpoint
// to be deleted.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, title, body, url string) (*fabric.NotificationRecord, error) {
	rec := &fabric.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   body,
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}

	log := d.logger.With().Str("user", userID).Str("notification_id", rec.ID).Logger()

	// Persistence is the durability guarantee: nothing is delivered unless
	// the record exists.
	if err := d.store.Create(ctx, rec); err != nil {
		log.Error().Err(err).Msg("Failed to persist notification")
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	payload, err := fabric.PushNotification{
		ID:        rec.ID,
		Title:     rec.Title,
		Message:   rec.Message,
		URL:       rec.URL,
		Timestamp: rec.CreatedAt,
	}.Encode()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode notification payload")
		return rec, nil
	}

	n := router.Deliver(d.registry, fabric.UserKey(userID), payload, d.logger)
	log.Debug().Int("live_handles", n).Msg("Live delivery attempted")

	d.pushToEndpoints(ctx, userID, payload, log)

	return rec, nil
}

// pushToEndpoints attempts web-push delivery to every active endpoint for
// the user. Each endpoint is attempted independently.
func (d *Dispatcher) pushToEndpoints(ctx context.Context, userID string, payload []byte, log zerolog.Logger) {
	if d.provider == nil {
		return
	}

	eps, err := d.endpoints.ListActive(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list push endpoints")
		return
	}
	if len(eps) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep *fabric.PushEndpoint) {
			defer wg.Done()
			err := d.provider.Send(ctx, ep, payload)
			if err == nil {
				return
			}
			if errors.Is(err, fabric.ErrEndpointGone) {
				log.Info().Str("endpoint", ep.Endpoint).Msg("Push endpoint gone, retiring it")
				if delErr := d.endpoints.Delete(ctx, userID, ep.Endpoint); delErr != nil {
					log.Error().Err(delErr).Str("endpoint", ep.Endpoint).Msg("Failed to delete retired endpoint")
				}
				return
			}
			log.Warn().Err(err).Str("endpoint", ep.Endpoint).Msg("Push delivery failed")
		}(ep)
	}
	wg.Wait()
}
