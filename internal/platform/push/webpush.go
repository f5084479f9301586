// Package push contains the Web Push implementation of the fabric's push
// provider.
package push

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

const defaultTTL = 60 * 60 * 24 // seconds

// WebPushProvider implements fabric.PushProvider using the Web Push protocol
// with VAPID authentication.
type WebPushProvider struct {
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	logger          zerolog.Logger
}

// NewWebPushProvider is the constructor for the provider. Subscriber is the
// contact address (mailto: or https:) sent to the push service in the VAPID
// claims of each request.
func NewWebPushProvider(vapidPublicKey, vapidPrivateKey, subscriber string, logger zerolog.Logger) (*WebPushProvider, error) {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil, fmt.Errorf("VAPID key pair must be configured")
	}
	if subscriber == "" {
		return nil, fmt.Errorf("VAPID subscriber contact must be configured")
	}
	return &WebPushProvider{
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		logger:          logger.With().Str("component", "WebPushProvider").Logger(),
	}, nil
}

// Send delivers the payload to one endpoint. A push-service response of 404
// or 410 means the subscription is permanently invalid and maps to
// fabric.ErrEndpointGone so the dispatcher retires it.
func (p *WebPushProvider) Send(ctx context.Context, ep *fabric.PushEndpoint, payload []byte) error {
	sub := &webpush.Subscription{
		Endpoint: ep.Endpoint,
		Keys: webpush.Keys{
			P256dh: ep.P256dh,
			Auth:   ep.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      p.subscriber,
		VAPIDPublicKey:  p.vapidPublicKey,
		VAPIDPrivateKey: p.vapidPrivateKey,
		TTL:             defaultTTL,
	})
	if err != nil {
		return fmt.Errorf("web push request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fabric.ErrEndpointGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}

	p.logger.Debug().Str("endpoint", ep.Endpoint).Int("status", resp.StatusCode).Msg("Push delivered")
	return nil
}
