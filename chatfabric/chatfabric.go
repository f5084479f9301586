// Package chatfabric wires the REST API surface into a runnable service.
package chatfabric

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/chatfabric/config"
	"github.com/tinywideclouds/go-chat-fabric/internal/api"
)

// Wrapper owns the HTTP server hosting the notification and push-endpoint API.
type Wrapper struct {
	server        *http.Server
	apiHandler    *api.API
	logger        zerolog.Logger
	httpReadyChan chan struct{}
	ready         bool
}

// New creates and wires up the API service.
func New(
	cfg *config.AppConfig,
	apiHandler *api.API,
	authMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if apiHandler == nil {
		return nil, fmt.Errorf("api handler cannot be nil")
	}
	if authMiddleware == nil {
		return nil, fmt.Errorf("auth middleware cannot be nil")
	}

	mux := http.NewServeMux()
	apiHandler.Register(mux)

	var handler http.Handler = authMiddleware(mux)
	handler = api.CORSMiddleware(cfg.Cors.AllowedOrigins)(handler)
	handler = healthz(handler)

	return &Wrapper{
		server: &http.Server{
			Addr:    ":" + cfg.APIPort,
			Handler: handler,
		},
		apiHandler:    apiHandler,
		logger:        logger,
		httpReadyChan: make(chan struct{}),
	}, nil
}

// healthz answers the unauthenticated readiness probe before the auth
// middleware sees the request.
func healthz(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Ready reports whether the HTTP listener is accepting connections.
func (w *Wrapper) Ready() bool {
	return w.ready
}

// Start binds the listener, marks the service ready, and serves until
// Shutdown is called.
func (w *Wrapper) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen: %w", err)
	}

	serverErrChan := make(chan error, 1)
	go func() {
		close(w.httpReadyChan)
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error().Err(err).Msg("HTTP server failed")
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	select {
	case <-w.httpReadyChan:
		w.logger.Info().Str("addr", w.server.Addr).Msg("HTTP listener is active.")
		w.ready = true
		w.logger.Info().Msg("Service is now ready.")

	case err := <-serverErrChan:
		return fmt.Errorf("HTTP server failed to start: %w", err)

	case <-ctx.Done():
		return ctx.Err()
	}

	// Block until the server goroutine exits, which happens on Shutdown.
	if err := <-serverErrChan; err != nil {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API service...")
	w.ready = false
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		return err
	}
	w.logger.Info().Msg("API service shut down.")
	return nil
}
