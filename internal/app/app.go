// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-fabric/chatfabric"
	"github.com/tinywideclouds/go-chat-fabric/internal/platform/pubsub"
	"github.com/tinywideclouds/go-chat-fabric/internal/session"
)

const shutdownGrace = 15 * time.Second

// Run executes the main application lifecycle. It starts the API service, the
// websocket session manager, and the notification ingestor, listens for OS
// signals, and performs a graceful shutdown of all three. The ingestor may be
// nil when the deployment has no Pub/Sub subscription to consume.
func Run(
	ctx context.Context,
	logger zerolog.Logger,
	apiService *chatfabric.Wrapper,
	sessionManager *session.Manager,
	ingestor *pubsub.Ingestor,
) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info().Str("service", name).Msg("Starting service...")
			err := run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("service", name).Msg("Service failed")
				cancel() // Trigger shutdown of the other services.
			}
		}()
	}

	start("api", apiService.Start)
	start("sessions", sessionManager.Start)
	if ingestor != nil {
		start("notification-ingestor", ingestor.Start)
	}

	// Wait for a shutdown signal.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal.")
	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, initiating shutdown.")
	}

	// Execute graceful shutdown. The ingestor stops first so no new dispatches
	// reach sessions that are about to close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if ingestor != nil {
		logger.Info().Msg("Shutting down notification ingestor...")
		if err := ingestor.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Notification ingestor shutdown failed.")
		}
	}

	logger.Info().Msg("Shutting down session manager...")
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Session manager shutdown failed.")
	}

	logger.Info().Msg("Shutting down API service...")
	if err := apiService.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API service shutdown failed.")
	}

	wg.Wait()
	logger.Info().Msg("All services shut down gracefully.")
}
