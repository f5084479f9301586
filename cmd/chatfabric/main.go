package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-chat-fabric/chatfabric"
	"github.com/tinywideclouds/go-chat-fabric/chatfabric/config"
	"github.com/tinywideclouds/go-chat-fabric/cmd"
	"github.com/tinywideclouds/go-chat-fabric/internal/api"
	"github.com/tinywideclouds/go-chat-fabric/internal/app"
	"github.com/tinywideclouds/go-chat-fabric/internal/notify"
	"github.com/tinywideclouds/go-chat-fabric/internal/platform/identity"
	"github.com/tinywideclouds/go-chat-fabric/internal/platform/persistence"
	"github.com/tinywideclouds/go-chat-fabric/internal/platform/presence"
	psub "github.com/tinywideclouds/go-chat-fabric/internal/platform/pubsub"
	"github.com/tinywideclouds/go-chat-fabric/internal/platform/push"
	"github.com/tinywideclouds/go-chat-fabric/internal/registry"
	"github.com/tinywideclouds/go-chat-fabric/internal/router"
	"github.com/tinywideclouds/go-chat-fabric/internal/session"
	"github.com/tinywideclouds/go-chat-fabric/pkg/fabric"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-chat-fabric").Logger()

	// 2. Load config.yaml and apply env overrides
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	ctx := context.Background()

	// 3. Connect to GCP and Redis
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to firestore")
	}
	defer func() { _ = fsClient.Close() }()

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to pubsub")
	}
	defer func() { _ = psClient.Close() }()

	// 4. Build the platform adapters
	messageStore, err := persistence.NewFirestoreMessageStore(fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create message store")
	}
	notificationStore, err := persistence.NewFirestoreNotificationStore(fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create notification store")
	}
	endpointStore, err := persistence.NewFirestorePushEndpointStore(fsClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create push endpoint store")
	}

	presenceCache, err := newPresenceCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create presence cache")
	}

	verifier, err := identity.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token verifier")
	}

	// Web push is optional: without VAPID keys the dispatcher still persists
	// and delivers live, it just never pushes.
	var pushProvider fabric.PushProvider
	var dispatchEndpoints fabric.PushEndpointStore
	if cfg.WebPush.VapidPublicKey != "" && cfg.VapidPrivateKey != "" {
		provider, provErr := push.NewWebPushProvider(
			cfg.WebPush.VapidPublicKey,
			cfg.VapidPrivateKey,
			cfg.WebPush.Subscriber,
			logger,
		)
		if provErr != nil {
			logger.Fatal().Err(provErr).Msg("Failed to create web push provider")
		}
		pushProvider = provider
		dispatchEndpoints = endpointStore
	} else {
		logger.Warn().Msg("VAPID keys not configured. Web push delivery is disabled.")
	}

	// 5. Build the core fabric
	reg := registry.New(
		logger.With().Str("component", "Registry").Logger(),
		registry.WithPresenceCache(presenceCache),
	)
	rooms := router.NewRoomRouter(reg, logger)
	direct, err := router.NewDirectRouter(reg, messageStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create direct router")
	}
	dispatcher, err := notify.NewDispatcher(notificationStore, dispatchEndpoints, pushProvider, reg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create notification dispatcher")
	}

	// 6. Create the two front-door services
	apiHandler := api.NewAPI(
		dispatcher,
		notificationStore,
		endpointStore,
		logger.With().Str("component", "API").Logger(),
	)
	apiService, err := chatfabric.New(
		cfg,
		apiHandler,
		api.AuthMiddleware(verifier, logger),
		logger.With().Str("component", "ApiService").Logger(),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	sessionManager, err := session.NewManager(
		cfg.WebSocketPort,
		verifier,
		reg,
		rooms,
		direct,
		session.Timeouts{
			Heartbeat: time.Duration(cfg.Session.HeartbeatSeconds) * time.Second,
			Write:     time.Duration(cfg.Session.WriteTimeoutSeconds) * time.Second,
		},
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session manager")
	}

	var ingestor *psub.Ingestor
	if cfg.NotificationsSubscriptionID != "" {
		ingestor, err = psub.NewIngestor(
			psClient.Subscriber(cfg.NotificationsSubscriptionID),
			dispatcher,
			logger,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create notification ingestor")
		}
	}

	// 7. Run the application
	app.Run(ctx, logger, apiService, sessionManager, ingestor)
}

// newPresenceCache connects to Redis and verifies the connection before
// handing the cache to the registry.
func newPresenceCache(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (fabric.PresenceCache, error) {
	addr := cfg.PresenceCache.Redis.Addr
	if addr == "" {
		return nil, fmt.Errorf("presence cache redis address is not configured")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	instanceID, err := os.Hostname()
	if err != nil {
		instanceID = "chat-fabric"
	}
	ttl := time.Duration(cfg.PresenceCache.TTLSeconds) * time.Second

	return presence.NewRedisPresenceCache(rdb, instanceID, ttl, logger)
}
