package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// AppConfig is the canonical, validated configuration object used throughout
// the application. It is created by NewConfigFromYaml (Stage 1) and finalized
// by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID                   string
	RunMode                     string
	APIPort                     string
	WebSocketPort               string
	Cors                        YamlCorsConfig
	Session                     YamlSessionConfig
	Auth                        YamlAuthConfig
	WebPush                     YamlWebPushConfig
	PresenceCache               YamlPresenceCacheConfig
	NotificationsTopicID        string
	NotificationsSubscriptionID string

	// Secrets are never read from YAML, only from the environment.
	JWTSecret       string
	VapidPrivateKey string
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug().Str("key", "GCP_PROJECT_ID").Msg("Overriding config value from env")
		cfg.ProjectID = projectID
	}
	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug().Str("key", "API_PORT").Msg("Overriding config value from env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug().Str("key", "WEBSOCKET_PORT").Msg("Overriding config value from env")
		cfg.WebSocketPort = port
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug().Str("key", "REDIS_ADDR").Msg("Overriding config value from env")
		cfg.PresenceCache.Redis.Addr = redisAddr
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug().Str("key", "CORS_ALLOWED_ORIGINS").Msg("Overriding config value from env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.Cors.AllowedOrigins = cleanOrigins
	}

	// Secrets come from the environment only.
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.VapidPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")

	// Final validation.
	if cfg.ProjectID == "" {
		logger.Error().Str("error", "GCP_PROJECT_ID is not set").Msg("Final config validation failed")
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set in config or env var")
	}
	if cfg.JWTSecret == "" {
		logger.Error().Str("error", "JWT_SECRET is not set").Msg("Final config validation failed")
		return nil, fmt.Errorf("JWT_SECRET env var is not set")
	}
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return nil, fmt.Errorf("WEBSOCKET_PORT is not set in config or env var")
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}
