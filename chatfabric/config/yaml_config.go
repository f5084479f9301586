package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlPresenceCacheConfig struct {
	Redis      YamlRedisConfig `yaml:"redis"`
	TTLSeconds int             `yaml:"ttl_seconds"`
}

type YamlSessionConfig struct {
	HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

type YamlAuthConfig struct {
	Issuer string `yaml:"issuer"`
}

type YamlWebPushConfig struct {
	VapidPublicKey string `yaml:"vapid_public_key"`
	Subscriber     string `yaml:"subscriber"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID                   string                  `yaml:"project_id"`
	RunMode                     string                  `yaml:"run_mode"`
	APIPort                     string                  `yaml:"api_port"`
	WebSocketPort               string                  `yaml:"websocket_port"`
	Cors                        YamlCorsConfig          `yaml:"cors"`
	Session                     YamlSessionConfig       `yaml:"session"`
	Auth                        YamlAuthConfig          `yaml:"auth"`
	WebPush                     YamlWebPushConfig       `yaml:"web_push"`
	PresenceCache               YamlPresenceCacheConfig `yaml:"presence_cache"`
	NotificationsTopicID        string                  `yaml:"notifications_topic_id"`
	NotificationsSubscriptionID string                  `yaml:"notifications_subscription_id"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a clean, base AppConfig struct.
// Stage 1 complete: The AppConfig struct now exists, but without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	// This mapping is 1:1, as AppConfig matches YamlConfig
	appCfg := &AppConfig{
		ProjectID:                   yamlCfg.ProjectID,
		RunMode:                     yamlCfg.RunMode,
		APIPort:                     yamlCfg.APIPort,
		WebSocketPort:               yamlCfg.WebSocketPort,
		Cors:                        yamlCfg.Cors,
		Session:                     yamlCfg.Session,
		Auth:                        yamlCfg.Auth,
		WebPush:                     yamlCfg.WebPush,
		PresenceCache:               yamlCfg.PresenceCache,
		NotificationsTopicID:        yamlCfg.NotificationsTopicID,
		NotificationsSubscriptionID: yamlCfg.NotificationsSubscriptionID,
	}

	return appCfg, nil
}
