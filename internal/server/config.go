// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RoomRelay service.
package server

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL"`
}

// Config holds the relay configuration settings including security controls.
type Config struct {
	Port           string          `env:"SERVER_PORT"`
	AllowedOrigins []string        `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64           `env:"MAX_MESSAGE_SIZE"`
	RateLimit      RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	originSet, allowAll := parseOriginList(cfg.AllowedOrigins)
	cfg.AllowedOrigins = make([]string, 0, len(originSet))
	for origin := range originSet {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
	}

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = originSet

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		Port:           cfg.Port,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          cfg.RateLimit.Burst,
			RefillInterval: cfg.RateLimit.RefillInterval,
		},
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables
// (SERVER_PORT, ALLOWED_ORIGINS, MAX_MESSAGE_SIZE, RATE_LIMIT_BURST,
// RATE_LIMIT_REFILL_INTERVAL). Unset variables keep their default values;
// an unparseable environment falls back to defaults entirely.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		log.Printf("Invalid environment configuration, using defaults: %v", err)
		cfg = defaultConfig()
	}
	return &cfg
}
