package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries all runtime settings resolved from the environment.
type Config struct {
	AppEnv         string
	LogLevel       string
	HTTPListenAddr string
	PublicBasePath string

	MetricsNamespace string

	DatabaseURL    string
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// Multi-tenant AI gateway tried before any per-account key.
	AIGatewayBaseURL string
	AIGatewayAPIKey  string
	AIDefaultModel   string
	AITimeout        time.Duration

	// WhatsAppConnectionID binds the native socket to a connections row.
	// Empty disables the socket; gateway connections work regardless.
	WhatsAppConnectionID string
	WhatsAppStorePath    string
	WhatsAppLogLevel     string

	SweepInterval   time.Duration
	ProviderTimeout time.Duration
}

// Load resolves configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:       getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace:     getEnv("METRICS_NAMESPACE", "zapflow"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DatabaseSchema:       getEnv("DATABASE_SCHEMA", "public"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		AIGatewayBaseURL:     getEnv("AI_GATEWAY_BASE_URL", "https://api.openai.com/v1"),
		AIGatewayAPIKey:      os.Getenv("AI_GATEWAY_API_KEY"),
		AIDefaultModel:       getEnv("AI_DEFAULT_MODEL", "gpt-4o-mini"),
		WhatsAppConnectionID: os.Getenv("WHATSAPP_CONNECTION_ID"),
		WhatsAppStorePath:    getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:     getEnv("WHATSAPP_LOG_LEVEL", "WARN"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.RedisTLS = getEnvBool("REDIS_TLS", false)

	if cfg.AITimeout, err = getEnvDuration("AI_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = getEnvDuration("PROVIDER_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return fallback
	}
	return val == "1" || val == "true" || val == "yes"
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
