package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/booktalk/internal/plan"
)

const (
	TransportWebSocket = "websocket"
	TransportMock      = "mock"
)

// Config contains all runtime settings for the quota authority and the
// voice session client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL      string
	DatabaseMaxConns int
	DatabaseMigrate  bool

	QuotaURL             string
	QuotaJanitorInterval time.Duration
	QuotaExpiryGrace     time.Duration
	QuotaUserPlans       plan.StaticDirectory
	QuotaCloseTimeout    time.Duration

	VoiceTransport      string
	VoiceGatewayURL     string
	VoiceAPIKey         string
	VoiceAssistantID    string
	SessionTickInterval time.Duration

	// DevGateway serves a scripted voice gateway at /v1/call for local runs.
	DevGateway            bool
	DevGatewayIdleTimeout time.Duration
}

// LoadDotEnv merges .env files into the process environment. Variables that
// are already set win; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "booktalk"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		QuotaURL:         envOrDefault("QUOTA_URL", "http://localhost:8080"),
		VoiceTransport:   strings.ToLower(envOrDefault("VOICE_TRANSPORT", TransportWebSocket)),
		VoiceGatewayURL:  stringsTrimSpace("VOICE_GATEWAY_URL"),
		VoiceAPIKey:      stringsTrimSpace("VOICE_API_KEY"),
		VoiceAssistantID: stringsTrimSpace("VOICE_ASSISTANT_ID"),

		ShutdownTimeout:      15 * time.Second,
		QuotaJanitorInterval: 30 * time.Second,
		QuotaExpiryGrace:     2 * time.Minute,
		QuotaCloseTimeout:    10 * time.Second,
		SessionTickInterval:  time.Second,
		DatabaseMigrate:      true,

		DevGatewayIdleTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaJanitorInterval, err = durationFromEnv("QUOTA_JANITOR_INTERVAL", cfg.QuotaJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaExpiryGrace, err = durationFromEnv("QUOTA_EXPIRY_GRACE", cfg.QuotaExpiryGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaCloseTimeout, err = durationFromEnv("QUOTA_CLOSE_TIMEOUT", cfg.QuotaCloseTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTickInterval, err = durationFromEnv("SESSION_TICK_INTERVAL", cfg.SessionTickInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseMaxConns, err = intFromEnv("DATABASE_MAX_CONNS", cfg.DatabaseMaxConns)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseMigrate, err = boolFromEnv("DATABASE_MIGRATE", cfg.DatabaseMigrate)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DevGateway, err = boolFromEnv("VOICE_DEV_GATEWAY", cfg.DevGateway)
	if err != nil {
		return Config{}, err
	}
	cfg.DevGatewayIdleTimeout, err = durationFromEnv("VOICE_DEV_GATEWAY_IDLE_TIMEOUT", cfg.DevGatewayIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QuotaUserPlans, err = plan.ParseDirectory(stringsTrimSpace("QUOTA_USER_PLANS"))
	if err != nil {
		return Config{}, fmt.Errorf("QUOTA_USER_PLANS parse error: %w", err)
	}

	if cfg.DatabaseMaxConns < 0 {
		return Config{}, fmt.Errorf("DATABASE_MAX_CONNS must be >= 0")
	}
	if cfg.QuotaJanitorInterval <= 0 {
		return Config{}, fmt.Errorf("QUOTA_JANITOR_INTERVAL must be positive")
	}
	if cfg.QuotaExpiryGrace < 0 {
		return Config{}, fmt.Errorf("QUOTA_EXPIRY_GRACE must be >= 0")
	}
	if cfg.QuotaCloseTimeout <= 0 {
		return Config{}, fmt.Errorf("QUOTA_CLOSE_TIMEOUT must be positive")
	}
	if cfg.SessionTickInterval < 10*time.Millisecond {
		return Config{}, fmt.Errorf("SESSION_TICK_INTERVAL must be at least 10ms")
	}
	if cfg.DevGatewayIdleTimeout < time.Second {
		return Config{}, fmt.Errorf("VOICE_DEV_GATEWAY_IDLE_TIMEOUT must be at least 1s")
	}
	switch cfg.VoiceTransport {
	case TransportWebSocket, TransportMock:
	default:
		return Config{}, fmt.Errorf("VOICE_TRANSPORT must be %q or %q", TransportWebSocket, TransportMock)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
