// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Bot platform gateway
	GatewayURL     string        // websocket endpoint tenant runtimes connect through
	ConnectTimeout time.Duration // bound on runtime connect and health probes
	StopGrace      time.Duration // grace period for in-flight work on stop

	// Fleet health sweep
	HealthInterval   time.Duration
	FailureThreshold int // consecutive probe failures before a restart cycle

	// Subscription sweep
	SweepInterval time.Duration

	// Quota defaults (per-tenant configuration may override)
	CommandLimit  int           // free-tier command allowance in COMMAND_LIMIT mode
	GrantDuration time.Duration // access window applied on redemption in TIME_BASED mode
	TokenTTL      time.Duration // validity of an unredeemed grant token

	// Platform administrators (always pass quota checks, may call admin API)
	AdminIDs []string

	// Security
	AdminSecret         string // admin API secret
	StripeWebhookSecret string // signing secret for billing webhooks
	RateLimitRPM        int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultStopGrace        = 5 * time.Second
	DefaultHealthInterval   = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultSweepInterval    = time.Minute
	DefaultCommandLimit     = 3
	DefaultGrantDuration    = 24 * time.Hour
	DefaultTokenTTL         = 10 * time.Minute
	DefaultRateLimit        = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayURL:          os.Getenv("GATEWAY_URL"),
		ConnectTimeout:      getEnvDuration("CONNECT_TIMEOUT", DefaultConnectTimeout),
		StopGrace:           getEnvDuration("STOP_GRACE", DefaultStopGrace),
		HealthInterval:      getEnvDuration("HEALTH_INTERVAL", DefaultHealthInterval),
		FailureThreshold:    getEnvInt("FAILURE_THRESHOLD", DefaultFailureThreshold),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		CommandLimit:        getEnvInt("COMMAND_LIMIT", DefaultCommandLimit),
		GrantDuration:       getEnvDuration("GRANT_DURATION", DefaultGrantDuration),
		TokenTTL:            getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
		AdminIDs:            splitList(os.Getenv("ADMIN_IDS")),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("FAILURE_THRESHOLD must be at least 1")
	}
	if c.CommandLimit < 1 {
		return fmt.Errorf("COMMAND_LIMIT must be at least 1")
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}
	if c.TokenTTL <= 0 || c.GrantDuration <= 0 {
		return fmt.Errorf("TOKEN_TTL and GRANT_DURATION must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsAdmin reports whether userID is a platform administrator.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
