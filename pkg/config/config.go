package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string
	UserID   string

	// Database
	DatabaseURL      string
	DatabaseDriver   string
	SQLitePath       string
	DatabaseMaxConns int

	// Redis backs webhook idempotency; empty falls back to in-process.
	RedisURL string

	// RabbitMQ carries entitlement events; empty falls back to in-process.
	RabbitMQURL   string
	IdentityQueue string

	// Billing
	TrialDuration  time.Duration
	SweepSchedule  string
	SweepBatchSize int
	SweepOnStart   bool

	// Stripe
	StripeAPIKey          string
	StripeWebhookSecret   string
	StripeBreakerFailures int
	StripeBreakerTimeout  time.Duration
	WebhookDedupeTTL      time.Duration

	// Servers
	APIAddr          string
	WorkerHealthAddr string
	MCPAddr          string
	MCPAuthToken     string
	// IdentityAuthToken is the bearer token identity-provisioning callers
	// must send to POST /api/v1/identities. Required in production.
	IdentityAuthToken string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		UserID:   getEnv("COACHPAGE_USER_ID", ""),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseDriver:   strings.ToLower(getEnv("DATABASE_DRIVER", "auto")),
		SQLitePath:       getEnv("SQLITE_PATH", ""),
		DatabaseMaxConns: getIntEnv("DATABASE_MAX_CONNS", 10),

		RedisURL:      getEnv("REDIS_URL", ""),
		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		IdentityQueue: getEnv("IDENTITY_QUEUE", "coachpage.billing.identity"),

		TrialDuration:  getDurationEnv("TRIAL_DURATION", 7*24*time.Hour),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@hourly"),
		SweepBatchSize: getIntEnv("SWEEP_BATCH_SIZE", 500),
		SweepOnStart:   getBoolEnv("SWEEP_ON_START", true),

		StripeAPIKey:          getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBreakerFailures: getIntEnv("STRIPE_BREAKER_FAILURES", 5),
		StripeBreakerTimeout:  getDurationEnv("STRIPE_BREAKER_TIMEOUT", 30*time.Second),
		WebhookDedupeTTL:      getDurationEnv("WEBHOOK_DEDUPE_TTL", 30*24*time.Hour),

		APIAddr:          getEnv("API_ADDR", "0.0.0.0:8080"),
		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
		MCPAddr:          getEnv("MCP_ADDR", "0.0.0.0:8082"),
		MCPAuthToken:     getEnv("MCP_AUTH_TOKEN", ""),

		IdentityAuthToken: getEnv("IDENTITY_AUTH_TOKEN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the billing engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "auto", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be auto, postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseDriver == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required when DATABASE_DRIVER=postgres"))
	}
	if c.TrialDuration <= 0 {
		errs = append(errs, errors.New("TRIAL_DURATION must be positive"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.StripeBreakerFailures <= 0 {
		errs = append(errs, errors.New("STRIPE_BREAKER_FAILURES must be positive"))
	}
	if c.IsProduction() && c.IdentityAuthToken == "" {
		errs = append(errs, errors.New("IDENTITY_AUTH_TOKEN is required in production"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// IsLocalMode reports whether the embedded SQLite database is in use.
func (c *Config) IsLocalMode() bool {
	switch c.DatabaseDriver {
	case "sqlite":
		return true
	case "postgres":
		return false
	}
	return c.DatabaseURL == "" ||
		strings.HasPrefix(c.DatabaseURL, "sqlite://") ||
		strings.HasPrefix(c.DatabaseURL, "file:")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
