// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage (all optional; in-memory when unset)
	DatabaseURL string
	RedisURL    string

	// Tracing
	OTLPEndpoint string

	// Scheduling
	Timezone          string
	SchedulerInterval time.Duration

	// Open Payments identity
	SenderWalletURL string // wallet that funds every payment
	ClientWalletURL string // wallet presented as the GNAP client
	KeyID           string
	PrivateKeyPath  string

	// Outbound calls
	UpstreamRPS     float64
	UpstreamBurst   int
	UpstreamTimeout time.Duration

	// Donation causes catalog (YAML). Built-in causes are used when unset.
	CausesFile string

	// HMAC secret for payment receipts. Receipts are not issued when unset.
	ReceiptSecret string

	// Security
	CORSOrigins  []string
	RateLimitRPM int
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultTimezone          = "America/Mexico_City"
	DefaultSchedulerInterval = 60 * time.Second
	DefaultPrivateKeyPath    = "./private.key"
	DefaultUpstreamRPS       = 20
	DefaultUpstreamBurst     = 40
	DefaultUpstreamTimeout   = 15 * time.Second
	DefaultRateLimitRPM      = 120
	MinReceiptSecretLength   = 16
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	sender := normalizeURL(os.Getenv("SENDER_WALLET_URL"))
	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Timezone:          getEnv("TIMEZONE", DefaultTimezone),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", DefaultSchedulerInterval),
		SenderWalletURL:   sender,
		ClientWalletURL:   normalizeURL(getEnv("CLIENT_WALLET_URL", sender)),
		KeyID:             os.Getenv("KEY_ID"),
		PrivateKeyPath:    getEnv("PRIVATE_KEY_PATH", DefaultPrivateKeyPath),
		UpstreamRPS:       getEnvFloat("UPSTREAM_RPS", DefaultUpstreamRPS),
		UpstreamBurst:     int(getEnvInt64("UPSTREAM_BURST", DefaultUpstreamBurst)),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		CausesFile:        os.Getenv("CAUSES_FILE"),
		ReceiptSecret:     os.Getenv("RECEIPT_SECRET"),
		CORSOrigins:       splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SenderWalletURL == "" {
		return fmt.Errorf("SENDER_WALLET_URL is required")
	}
	if _, err := url.ParseRequestURI(c.SenderWalletURL); err != nil {
		return fmt.Errorf("SENDER_WALLET_URL is not a valid URL: %w", err)
	}
	if c.KeyID == "" {
		return fmt.Errorf("KEY_ID is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known location: %w", c.Timezone, err)
	}
	if c.SchedulerInterval < time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s")
	}
	if c.UpstreamRPS <= 0 {
		return fmt.Errorf("UPSTREAM_RPS must be positive")
	}
	if c.ReceiptSecret != "" && len(c.ReceiptSecret) < MinReceiptSecretLength {
		return fmt.Errorf("RECEIPT_SECRET must be at least %d characters", MinReceiptSecretLength)
	}
	return nil
}

// Location returns the configured scheduling time zone.
// Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeURL turns "$wallet.example/alice" payment pointers into URLs.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "$"):
		return "https://" + raw[1:]
	default:
		return raw
	}
}
