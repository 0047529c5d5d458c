// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the room chat service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers understood by the command.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      RateLimitConfig

	// CaseInsensitiveNames folds case when checking for duplicate display
	// names inside a room.
	CaseInsensitiveNames bool

	JWTSecret string
	TokenTTL  time.Duration

	StoreDriver string
	BoltPath    string
	PostgresURL string
}

func defaultConfig() Config {
	return Config{
		Env:  "dev",
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
		},
		MaxMessageSize: 4096,
		SendBuffer:     256,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		TokenTTL:    time.Hour,
		StoreDriver: StoreBolt,
		BoltPath:    "roomchat.db",
	}
}

// sanitizeConfig replaces missing or out-of-range values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Env == "" {
		cfg.Env = def.Env
	}
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = def.StoreDriver
	}
	if cfg.BoltPath == "" {
		cfg.BoltPath = def.BoltPath
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if frontend := strings.TrimSpace(os.Getenv("FRONTEND_URL")); frontend != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, frontend)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if fold := os.Getenv("NAME_CASE_INSENSITIVE"); fold != "" {
		cfg.CaseInsensitiveNames = parseBool(fold, cfg.CaseInsensitiveNames)
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if ttl := os.Getenv("JWT_TTL"); ttl != "" {
		cfg.TokenTTL = parseDuration(ttl, cfg.TokenTTL)
	}

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.StoreDriver = strings.ToLower(strings.TrimSpace(driver))
	}
	if path := os.Getenv("BOLT_PATH"); path != "" {
		cfg.BoltPath = path
	}
	cfg.PostgresURL = os.Getenv("DATABASE_URL")

	return &cfg
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is not defined"))
	}
	switch c.StoreDriver {
	case StoreBolt, "":
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}
