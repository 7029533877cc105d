// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/middleware"
	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/vipps"
)

// Lock backends accepted in BOOKING_LOCK_BACKEND.
const (
	LockBackendRedis    = "redis"
	LockBackendDatabase = "database"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env      string `envconfig:"APP_ENV" default:"dev"`
	Port     string `envconfig:"APP_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBUser    string `envconfig:"DB_USER" required:"true"`
	DBPass    string `envconfig:"DB_PASS"`
	DBHost    string `envconfig:"DB_HOST" default:"localhost"`
	DBPort    string `envconfig:"DB_PORT" default:"3306"`
	DBName    string `envconfig:"DB_NAME" required:"true"`
	DBMigrate bool   `envconfig:"DB_MIGRATE" default:"false"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPort     string `envconfig:"REDIS_PORT"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisTLS      bool   `envconfig:"REDIS_TLS" default:"false"`

	// LockBackend is redis or database.  With redis the database lock is
	// still used when Redis cannot be reached at startup.
	LockBackend string        `envconfig:"BOOKING_LOCK_BACKEND" default:"redis"`
	LockTTL     time.Duration `envconfig:"BOOKING_LOCK_TTL" default:"30s"`

	RabbitURL   string `envconfig:"RABBITMQ_URL"`
	NotifyQueue string `envconfig:"NOTIFY_QUEUE" default:"booking.notifications"`

	VippsBaseURL         string        `envconfig:"VIPPS_BASE_URL" default:"https://apitest.vipps.no"`
	VippsClientID        string        `envconfig:"VIPPS_CLIENT_ID"`
	VippsClientSecret    string        `envconfig:"VIPPS_CLIENT_SECRET"`
	VippsSubscriptionKey string        `envconfig:"VIPPS_SUBSCRIPTION_KEY"`
	VippsMSN             string        `envconfig:"VIPPS_MSN"`
	VippsCallbackURL     string        `envconfig:"VIPPS_CALLBACK_URL"`
	VippsFallbackURL     string        `envconfig:"VIPPS_FALLBACK_URL"`
	VippsPollAttempts    int           `envconfig:"VIPPS_POLL_ATTEMPTS" default:"6"`
	VippsPollInterval    time.Duration `envconfig:"VIPPS_POLL_INTERVAL" default:"2s"`
	VippsRPS             float64       `envconfig:"VIPPS_RPS" default:"5"`

	DocumentRoot string `envconfig:"DOCUMENT_ROOT" default:"files"`

	// Token bucket in front of the payment endpoints, per client IP.
	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitCapacity int           `envconfig:"RATE_LIMIT_CAPACITY" default:"30"`
	RateLimitRefill   int           `envconfig:"RATE_LIMIT_REFILL" default:"30"`
	RateLimitInterval time.Duration `envconfig:"RATE_LIMIT_INTERVAL" default:"1m"`
}

// Load reads an optional .env file and then the environment.  Variables
// already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if c.RabbitURL == "" {
		c.RabbitURL = os.Getenv("AMQP_URL")
	}
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))
	switch c.LockBackend {
	case LockBackendRedis, LockBackendDatabase:
	default:
		return Config{}, fmt.Errorf("config: BOOKING_LOCK_BACKEND must be %q or %q, got %q",
			LockBackendRedis, LockBackendDatabase, c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return Config{}, fmt.Errorf("config: BOOKING_LOCK_TTL must be positive")
	}
	return c, nil
}

// DSN returns the MySQL data source name.  parseTime keeps DATETIME columns
// as time.Time and loc=UTC keeps them consistent.
func (c Config) DSN() string {
	auth := c.DBUser
	if c.DBPass != "" {
		auth = fmt.Sprintf("%s:%s", c.DBUser, c.DBPass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, c.DBHost, c.DBPort, c.DBName)
}

// RedisAddress resolves REDIS_HOST+REDIS_PORT over REDIS_ADDR.
func (c Config) RedisAddress() string {
	if c.RedisHost != "" && c.RedisPort != "" {
		return c.RedisHost + ":" + c.RedisPort
	}
	if c.RedisAddr != "" {
		return c.RedisAddr
	}
	return "localhost:6379"
}

// Vipps returns the payment client settings.
func (c Config) Vipps() vipps.Config {
	return vipps.Config{
		BaseURL:              c.VippsBaseURL,
		ClientID:             c.VippsClientID,
		ClientSecret:         c.VippsClientSecret,
		SubscriptionKey:      c.VippsSubscriptionKey,
		MerchantSerialNumber: c.VippsMSN,
		CallbackPrefix:       c.VippsCallbackURL,
		FallbackURL:          c.VippsFallbackURL,
		PollAttempts:         c.VippsPollAttempts,
		PollInterval:         c.VippsPollInterval,
		RequestsPerSecond:    c.VippsRPS,
	}
}

// RateLimit returns the token bucket settings for the payment endpoints.
func (c Config) RateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Enabled:        c.RateLimitEnabled,
		Prefix:         "rl:payments",
		Capacity:       c.RateLimitCapacity,
		RefillTokens:   c.RateLimitRefill,
		RefillInterval: c.RateLimitInterval,
		TTL:            2 * c.RateLimitInterval,
	}
}
