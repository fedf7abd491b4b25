package config

import (
	"errors"
	"fmt"
	"time"

	"qafala_backend/internal/logger"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppPort      string `envconfig:"APP_PORT" default:"8080"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH"`
	Version      string `envconfig:"APP_VERSION" default:"dev"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`

	// Storage
	UseTransactions bool  `envconfig:"USE_TRANSACTIONS" default:"true"`
	DBMaxConns      int32 `envconfig:"DB_MAX_CONNS" default:"10"`

	// Purchase limits
	PerDropPerUser int64         `envconfig:"PER_DROP_PER_USER" default:"5"`
	PerItemWindow  time.Duration `envconfig:"PER_ITEM_WINDOW" default:"60s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"20m"`

	// Barter
	BarterXP            int64 `envconfig:"BARTER_XP" default:"25"`
	BarterAllowFallback bool  `envconfig:"BARTER_ALLOW_FALLBACK" default:"true"`

	// Leaderboard
	JobLockTTL       time.Duration `envconfig:"JOB_LOCK_TTL" default:"2h"`
	FinalizeCron     string        `envconfig:"FINALIZE_CRON" default:"5 0 * * 1"`
	FinalizeTimezone string        `envconfig:"FINALIZE_TIMEZONE" default:"UTC"`
	DefaultWinners   int           `envconfig:"DEFAULT_WINNERS" default:"10"`

	// Currency conversion
	GCPerUSD       int64 `envconfig:"GC_PER_USD" default:"20"`
	USDToDinarRate int64 `envconfig:"USD_TO_DINAR_RATE" default:"20"`

	ContentFile string `envconfig:"CONTENT_FILE"`

	// HTTP limits
	APIRateLimit  int           `envconfig:"API_RATE_LIMIT" default:"120"`
	APIRateWindow time.Duration `envconfig:"API_RATE_WINDOW" default:"1m"`
	BuyRateLimit  int           `envconfig:"BUY_RATE_LIMIT" default:"30"`
	BuyRateWindow time.Duration `envconfig:"BUY_RATE_WINDOW" default:"1m"`
	AllowedOrigin string        `envconfig:"ALLOWED_ORIGIN"`
}

// Load reads .env (if present) and the process environment. Invalid
// configuration is fatal.
func Load() *Config {
	cfg, err := LoadE()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// LoadE is Load for callers that report the error themselves.
func LoadE() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the environment without exiting on error.
func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.PerDropPerUser < 0 {
		return errors.New("PER_DROP_PER_USER must be >= 0")
	}
	if c.IdempotencyTTL <= 0 || c.JobLockTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL and JOB_LOCK_TTL must be positive")
	}
	if c.DefaultWinners < 1 || c.DefaultWinners > 200 {
		return errors.New("DEFAULT_WINNERS must be within 1..200")
	}
	if c.GCPerUSD <= 0 || c.USDToDinarRate <= 0 {
		return errors.New("currency rates must be positive")
	}
	if _, err := time.LoadLocation(c.FinalizeTimezone); err != nil {
		return fmt.Errorf("FINALIZE_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the timezone the weekly finalize trigger runs in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.FinalizeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
