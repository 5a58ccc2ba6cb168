package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/pricing"
)

// Config contains application configuration
type Config struct {
	RunAddress  string
	DatabaseURI string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	RateLimit  int64
	RateWindow time.Duration

	PricingCacheTTL time.Duration
	DefaultMarkup   decimal.Decimal

	CatalogSyncInterval time.Duration
	OrderSyncInterval   time.Duration
	OrderSyncBatch      int
	ReconcileFanout     int

	LogLevel string
	AppEnv   string
}

const (
	defaultRunAddress  = ":8080"
	defaultDatabaseURI = "sqlite:reseller.db"
	defaultRateLimit   = 100
	defaultRateWindow  = time.Minute
	defaultPricingTTL  = pricing.DefaultCacheTTL
	defaultOrderBatch  = 100
	defaultFanout      = 4
	defaultMarkup      = "30"
)

// LoadEnvFile exports variables from a dotenv file. Variables already set in
// the environment win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Parse builds the configuration from command-line flags, then lets
// environment variables override them, then fills defaults.
func Parse(name string, args []string) (*Config, error) {
	var cfg Config
	var markup string
	var rateWindow, pricingTTL, catalogEvery, orderEvery string

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.StringVar(&cfg.RunAddress, "a", "", "Server run address")
	flags.StringVar(&cfg.DatabaseURI, "d", "", "Database URI (postgres DSN or sqlite:<path>)")
	flags.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for shared counters and locks")
	flags.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HMAC secret for bearer tokens")
	flags.Int64Var(&cfg.RateLimit, "rate-limit", 0, "Requests allowed per window")
	flags.StringVar(&rateWindow, "rate-window", "", "Rate limit window")
	flags.StringVar(&pricingTTL, "pricing-ttl", "", "Pricing rule cache TTL")
	flags.StringVar(&markup, "markup", "", "Fallback markup percent")
	flags.StringVar(&catalogEvery, "catalog-interval", "", "In-process catalog sync interval, 0 disables")
	flags.StringVar(&orderEvery, "order-interval", "", "In-process order status sync interval, 0 disables")
	flags.IntVar(&cfg.OrderSyncBatch, "order-batch", 0, "Orders per status sync run")
	flags.IntVar(&cfg.ReconcileFanout, "fanout", 0, "Concurrent providers per sync")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "Log level")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Override with env vars if present
	overrideString(&cfg.RunAddress, "RUN_ADDRESS")
	overrideString(&cfg.DatabaseURI, "DATABASE_URI")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	overrideString(&rateWindow, "RATE_WINDOW")
	overrideString(&pricingTTL, "PRICING_CACHE_TTL")
	overrideString(&markup, "DEFAULT_MARKUP")
	overrideString(&catalogEvery, "CATALOG_SYNC_INTERVAL")
	overrideString(&orderEvery, "ORDER_SYNC_INTERVAL")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.AppEnv, "APP_ENV")

	if err := overrideInt(&cfg.RedisDB, "REDIS_DB"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.OrderSyncBatch, "ORDER_SYNC_BATCH"); err != nil {
		return nil, err
	}
	if err := overrideInt(&cfg.ReconcileFanout, "RECONCILE_FANOUT"); err != nil {
		return nil, err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = n
	}

	var err error
	if cfg.RateWindow, err = parseDuration("rate window", rateWindow, defaultRateWindow); err != nil {
		return nil, err
	}
	if cfg.PricingCacheTTL, err = parseDuration("pricing cache ttl", pricingTTL, defaultPricingTTL); err != nil {
		return nil, err
	}
	if cfg.CatalogSyncInterval, err = parseDuration("catalog sync interval", catalogEvery, 0); err != nil {
		return nil, err
	}
	if cfg.OrderSyncInterval, err = parseDuration("order sync interval", orderEvery, 0); err != nil {
		return nil, err
	}

	if markup == "" {
		markup = defaultMarkup
	}
	if cfg.DefaultMarkup, err = decimal.NewFromString(markup); err != nil {
		return nil, fmt.Errorf("default markup: %w", err)
	}

	// Set defaults if needed
	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.DatabaseURI == "" {
		cfg.DatabaseURI = defaultDatabaseURI
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.OrderSyncBatch == 0 {
		cfg.OrderSyncBatch = defaultOrderBatch
	}
	if cfg.ReconcileFanout == 0 {
		cfg.ReconcileFanout = defaultFanout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "production"
	}

	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch {
	case c.RateLimit < 0:
		return errors.New("rate limit must be positive")
	case c.RateWindow <= 0:
		return errors.New("rate window must be positive")
	case c.OrderSyncBatch < 0:
		return errors.New("order sync batch must be positive")
	case c.ReconcileFanout < 0:
		return errors.New("reconcile fanout must be positive")
	case c.DefaultMarkup.IsNegative():
		return errors.New("default markup must not be negative")
	case c.CatalogSyncInterval < 0 || c.OrderSyncInterval < 0:
		return errors.New("sync intervals must not be negative")
	}
	return nil
}

// Dev reports whether the service runs in a local development environment.
func (c *Config) Dev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	}
	return false
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("90").
func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
