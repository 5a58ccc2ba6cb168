package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/25x8/smm-reseller/internal/reseller/cache"
	"github.com/25x8/smm-reseller/internal/reseller/catalog"
	"github.com/25x8/smm-reseller/internal/reseller/config"
	"github.com/25x8/smm-reseller/internal/reseller/pricing"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
	"github.com/25x8/smm-reseller/internal/reseller/ratelimit"
	"github.com/25x8/smm-reseller/internal/reseller/repository"
	"github.com/25x8/smm-reseller/internal/reseller/service"
)

// Components is the wired application core shared by the HTTP server and
// the operator CLI.
type Components struct {
	Repo       *repository.SQLRepository
	Redis      *redis.Client
	Pricing    *pricing.Engine
	Reconciler *catalog.Reconciler
	Orders     *service.OrderService
	Providers  *service.ProviderService
	Limiter    *ratelimit.Limiter
	Scheduler  *service.Scheduler
}

// NewComponents opens the store and builds every service on top of it. When
// a Redis address is configured, rate-limit counters and sync locks move to
// Redis so several instances share them.
func NewComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	repo, err := repository.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	c := &Components{Repo: repo}

	var (
		counters ratelimit.CounterStore = repo
		locker   catalog.Locker         = repo
		buckets  service.BucketPurger   = repo
	)
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		c.Redis = client
		counters = cache.NewCounter(client)
		locker = cache.NewLocker(client)
		// Redis keys expire on their own.
		buckets = nil
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis for rate limits and sync locks")
	}

	adapters := provider.NewFactory()
	c.Pricing = pricing.NewEngine(repo,
		pricing.WithTTL(cfg.PricingCacheTTL),
		pricing.WithDefaultMarkup(cfg.DefaultMarkup),
	)
	c.Reconciler = catalog.NewReconciler(repo, c.Pricing, adapters, locker, catalog.WithFanout(cfg.ReconcileFanout))
	c.Orders = service.NewOrderService(repo, adapters, service.WithSyncFanout(cfg.ReconcileFanout))
	c.Providers = service.NewProviderService(repo, c.Reconciler, adapters)
	c.Limiter = ratelimit.New(counters)
	c.Scheduler = service.NewScheduler(c.Reconciler, c.Orders, buckets, service.SchedulerConfig{
		CatalogInterval: cfg.CatalogSyncInterval,
		OrderInterval:   cfg.OrderSyncInterval,
		OrderBatch:      cfg.OrderSyncBatch,
		PurgeInterval:   purgeInterval(cfg),
	})
	return c, nil
}

// purgeInterval runs bucket cleanup only alongside an enabled scheduler.
func purgeInterval(cfg *config.Config) time.Duration {
	if cfg.CatalogSyncInterval <= 0 && cfg.OrderSyncInterval <= 0 {
		return 0
	}
	return 10 * cfg.RateWindow
}

// Close releases the store and the Redis connection.
func (c *Components) Close() error {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Repo != nil {
		errs = append(errs, c.Repo.Close())
	}
	return errors.Join(errs...)
}
