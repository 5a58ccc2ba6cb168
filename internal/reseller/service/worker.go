package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/25x8/smm-reseller/internal/reseller/catalog"
)

type CatalogRunner interface {
	ReconcileAll(ctx context.Context, providerID *int64) (*catalog.RunReport, error)
}

type StatusSyncer interface {
	SyncStatuses(ctx context.Context, opts SyncOptions) (*SyncReport, error)
}

type BucketPurger interface {
	PurgeExpiredBuckets(ctx context.Context, now time.Time) (int64, error)
}

// SchedulerConfig sets the loop intervals. A zero interval disables that loop.
type SchedulerConfig struct {
	CatalogInterval time.Duration
	OrderInterval   time.Duration
	OrderBatch      int
	PurgeInterval   time.Duration
}

// Scheduler runs catalog sync, order status sync and bucket cleanup in the background
type Scheduler struct {
	catalog CatalogRunner
	orders  StatusSyncer
	buckets BucketPurger
	cfg     SchedulerConfig
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(runner CatalogRunner, orders StatusSyncer, buckets BucketPurger, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		catalog: runner,
		orders:  orders,
		buckets: buckets,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start launches one goroutine per enabled loop
func (s *Scheduler) Start() {
	s.loop("catalog sync", s.cfg.CatalogInterval, func(ctx context.Context) {
		if _, err := s.catalog.ReconcileAll(ctx, nil); err != nil {
			log.Error().Err(err).Msg("scheduled catalog sync")
		}
	})
	s.loop("order sync", s.cfg.OrderInterval, func(ctx context.Context) {
		if _, err := s.orders.SyncStatuses(ctx, SyncOptions{Limit: s.cfg.OrderBatch}); err != nil {
			log.Error().Err(err).Msg("scheduled order status sync")
		}
	})
	if s.buckets != nil {
		s.loop("bucket purge", s.cfg.PurgeInterval, func(ctx context.Context) {
			n, err := s.buckets.PurgeExpiredBuckets(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("purge rate limit buckets")
				return
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("purged rate limit buckets")
			}
		})
	}
}

// Stop signals every loop and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(name string, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	log.Info().Str("job", name).Dur("interval", interval).Msg("scheduler job enabled")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run(ctx)
			case <-s.stopCh:
				return
			}
		}
	}()
}
