// Package catalog mirrors provider service lists into the local catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/pricing"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
)

const (
	DefaultLockTTL = 5 * time.Minute
	DefaultFanout  = 4
)

// Store is the persistence the reconciler needs.
type Store interface {
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	ListActiveProviders(ctx context.Context) ([]models.Provider, error)
	ServicesByProvider(ctx context.Context, providerID int64) ([]models.Service, error)
	InsertService(ctx context.Context, s *models.Service) (int64, error)
	UpdateService(ctx context.Context, s *models.Service) error
	DeactivateServices(ctx context.Context, providerID int64, keys []string, at time.Time) (int64, error)
	UpdateProviderHealth(ctx context.Context, id int64, health string, latencyMS int64) error
	RecordProviderSync(ctx context.Context, id int64, servicesCount int, latencyMS int64, at time.Time) error
}

// Pricer computes retail quotes.
type Pricer interface {
	Calculate(ctx context.Context, in pricing.Input) (*pricing.Quote, error)
}

// Locker grants named leases. Implementations must be safe across processes.
type Locker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// Result summarises one provider reconciliation.
type Result struct {
	ProviderID      int64         `json:"providerId"`
	Added           int           `json:"added"`
	Updated         int           `json:"updated"`
	Unchanged       int           `json:"unchanged"`
	Deactivated     int           `json:"deactivated"`
	DeactivatedKeys []string      `json:"deactivatedKeys,omitempty"`
	Failed          int           `json:"failed"`
	Unpriced        int           `json:"unpriced"`
	Total           int           `json:"total"`
	Duration        time.Duration `json:"-"`
}

// Reconciler syncs provider catalogs into the store
type Reconciler struct {
	store    Store
	pricer   Pricer
	adapters provider.Factory
	locker   Locker
	lockTTL  time.Duration
	fanout   int
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLockTTL sets the lease held on a provider while it syncs.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Reconciler) { r.lockTTL = ttl }
}

// WithFanout bounds how many providers ReconcileAll syncs at once.
func WithFanout(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.fanout = n
		}
	}
}

// NewReconciler creates a new reconciler
func NewReconciler(store Store, pricer Pricer, adapters provider.Factory, locker Locker, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		pricer:   pricer,
		adapters: adapters,
		locker:   locker,
		lockTTL:  DefaultLockTTL,
		fanout:   DefaultFanout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func lockName(providerID int64) string {
	return fmt.Sprintf("catalog:provider:%d", providerID)
}

// Reconcile fetches the provider catalog and applies it to the local services.
// Runs for the same provider are serialised through the locker.
func (r *Reconciler) Reconcile(ctx context.Context, p *models.Provider) (*Result, error) {
	if strings.TrimSpace(p.APIURL) == "" || strings.TrimSpace(p.APIKey) == "" {
		return nil, &apperr.ConfigurationError{
			Component: fmt.Sprintf("provider %d", p.ID),
			Reason:    "api url and api key are required",
		}
	}

	owner := uuid.NewString()
	name := lockName(p.ID)
	acquired, err := r.locker.Acquire(ctx, name, owner, r.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !acquired {
		return nil, fmt.Errorf("provider %d: %w", p.ID, apperr.ErrSyncInProgress)
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), name, owner); err != nil {
			log.Warn().Err(err).Int64("provider_id", p.ID).Msg("release catalog lock")
		}
	}()

	logger := log.With().Int64("provider_id", p.ID).Str("key_fp", provider.Fingerprint(p.APIKey)).Logger()
	started := r.now()

	entries, err := r.adapters(p).Services(ctx)
	latency := r.now().Sub(started).Milliseconds()
	if err != nil {
		health := models.HealthDegraded
		var unavailable *apperr.ProviderUnavailableError
		if errors.As(err, &unavailable) && unavailable.Offline {
			health = models.HealthOffline
		}
		if !errors.As(err, &unavailable) {
			err = &apperr.ProviderUnavailableError{ProviderID: p.ID, Op: "services", Err: err}
		}
		if herr := r.store.UpdateProviderHealth(ctx, p.ID, health, latency); herr != nil {
			logger.Error().Err(herr).Msg("update provider health")
		}
		logger.Warn().Err(err).Str("health", health).Msg("catalog fetch failed")
		return nil, err
	}

	local, err := r.store.ServicesByProvider(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load local services: %w", err)
	}
	byKey := make(map[string]models.Service, len(local))
	for _, s := range local {
		byKey[s.ProviderServiceID] = s
	}

	res := &Result{ProviderID: p.ID, Total: len(entries)}
	seen := make(map[string]struct{}, len(entries))
	now := r.now().UTC()

	for i, raw := range entries {
		rs, err := normalizeEntry(raw)
		if err != nil {
			res.Failed++
			logger.Warn().Err(err).Int("index", i).RawJSON("payload", []byte(sanitizeMetadata(raw))).Msg("skip catalog entry")
			continue
		}
		if _, dup := seen[rs.Key]; dup {
			res.Failed++
			logger.Warn().Str("service_key", rs.Key).Msg("duplicate catalog entry")
			continue
		}
		seen[rs.Key] = struct{}{}

		quote := r.price(ctx, p, rs)
		if rs.Rate == nil || quote == nil {
			res.Unpriced++
		}

		if existing, ok := byKey[rs.Key]; ok {
			next, changed := applyRemote(existing, rs, quote)
			if !changed {
				res.Unchanged++
				continue
			}
			if err := r.store.UpdateService(ctx, &next); err != nil {
				res.Failed++
				logger.Error().Err(err).Str("service_key", rs.Key).RawJSON("payload", []byte(rs.Metadata)).Msg("update service")
				continue
			}
			res.Updated++
			continue
		}

		svc := newService(p, rs, quote, now)
		if _, err := r.store.InsertService(ctx, &svc); err != nil {
			res.Failed++
			logger.Error().Err(err).Str("service_key", rs.Key).RawJSON("payload", []byte(rs.Metadata)).Msg("insert service")
			continue
		}
		res.Added++
	}

	stale := make([]string, 0)
	for key := range byKey {
		if _, ok := seen[key]; !ok {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	if _, err := r.store.DeactivateServices(ctx, p.ID, stale, now); err != nil {
		return nil, fmt.Errorf("deactivate stale services: %w", err)
	}
	res.Deactivated = len(stale)
	res.DeactivatedKeys = stale

	if err := r.store.RecordProviderSync(ctx, p.ID, len(seen), latency, now); err != nil {
		logger.Error().Err(err).Msg("record provider sync")
	}

	res.Duration = r.now().Sub(started)
	logger.Info().
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("deactivated", res.Deactivated).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Dur("took", res.Duration).
		Msg("catalog reconciled")
	return res, nil
}

func (r *Reconciler) price(ctx context.Context, p *models.Provider, rs remoteService) *pricing.Quote {
	if rs.Rate == nil {
		return nil
	}
	providerID := p.ID
	q, err := r.pricer.Calculate(ctx, pricing.Input{
		ProviderID:     &providerID,
		Category:       rs.Category,
		ProviderRate:   *rs.Rate,
		ProviderMarkup: p.DefaultMarkup,
	})
	if err != nil {
		log.Warn().Err(err).Int64("provider_id", p.ID).Str("service_key", rs.Key).Msg("pricing failed, storing unpriced")
		return nil
	}
	if q.RetailRate.GreaterThan(maxRate) {
		log.Warn().
			Int64("provider_id", p.ID).
			Str("service_key", rs.Key).
			Str("retail_rate", q.RetailRate.String()).
			Msg("retail rate out of range, storing unpriced")
		return nil
	}
	return q
}

func newService(p *models.Provider, rs remoteService, q *pricing.Quote, now time.Time) models.Service {
	providerID := p.ID
	svc := models.Service{
		ProviderID:            &providerID,
		ProviderServiceID:     rs.Key,
		Name:                  rs.Name,
		Category:              rs.Category,
		Type:                  rs.Type,
		Status:                rs.Status,
		ProviderRate:          decimal.NewFromInt(1),
		Currency:              p.Currency,
		MinQuantity:           10,
		MaxQuantity:           rs.Max,
		RefillSupported:       rs.Refill,
		CancelSupported:       rs.Cancel,
		DripfeedSupported:     rs.Dripfeed,
		SubscriptionSupported: rs.Subscription,
		AverageTime:           rs.AverageTime,
		ProviderMetadata:      rs.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if rs.Rate != nil {
		svc.ProviderRate = *rs.Rate
	}
	if rs.Min != nil {
		svc.MinQuantity = *rs.Min
	}
	setQuote(&svc, q)
	return svc
}

func setQuote(s *models.Service, q *pricing.Quote) {
	if q == nil {
		s.RetailRate = decimal.NullDecimal{}
		s.MarkupPercentage = decimal.NullDecimal{}
		s.PricingRuleID = nil
		s.NeedsPricing = true
		return
	}
	s.RetailRate = decimal.NewNullDecimal(q.RetailRate)
	s.MarkupPercentage = decimal.NewNullDecimal(q.MarkupPercentage)
	s.PricingRuleID = q.RuleID
	s.NeedsPricing = false
}

// applyRemote merges a remote entry into an existing service and reports
// whether anything changed. Fields the remote entry could not supply keep
// their stored values.
func applyRemote(cur models.Service, rs remoteService, q *pricing.Quote) (models.Service, bool) {
	next := cur
	next.Name = rs.Name
	next.Category = rs.Category
	next.Type = rs.Type
	next.Status = rs.Status
	next.RefillSupported = rs.Refill
	next.CancelSupported = rs.Cancel
	next.DripfeedSupported = rs.Dripfeed
	next.SubscriptionSupported = rs.Subscription
	next.AverageTime = rs.AverageTime
	next.ProviderMetadata = rs.Metadata
	if rs.Min != nil {
		next.MinQuantity = *rs.Min
	}
	if rs.Max != nil {
		next.MaxQuantity = rs.Max
	}
	if rs.Rate != nil {
		next.ProviderRate = *rs.Rate
		setQuote(&next, q)
	}
	return next, serviceChanged(cur, next)
}

func serviceChanged(a, b models.Service) bool {
	return a.Name != b.Name ||
		a.Category != b.Category ||
		a.Type != b.Type ||
		a.Status != b.Status ||
		!a.ProviderRate.Equal(b.ProviderRate) ||
		!nullDecimalEqual(a.RetailRate, b.RetailRate) ||
		!nullDecimalEqual(a.MarkupPercentage, b.MarkupPercentage) ||
		!int64PtrEqual(a.PricingRuleID, b.PricingRuleID) ||
		a.NeedsPricing != b.NeedsPricing ||
		a.MinQuantity != b.MinQuantity ||
		!int64PtrEqual(a.MaxQuantity, b.MaxQuantity) ||
		a.RefillSupported != b.RefillSupported ||
		a.CancelSupported != b.CancelSupported ||
		a.DripfeedSupported != b.DripfeedSupported ||
		a.SubscriptionSupported != b.SubscriptionSupported ||
		a.AverageTime != b.AverageTime ||
		a.ProviderMetadata != b.ProviderMetadata
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RunReport is the outcome of a scheduled catalog sync.
type RunReport struct {
	RunID              string            `json:"runId"`
	RunAt              time.Time         `json:"runAt"`
	ProvidersProcessed int               `json:"providersProcessed"`
	Results            []ProviderOutcome `json:"results"`
}

type ProviderOutcome struct {
	ProviderID  int64  `json:"providerId"`
	Success     bool   `json:"success"`
	Added       int    `json:"added"`
	Updated     int    `json:"updated"`
	Deactivated int    `json:"deactivated"`
	Total       int    `json:"total"`
	Error       string `json:"error,omitempty"`
}

// ReconcileAll syncs every active provider, or only providerID when set.
// Providers run concurrently up to the configured fan-out and one failure
// never stops the others.
func (r *Reconciler) ReconcileAll(ctx context.Context, providerID *int64) (*RunReport, error) {
	var providers []models.Provider
	if providerID != nil {
		p, err := r.store.GetProvider(ctx, *providerID)
		if err != nil {
			return nil, err
		}
		providers = []models.Provider{*p}
	} else {
		var err error
		providers, err = r.store.ListActiveProviders(ctx)
		if err != nil {
			return nil, fmt.Errorf("list providers: %w", err)
		}
	}

	report := &RunReport{
		RunID:              uuid.NewString(),
		RunAt:              r.now().UTC(),
		ProvidersProcessed: len(providers),
		Results:            make([]ProviderOutcome, len(providers)),
	}

	var g errgroup.Group
	g.SetLimit(r.fanout)
	for i := range providers {
		p := &providers[i]
		g.Go(func() error {
			res, err := r.Reconcile(ctx, p)
			report.Results[i] = outcome(p.ID, res, err)
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Str("run_id", report.RunID).Int("providers", len(providers)).Msg("catalog sync run finished")
	return report, nil
}

func outcome(providerID int64, res *Result, err error) ProviderOutcome {
	if err != nil {
		return ProviderOutcome{ProviderID: providerID, Error: err.Error()}
	}
	return ProviderOutcome{
		ProviderID:  providerID,
		Success:     true,
		Added:       res.Added,
		Updated:     res.Updated,
		Deactivated: res.Deactivated,
		Total:       res.Total,
	}
}
