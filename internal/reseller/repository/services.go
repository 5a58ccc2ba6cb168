package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const serviceColumns = `id, provider_id, provider_service_id, name, category, type, status,
	provider_rate, retail_rate, markup_percentage, pricing_rule_id, needs_pricing, currency,
	min_quantity, max_quantity, refill_supported, cancel_supported, dripfeed_supported,
	subscription_supported, average_time, provider_metadata, created_at, updated_at`

func (r *SQLRepository) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var s models.Service
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT `+serviceColumns+` FROM services WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "service")
	}
	return &s, nil
}

// ServicesByProvider loads every local service mirrored from the provider, active or not.
func (r *SQLRepository) ServicesByProvider(ctx context.Context, providerID int64) ([]models.Service, error) {
	var out []models.Service
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+serviceColumns+` FROM services WHERE provider_id = ? ORDER BY id`), providerID)
	return out, err
}

// InsertService creates a service row. Zero values fall back to the
// ingestion defaults so a sparse remote row can still be stored.
func (r *SQLRepository) InsertService(ctx context.Context, s *models.Service) (int64, error) {
	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.Status == "" {
		s.Status = models.StatusActive
	}
	if s.MinQuantity <= 0 {
		s.MinQuantity = 10
	}
	if s.Currency == "" {
		s.Currency = "USD"
	}
	if s.Type == "" {
		s.Type = "Default"
	}
	if s.ProviderMetadata == "" {
		s.ProviderMetadata = "{}"
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO services (provider_id, provider_service_id, name, category, type, status,
			provider_rate, retail_rate, markup_percentage, pricing_rule_id, needs_pricing, currency,
			min_quantity, max_quantity, refill_supported, cancel_supported, dripfeed_supported,
			subscription_supported, average_time, provider_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		s.ProviderID, s.ProviderServiceID, s.Name, s.Category, s.Type, s.Status,
		s.ProviderRate, s.RetailRate, s.MarkupPercentage, s.PricingRuleID, s.NeedsPricing, s.Currency,
		s.MinQuantity, s.MaxQuantity, s.RefillSupported, s.CancelSupported, s.DripfeedSupported,
		s.SubscriptionSupported, s.AverageTime, s.ProviderMetadata, s.CreatedAt, s.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// UpdateService rewrites every mutable field of an existing service.
func (r *SQLRepository) UpdateService(ctx context.Context, s *models.Service) error {
	s.UpdatedAt = r.now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE services SET
			name = ?, category = ?, type = ?, status = ?, provider_rate = ?, retail_rate = ?,
			markup_percentage = ?, pricing_rule_id = ?, needs_pricing = ?, currency = ?,
			min_quantity = ?, max_quantity = ?, refill_supported = ?, cancel_supported = ?,
			dripfeed_supported = ?, subscription_supported = ?, average_time = ?,
			provider_metadata = ?, updated_at = ?
		WHERE id = ?`),
		s.Name, s.Category, s.Type, s.Status, s.ProviderRate, s.RetailRate,
		s.MarkupPercentage, s.PricingRuleID, s.NeedsPricing, s.Currency,
		s.MinQuantity, s.MaxQuantity, s.RefillSupported, s.CancelSupported,
		s.DripfeedSupported, s.SubscriptionSupported, s.AverageTime,
		s.ProviderMetadata, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %d: %w", s.ID, apperr.ErrNotFound)
	}
	return nil
}

// DeactivateServices marks the given provider service keys inactive.
// Rows already inactive are left untouched, so repeated calls are no-ops.
func (r *SQLRepository) DeactivateServices(ctx context.Context, providerID int64, keys []string, at time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE services SET status = ?, updated_at = ?
		WHERE provider_id = ? AND status <> ? AND provider_service_id IN (?)`,
		models.StatusInactive, at.UTC(), providerID, models.StatusInactive, keys)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
