package repository

import (
	"context"
	"time"

	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const providerColumns = `id, name, api_url, api_key, status, default_markup, currency, health_status,
	last_sync, response_latency_ms, services_count, created_at, updated_at`

// CreateProvider inserts a provider and returns its id
func (r *SQLRepository) CreateProvider(ctx context.Context, p *models.Provider) (int64, error) {
	now := r.now().UTC()
	if p.Status == "" {
		p.Status = models.StatusActive
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.HealthStatus == "" {
		p.HealthStatus = models.HealthUnknown
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO providers (name, api_url, api_key, status, default_markup, currency, health_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		p.Name, p.APIURL, p.APIKey, p.Status, p.DefaultMarkup, p.Currency, p.HealthStatus, now, now,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	return id, nil
}

func (r *SQLRepository) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	var p models.Provider
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT `+providerColumns+` FROM providers WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "provider")
	}
	return &p, nil
}

// ListActiveProviders returns providers eligible for catalog reconciliation
func (r *SQLRepository) ListActiveProviders(ctx context.Context) ([]models.Provider, error) {
	var out []models.Provider
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+providerColumns+` FROM providers WHERE status = ? ORDER BY id`), models.StatusActive)
	return out, err
}

// UpdateProviderHealth stores the outcome of the latest provider contact.
func (r *SQLRepository) UpdateProviderHealth(ctx context.Context, id int64, health string, latencyMS int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE providers SET health_status = ?, response_latency_ms = ?, updated_at = ? WHERE id = ?`),
		health, latencyMS, r.now().UTC(), id)
	return err
}

// RecordProviderSync marks a completed catalog reconciliation.
func (r *SQLRepository) RecordProviderSync(ctx context.Context, id int64, servicesCount int, latencyMS int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE providers
		SET services_count = ?, last_sync = ?, response_latency_ms = ?, health_status = ?, updated_at = ?
		WHERE id = ?`),
		servicesCount, at.UTC(), latencyMS, models.HealthOnline, at.UTC(), id)
	return err
}
