package repository

import (
	"context"

	"github.com/25x8/smm-reseller/internal/reseller/models"
)

// ActivePricingRules returns all active rules in id order.
func (r *SQLRepository) ActivePricingRules(ctx context.Context) ([]models.PricingRule, error) {
	var out []models.PricingRule
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT id, priority, provider_id, category, min_markup, target_markup, max_markup,
			retail_floor, retail_ceiling, status
		FROM pricing_rules WHERE status = ? ORDER BY id`), models.StatusActive)
	return out, err
}

func (r *SQLRepository) CreatePricingRule(ctx context.Context, rule *models.PricingRule) (int64, error) {
	if rule.Status == "" {
		rule.Status = models.StatusActive
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO pricing_rules (priority, provider_id, category, min_markup, target_markup,
			max_markup, retail_floor, retail_ceiling, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		rule.Priority, rule.ProviderID, rule.Category, rule.MinMarkup, rule.TargetMarkup,
		rule.MaxMarkup, rule.RetailFloor, rule.RetailCeiling, rule.Status,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rule.ID = id
	return id, nil
}
