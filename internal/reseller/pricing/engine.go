// Package pricing turns provider cost into retail rates using prioritized markup rules.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const (
	DefaultCacheTTL = 30 * time.Second

	rateScale   = 4
	markupScale = 8
)

var (
	DefaultMarkup   = decimal.NewFromInt(30)
	GlobalMinMarkup = decimal.Zero

	hundred = decimal.NewFromInt(100)
)

// RuleSource loads the active pricing rules.
type RuleSource interface {
	ActivePricingRules(ctx context.Context) ([]models.PricingRule, error)
}

type Input struct {
	ProviderID *int64
	Category   string
	// ProviderRate is the provider cost per 1000 units. Zero means unknown.
	ProviderRate decimal.Decimal
	// ProviderMarkup is the provider's own default markup, used when no rule matches.
	ProviderMarkup decimal.NullDecimal
}

type Quote struct {
	RetailRate       decimal.Decimal
	MarkupPercentage decimal.Decimal
	RuleID           *int64
}

// Engine computes retail rates. Rules are cached per engine for a bounded TTL.
type Engine struct {
	source        RuleSource
	ttl           time.Duration
	defaultMarkup decimal.Decimal
	minMarkup     decimal.Decimal
	now           func() time.Time

	mu    sync.Mutex
	cache ruleCache
}

type ruleCache struct {
	rules     []models.PricingRule
	expiresAt time.Time
	loaded    bool
}

type Option func(*Engine)

func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

func WithDefaultMarkup(m decimal.Decimal) Option {
	return func(e *Engine) { e.defaultMarkup = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(source RuleSource, opts ...Option) *Engine {
	e := &Engine{
		source:        source,
		ttl:           DefaultCacheTTL,
		defaultMarkup: DefaultMarkup,
		minMarkup:     GlobalMinMarkup,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invalidate drops cached rules so the next calculation reloads them.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.cache = ruleCache{}
	e.mu.Unlock()
}

// Calculate returns the retail quote for a provider cost, or nil when the cost is unknown.
func (e *Engine) Calculate(ctx context.Context, in Input) (*Quote, error) {
	if !in.ProviderRate.IsPositive() {
		return nil, nil
	}

	rules, err := e.rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pricing rules: %w", err)
	}

	return quote(in, match(rules, in), e.fallbackMarkup(in), e.minMarkup), nil
}

func (e *Engine) fallbackMarkup(in Input) decimal.Decimal {
	if in.ProviderMarkup.Valid {
		return in.ProviderMarkup.Decimal
	}
	return e.defaultMarkup
}

func (e *Engine) rules(ctx context.Context) ([]models.PricingRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.cache.loaded && now.Before(e.cache.expiresAt) {
		return e.cache.rules, nil
	}

	rules, err := e.source.ActivePricingRules(ctx)
	if err != nil {
		return nil, err
	}
	sorted := make([]models.PricingRule, 0, len(rules))
	for _, r := range rules {
		if r.Status == "" || r.Status == models.StatusActive {
			sorted = append(sorted, r)
		}
	}
	sortRules(sorted)

	e.cache = ruleCache{rules: sorted, expiresAt: now.Add(e.ttl), loaded: true}
	return sorted, nil
}

// sortRules orders by priority, then specificity, then id so selection is deterministic.
func sortRules(rules []models.PricingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
			return sa > sb
		}
		return a.ID < b.ID
	})
}

func match(sorted []models.PricingRule, in Input) *models.PricingRule {
	category := strings.ToLower(strings.TrimSpace(in.Category))
	for i := range sorted {
		r := &sorted[i]
		if r.ProviderID != nil && (in.ProviderID == nil || *r.ProviderID != *in.ProviderID) {
			continue
		}
		if r.Category != nil && strings.TrimSpace(*r.Category) != "" &&
			strings.ToLower(strings.TrimSpace(*r.Category)) != category {
			continue
		}
		return r
	}
	return nil
}

func quote(in Input, rule *models.PricingRule, fallback, globalMin decimal.Decimal) *Quote {
	cost := in.ProviderRate
	target, floor := fallback, globalMin
	var ceiling decimal.NullDecimal

	q := &Quote{}
	if rule != nil {
		id := rule.ID
		q.RuleID = &id
		if rule.TargetMarkup.Valid {
			target = rule.TargetMarkup.Decimal
		}
		if rule.MinMarkup.Valid {
			floor = rule.MinMarkup.Decimal
		}
		ceiling = rule.MaxMarkup
	}

	// A ceiling below the floor wins.
	target = decimal.Max(target, floor)
	if ceiling.Valid {
		target = decimal.Min(target, ceiling.Decimal)
	}

	retail := cost.Mul(hundred.Add(target)).Div(hundred).Round(rateScale)
	markup := target

	if rule != nil {
		clamped := retail
		if rule.RetailFloor.Valid && clamped.LessThan(rule.RetailFloor.Decimal) {
			clamped = rule.RetailFloor.Decimal.Round(rateScale)
		}
		if rule.RetailCeiling.Valid && clamped.GreaterThan(rule.RetailCeiling.Decimal) {
			clamped = rule.RetailCeiling.Decimal.Round(rateScale)
		}
		if !clamped.Equal(retail) {
			retail = clamped
			markup = retail.Div(cost).Sub(decimal.NewFromInt(1)).Mul(hundred)
		}
	}

	q.RetailRate = retail
	q.MarkupPercentage = markup.Round(markupScale)
	return q
}
