package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provider represents an upstream provider whose catalog is resold
type Provider struct {
	ID                int64               `db:"id" json:"id"`
	Name              string              `db:"name" json:"name"`
	APIURL            string              `db:"api_url" json:"api_url"`
	APIKey            string              `db:"api_key" json:"-"`
	Status            string              `db:"status" json:"status"`
	DefaultMarkup     decimal.NullDecimal `db:"default_markup" json:"default_markup"`
	Currency          string              `db:"currency" json:"currency"`
	HealthStatus      string              `db:"health_status" json:"health_status"`
	LastSync          *time.Time          `db:"last_sync" json:"last_sync,omitempty"`
	ResponseLatencyMS int64               `db:"response_latency_ms" json:"response_latency_ms"`
	ServicesCount     int                 `db:"services_count" json:"services_count"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// Service represents a sellable service, usually mirrored from a provider catalog
type Service struct {
	ID                    int64               `db:"id" json:"id"`
	ProviderID            *int64              `db:"provider_id" json:"provider_id,omitempty"`
	ProviderServiceID     string              `db:"provider_service_id" json:"provider_service_id"`
	Name                  string              `db:"name" json:"name"`
	Category              string              `db:"category" json:"category"`
	Type                  string              `db:"type" json:"type"`
	Status                string              `db:"status" json:"status"`
	ProviderRate          decimal.Decimal     `db:"provider_rate" json:"provider_rate"`
	RetailRate            decimal.NullDecimal `db:"retail_rate" json:"retail_rate"`
	MarkupPercentage      decimal.NullDecimal `db:"markup_percentage" json:"markup_percentage"`
	PricingRuleID         *int64              `db:"pricing_rule_id" json:"pricing_rule_id,omitempty"`
	NeedsPricing          bool                `db:"needs_pricing" json:"needs_pricing"`
	Currency              string              `db:"currency" json:"currency"`
	MinQuantity           int64               `db:"min_quantity" json:"min_quantity"`
	MaxQuantity           *int64              `db:"max_quantity" json:"max_quantity,omitempty"`
	RefillSupported       bool                `db:"refill_supported" json:"refill_supported"`
	CancelSupported       bool                `db:"cancel_supported" json:"cancel_supported"`
	DripfeedSupported     bool                `db:"dripfeed_supported" json:"dripfeed_supported"`
	SubscriptionSupported bool                `db:"subscription_supported" json:"subscription_supported"`
	AverageTime           string              `db:"average_time" json:"average_time"`
	ProviderMetadata      string              `db:"provider_metadata" json:"-"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
}

// PricingRule converts provider cost into a retail rate.
// Lower priority values take precedence.
type PricingRule struct {
	ID            int64               `db:"id" json:"id"`
	Priority      int                 `db:"priority" json:"priority"`
	ProviderID    *int64              `db:"provider_id" json:"provider_id,omitempty"`
	Category      *string             `db:"category" json:"category,omitempty"`
	MinMarkup     decimal.NullDecimal `db:"min_markup" json:"min_markup"`
	TargetMarkup  decimal.NullDecimal `db:"target_markup" json:"target_markup"`
	MaxMarkup     decimal.NullDecimal `db:"max_markup" json:"max_markup"`
	RetailFloor   decimal.NullDecimal `db:"retail_floor" json:"retail_floor"`
	RetailCeiling decimal.NullDecimal `db:"retail_ceiling" json:"retail_ceiling"`
	Status        string              `db:"status" json:"status"`
}

// Specificity ranks scoped rules above broader ones.
func (r PricingRule) Specificity() int {
	s := 0
	if r.ProviderID != nil {
		s += 2
	}
	if r.Category != nil && *r.Category != "" {
		s++
	}
	return s
}

// Order represents a customer order placed against a provider-backed service
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	ServiceID       int64           `db:"service_id" json:"service_id"`
	ProviderID      *int64          `db:"provider_id" json:"provider_id,omitempty"`
	ProviderOrderID *string         `db:"provider_order_id" json:"provider_order_id,omitempty"`
	Link            string          `db:"link" json:"link"`
	Quantity        int64           `db:"quantity" json:"quantity"`
	Charge          decimal.Decimal `db:"charge" json:"charge"`
	Refunded        decimal.Decimal `db:"refunded" json:"refunded"`
	Status          string          `db:"status" json:"status"`
	StartCount      *int64          `db:"start_count" json:"start_count,omitempty"`
	Remains         *int64          `db:"remains" json:"remains,omitempty"`
	RefillID        *string         `db:"refill_id" json:"refill_id,omitempty"`
	FailureReason   string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// User carries the account balance orders are paid from
type User struct {
	ID        int64           `db:"id" json:"id"`
	Login     string          `db:"login" json:"login"`
	Role      string          `db:"role" json:"role"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// BalanceTransaction is one append-only ledger row
type BalanceTransaction struct {
	ID           int64           `db:"id" json:"id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	Kind         string          `db:"kind" json:"kind"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// CompensationFailure records a refund that could not be applied
type CompensationFailure struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reason    string          `db:"reason" json:"reason"`
	LastError string          `db:"last_error" json:"last_error"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Record statuses shared by providers, services and rules
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Provider health statuses
const (
	HealthOnline   = "online"
	HealthDegraded = "degraded"
	HealthOffline  = "offline"
	HealthUnknown  = "unknown"
)

// Order statuses
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderRefilling  = "refilling"
	OrderCompleted  = "completed"
	OrderPartial    = "partial"
	OrderCancelled  = "cancelled"
	OrderFailed     = "failed"
)

// Ledger kinds
const (
	LedgerDebit  = "debit"
	LedgerRefund = "refund"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
