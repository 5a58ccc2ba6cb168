package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/catalog"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
)

// ProviderStore persists providers and their health.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *models.Provider) (int64, error)
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	UpdateProviderHealth(ctx context.Context, id int64, health string, latencyMS int64) error
}

// CatalogSyncer reconciles provider catalogs.
type CatalogSyncer interface {
	Reconcile(ctx context.Context, p *models.Provider) (*catalog.Result, error)
	ReconcileAll(ctx context.Context, providerID *int64) (*catalog.RunReport, error)
}

// CreateProviderInput is the payload of the create action.
type CreateProviderInput struct {
	Name          string           `json:"name" validate:"required,max=255"`
	APIURL        string           `json:"apiUrl" validate:"required,http_url,max=2048"`
	APIKey        string           `json:"apiKey" validate:"required,max=512"`
	DefaultMarkup *decimal.Decimal `json:"defaultMarkup"`
	Currency      string           `json:"currency" validate:"omitempty,len=3"`
}

// TestResult is the outcome of a provider connectivity check.
type TestResult struct {
	ProviderID int64            `json:"providerId"`
	Health     string           `json:"health"`
	LatencyMS  int64            `json:"latencyMs"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ProviderService backs the administrative provider actions.
type ProviderService struct {
	store    ProviderStore
	catalog  CatalogSyncer
	adapters provider.Factory
	validate *validator.Validate
}

// NewProviderService creates a new provider service
func NewProviderService(store ProviderStore, syncer CatalogSyncer, adapters provider.Factory) *ProviderService {
	return &ProviderService{
		store:    store,
		catalog:  syncer,
		adapters: adapters,
		validate: newValidator(),
	}
}

func (s *ProviderService) Create(ctx context.Context, in CreateProviderInput) (*models.Provider, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.APIURL = strings.TrimSpace(in.APIURL)
	in.APIKey = strings.TrimSpace(in.APIKey)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := validateInput(s.validate, in); err != nil {
		return nil, err
	}
	if in.DefaultMarkup != nil && in.DefaultMarkup.IsNegative() {
		return nil, &apperr.ValidationError{Field: "defaultMarkup", Message: "must not be negative"}
	}

	p := &models.Provider{
		Name:     in.Name,
		APIURL:   in.APIURL,
		APIKey:   in.APIKey,
		Currency: in.Currency,
	}
	if in.DefaultMarkup != nil {
		p.DefaultMarkup = decimal.NewNullDecimal(*in.DefaultMarkup)
	}
	if _, err := s.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}

	log.Info().Int64("provider_id", p.ID).Str("key_fp", provider.Fingerprint(p.APIKey)).Msg("provider created")
	return p, nil
}

// Sync reconciles one provider's catalog now.
func (s *ProviderService) Sync(ctx context.Context, providerID int64) (*catalog.Result, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Reconcile(ctx, p)
}

// SyncAll reconciles every active provider, or only providerID when set.
func (s *ProviderService) SyncAll(ctx context.Context, providerID *int64) (*catalog.RunReport, error) {
	return s.catalog.ReconcileAll(ctx, providerID)
}

// Test checks credentials and reachability with a balance call and records
// the resulting health. Provider failures are reported in the result.
func (s *ProviderService) Test(ctx context.Context, providerID int64) (*TestResult, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	bal, callErr := s.adapters(p).Balance(ctx)
	res := &TestResult{ProviderID: p.ID, LatencyMS: time.Since(started).Milliseconds()}

	var cfgErr *apperr.ConfigurationError
	if errors.As(callErr, &cfgErr) {
		return nil, callErr
	}

	switch {
	case callErr == nil:
		res.Health = models.HealthOnline
		res.Balance = &bal.Amount
		res.Currency = bal.Currency
	default:
		res.Health = models.HealthDegraded
		res.Error = "provider unavailable"
		var unavailable *apperr.ProviderUnavailableError
		if errors.As(callErr, &unavailable) && unavailable.Offline {
			res.Health = models.HealthOffline
			res.Error = "provider rejected credentials"
		}
		var rejected *apperr.ProviderRejectedError
		if errors.As(callErr, &rejected) {
			res.Error = "provider rejected request"
		}
		log.Warn().Err(callErr).Int64("provider_id", p.ID).Str("key_fp", provider.Fingerprint(p.APIKey)).Msg("provider test failed")
	}

	if err := s.store.UpdateProviderHealth(ctx, p.ID, res.Health, res.LatencyMS); err != nil {
		return nil, err
	}
	return res, nil
}
