// Package service runs the order saga, provider administration and the
// background scheduler on top of the repository and provider adapters.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
	"github.com/25x8/smm-reseller/internal/reseller/repository"
)

var thousand = decimal.NewFromInt(1000)

// OrderStore is the persistence the order saga needs.
type OrderStore interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	CreateOrderWithDebit(ctx context.Context, o *models.Order) (decimal.Decimal, error)
	MarkOrderSubmitted(ctx context.Context, orderID int64, providerOrderID string) error
	AttachProviderOrder(ctx context.Context, orderID int64, providerOrderID string) error
	TransitionWithRefund(ctx context.Context, req repository.RefundRequest) (decimal.Decimal, error)
	UpdateOrderProgress(ctx context.Context, p repository.OrderProgress) error
	SetOrderRefilling(ctx context.Context, orderID int64, refillID string) error
	OrdersForStatusSync(ctx context.Context, limit int, providerID *int64) ([]models.Order, error)
	RecordCompensationFailure(ctx context.Context, f models.CompensationFailure) error
}

// CreateOrderInput is the payload of the create action.
type CreateOrderInput struct {
	UserID    int64  `json:"-" validate:"gt=0"`
	ServiceID int64  `json:"serviceId" validate:"required,gt=0"`
	Link      string `json:"link" validate:"required,max=2048"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
}

// RetryPolicy bounds how hard a refund owed to a user is retried.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 4, Backoff: 200 * time.Millisecond}

// OrderService orchestrates order creation, cancellation, refill and status sync.
type OrderService struct {
	store    OrderStore
	adapters provider.Factory
	validate *validator.Validate
	retry    RetryPolicy
	fanout   int
}

// OrderOption configures an OrderService.
type OrderOption func(*OrderService)

// WithRetryPolicy overrides the refund retry policy.
func WithRetryPolicy(p RetryPolicy) OrderOption {
	return func(s *OrderService) {
		if p.Attempts > 0 {
			s.retry = p
		}
	}
}

// WithSyncFanout bounds how many providers are polled at once during status sync.
func WithSyncFanout(n int) OrderOption {
	return func(s *OrderService) {
		if n > 0 {
			s.fanout = n
		}
	}
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, adapters provider.Factory, opts ...OrderOption) *OrderService {
	s := &OrderService{
		store:    store,
		adapters: adapters,
		validate: newValidator(),
		retry:    DefaultRetryPolicy,
		fanout:   4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create debits the user and submits the order to the provider. A provider
// failure refunds the debit before the error is returned; if that refund
// cannot be applied the error is an *apperr.CompensationFailure.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	in.Link = strings.TrimSpace(in.Link)
	if err := validateInput(s.validate, in); err != nil {
		return nil, err
	}

	svc, err := s.store.GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != models.StatusActive || svc.ProviderID == nil {
		return nil, &apperr.ValidationError{Field: "serviceId", Message: "service is not available"}
	}
	if !svc.RetailRate.Valid || !svc.RetailRate.Decimal.IsPositive() {
		return nil, &apperr.ValidationError{Field: "serviceId", Message: "service is not priced yet"}
	}
	if in.Quantity < svc.MinQuantity {
		return nil, &apperr.ValidationError{Field: "quantity", Message: fmt.Sprintf("must be at least %d", svc.MinQuantity)}
	}
	if svc.MaxQuantity != nil && in.Quantity > *svc.MaxQuantity {
		return nil, &apperr.ValidationError{Field: "quantity", Message: fmt.Sprintf("must be at most %d", *svc.MaxQuantity)}
	}

	charge := svc.RetailRate.Decimal.Mul(decimal.NewFromInt(in.Quantity)).Div(thousand).Round(4)
	if !charge.IsPositive() {
		return nil, &apperr.ValidationError{Field: "quantity", Message: "order total rounds to zero"}
	}

	p, err := s.store.GetProvider(ctx, *svc.ProviderID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusActive {
		return nil, &apperr.ValidationError{Field: "serviceId", Message: "service is not available"}
	}
	if strings.TrimSpace(p.APIURL) == "" || strings.TrimSpace(p.APIKey) == "" {
		return nil, &apperr.ConfigurationError{Component: fmt.Sprintf("provider %d", p.ID), Reason: "api url and api key are required"}
	}

	balance, err := s.store.GetBalance(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(charge) {
		return nil, &apperr.InsufficientBalanceError{Balance: balance, Required: charge}
	}

	order := &models.Order{
		UserID:     in.UserID,
		ServiceID:  svc.ID,
		ProviderID: svc.ProviderID,
		Link:       in.Link,
		Quantity:   in.Quantity,
		Charge:     charge,
	}
	if _, err := s.store.CreateOrderWithDebit(ctx, order); err != nil {
		return nil, err
	}

	logger := log.With().Int64("order_id", order.ID).Int64("user_id", order.UserID).Int64("provider_id", p.ID).Logger()

	// Once the debit is committed the saga runs to completion even if the
	// caller goes away; provider calls carry their own timeouts.
	ctx = context.WithoutCancel(ctx)

	providerOrderID, submitErr := s.adapters(p).AddOrder(ctx, provider.AddOrderRequest{
		Service:  svc.ProviderServiceID,
		Link:     order.Link,
		Quantity: order.Quantity,
	})
	if submitErr != nil {
		logger.Warn().Err(submitErr).Msg("provider did not accept order, refunding")
		return nil, s.compensate(ctx, order, submitErr)
	}

	err = s.withRetry(ctx, func() error {
		return s.store.MarkOrderSubmitted(ctx, order.ID, providerOrderID)
	})
	if err != nil {
		return nil, s.unrecordedSubmission(ctx, order, p, providerOrderID, err)
	}

	order.Status = models.OrderProcessing
	order.ProviderOrderID = &providerOrderID
	logger.Info().Str("provider_order_id", providerOrderID).Str("charge", charge.String()).Msg("order submitted")
	return order, nil
}

// compensate fails the pending order and refunds its charge. It returns the
// submission error when the refund lands and a CompensationFailure otherwise.
func (s *OrderService) compensate(ctx context.Context, order *models.Order, cause error) error {
	reason := "provider unavailable"
	var rejected *apperr.ProviderRejectedError
	if errors.As(cause, &rejected) {
		reason = "provider rejected order"
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.store.TransitionWithRefund(ctx, repository.RefundRequest{
			OrderID: order.ID,
			From:    []string{models.OrderPending},
			To:      models.OrderFailed,
			Amount:  order.Charge,
			Reason:  reason,
		})
		if errors.Is(err, apperr.ErrInvalidTransition) {
			// Someone else already settled the order and its refund.
			return nil
		}
		return err
	})
	if err == nil {
		order.Status = models.OrderFailed
		order.Refunded = order.Charge
		order.FailureReason = reason
		return fmt.Errorf("order %d: %w", order.ID, cause)
	}

	failure := &apperr.CompensationFailure{
		OrderID: order.ID,
		UserID:  order.UserID,
		Amount:  order.Charge,
		Cause:   cause,
		Err:     err,
	}
	log.Error().Err(err).Bool("alert", true).
		Int64("order_id", order.ID).
		Int64("user_id", order.UserID).
		Str("amount", order.Charge.String()).
		Msg("refund after failed submission could not be applied")

	s.deadLetter(ctx, models.CompensationFailure{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Charge,
		Reason:    reason,
		LastError: err.Error(),
	})
	return failure
}

// unrecordedSubmission handles a provider order that exists upstream but
// could not be marked as submitted locally. If the order was settled in the
// meantime (a cancel racing the submission) the provider order is cancelled
// too. Otherwise the provider id is kept so status sync can pick the order up.
func (s *OrderService) unrecordedSubmission(ctx context.Context, order *models.Order, p *models.Provider, providerOrderID string, markErr error) error {
	logger := log.With().Int64("order_id", order.ID).Int64("user_id", order.UserID).
		Str("provider_order_id", providerOrderID).Logger()

	if err := s.store.AttachProviderOrder(ctx, order.ID, providerOrderID); err != nil {
		logger.Error().Err(err).Msg("store provider order id")
	}

	if errors.Is(markErr, apperr.ErrInvalidTransition) {
		if err := s.adapters(p).Cancel(ctx, providerOrderID); err != nil {
			logger.Error().Err(err).Bool("alert", true).
				Msg("order was settled during submission and the provider order could not be cancelled")
			s.deadLetter(ctx, models.CompensationFailure{
				OrderID:   order.ID,
				UserID:    order.UserID,
				Amount:    order.Charge,
				Reason:    "provider order " + providerOrderID + " live after local settlement",
				LastError: err.Error(),
			})
		} else {
			logger.Warn().Msg("order was settled during submission, provider order cancelled")
		}
		return fmt.Errorf("order %d was settled during submission: %w", order.ID, apperr.ErrInvalidTransition)
	}

	logger.Error().Err(markErr).Bool("alert", true).
		Msg("provider accepted order but it could not be marked as submitted")
	s.deadLetter(ctx, models.CompensationFailure{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Charge,
		Reason:    "provider order " + providerOrderID + " not recorded",
		LastError: markErr.Error(),
	})
	return fmt.Errorf("record provider order %s: %w", providerOrderID, markErr)
}

func (s *OrderService) deadLetter(ctx context.Context, f models.CompensationFailure) {
	if err := s.store.RecordCompensationFailure(ctx, f); err != nil {
		log.Error().Err(err).Bool("alert", true).Int64("order_id", f.OrderID).Msg("write compensation dead letter")
	}
}

func (s *OrderService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := s.retry.Backoff
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		// A lost guard will not pass on retry.
		if errors.Is(err, apperr.ErrInvalidTransition) || attempt == s.retry.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// ownedOrder loads an order and hides orders of other users.
func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("order %d: %w", orderID, apperr.ErrNotFound)
	}
	return order, nil
}

func (s *OrderService) orderProvider(ctx context.Context, order *models.Order) (*models.Provider, error) {
	if order.ProviderID == nil {
		return nil, &apperr.ConfigurationError{Component: fmt.Sprintf("order %d", order.ID), Reason: "order has no provider"}
	}
	return s.store.GetProvider(ctx, *order.ProviderID)
}

// Cancel refunds the full charge of a pending or processing order. The
// provider-side cancel is best effort.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderCancelled) {
		return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, apperr.ErrInvalidTransition)
	}

	if order.ProviderOrderID != nil {
		p, err := s.orderProvider(ctx, order)
		if err == nil {
			err = s.adapters(p).Cancel(ctx, *order.ProviderOrderID)
		}
		if err != nil {
			log.Warn().Err(err).Int64("order_id", order.ID).Msg("provider cancel failed, cancelling locally")
		}
	}

	_, err = s.store.TransitionWithRefund(context.WithoutCancel(ctx), repository.RefundRequest{
		OrderID: order.ID,
		From:    models.TransitionSources(models.OrderCancelled, models.OrderPending, models.OrderProcessing),
		To:      models.OrderCancelled,
		Amount:  order.Charge.Sub(order.Refunded),
		Reason:  "cancelled by customer",
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("order_id", order.ID).Str("refund", order.Charge.Sub(order.Refunded).String()).Msg("order cancelled")
	return s.store.GetOrder(ctx, order.ID)
}

// Refill asks the provider to top up a completed order.
func (s *OrderService) Refill(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderRefilling) || order.ProviderOrderID == nil {
		return nil, fmt.Errorf("order %d is %s: %w", order.ID, order.Status, apperr.ErrInvalidTransition)
	}

	svc, err := s.store.GetService(ctx, order.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.RefillSupported {
		return nil, &apperr.ValidationError{Field: "orderId", Message: "service does not support refill"}
	}

	p, err := s.orderProvider(ctx, order)
	if err != nil {
		return nil, err
	}
	refillID, err := s.adapters(p).Refill(ctx, *order.ProviderOrderID)
	if err != nil {
		return nil, fmt.Errorf("order %d refill: %w", order.ID, err)
	}

	if err := s.store.SetOrderRefilling(context.WithoutCancel(ctx), order.ID, refillID); err != nil {
		return nil, err
	}
	log.Info().Int64("order_id", order.ID).Str("refill_id", refillID).Msg("refill requested")
	return s.store.GetOrder(ctx, order.ID)
}
