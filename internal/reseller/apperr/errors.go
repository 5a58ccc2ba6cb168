// Package apperr defines the error taxonomy shared by the reseller core.
package apperr

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrSyncInProgress    = errors.New("catalog sync already in progress")
)

// ConfigurationError means a component is missing required settings.
// It is never retried.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s misconfigured: %s", e.Component, e.Reason)
}

// ProviderUnavailableError covers transport failures, timeouts and rejected credentials.
type ProviderUnavailableError struct {
	ProviderID int64
	Op         string
	// Offline is set when the provider refused our credentials.
	Offline bool
	Err     error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %d unavailable during %s: %v", e.ProviderID, e.Op, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// ProviderRejectedError is a well-formed refusal from the provider.
// Reason holds the provider text and must not be shown to customers.
type ProviderRejectedError struct {
	ProviderID int64
	Op         string
	Reason     string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider %d rejected %s: %s", e.ProviderID, e.Op, e.Reason)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type InsufficientBalanceError struct {
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Balance.String(), e.Required.String())
}

// CompensationFailure means a refund owed to the user could not be applied.
// Manual balance reconciliation is required.
type CompensationFailure struct {
	OrderID int64
	UserID  int64
	Amount  decimal.Decimal
	Cause   error
	Err     error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("compensation failed for order %d (refund %s to user %d): %v",
		e.OrderID, e.Amount.String(), e.UserID, e.Err)
}

func (e *CompensationFailure) Unwrap() error { return e.Err }

type RateLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}
