// Package respond writes JSON replies and maps domain errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
)

// ErrorBody is the JSON shape of every error reply.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func Fail(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: code, Message: message})
}

// Error maps err onto a status and a client-safe message. Provider text and
// internal details never reach the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request rejected")
	}

	var limited *apperr.RateLimitExceeded
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
	}
	Fail(w, status, code, msg)
}

func classify(err error) (int, string, string) {
	var (
		validation   *apperr.ValidationError
		insufficient *apperr.InsufficientBalanceError
		compensation *apperr.CompensationFailure
		rejected     *apperr.ProviderRejectedError
		unavailable  *apperr.ProviderUnavailableError
		config       *apperr.ConfigurationError
		limited      *apperr.RateLimitExceeded
	)

	// Compensation failures wrap other errors, so they are checked first.
	switch {
	case errors.As(err, &compensation):
		return http.StatusInternalServerError, "compensation_failed",
			fmt.Sprintf("order %d failed and the refund is pending manual review", compensation.OrderID)
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_error", validation.Error()
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired, "insufficient_balance", "insufficient balance for this order"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "the order cannot change to the requested state"
	case errors.Is(err, apperr.ErrSyncInProgress):
		return http.StatusConflict, "sync_in_progress", "a catalog sync for this provider is already running"
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, "provider_rejected", "the provider rejected the request"
	case errors.As(err, &unavailable):
		return http.StatusBadGateway, "provider_unavailable", "the provider is currently unavailable"
	case errors.As(err, &config):
		return http.StatusServiceUnavailable, "configuration_error", "the provider is not configured"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}
