package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/catalog"
	"github.com/25x8/smm-reseller/internal/reseller/middleware"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/respond"
	"github.com/25x8/smm-reseller/internal/reseller/service"
)

const maxBodyBytes = 1 << 20

type ProviderActions interface {
	Create(ctx context.Context, in service.CreateProviderInput) (*models.Provider, error)
	Sync(ctx context.Context, providerID int64) (*catalog.Result, error)
	SyncAll(ctx context.Context, providerID *int64) (*catalog.RunReport, error)
	Test(ctx context.Context, providerID int64) (*service.TestResult, error)
}

type OrderActions interface {
	Create(ctx context.Context, in service.CreateOrderInput) (*models.Order, error)
	Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error)
	Refill(ctx context.Context, userID, orderID int64) (*models.Order, error)
	SyncStatuses(ctx context.Context, opts service.SyncOptions) (*service.SyncReport, error)
}

// actionFunc handles one value of the "action" field. body is the raw request.
type actionFunc func(w http.ResponseWriter, r *http.Request, body []byte)

// Handler handles all HTTP requests
type Handler struct {
	providers      ProviderActions
	orders         OrderActions
	providerAction map[string]actionFunc
	orderAction    map[string]actionFunc
}

// NewHandler creates a new handler
func NewHandler(providers ProviderActions, orders OrderActions) *Handler {
	h := &Handler{providers: providers, orders: orders}
	h.providerAction = map[string]actionFunc{
		"create": h.createProvider,
		"sync":   h.syncProvider,
		"test":   h.testProvider,
	}
	h.orderAction = map[string]actionFunc{
		"create": h.createOrder,
		"cancel": h.cancelOrder,
		"refill": h.refillOrder,
	}
	return h
}

// SyncServiceCatalog reconciles every active provider, or only ?providerId.
func (h *Handler) SyncServiceCatalog(w http.ResponseWriter, r *http.Request) {
	providerID, err := optionalID(r, "providerId")
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	report, err := h.providers.SyncAll(r.Context(), providerID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

// SyncOrderStatus polls providers for a bounded batch of open orders.
func (h *Handler) SyncOrderStatus(w http.ResponseWriter, r *http.Request) {
	providerID, err := optionalID(r, "providerId")
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	opts := service.SyncOptions{ProviderID: providerID}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respond.Error(w, r, &apperr.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		opts.Limit = limit
	}

	report, err := h.orders.SyncStatuses(r.Context(), opts)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

// Providers dispatches POST /providers on the action field.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.providerAction)
}

// Orders dispatches POST /orders on the action field.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.orderAction)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, actions map[string]actionFunc) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respond.Fail(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
		return
	}

	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		respond.Error(w, r, &apperr.ValidationError{Message: "request body must be a JSON object"})
		return
	}

	handle, ok := actions[strings.ToLower(strings.TrimSpace(env.Action))]
	if !ok {
		respond.Error(w, r, &apperr.ValidationError{
			Field:   "action",
			Message: "must be one of: " + strings.Join(actionNames(actions), ", "),
		})
		return
	}
	handle(w, r, body)
}

func actionNames(actions map[string]actionFunc) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type idRequest struct {
	ProviderID int64 `json:"providerId"`
	OrderID    int64 `json:"orderId"`
}

func (h *Handler) createProvider(w http.ResponseWriter, r *http.Request, body []byte) {
	var in service.CreateProviderInput
	if !decode(w, r, body, &in) {
		return
	}
	p, err := h.providers.Create(r.Context(), in)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, p)
}

func (h *Handler) syncProvider(w http.ResponseWriter, r *http.Request, body []byte) {
	var in idRequest
	if !decode(w, r, body, &in) || !requireID(w, r, "providerId", in.ProviderID) {
		return
	}
	res, err := h.providers.Sync(r.Context(), in.ProviderID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) testProvider(w http.ResponseWriter, r *http.Request, body []byte) {
	var in idRequest
	if !decode(w, r, body, &in) || !requireID(w, r, "providerId", in.ProviderID) {
		return
	}
	res, err := h.providers.Test(r.Context(), in.ProviderID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request, body []byte) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var in service.CreateOrderInput
	if !decode(w, r, body, &in) {
		return
	}
	in.UserID = userID

	order, err := h.orders.Create(r.Context(), in)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, body []byte) {
	h.orderTransition(w, r, body, h.orders.Cancel)
}

func (h *Handler) refillOrder(w http.ResponseWriter, r *http.Request, body []byte) {
	h.orderTransition(w, r, body, h.orders.Refill)
}

func (h *Handler) orderTransition(w http.ResponseWriter, r *http.Request, body []byte,
	op func(ctx context.Context, userID, orderID int64) (*models.Order, error)) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var in idRequest
	if !decode(w, r, body, &in) || !requireID(w, r, "orderId", in.OrderID) {
		return
	}

	order, err := op(r.Context(), userID, in.OrderID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, order)
}

func decode(w http.ResponseWriter, r *http.Request, body []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		respond.Error(w, r, &apperr.ValidationError{Message: "malformed request body"})
		return false
	}
	return true
}

func requireID(w http.ResponseWriter, r *http.Request, field string, id int64) bool {
	if id <= 0 {
		respond.Error(w, r, &apperr.ValidationError{Field: field, Message: "is required"})
		return false
	}
	return true
}

func optionalID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, &apperr.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return &id, nil
}
