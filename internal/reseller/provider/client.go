// Package provider talks to upstream panels over their form-encoded HTTP API.
package provider

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const (
	DefaultCatalogTimeout = 30 * time.Second
	DefaultCallTimeout    = 10 * time.Second

	maxResponseBytes = 16 << 20
)

// Adapter is the set of remote actions the reseller core uses.
type Adapter interface {
	Services(ctx context.Context) ([]map[string]any, error)
	AddOrder(ctx context.Context, req AddOrderRequest) (string, error)
	Status(ctx context.Context, orderID string) (*OrderStatus, error)
	Refill(ctx context.Context, orderID string) (string, error)
	Cancel(ctx context.Context, orderID string) error
	Balance(ctx context.Context) (*Balance, error)
}

// Factory builds the adapter for a provider row.
type Factory func(p *models.Provider) Adapter

type AddOrderRequest struct {
	Service  string
	Link     string
	Quantity int64
}

// OrderStatus is the provider's view of an order
type OrderStatus struct {
	Status     string
	Charge     decimal.NullDecimal
	StartCount *int64
	Remains    *int64
	Currency   string
}

type Balance struct {
	Amount   decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Client is the HTTP adapter for a single provider
type Client struct {
	providerID     int64
	baseURL        string
	key            string
	httpClient     *http.Client
	catalogTimeout time.Duration
	callTimeout    time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeouts overrides the catalog and single-call deadlines.
func WithTimeouts(catalog, call time.Duration) Option {
	return func(cl *Client) {
		cl.catalogTimeout = catalog
		cl.callTimeout = call
	}
}

// NewClient creates a client for the provider
func NewClient(p *models.Provider, opts ...Option) *Client {
	c := &Client{
		providerID:     p.ID,
		baseURL:        strings.TrimSpace(p.APIURL),
		key:            p.APIKey,
		httpClient:     &http.Client{},
		catalogTimeout: DefaultCatalogTimeout,
		callTimeout:    DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFactory returns a Factory that builds HTTP clients with the given options.
func NewFactory(opts ...Option) Factory {
	return func(p *models.Provider) Adapter {
		return NewClient(p, opts...)
	}
}

// Fingerprint identifies a credential in logs without revealing it.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

func (c *Client) Services(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.call(ctx, "services", c.catalogTimeout, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (string, error) {
	params := url.Values{}
	params.Set("service", req.Service)
	params.Set("link", req.Link)
	params.Set("quantity", strconv.FormatInt(req.Quantity, 10))

	var resp struct {
		Order any `json:"order"`
	}
	if err := c.call(ctx, "add", c.callTimeout, params, &resp); err != nil {
		return "", err
	}
	id := idString(resp.Order)
	if id == "" {
		return "", c.unavailable("add", errors.New("response carries no order id"))
	}
	return id, nil
}

func (c *Client) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("order", orderID)

	var resp struct {
		Charge     any    `json:"charge"`
		StartCount any    `json:"start_count"`
		Status     string `json:"status"`
		Remains    any    `json:"remains"`
		Currency   string `json:"currency"`
	}
	if err := c.call(ctx, "status", c.callTimeout, params, &resp); err != nil {
		return nil, err
	}

	st := &OrderStatus{
		Status:     strings.TrimSpace(resp.Status),
		StartCount: intPtr(resp.StartCount),
		Remains:    intPtr(resp.Remains),
		Currency:   resp.Currency,
	}
	if d, ok := decimalOf(resp.Charge); ok {
		st.Charge = decimal.NewNullDecimal(d)
	}
	return st, nil
}

func (c *Client) Refill(ctx context.Context, orderID string) (string, error) {
	params := url.Values{}
	params.Set("order", orderID)

	var resp struct {
		Refill any `json:"refill"`
	}
	if err := c.call(ctx, "refill", c.callTimeout, params, &resp); err != nil {
		return "", err
	}
	id := idString(resp.Refill)
	if id == "" {
		return "", c.unavailable("refill", errors.New("response carries no refill id"))
	}
	return id, nil
}

// Cancel asks the provider to stop an order. Any non-error reply counts as an ack.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("order", orderID)
	params.Set("orders", orderID)

	var resp json.RawMessage
	return c.call(ctx, "cancel", c.callTimeout, params, &resp)
}

func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var resp struct {
		Balance  any    `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := c.call(ctx, "balance", c.callTimeout, nil, &resp); err != nil {
		return nil, err
	}
	amount, ok := decimalOf(resp.Balance)
	if !ok {
		return nil, c.unavailable("balance", errors.New("response carries no balance"))
	}
	return &Balance{Amount: amount, Currency: resp.Currency}, nil
}

func (c *Client) call(ctx context.Context, action string, timeout time.Duration, params url.Values, out any) error {
	if c.baseURL == "" || c.key == "" {
		return &apperr.ConfigurationError{
			Component: fmt.Sprintf("provider %d", c.providerID),
			Reason:    "api url and api key are required",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("key", c.key)
	form.Set("action", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return c.unavailable(action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.unavailable(action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.unavailable(action, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &apperr.ProviderUnavailableError{ProviderID: c.providerID, Op: action, Offline: true,
			Err: fmt.Errorf("credentials rejected with status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.unavailable(action, fmt.Errorf("rate limited, retry after %q", resp.Header.Get("Retry-After")))
	case resp.StatusCode >= http.StatusInternalServerError:
		return c.unavailable(action, fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	if msg, ok := errorMessage(body); ok {
		if isCredentialError(msg) {
			return &apperr.ProviderUnavailableError{ProviderID: c.providerID, Op: action, Offline: true,
				Err: errors.New("credentials rejected")}
		}
		return &apperr.ProviderRejectedError{ProviderID: c.providerID, Op: action, Reason: msg}
	}

	if resp.StatusCode != http.StatusOK {
		return c.unavailable(action, fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return c.unavailable(action, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) unavailable(action string, err error) error {
	return &apperr.ProviderUnavailableError{ProviderID: c.providerID, Op: action, Err: err}
}

// errorMessage extracts the text of an {"error": "..."} reply.
func errorMessage(body []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var env struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Error == nil {
		return "", false
	}
	msg := strings.TrimSpace(fmt.Sprint(env.Error))
	if msg == "" {
		msg = "unspecified provider error"
	}
	return msg, true
}

func isCredentialError(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key") || strings.Contains(m, "invalid key") ||
		strings.Contains(m, "incorrect key") || strings.Contains(m, "unauthorized")
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		return t.String()
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func decimalOf(v any) (decimal.Decimal, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	case float64:
		return decimal.NewFromFloat(t), true
	default:
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func intPtr(v any) *int64 {
	d, ok := decimalOf(v)
	if !ok {
		return nil
	}
	n := d.IntPart()
	return &n
}
