package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
	"github.com/25x8/smm-reseller/internal/reseller/provider"
	"github.com/25x8/smm-reseller/internal/reseller/repository"
	"github.com/25x8/smm-reseller/internal/reseller/service"
)

// panel is a fake upstream provider.
type panel struct {
	mu           sync.Mutex
	rejectAdd    string
	addStatus    int
	addDelay     time.Duration
	cancelStatus int
	nextOrder    int
	statuses     map[string]map[string]any
	calls        map[string]int
}

func newPanel() *panel {
	return &panel{nextOrder: 1000, statuses: map[string]map[string]any{}, calls: map[string]int{}}
}

func (p *panel) setStatus(orderID string, body map[string]any) {
	p.mu.Lock()
	p.statuses[orderID] = body
	p.mu.Unlock()
}

func (p *panel) count(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[action]
}

func (p *panel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.addDelay > 0 && r.FormValue("action") == "add" {
		time.Sleep(p.addDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	action := r.FormValue("action")
	p.calls[action]++
	reply := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch action {
	case "add":
		if p.addStatus != 0 {
			w.WriteHeader(p.addStatus)
			return
		}
		if p.rejectAdd != "" {
			reply(http.StatusOK, map[string]any{"error": p.rejectAdd})
			return
		}
		p.nextOrder++
		reply(http.StatusOK, map[string]any{"order": p.nextOrder})
	case "status":
		body, ok := p.statuses[r.FormValue("order")]
		if !ok {
			reply(http.StatusOK, map[string]any{"error": "Incorrect order ID"})
			return
		}
		reply(http.StatusOK, body)
	case "cancel":
		if p.cancelStatus != 0 {
			w.WriteHeader(p.cancelStatus)
			return
		}
		reply(http.StatusOK, map[string]any{"cancel": 1})
	case "refill":
		reply(http.StatusOK, map[string]any{"refill": "r-" + r.FormValue("order")})
	case "balance":
		reply(http.StatusOK, map[string]any{"balance": "12.50", "currency": "USD"})
	default:
		reply(http.StatusOK, map[string]any{"error": "Incorrect request"})
	}
}

type orderFixture struct {
	repo     *repository.SQLRepository
	panel    *panel
	provider *models.Provider
	service  *models.Service
	userID   int64
	orders   *service.OrderService
}

var fastRetry = service.WithRetryPolicy(service.RetryPolicy{Attempts: 2, Backoff: time.Millisecond})

func newOrderFixture(t *testing.T, balance string) *orderFixture {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.Open(ctx, "sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pn := newPanel()
	srv := httptest.NewServer(pn)
	t.Cleanup(srv.Close)

	p := &models.Provider{Name: "panel", APIURL: srv.URL, APIKey: "secret"}
	_, err = repo.CreateProvider(ctx, p)
	require.NoError(t, err)

	maxQty := int64(10000)
	svc := &models.Service{
		ProviderID:        &p.ID,
		ProviderServiceID: "42",
		Name:              "Followers",
		ProviderRate:      decimal.RequireFromString("2"),
		RetailRate:        decimal.NewNullDecimal(decimal.RequireFromString("2.5")),
		MinQuantity:       100,
		MaxQuantity:       &maxQty,
		RefillSupported:   true,
	}
	_, err = repo.InsertService(ctx, svc)
	require.NoError(t, err)

	userID, err := repo.CreateUser(ctx, "alice", models.RoleUser, decimal.RequireFromString(balance))
	require.NoError(t, err)

	factory := provider.NewFactory(provider.WithTimeouts(2*time.Second, 2*time.Second))
	return &orderFixture{
		repo:     repo,
		panel:    pn,
		provider: p,
		service:  svc,
		userID:   userID,
		orders:   service.NewOrderService(repo, factory, fastRetry),
	}
}

func (f *orderFixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.repo.GetBalance(context.Background(), f.userID)
	require.NoError(t, err)
	return b
}

func (f *orderFixture) create(t *testing.T, qty int64) *models.Order {
	t.Helper()
	o, err := f.orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://instagram.com/alice", Quantity: qty,
	})
	require.NoError(t, err)
	return o
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestCreateDebitsAndSubmits(t *testing.T) {
	f := newOrderFixture(t, "100")

	o := f.create(t, 1000)
	assert.Equal(t, models.OrderProcessing, o.Status)
	requireDecimal(t, "2.5", o.Charge)
	require.NotNil(t, o.ProviderOrderID)
	assert.Equal(t, "1001", *o.ProviderOrderID)
	requireDecimal(t, "97.5", f.balance(t))

	stored, err := f.repo.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, stored.Status)
	assert.Equal(t, "1001", *stored.ProviderOrderID)

	ledger, err := f.repo.LedgerForOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, models.LedgerDebit, ledger[0].Kind)
	requireDecimal(t, "97.5", ledger[0].BalanceAfter)
}

func TestCreateChargeRounding(t *testing.T) {
	f := newOrderFixture(t, "100")
	o := f.create(t, 333)
	requireDecimal(t, "0.8325", o.Charge)
	requireDecimal(t, "99.1675", f.balance(t))
}

func TestCreateInsufficientBalanceHasNoSideEffects(t *testing.T) {
	f := newOrderFixture(t, "5")

	_, err := f.orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 4000,
	})
	var insufficient *apperr.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	requireDecimal(t, "10", insufficient.Required)

	requireDecimal(t, "5", f.balance(t))
	assert.Zero(t, f.panel.count("add"))
	_, err = f.repo.GetOrder(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no order row is written")
}

func TestCreateProviderRejectionRefunds(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.rejectAdd = "Not enough funds on balance"

	_, err := f.orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	var rejected *apperr.ProviderRejectedError
	require.ErrorAs(t, err, &rejected)
	var compFail *apperr.CompensationFailure
	assert.False(t, errors.As(err, &compFail))

	requireDecimal(t, "100", f.balance(t))

	o, err := f.repo.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, o.Status)
	assert.Equal(t, "provider rejected order", o.FailureReason)
	requireDecimal(t, "2.5", o.Refunded)

	ledger, err := f.repo.LedgerForOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, models.LedgerDebit, ledger[0].Kind)
	assert.Equal(t, models.LedgerRefund, ledger[1].Kind)
	requireDecimal(t, "100", ledger[1].BalanceAfter)
}

func TestCreateProviderOutageRefunds(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.addStatus = http.StatusBadGateway

	_, err := f.orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	var unavailable *apperr.ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	requireDecimal(t, "100", f.balance(t))
}

func TestCreateProviderTimeoutRefunds(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.addDelay = 300 * time.Millisecond
	orders := service.NewOrderService(f.repo, provider.NewFactory(provider.WithTimeouts(time.Second, 50*time.Millisecond)), fastRetry)

	_, err := orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	var unavailable *apperr.ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)

	o, err := f.repo.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, o.Status)
	assert.Nil(t, o.ProviderOrderID)
	requireDecimal(t, "2.5", o.Refunded)
	requireDecimal(t, "100", f.balance(t))
}

// cancelDuringSubmit cancels the order from the customer side while the
// provider is still accepting it.
type cancelDuringSubmit struct {
	provider.Adapter
	orders    *service.OrderService
	userID    int64
	cancelled *models.Order
	cancelErr error
}

func (c *cancelDuringSubmit) AddOrder(ctx context.Context, req provider.AddOrderRequest) (string, error) {
	c.cancelled, c.cancelErr = c.orders.Cancel(ctx, c.userID, 1)
	return c.Adapter.AddOrder(ctx, req)
}

func newRacingOrders(f *orderFixture) *cancelDuringSubmit {
	racer := &cancelDuringSubmit{userID: f.userID}
	base := provider.NewFactory()
	racer.orders = service.NewOrderService(f.repo, func(p *models.Provider) provider.Adapter {
		racer.Adapter = base(p)
		return racer
	}, fastRetry)
	return racer
}

func TestCancelDuringSubmitCancelsProviderOrder(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()
	racer := newRacingOrders(f)

	_, err := racer.orders.Create(ctx, service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	require.NoError(t, racer.cancelErr)
	assert.Equal(t, models.OrderCancelled, racer.cancelled.Status)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	o, err := f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, o.Status)
	require.NotNil(t, o.ProviderOrderID, "provider order stays linked")
	assert.Equal(t, "1001", *o.ProviderOrderID)
	requireDecimal(t, "100", f.balance(t))
	assert.Equal(t, 1, f.panel.count("add"))
	assert.Equal(t, 1, f.panel.count("cancel"))

	dead, err := f.repo.CompensationFailures(ctx)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestCancelDuringSubmitAlertsWhenProviderCancelFails(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.cancelStatus = http.StatusInternalServerError
	ctx := context.Background()
	racer := newRacingOrders(f)

	_, err := racer.orders.Create(ctx, service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	requireDecimal(t, "100", f.balance(t))

	dead, err := f.repo.CompensationFailures(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, int64(1), dead[0].OrderID)
	assert.Contains(t, dead[0].Reason, "1001")
}

// lostSubmissions cannot record accepted submissions.
type lostSubmissions struct {
	*repository.SQLRepository
}

func (lostSubmissions) MarkOrderSubmitted(context.Context, int64, string) error {
	return errors.New("database is locked")
}

func TestUnrecordedSubmissionIsRecoveredBySync(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()
	orders := service.NewOrderService(lostSubmissions{f.repo}, provider.NewFactory(), fastRetry)

	_, err := orders.Create(ctx, service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrInvalidTransition)

	o, err := f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, o.Status)
	require.NotNil(t, o.ProviderOrderID)
	assert.Equal(t, "1001", *o.ProviderOrderID)
	requireDecimal(t, "97.5", f.balance(t))

	dead, err := f.repo.CompensationFailures(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Reason, "1001")

	f.panel.setStatus("1001", map[string]any{"status": "In progress", "remains": "400"})
	report, err := f.orders.SyncStatuses(ctx, service.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Updated)

	o, err = f.repo.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, o.Status)
	require.NotNil(t, o.Remains)
	assert.Equal(t, int64(400), *o.Remains)
}

// brokenRefunds fails every refund so compensation cannot complete.
type brokenRefunds struct {
	*repository.SQLRepository
	attempts int
}

func (b *brokenRefunds) TransitionWithRefund(context.Context, repository.RefundRequest) (decimal.Decimal, error) {
	b.attempts++
	return decimal.Zero, errors.New("database is locked")
}

func TestCreateCompensationFailureIsDistinct(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.rejectAdd = "Link is invalid"
	store := &brokenRefunds{SQLRepository: f.repo}
	orders := service.NewOrderService(store, provider.NewFactory(), fastRetry)

	_, err := orders.Create(context.Background(), service.CreateOrderInput{
		UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1000,
	})
	var compFail *apperr.CompensationFailure
	require.ErrorAs(t, err, &compFail)
	assert.Equal(t, f.userID, compFail.UserID)
	requireDecimal(t, "2.5", compFail.Amount)
	var rejected *apperr.ProviderRejectedError
	assert.ErrorAs(t, compFail.Cause, &rejected)
	assert.Equal(t, 2, store.attempts)

	dead, err := f.repo.CompensationFailures(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, compFail.OrderID, dead[0].OrderID)
	assert.Contains(t, dead[0].LastError, "database is locked")
}

func TestCreateValidation(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()

	unpriced := &models.Service{ProviderID: &f.provider.ID, ProviderServiceID: "u", Name: "U", ProviderRate: decimal.NewFromInt(1), NeedsPricing: true}
	_, err := f.repo.InsertService(ctx, unpriced)
	require.NoError(t, err)
	inactive := &models.Service{ProviderID: &f.provider.ID, ProviderServiceID: "i", Name: "I", Status: models.StatusInactive,
		ProviderRate: decimal.NewFromInt(1), RetailRate: decimal.NewNullDecimal(decimal.NewFromInt(2))}
	_, err = f.repo.InsertService(ctx, inactive)
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    service.CreateOrderInput
		field string
	}{
		{"below min", service.CreateOrderInput{ServiceID: f.service.ID, Link: "l", Quantity: 99}, "quantity"},
		{"above max", service.CreateOrderInput{ServiceID: f.service.ID, Link: "l", Quantity: 10001}, "quantity"},
		{"zero quantity", service.CreateOrderInput{ServiceID: f.service.ID, Link: "l"}, "quantity"},
		{"blank link", service.CreateOrderInput{ServiceID: f.service.ID, Link: "   ", Quantity: 500}, "link"},
		{"unpriced", service.CreateOrderInput{ServiceID: unpriced.ID, Link: "l", Quantity: 500}, "serviceId"},
		{"inactive", service.CreateOrderInput{ServiceID: inactive.ID, Link: "l", Quantity: 500}, "serviceId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.UserID = f.userID
			_, err := f.orders.Create(ctx, tt.in)
			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	requireDecimal(t, "100", f.balance(t))
	assert.Zero(t, f.panel.count("add"))

	_, err = f.orders.Create(ctx, service.CreateOrderInput{UserID: f.userID, ServiceID: 999, Link: "l", Quantity: 500})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateConcurrentOrdersNeverOverdraw(t *testing.T) {
	f := newOrderFixture(t, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.Create(context.Background(), service.CreateOrderInput{
				UserID: f.userID, ServiceID: f.service.ID, Link: "https://x.test/p", Quantity: 1200,
			})
			mu.Lock()
			defer mu.Unlock()
			var ib *apperr.InsufficientBalanceError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &ib):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 9, insufficient)
	requireDecimal(t, "1", f.balance(t))
}

func TestCancelRefundsOnce(t *testing.T) {
	f := newOrderFixture(t, "100")
	f.panel.cancelStatus = http.StatusInternalServerError
	o := f.create(t, 2000)
	requireDecimal(t, "95", f.balance(t))

	cancelled, err := f.orders.Cancel(context.Background(), f.userID, o.ID)
	require.NoError(t, err, "provider cancel failure does not block the refund")
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	requireDecimal(t, "5", cancelled.Refunded)
	requireDecimal(t, "100", f.balance(t))
	assert.Equal(t, 1, f.panel.count("cancel"))

	_, err = f.orders.Cancel(context.Background(), f.userID, o.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	requireDecimal(t, "100", f.balance(t))
}

func TestCancelOtherUsersOrder(t *testing.T) {
	f := newOrderFixture(t, "100")
	o := f.create(t, 1000)

	_, err := f.orders.Cancel(context.Background(), f.userID+1, o.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	requireDecimal(t, "97.5", f.balance(t))
}

func TestRefillLifecycle(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()
	o := f.create(t, 1000)

	_, err := f.orders.Refill(ctx, f.userID, o.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "processing orders cannot be refilled")

	f.panel.setStatus(*o.ProviderOrderID, map[string]any{"status": "Completed", "remains": "0", "start_count": "150", "charge": "2.0"})
	_, err = f.orders.SyncStatuses(ctx, service.SyncOptions{})
	require.NoError(t, err)

	refilled, err := f.orders.Refill(ctx, f.userID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefilling, refilled.Status)
	require.NotNil(t, refilled.RefillID)
	assert.Equal(t, "r-"+*o.ProviderOrderID, *refilled.RefillID)

	report, err := f.orders.SyncStatuses(ctx, service.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	back, err := f.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, back.Status)
	requireDecimal(t, "97.5", f.balance(t)) // refills never move money
}

func TestRefillRequiresCapability(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()

	svc := &models.Service{ProviderID: &f.provider.ID, ProviderServiceID: "norefill", Name: "Likes",
		ProviderRate: decimal.NewFromInt(1), RetailRate: decimal.NewNullDecimal(decimal.NewFromInt(1))}
	_, err := f.repo.InsertService(ctx, svc)
	require.NoError(t, err)

	o, err := f.orders.Create(ctx, service.CreateOrderInput{UserID: f.userID, ServiceID: svc.ID, Link: "l", Quantity: 100})
	require.NoError(t, err)
	f.panel.setStatus(*o.ProviderOrderID, map[string]any{"status": "Completed"})
	_, err = f.orders.SyncStatuses(ctx, service.SyncOptions{})
	require.NoError(t, err)

	_, err = f.orders.Refill(ctx, f.userID, o.ID)
	var verr *apperr.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Zero(t, f.panel.count("refill"))
}

func TestSyncStatusesMapsProviderVocabulary(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()

	inProgress := f.create(t, 1000)
	partial := f.create(t, 1000)
	canceled := f.create(t, 1000)
	failed := f.create(t, 1000)
	unknown := f.create(t, 1000)
	lost := f.create(t, 1000)
	requireDecimal(t, "85", f.balance(t))

	f.panel.setStatus(*inProgress.ProviderOrderID, map[string]any{"status": "In progress", "start_count": 10, "remains": 900})
	f.panel.setStatus(*partial.ProviderOrderID, map[string]any{"status": "Partial", "remains": "400"})
	f.panel.setStatus(*canceled.ProviderOrderID, map[string]any{"status": "Canceled"})
	f.panel.setStatus(*failed.ProviderOrderID, map[string]any{"status": "Fail"})
	f.panel.setStatus(*unknown.ProviderOrderID, map[string]any{"status": "Awaiting"})
	_ = lost

	report, err := f.orders.SyncStatuses(ctx, service.SyncOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 6, report.Checked)
	assert.Equal(t, 4, report.Updated)
	assert.Equal(t, 1, report.Partial)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Errors, "a failed poll is counted and skipped")

	get := func(id int64) *models.Order {
		o, err := f.repo.GetOrder(ctx, id)
		require.NoError(t, err)
		return o
	}
	ip := get(inProgress.ID)
	assert.Equal(t, models.OrderProcessing, ip.Status)
	assert.Equal(t, int64(900), *ip.Remains)

	pa := get(partial.ID)
	assert.Equal(t, models.OrderPartial, pa.Status)
	requireDecimal(t, "1", pa.Refunded)

	assert.Equal(t, models.OrderCancelled, get(canceled.ID).Status)
	assert.Equal(t, models.OrderFailed, get(failed.ID).Status)
	assert.Equal(t, models.OrderProcessing, get(unknown.ID).Status)

	// 85 + 1 (partial) + 2.5 + 2.5
	requireDecimal(t, "91", f.balance(t))

	again, err := f.orders.SyncStatuses(ctx, service.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Checked, "settled orders leave the sync batch")
	assert.Zero(t, again.Updated)
	requireDecimal(t, "91", f.balance(t))
}

func TestSyncStatusesRespectsLimitAndProvider(t *testing.T) {
	f := newOrderFixture(t, "100")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		o := f.create(t, 1000)
		f.panel.setStatus(*o.ProviderOrderID, map[string]any{"status": "Completed"})
	}

	other := int64(999)
	report, err := f.orders.SyncStatuses(ctx, service.SyncOptions{Limit: 2, ProviderID: &other})
	require.NoError(t, err)
	assert.Zero(t, report.Checked)

	report, err = f.orders.SyncStatuses(ctx, service.SyncOptions{Limit: 2, ProviderID: &f.provider.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Completed)
}

func TestProviderTestRecordsHealth(t *testing.T) {
	f := newOrderFixture(t, "0")
	ctx := context.Background()
	providers := service.NewProviderService(f.repo, nil, provider.NewFactory())

	res, err := providers.Test(ctx, f.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthOnline, res.Health)
	require.NotNil(t, res.Balance)
	requireDecimal(t, "12.5", *res.Balance)

	p, err := f.repo.GetProvider(ctx, f.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthOnline, p.HealthStatus)

	down := &models.Provider{Name: "down", APIURL: "http://127.0.0.1:1", APIKey: "k"}
	_, err = f.repo.CreateProvider(ctx, down)
	require.NoError(t, err)
	res, err = providers.Test(ctx, down.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthDegraded, res.Health)
	assert.Equal(t, "provider unavailable", res.Error)
}

func TestProviderCreateValidates(t *testing.T) {
	f := newOrderFixture(t, "0")
	providers := service.NewProviderService(f.repo, nil, provider.NewFactory())

	_, err := providers.Create(context.Background(), service.CreateProviderInput{Name: "x", APIURL: "not a url", APIKey: "k"})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "apiUrl", verr.Field)

	markup := decimal.NewFromInt(45)
	p, err := providers.Create(context.Background(), service.CreateProviderInput{
		Name: " beta ", APIURL: "https://panel.example/api/v2", APIKey: "k", DefaultMarkup: &markup, Currency: "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name)
	assert.Equal(t, "EUR", p.Currency)
	assert.True(t, p.DefaultMarkup.Decimal.Equal(markup))
	assert.NotZero(t, p.ID)
}
