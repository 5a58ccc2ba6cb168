package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
	"github.com/25x8/smm-reseller/internal/reseller/models"
)

const orderColumns = `id, user_id, service_id, provider_id, provider_order_id, link, quantity, charge,
	refunded, status, start_count, remains, refill_id, failure_reason, created_at, updated_at`

// RefundRequest moves an order to a new status and credits the user in one transaction.
type RefundRequest struct {
	OrderID    int64
	From       []string
	To         string
	Amount     decimal.Decimal
	Reason     string
	StartCount *int64
	Remains    *int64
}

// OrderProgress is a status poll result applied without any balance change.
type OrderProgress struct {
	OrderID    int64
	From       []string
	To         string
	StartCount *int64
	Remains    *int64
}

type queryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func (r *SQLRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := r.db.GetContext(ctx, &o, r.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "order")
	}
	return &o, nil
}

// CreateOrderWithDebit inserts a pending order and debits its charge from the
// user balance. The debit is a conditional update, so two concurrent orders can
// never both spend the same funds; when it does not apply nothing is written.
func (r *SQLRepository) CreateOrderWithDebit(ctx context.Context, o *models.Order) (decimal.Decimal, error) {
	now := r.now().UTC()
	o.Status = models.OrderPending
	o.Refunded = decimal.Zero
	o.CreatedAt, o.UpdatedAt = now, now

	var balanceAfter decimal.Decimal
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, tx.Rebind(`
			INSERT INTO orders (user_id, service_id, provider_id, link, quantity, charge, refunded, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`),
			o.UserID, o.ServiceID, o.ProviderID, o.Link, o.Quantity, o.Charge, o.Refunded, o.Status, now, now,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			UPDATE users SET balance = ROUND(balance - ?, 4)
			WHERE id = ? AND balance >= ?
			RETURNING balance`),
			o.Charge, o.UserID, o.Charge,
		).Scan(&balanceAfter)
		if errors.Is(err, sql.ErrNoRows) {
			return insufficientOrMissing(ctx, tx, o.UserID, o.Charge)
		}
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		return insertLedger(ctx, tx, o.UserID, o.ID, models.LedgerDebit, o.Charge, balanceAfter, now)
	})
	if err != nil {
		o.ID = 0
		return decimal.Zero, err
	}
	return balanceAfter, nil
}

func insufficientOrMissing(ctx context.Context, q queryer, userID int64, required decimal.Decimal) error {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q, &balance, q.Rebind(`SELECT balance FROM users WHERE id = ?`), userID)
	if err != nil {
		return notFound(err, "user")
	}
	return &apperr.InsufficientBalanceError{Balance: balance, Required: required}
}

func insertLedger(ctx context.Context, tx *sqlx.Tx, userID, orderID int64, kind string, amount, balanceAfter decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO balance_transactions (user_id, order_id, kind, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		userID, orderID, kind, amount, balanceAfter, at)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	return nil
}

// TransitionWithRefund applies a guarded status change and credits the refund
// in the same transaction. The guard makes each refund happen at most once.
func (r *SQLRepository) TransitionWithRefund(ctx context.Context, req RefundRequest) (decimal.Decimal, error) {
	now := r.now().UTC()

	var balanceAfter decimal.Decimal
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`
			UPDATE orders SET
				status = ?,
				refunded = ROUND(refunded + ?, 4),
				failure_reason = COALESCE(NULLIF(?, ''), failure_reason),
				start_count = COALESCE(?, start_count),
				remains = COALESCE(?, remains),
				updated_at = ?
			WHERE id = ? AND status IN (?)
			RETURNING user_id`,
			req.To, req.Amount, req.Reason, req.StartCount, req.Remains, now, req.OrderID, req.From)
		if err != nil {
			return err
		}

		var userID int64
		err = tx.QueryRowxContext(ctx, tx.Rebind(query), args...).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return transitionError(ctx, tx, req.OrderID, req.To)
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if !req.Amount.IsPositive() {
			return sqlx.GetContext(ctx, tx, &balanceAfter, tx.Rebind(`SELECT balance FROM users WHERE id = ?`), userID)
		}

		err = tx.QueryRowxContext(ctx, tx.Rebind(`
			UPDATE users SET balance = ROUND(balance + ?, 4) WHERE id = ? RETURNING balance`),
			req.Amount, userID,
		).Scan(&balanceAfter)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		return insertLedger(ctx, tx, userID, req.OrderID, models.LedgerRefund, req.Amount, balanceAfter, now)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balanceAfter, nil
}

func transitionError(ctx context.Context, q queryer, orderID int64, to string) error {
	var status string
	err := sqlx.GetContext(ctx, q, &status, q.Rebind(`SELECT status FROM orders WHERE id = ?`), orderID)
	if err != nil {
		return notFound(err, "order")
	}
	return fmt.Errorf("order %d %s -> %s: %w", orderID, status, to, apperr.ErrInvalidTransition)
}

// MarkOrderSubmitted records the provider order id of an accepted pending order.
func (r *SQLRepository) MarkOrderSubmitted(ctx context.Context, orderID int64, providerOrderID string) error {
	return r.guardedUpdate(ctx, orderID, []string{models.OrderPending}, models.OrderProcessing,
		`status = ?, provider_order_id = ?, updated_at = ?`,
		models.OrderProcessing, providerOrderID, r.now().UTC())
}

// AttachProviderOrder stores the provider order id of an order whose status
// moved on before the submission could be recorded. An id already set is kept.
func (r *SQLRepository) AttachProviderOrder(ctx context.Context, orderID int64, providerOrderID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE orders SET provider_order_id = ?, updated_at = ?
		WHERE id = ? AND provider_order_id IS NULL`),
		providerOrderID, r.now().UTC(), orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetOrder(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrderProgress applies a polled status without touching balances.
func (r *SQLRepository) UpdateOrderProgress(ctx context.Context, p OrderProgress) error {
	return r.guardedUpdate(ctx, p.OrderID, p.From, p.To,
		`status = ?, start_count = COALESCE(?, start_count), remains = COALESCE(?, remains), updated_at = ?`,
		p.To, p.StartCount, p.Remains, r.now().UTC())
}

// SetOrderRefilling moves a completed order into refilling.
func (r *SQLRepository) SetOrderRefilling(ctx context.Context, orderID int64, refillID string) error {
	return r.guardedUpdate(ctx, orderID, []string{models.OrderCompleted}, models.OrderRefilling,
		`status = ?, refill_id = ?, updated_at = ?`,
		models.OrderRefilling, refillID, r.now().UTC())
}

func (r *SQLRepository) guardedUpdate(ctx context.Context, orderID int64, from []string, to, set string, args ...any) error {
	args = append(args, orderID, from)
	query, qargs, err := sqlx.In(`UPDATE orders SET `+set+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), qargs...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return transitionError(ctx, r.db, orderID, to)
	}
	return nil
}

// OrdersForStatusSync returns a bounded batch of submitted orders awaiting a
// provider outcome. Pending orders qualify once a provider order id is known.
func (r *SQLRepository) OrdersForStatusSync(ctx context.Context, limit int, providerID *int64) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status IN (?, ?, ?) AND provider_order_id IS NOT NULL`
	args := []any{models.OrderPending, models.OrderProcessing, models.OrderRefilling}
	if providerID != nil {
		query += ` AND provider_id = ?`
		args = append(args, *providerID)
	}
	query += ` ORDER BY updated_at, id LIMIT ?`
	args = append(args, limit)

	var out []models.Order
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...)
	return out, err
}

// RecordCompensationFailure writes a dead-letter row for a refund that could not be applied.
func (r *SQLRepository) RecordCompensationFailure(ctx context.Context, f models.CompensationFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO compensation_failures (order_id, user_id, amount, reason, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		f.OrderID, f.UserID, f.Amount, f.Reason, f.LastError, f.CreatedAt)
	return err
}

// CompensationFailures lists dead-letter rows, newest first.
func (r *SQLRepository) CompensationFailures(ctx context.Context) ([]models.CompensationFailure, error) {
	var out []models.CompensationFailure
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, order_id, user_id, amount, reason, last_error, created_at
		FROM compensation_failures ORDER BY id DESC`)
	return out, err
}

// LedgerForOrder returns the balance movements tied to an order in write order.
func (r *SQLRepository) LedgerForOrder(ctx context.Context, orderID int64) ([]models.BalanceTransaction, error) {
	var out []models.BalanceTransaction
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT id, user_id, order_id, kind, amount, balance_after, created_at
		FROM balance_transactions WHERE order_id = ? ORDER BY id`), orderID)
	return out, err
}
