package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/25x8/smm-reseller/internal/reseller/models"
)

func (r *SQLRepository) CreateUser(ctx context.Context, login, role string, balance decimal.Decimal) (int64, error) {
	if role == "" {
		role = models.RoleUser
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO users (login, role, balance, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		login, role, balance.Round(4), r.now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *SQLRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT id, login, role, balance, created_at FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (r *SQLRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, r.db.Rebind(`SELECT balance FROM users WHERE id = ?`), userID)
	if err != nil {
		return decimal.Zero, notFound(err, "user")
	}
	return balance, nil
}
