package repository

import (
	"context"
	"time"
)

// Acquire takes the named lease for owner unless another owner holds an unexpired one.
func (r *SQLRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sync_locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE sync_locks.expires_at <= ?`),
		name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops the lease if owner still holds it.
func (r *SQLRepository) Release(ctx context.Context, name, owner string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sync_locks WHERE name = ? AND owner = ?`), name, owner)
	return err
}
