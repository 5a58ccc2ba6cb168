package repository

import (
	"context"
	"time"
)

// IncrementWindow atomically bumps the counter for (identifier, route, window)
// and returns the post-increment count in the same statement.
func (r *SQLRepository) IncrementWindow(ctx context.Context, identifier, route string, windowStart time.Time, window time.Duration) (int64, error) {
	start := windowStart.Unix()
	expires := windowStart.Add(window).Unix()

	var count int64
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO rate_limit_buckets (identifier, route, window_start, count, expires_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (identifier, route, window_start)
		DO UPDATE SET count = rate_limit_buckets.count + 1
		RETURNING count`),
		identifier, route, start, expires,
	).Scan(&count)
	return count, err
}

// PurgeExpiredBuckets removes counters whose window has closed.
func (r *SQLRepository) PurgeExpiredBuckets(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM rate_limit_buckets WHERE expires_at <= ?`), now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
