package repository

import "strings"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id {{pk}},
		name TEXT NOT NULL,
		api_url TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		default_markup NUMERIC(10, 4),
		currency TEXT NOT NULL DEFAULT 'USD',
		health_status TEXT NOT NULL DEFAULT 'unknown',
		last_sync {{ts}},
		response_latency_ms BIGINT NOT NULL DEFAULT 0,
		services_count INTEGER NOT NULL DEFAULT 0,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id {{pk}},
		provider_id BIGINT REFERENCES providers(id),
		provider_service_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'Default',
		status TEXT NOT NULL DEFAULT 'active',
		provider_rate NUMERIC(14, 4) NOT NULL DEFAULT 1,
		retail_rate NUMERIC(14, 4),
		markup_percentage NUMERIC(18, 8),
		pricing_rule_id BIGINT,
		needs_pricing BOOLEAN NOT NULL DEFAULT FALSE,
		currency TEXT NOT NULL DEFAULT 'USD',
		min_quantity BIGINT NOT NULL DEFAULT 10,
		max_quantity BIGINT,
		refill_supported BOOLEAN NOT NULL DEFAULT FALSE,
		cancel_supported BOOLEAN NOT NULL DEFAULT FALSE,
		dripfeed_supported BOOLEAN NOT NULL DEFAULT FALSE,
		subscription_supported BOOLEAN NOT NULL DEFAULT FALSE,
		average_time TEXT NOT NULL DEFAULT '',
		provider_metadata TEXT NOT NULL DEFAULT '{}',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		UNIQUE (provider_id, provider_service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS pricing_rules (
		id {{pk}},
		priority INTEGER NOT NULL DEFAULT 100,
		provider_id BIGINT,
		category TEXT,
		min_markup NUMERIC(10, 4),
		target_markup NUMERIC(10, 4),
		max_markup NUMERIC(10, 4),
		retail_floor NUMERIC(14, 4),
		retail_ceiling NUMERIC(14, 4),
		status TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id {{pk}},
		login TEXT UNIQUE NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		balance NUMERIC(14, 4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id {{pk}},
		user_id BIGINT NOT NULL REFERENCES users(id),
		service_id BIGINT NOT NULL REFERENCES services(id),
		provider_id BIGINT,
		provider_order_id TEXT,
		link TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		charge NUMERIC(14, 4) NOT NULL,
		refunded NUMERIC(14, 4) NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		start_count BIGINT,
		remains BIGINT,
		refill_id TEXT,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE TABLE IF NOT EXISTS balance_transactions (
		id {{pk}},
		user_id BIGINT NOT NULL,
		order_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		amount NUMERIC(14, 4) NOT NULL,
		balance_after NUMERIC(14, 4) NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balance_transactions_order ON balance_transactions (order_id)`,
	`CREATE TABLE IF NOT EXISTS compensation_failures (
		id {{pk}},
		order_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		amount NUMERIC(14, 4) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
		identifier TEXT NOT NULL,
		route TEXT NOT NULL,
		window_start BIGINT NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		expires_at BIGINT NOT NULL,
		PRIMARY KEY (identifier, route, window_start)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_locks (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

func schemaStatements(driver string) []string {
	repl := strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
	)
	if driver == driverSQLite {
		repl = strings.NewReplacer(
			"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "DATETIME",
		)
	}

	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, repl.Replace(stmt))
	}
	return out
}
