package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/25x8/smm-reseller/internal/reseller/apperr"
)

const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite"
)

// SQLRepository is the persistent store backed by PostgreSQL or SQLite
type SQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the database named by uri and makes sure the schema exists.
// URIs starting with "sqlite:", "file:" or ":memory:" select the embedded
// SQLite driver; anything else is handed to pgx.
func Open(ctx context.Context, uri string) (*SQLRepository, error) {
	driver, dsn := resolveDriver(uri)

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == driverSQLite {
		// SQLite serialises writers; a single connection also keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	r := &SQLRepository{db: db, now: time.Now}
	if err := r.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return r, nil
}

func resolveDriver(uri string) (string, string) {
	switch {
	case strings.HasPrefix(uri, "sqlite:"):
		return driverSQLite, strings.TrimPrefix(uri, "sqlite:")
	case strings.HasPrefix(uri, "file:"), uri == ":memory:":
		return driverSQLite, uri
	default:
		return driverPostgres, uri
	}
}

// Close closes the database connection
func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements(r.db.DriverName()) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return err
}
