package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/openctemio/docflow/internal/config"
)

// DB is the shared connection pool.
type DB struct {
	*sql.DB
}

// connectTimeout bounds the first ping.
const connectTimeout = 5 * time.Second

// New opens the pool and pings the server once.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &DB{DB: db}, nil
}

//go:embed schema.sql
var schema string

// migrateLockID keys the advisory lock that serializes Migrate across
// replicas starting together.
const migrateLockID = 0x646f63666c6f77 // "docflow"

// Migrate applies schema.sql. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrateLockID); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}

// Ping implements the readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Transaction runs fn in a transaction, committing when fn returns nil.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
