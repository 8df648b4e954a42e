package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/drluca/shopcommerce/config"
	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DB wraps the connection pool and acts as the store for every domain
// package. It also owns the commit boundary: events staged during a
// transaction are handed to the publisher only after a successful
// commit.
type DB struct {
	SQL *sqlx.DB

	publisher   events.Publisher
	lockTimeout time.Duration
}

// New creates a new database connection pool. The publisher may be nil
// when the process has no event pipeline attached (e.g. one-off tools).
func New(cfg config.Config, publisher events.Publisher) (*DB, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	log.Info().Msg("Connecting to database...")
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	log.Info().Msg("Database connection successful.")
	return &DB{SQL: db, publisher: publisher, lockTimeout: cfg.DBLockTimeout}, nil
}

// Close gracefully closes the database connection.
func (db *DB) Close() {
	log.Info().Msg("Closing database connection.")
	db.SQL.Close()
}

type txKey struct{}

// q returns the transaction carried by ctx, or the pool when the caller
// runs outside a transaction.
func (db *DB) q(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db.SQL
}

// RunInTx executes fn inside a single transaction. A nested call joins
// the transaction already carried by ctx. On commit, every event staged
// via events.Stage during fn is handed to the publisher; on rollback,
// staged events are discarded with the transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.SQL.BeginTxx(ctx, nil)
	if err != nil {
		return translate("begin transaction", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	txCtx, buf := events.WithBuffer(txCtx)

	if db.lockTimeout > 0 {
		// Bounds every lock wait in this transaction; a timeout maps to
		// a transient error the caller may retry with backoff.
		if _, err := tx.ExecContext(txCtx,
			fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback()
			return translate("set lock timeout", err)
		}
	}

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate("commit transaction", err)
	}

	db.flush(ctx, buf)
	return nil
}

// flush hands committed events to the publisher. The producing request
// has already succeeded at this point, so publish failures are logged
// rather than surfaced; there is no redelivery on this path.
func (db *DB) flush(ctx context.Context, buf *events.Buffer) {
	staged := buf.Drain()
	if len(staged) == 0 {
		return
	}
	if db.publisher == nil {
		log.Warn().Int("count", len(staged)).Msg("No event publisher configured; dropping committed events")
		return
	}
	for _, evt := range staged {
		if err := db.publisher.Publish(ctx, evt); err != nil {
			log.Error().Err(err).Str("type", string(evt.Type())).Str("key", evt.Key()).
				Msg("Failed to publish committed event")
		}
	}
}

// translate reclassifies driver-level failures into the caller-visible
// taxonomy so raw storage errors never leak across the boundary.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.KindConflict, op+" hit a uniqueness conflict", err)
		case "55P03": // lock_not_available
			return apperr.Wrap(apperr.KindTransient, op+" timed out waiting for a row lock", err)
		case "57014": // query_canceled (statement/lock timeout)
			return apperr.Wrap(apperr.KindTransient, op+" was cancelled by the server", err)
		case "40001": // serialization_failure
			return apperr.Wrap(apperr.KindTransient, op+" failed to serialize", err)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
