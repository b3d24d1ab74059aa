package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// SQLSTATE codes the pool reports when a transaction loses to a concurrent
// writer: serialization failure, deadlock detected, lock not available.
var contentionCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"55P03": {},
}

// WithTx executes fn within a RepeatableRead transaction. Every ledger
// mutation runs through here so reads, writes and the audit row commit as
// one unit.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", classify(err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", classify(err))
	}

	return nil
}

// classify maps driver failures onto the shared retryable sentinels so
// callers never inspect SQLSTATE themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := contentionCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %s", shared.ErrContention, pgErr.Code)
		}
	}
	return err
}

// RetryConfig bounds the retry loop for contended transactions.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry matches the façade's bounded-backoff policy.
var DefaultRetry = RetryConfig{Attempts: 3, Backoff: 25 * time.Millisecond}

// WithRetry runs fn, retrying with linear backoff while the failure is
// classified as retryable. Validation failures surface immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetry.Attempts
	}
	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * cfg.Backoff):
			}
		}
		err = fn(ctx)
		if err == nil || !shared.Retryable(err) {
			return err
		}
	}
	return err
}
