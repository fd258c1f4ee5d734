// Package repository persists protocol aggregates in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// writerLockKey is the advisory lock that orders every mutating call across
// all processes sharing the database.
const writerLockKey int64 = 0x67756172646e // "guardn"

var _ protocol.Store = (*Store)(nil)

// Store implements protocol.Store. Writers queue on a transaction-scoped
// advisory lock and run at READ COMMITTED, so every statement after the lock
// sees all earlier commits and fn runs exactly once.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	logger     *zap.Logger
}

// NewStore creates a store. maxRetries bounds how often opening a
// transaction is retried; fn itself is never replayed.
func NewStore(pool *pgxpool.Pool, maxRetries int, logger *zap.Logger) *Store {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, maxRetries: maxRetries, logger: logger.Named("pgstore")}
}

// WithinTx runs fn once under the writer lock
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx protocol.Tx) error) error {
	pgTx, err := s.begin(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, true)
	if err != nil {
		return err
	}
	return s.run(ctx, pgTx, fn)
}

// View runs fn in a read-only repeatable-read snapshot
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx protocol.Tx) error) error {
	pgTx, err := s.begin(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false)
	if err != nil {
		return err
	}
	return s.run(ctx, pgTx, fn)
}

// begin opens a transaction and, for writers, waits for the writer lock.
// Only this step is retried: nothing has been handed to fn yet.
func (s *Store) begin(ctx context.Context, opts pgx.TxOptions, lock bool) (pgx.Tx, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pgTx, err := s.tryBegin(ctx, opts, lock)
		if err == nil {
			return pgTx, nil
		}
		if !isRetryable(err) || attempt >= s.maxRetries {
			return nil, err
		}
		s.logger.Warn("retrying transaction start",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
}

func (s *Store) tryBegin(ctx context.Context, opts pgx.TxOptions, lock bool) (pgx.Tx, error) {
	pgTx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if lock {
		if _, err := pgTx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", writerLockKey); err != nil {
			s.rollback(ctx, pgTx)
			return nil, fmt.Errorf("acquire writer lock: %w", err)
		}
	}
	return pgTx, nil
}

func (s *Store) run(ctx context.Context, pgTx pgx.Tx, fn func(ctx context.Context, tx protocol.Tx) error) error {
	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		s.rollback(ctx, pgTx)
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, pgTx pgx.Tx) {
	// a cancelled ctx must not leave the connection inside a transaction
	if err := pgTx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Error("rollback failed", zap.Error(err))
	}
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isRetryable reports transient failures that happened before any
// statement could have changed data
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, too_many_connections
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "53300"
	}
	return pgconn.SafeToRetry(err)
}
