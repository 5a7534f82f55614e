package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner runs a function inside a single database transaction. The
// transaction is attached to the context handed to fn, so any repository call
// made through ConnFromContext joins it. fn returning an error rolls the
// whole transaction back; otherwise it is committed.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxRunnerFunc is a function adapter for TxRunner, used by tests that want
// transaction-free pass-through execution.
type TxRunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TxRunnerFunc) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// beginner is anything that can open a pgx transaction. Both *pgxpool.Conn
// (the tenant-scoped connection) and *pgxpool.Pool satisfy it.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolTxRunner begins transactions on the tenant-scoped connection already
// attached to the context when one is present, so the transaction inherits the
// tenant's search_path; otherwise it falls back to the pool.
type PoolTxRunner struct {
	pool *pgxpool.Pool
}

func NewPoolTxRunner(pool *pgxpool.Pool) *PoolTxRunner {
	return &PoolTxRunner{pool: pool}
}

func (r *PoolTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var src beginner = r.pool
	if conn := ConnFromContext(ctx); conn != nil {
		if b, ok := conn.(beginner); ok {
			src = b
		}
	}

	tx, err := src.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBConnKey, Queryable(tx))
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
