// Package store is the PostgreSQL-backed persistence layer for blockchains,
// headers, blocks, kernels, outputs, inputs and reorgs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mwexplorer/chainstate/internal/db"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("resource not found")

// Store exposes transactional and read-only operations over the chain-state schema.
type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, letting read helpers run
// either standalone or inside an in-flight transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a single database transaction, committing on success and
// rolling back on any error or panic. This is the only strictly-required
// transactional unit: one call wraps one block write, and the reorg applier's
// three phases when triggered synchronously from that same write.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
