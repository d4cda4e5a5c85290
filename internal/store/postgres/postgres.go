// Package postgres implements store.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homeserve/marketplace/internal/store"
)

const uniqueViolation = "23505"

// Store opens read-committed transactions on pool. Row locks and version columns provide isolation.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Postgres store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgtx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type tx struct {
	q pgx.Tx
}

func (t *tx) Services() store.ServiceRepository         { return serviceRepo{t.q} }
func (t *tx) Orders() store.OrderRepository             { return orderRepo{t.q} }
func (t *tx) Coupons() store.CouponRepository           { return couponRepo{t.q} }
func (t *tx) Invoices() store.InvoiceRepository         { return invoiceRepo{t.q} }
func (t *tx) Transactions() store.TransactionRepository { return txnRepo{t.q} }

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
