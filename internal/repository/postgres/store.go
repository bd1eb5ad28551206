package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
)

// Store implements repository.Backend on top of a pgx pool.
type Store struct {
	pool database.TxBeginner
}

var _ repository.Backend = (*Store)(nil)

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool database.TxBeginner) *Store {
	return &Store{pool: pool}
}

func (s *Store) Stocks() repository.StockRepository { return NewStockRepository(s.pool) }
func (s *Store) Ledger() repository.LedgerRepository { return NewLedgerRepository(s.pool) }
func (s *Store) Orders() repository.OrderRepository  { return NewOrderRepository(s.pool) }

// WithinTx runs fn inside a READ COMMITTED transaction. Isolation between
// writers comes from the row locks taken by the GetForUpdate calls and the
// conditional stock update.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t txStore) Stocks() repository.StockRepository { return NewStockRepository(t.tx) }
func (t txStore) Ledger() repository.LedgerRepository { return NewLedgerRepository(t.tx) }
func (t txStore) Orders() repository.OrderRepository  { return NewOrderRepository(t.tx) }
