// Package memory is an in-process implementation of the repository
// interfaces. Units of work are serialised behind one mutex and their writes
// are staged until commit, so a failed unit of work leaves no trace.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
)

type stockKey struct{ tenantID, productID string }

type orderKey struct{ tenantID, orderID string }

type state struct {
	stocks map[stockKey]*domain.StockRecord
	ledger map[stockKey][]domain.LedgerEntry
	orders map[orderKey]*domain.Order
	nextID int64
}

// Store is a mutex-guarded in-memory backend.
type Store struct {
	txMu sync.Mutex
	data *state
	now  func() time.Time
}

var _ repository.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		data: &state{
			stocks: make(map[stockKey]*domain.StockRecord),
			ledger: make(map[stockKey][]domain.LedgerEntry),
			orders: make(map[orderKey]*domain.Order),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stocks returns a repository whose calls each run in their own unit of work.
func (s *Store) Stocks() repository.StockRepository { return &stockRepo{v: &view{s: s}} }

// Ledger returns a repository whose calls each run in their own unit of work.
func (s *Store) Ledger() repository.LedgerRepository { return &ledgerRepo{v: &view{s: s}} }

// Orders returns a repository whose calls each run in their own unit of work.
func (s *Store) Orders() repository.OrderRepository { return &orderRepo{v: &view{s: s}} }

// WithinTx runs fn with a store whose writes become visible only if fn
// returns nil. Units of work do not overlap. fn must use the store it is
// given; calling the outer Store's repositories from fn deadlocks.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := s.begin()
	if err := fn(ctx, &view{s: s, tx: t}); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) begin() *txState {
	return &txState{
		base:   s.data,
		stocks: make(map[stockKey]*domain.StockRecord),
		orders: make(map[orderKey]*domain.Order),
		nextID: s.data.nextID,
		now:    s.now,
	}
}

func (s *Store) commit(t *txState) {
	for k, r := range t.stocks {
		s.data.stocks[k] = r
	}
	for k, o := range t.orders {
		s.data.orders[k] = o
	}
	for _, e := range t.ledger {
		k := stockKey{e.TenantID, e.ProductID}
		s.data.ledger[k] = append(s.data.ledger[k], e)
	}
	s.data.nextID = t.nextID
}

// txState stages every record a unit of work touches. Records are cloned
// on first access so the committed state is never mutated in place.
type txState struct {
	base   *state
	stocks map[stockKey]*domain.StockRecord
	orders map[orderKey]*domain.Order
	ledger []domain.LedgerEntry
	nextID int64
	now    func() time.Time
}

func (t *txState) stock(k stockKey) (*domain.StockRecord, bool) {
	if r, ok := t.stocks[k]; ok {
		return r, true
	}
	r, ok := t.base.stocks[k]
	if !ok {
		return nil, false
	}
	c := r.Clone()
	t.stocks[k] = c
	return c, true
}

func (t *txState) order(k orderKey) (*domain.Order, bool) {
	if o, ok := t.orders[k]; ok {
		return o, true
	}
	o, ok := t.base.orders[k]
	if !ok {
		return nil, false
	}
	c := o.Clone()
	t.orders[k] = c
	return c, true
}

func (t *txState) entries(k stockKey) []domain.LedgerEntry {
	committed := t.base.ledger[k]
	out := make([]domain.LedgerEntry, len(committed), len(committed)+len(t.ledger))
	copy(out, committed)
	for _, e := range t.ledger {
		if e.TenantID == k.tenantID && e.ProductID == k.productID {
			out = append(out, e)
		}
	}
	return out
}

// view binds the repositories to either a running unit of work or, when tx
// is nil, to a fresh unit of work per call.
type view struct {
	s  *Store
	tx *txState
}

func (v *view) Stocks() repository.StockRepository { return &stockRepo{v: v} }
func (v *view) Ledger() repository.LedgerRepository { return &ledgerRepo{v: v} }
func (v *view) Orders() repository.OrderRepository  { return &orderRepo{v: v} }

func (v *view) run(fn func(t *txState) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}

	v.s.txMu.Lock()
	defer v.s.txMu.Unlock()

	t := v.s.begin()
	if err := fn(t); err != nil {
		return err
	}
	v.s.commit(t)
	return nil
}
