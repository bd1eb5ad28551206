package repository

import (
	"context"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/domain"
)

// StockRepository defines the interface for stock record persistence.
type StockRepository interface {
	// Get retrieves a stock record without locking it.
	Get(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error)

	// GetForUpdate retrieves a stock record and holds its per-key lock until
	// the surrounding unit of work ends.
	GetForUpdate(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error)

	// Track creates a zero-quantity record. It is a no-op returning the
	// existing record when the product is already tracked.
	Track(ctx context.Context, tenantID, productID string, scale int32) (*domain.StockRecord, error)

	// ApplyDelta adds both deltas as one compare-and-apply step and returns
	// the new snapshot. It fails with domain.ErrInvalidQuantity when the
	// result would break 0 <= available <= onHand.
	ApplyDelta(ctx context.Context, tenantID, productID string, onHandDelta, availableDelta decimal.Decimal) (*domain.StockRecord, error)

	// Discontinue marks the record DISCONTINUED.
	Discontinue(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error)
}

// LedgerRepository defines the append-only transaction ledger.
type LedgerRepository interface {
	// Append assigns an id and timestamp and stores the entry.
	Append(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error)

	// ListByProduct returns the product's entries in commit order. Each range
	// over the sequence re-runs the scan.
	ListByProduct(ctx context.Context, tenantID, productID string) iter.Seq2[domain.LedgerEntry, error]
}

// ExpiredOrderRef identifies an order holding at least one expired reservation.
type ExpiredOrderRef struct {
	TenantID string
	OrderID  string
}

// OrderRepository persists the order aggregate together with its reservations.
type OrderRepository interface {
	// Create inserts a new order. It fails with apperrors.ErrAlreadyExists on
	// a duplicate (tenant, id).
	Create(ctx context.Context, order *domain.Order) error

	// Get retrieves an order and its reservations.
	Get(ctx context.Context, tenantID, orderID string) (*domain.Order, error)

	// GetForUpdate retrieves an order and locks it for the unit of work.
	GetForUpdate(ctx context.Context, tenantID, orderID string) (*domain.Order, error)

	// Update writes the order header and upserts its reservations.
	Update(ctx context.Context, order *domain.Order) error

	// ListExpired returns CONFIRMED orders holding an ACTIVE reservation with
	// expires_at <= now, ordered by (tenant, id) and starting strictly after
	// the given cursor.
	ListExpired(ctx context.Context, now time.Time, after ExpiredOrderRef, limit int) ([]ExpiredOrderRef, error)
}

// Store groups the repositories that share one unit of work.
type Store interface {
	Stocks() StockRepository
	Ledger() LedgerRepository
	Orders() OrderRepository
}

// Transactor runs fn inside one atomic unit of work. Every write made
// through the Store handed to fn commits together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Backend is a Store that can also open units of work.
type Backend interface {
	Store
	Transactor
}
