package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// ---------------------------------------------------------------------------
// StockRepository
// ---------------------------------------------------------------------------

type stockRepo struct{ v *view }

func stockNotFound(tenantID, productID string) error {
	return apperrors.NotFound("stock record", tenantID+"/"+productID)
}

func (r *stockRepo) Get(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	var out *domain.StockRecord
	err := r.v.run(func(t *txState) error {
		rec, ok := t.stock(stockKey{tenantID, productID})
		if !ok {
			return stockNotFound(tenantID, productID)
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

// GetForUpdate is Get: units of work are already serialised.
func (r *stockRepo) GetForUpdate(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	return r.Get(ctx, tenantID, productID)
}

func (r *stockRepo) Track(_ context.Context, tenantID, productID string, scale int32) (*domain.StockRecord, error) {
	var out *domain.StockRecord
	err := r.v.run(func(t *txState) error {
		k := stockKey{tenantID, productID}
		if rec, ok := t.stock(k); ok {
			out = rec.Clone()
			return nil
		}
		rec := domain.NewStockRecord(tenantID, productID, scale, t.now())
		t.stocks[k] = rec
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r *stockRepo) ApplyDelta(_ context.Context, tenantID, productID string, onHandDelta, availableDelta decimal.Decimal) (*domain.StockRecord, error) {
	var out *domain.StockRecord
	err := r.v.run(func(t *txState) error {
		rec, ok := t.stock(stockKey{tenantID, productID})
		if !ok {
			return stockNotFound(tenantID, productID)
		}
		if err := rec.ApplyDelta(onHandDelta, availableDelta, t.now()); err != nil {
			return err
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r *stockRepo) Discontinue(_ context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	var out *domain.StockRecord
	err := r.v.run(func(t *txState) error {
		rec, ok := t.stock(stockKey{tenantID, productID})
		if !ok {
			return stockNotFound(tenantID, productID)
		}
		rec.Status = domain.StockStatusDiscontinued
		rec.UpdatedAt = t.now()
		out = rec.Clone()
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// LedgerRepository
// ---------------------------------------------------------------------------

type ledgerRepo struct{ v *view }

func (r *ledgerRepo) Append(_ context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	out := *entry
	err := r.v.run(func(t *txState) error {
		t.nextID++
		out.ID = t.nextID
		if out.Timestamp.IsZero() {
			out.Timestamp = t.now()
		}
		t.ledger = append(t.ledger, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByProduct snapshots the entries when ranging starts and yields them
// without holding the store lock, so the loop body may call the store.
func (r *ledgerRepo) ListByProduct(ctx context.Context, tenantID, productID string) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		var snapshot []domain.LedgerEntry
		err := r.v.run(func(t *txState) error {
			snapshot = t.entries(stockKey{tenantID, productID})
			return nil
		})
		if err != nil {
			yield(domain.LedgerEntry{}, err)
			return
		}
		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(domain.LedgerEntry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// OrderRepository
// ---------------------------------------------------------------------------

type orderRepo struct{ v *view }

func orderNotFound(tenantID, orderID string) error {
	return apperrors.NotFound("order", tenantID+"/"+orderID)
}

func (r *orderRepo) Create(_ context.Context, order *domain.Order) error {
	return r.v.run(func(t *txState) error {
		k := orderKey{order.TenantID, order.ID}
		if _, ok := t.order(k); ok {
			return apperrors.AlreadyExists("order", "id", order.ID)
		}
		t.orders[k] = order.Clone()
		return nil
	})
}

func (r *orderRepo) Get(_ context.Context, tenantID, orderID string) (*domain.Order, error) {
	var out *domain.Order
	err := r.v.run(func(t *txState) error {
		o, ok := t.order(orderKey{tenantID, orderID})
		if !ok {
			return orderNotFound(tenantID, orderID)
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r *orderRepo) GetForUpdate(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return r.Get(ctx, tenantID, orderID)
}

func (r *orderRepo) Update(_ context.Context, order *domain.Order) error {
	return r.v.run(func(t *txState) error {
		k := orderKey{order.TenantID, order.ID}
		if _, ok := t.order(k); !ok {
			return orderNotFound(order.TenantID, order.ID)
		}
		t.orders[k] = order.Clone()
		return nil
	})
}

func (r *orderRepo) ListExpired(_ context.Context, now time.Time, after repository.ExpiredOrderRef, limit int) ([]repository.ExpiredOrderRef, error) {
	var refs []repository.ExpiredOrderRef
	err := r.v.run(func(t *txState) error {
		seen := make(map[orderKey]bool)
		consider := func(k orderKey, o *domain.Order) {
			if seen[k] {
				return
			}
			seen[k] = true
			if !o.IsOverdue(now) {
				return
			}
			ref := repository.ExpiredOrderRef{TenantID: k.tenantID, OrderID: k.orderID}
			if compareRefs(ref, after) > 0 {
				refs = append(refs, ref)
			}
		}
		for k, o := range t.orders {
			consider(k, o)
		}
		for k, o := range t.base.orders {
			consider(k, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(refs, compareRefs)
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func compareRefs(a, b repository.ExpiredOrderRef) int {
	if c := cmp.Compare(a.TenantID, b.TenantID); c != 0 {
		return c
	}
	return cmp.Compare(a.OrderID, b.OrderID)
}
