package postgres

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
)

const (
	appendLedgerQuery = `
		INSERT INTO ledger_entries
			(tenant_id, product_id, transaction_type, signed_quantity, occurred_at, reference_number, actor, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	listLedgerQuery = `
		SELECT id, tenant_id, product_id, transaction_type, signed_quantity, occurred_at, reference_number, actor, reason, notes
		FROM ledger_entries
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY id ASC`
)

// LedgerRepository implements repository.LedgerRepository using PostgreSQL.
type LedgerRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewLedgerRepository creates a ledger repository on a pool or transaction.
func NewLedgerRepository(db database.DBTX) *LedgerRepository {
	return &LedgerRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Append inserts the entry. The BIGSERIAL id is drawn while the caller holds
// the stock row lock, so ids follow commit order per product.
func (r *LedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) (_ *domain.LedgerEntry, err error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	out := *entry
	if out.Timestamp.IsZero() {
		out.Timestamp = r.now()
	}

	ctx, end := database.TraceQuery(ctx, "AppendLedger", appendLedgerQuery)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, appendLedgerQuery,
		out.TenantID,
		out.ProductID,
		out.Type,
		out.SignedQuantity,
		out.Timestamp,
		out.ReferenceNumber,
		out.Actor,
		out.Reason,
		out.Notes,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return &out, nil
}

// ListByProduct streams entries in id order. Each range runs a new query;
// breaking out of the loop closes the rows. When db is a transaction the
// loop body must not issue queries on it until iteration ends.
func (r *LedgerRepository) ListByProduct(ctx context.Context, tenantID, productID string) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		var err error
		traceCtx, end := database.TraceQuery(ctx, "ListLedger", listLedgerQuery)
		defer func() { end(err) }()

		rows, err := r.db.Query(traceCtx, listLedgerQuery, tenantID, productID)
		if err != nil {
			err = fmt.Errorf("list ledger entries: %w", err)
			yield(domain.LedgerEntry{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var e domain.LedgerEntry
			if err = rows.Scan(
				&e.ID,
				&e.TenantID,
				&e.ProductID,
				&e.Type,
				&e.SignedQuantity,
				&e.Timestamp,
				&e.ReferenceNumber,
				&e.Actor,
				&e.Reason,
				&e.Notes,
			); err != nil {
				err = fmt.Errorf("scan ledger entry: %w", err)
				yield(domain.LedgerEntry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}

		if err = rows.Err(); err != nil {
			err = fmt.Errorf("iterate ledger entries: %w", err)
			yield(domain.LedgerEntry{}, err)
		}
	}
}
