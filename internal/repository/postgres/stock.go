package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

const stockColumns = `tenant_id, product_id, on_hand_quantity, available_quantity, status, scale, created_at, updated_at`

const (
	selectStockQuery = `
		SELECT ` + stockColumns + `
		FROM stock_records
		WHERE tenant_id = $1 AND product_id = $2`

	lockStockQuery = selectStockQuery + `
		FOR UPDATE`

	trackStockQuery = `
		INSERT INTO stock_records (tenant_id, product_id, on_hand_quantity, available_quantity, status, scale, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 'OUT_OF_STOCK', $3, NOW(), NOW())
		ON CONFLICT (tenant_id, product_id) DO NOTHING`

	// The WHERE clause is the compare half of compare-and-apply: a row that
	// would break 0 <= available <= on_hand is simply not updated.
	applyDeltaQuery = `
		UPDATE stock_records
		SET on_hand_quantity   = on_hand_quantity + $3,
		    available_quantity = available_quantity + $4,
		    status = CASE
		        WHEN status = 'DISCONTINUED' THEN status
		        WHEN available_quantity + $4 > 0 THEN 'AVAILABLE'
		        WHEN on_hand_quantity + $3 > 0 THEN 'RESERVED'
		        ELSE 'OUT_OF_STOCK'
		    END,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND product_id = $2
		  AND available_quantity + $4 >= 0
		  AND available_quantity + $4 <= on_hand_quantity + $3
		RETURNING ` + stockColumns

	discontinueQuery = `
		UPDATE stock_records
		SET status = 'DISCONTINUED', updated_at = NOW()
		WHERE tenant_id = $1 AND product_id = $2
		RETURNING ` + stockColumns
)

// StockRepository implements repository.StockRepository using PostgreSQL.
type StockRepository struct {
	db database.DBTX
}

// NewStockRepository creates a stock repository on a pool or transaction.
func NewStockRepository(db database.DBTX) *StockRepository {
	return &StockRepository{db: db}
}

func scanStock(row pgx.Row) (*domain.StockRecord, error) {
	var s domain.StockRecord
	err := row.Scan(
		&s.TenantID,
		&s.ProductID,
		&s.OnHandQuantity,
		&s.AvailableQuantity,
		&s.Status,
		&s.Scale,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StockRepository) get(ctx context.Context, op, query, tenantID, productID string) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rec, err = scanStock(r.db.QueryRow(ctx, query, tenantID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock record", tenantID+"/"+productID)
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return rec, nil
}

// Get retrieves a stock record.
func (r *StockRepository) Get(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	return r.get(ctx, "GetStock", selectStockQuery, tenantID, productID)
}

// GetForUpdate retrieves a stock record with SELECT ... FOR UPDATE.
func (r *StockRepository) GetForUpdate(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	return r.get(ctx, "LockStock", lockStockQuery, tenantID, productID)
}

// Track inserts a zero-quantity record if none exists and returns the current row.
func (r *StockRepository) Track(ctx context.Context, tenantID, productID string, scale int32) (_ *domain.StockRecord, err error) {
	traceCtx, end := database.TraceQuery(ctx, "TrackStock", trackStockQuery)
	_, err = r.db.Exec(traceCtx, trackStockQuery, tenantID, productID, scale)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("track stock record: %w", err)
	}
	return r.Get(ctx, tenantID, productID)
}

// ApplyDelta adds both deltas in one conditional UPDATE. When no row comes
// back the record is re-read to tell a missing product from a rejected delta.
func (r *StockRepository) ApplyDelta(ctx context.Context, tenantID, productID string, onHandDelta, availableDelta decimal.Decimal) (_ *domain.StockRecord, err error) {
	traceCtx, end := database.TraceQuery(ctx, "ApplyStockDelta", applyDeltaQuery)
	rec, err := scanStock(r.db.QueryRow(traceCtx, applyDeltaQuery, tenantID, productID, onHandDelta, availableDelta))
	end(err)

	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("apply stock delta: %w", err)
	}

	current, getErr := r.Get(ctx, tenantID, productID)
	if getErr != nil {
		return nil, getErr
	}
	onHand := current.OnHandQuantity.Add(onHandDelta)
	available := current.AvailableQuantity.Add(availableDelta)
	if checkErr := domain.CheckQuantities(productID, onHand, available); checkErr != nil {
		return nil, checkErr
	}
	return nil, domain.InvalidQuantity("product %s: delta (%s, %s) rejected", productID, onHandDelta, availableDelta)
}

// Discontinue marks the record DISCONTINUED.
func (r *StockRepository) Discontinue(ctx context.Context, tenantID, productID string) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "DiscontinueStock", discontinueQuery)
	defer func() { end(err) }()

	rec, err = scanStock(r.db.QueryRow(ctx, discontinueQuery, tenantID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock record", tenantID+"/"+productID)
		}
		return nil, fmt.Errorf("discontinue stock record: %w", err)
	}
	return rec, nil
}
