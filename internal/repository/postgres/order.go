package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

const uniqueViolation = "23505"

const orderColumns = `tenant_id, id, status, lines, cancel_reason, notes, created_at, updated_at, confirmed_at, closed_at`

const (
	insertOrderQuery = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	selectOrderQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE tenant_id = $1 AND id = $2`

	lockOrderQuery = selectOrderQuery + `
		FOR UPDATE`

	updateOrderQuery = `
		UPDATE orders
		SET status = $3, lines = $4, cancel_reason = $5, notes = $6,
		    updated_at = $7, confirmed_at = $8, closed_at = $9
		WHERE tenant_id = $1 AND id = $2`

	selectReservationsQuery = `
		SELECT id, order_id, product_id, held_quantity, expires_at, state, created_at, closed_at
		FROM reservations
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at ASC, id ASC`

	upsertReservationQuery = `
		INSERT INTO reservations (id, tenant_id, order_id, product_id, held_quantity, expires_at, state, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			closed_at = EXCLUDED.closed_at`

	listExpiredQuery = `
		SELECT DISTINCT o.tenant_id, o.id
		FROM orders o
		JOIN reservations r ON r.tenant_id = o.tenant_id AND r.order_id = o.id
		WHERE o.status = 'CONFIRMED'
		  AND r.state = 'ACTIVE'
		  AND r.expires_at <= $1
		  AND (o.tenant_id, o.id) > ($2, $3)
		ORDER BY o.tenant_id, o.id
		LIMIT $4`
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
// Reservations live in their own table keyed by id.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates an order repository on a pool or transaction.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and any reservations it already carries.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateOrder", insertOrderQuery)
	defer func() { end(err) }()

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}

	_, err = r.db.Exec(ctx, insertOrderQuery,
		order.TenantID,
		order.ID,
		order.Status,
		lines,
		order.CancelReason,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
		order.ConfirmedAt,
		order.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.AlreadyExists("order", "id", order.ID)
		}
		return fmt.Errorf("create order: %w", err)
	}

	return r.saveReservations(ctx, order)
}

// Get retrieves an order and its reservations.
func (r *OrderRepository) Get(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return r.load(ctx, "GetOrder", selectOrderQuery, tenantID, orderID)
}

// GetForUpdate retrieves an order with SELECT ... FOR UPDATE on its header row.
func (r *OrderRepository) GetForUpdate(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	return r.load(ctx, "LockOrder", lockOrderQuery, tenantID, orderID)
}

func (r *OrderRepository) load(ctx context.Context, op, query, tenantID, orderID string) (_ *domain.Order, err error) {
	traceCtx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var (
		o     domain.Order
		lines []byte
	)
	err = r.db.QueryRow(traceCtx, query, tenantID, orderID).Scan(
		&o.TenantID,
		&o.ID,
		&o.Status,
		&lines,
		&o.CancelReason,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ConfirmedAt,
		&o.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", tenantID+"/"+orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if len(lines) > 0 {
		if err = json.Unmarshal(lines, &o.Lines); err != nil {
			return nil, fmt.Errorf("unmarshal order lines: %w", err)
		}
	}

	o.Reservations, err = r.reservations(traceCtx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) reservations(ctx context.Context, tenantID, orderID string) ([]domain.Reservation, error) {
	rows, err := r.db.Query(ctx, selectReservationsQuery, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(
			&res.ID,
			&res.OrderID,
			&res.ProductID,
			&res.HeldQuantity,
			&res.ExpiresAt,
			&res.State,
			&res.CreatedAt,
			&res.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		out = append(out, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}
	return out, nil
}

// Update writes the order header and upserts every reservation.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateOrder", updateOrderQuery)
	defer func() { end(err) }()

	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}

	ct, err := r.db.Exec(ctx, updateOrderQuery,
		order.TenantID,
		order.ID,
		order.Status,
		lines,
		order.CancelReason,
		order.Notes,
		order.UpdatedAt,
		order.ConfirmedAt,
		order.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", order.TenantID+"/"+order.ID)
	}

	return r.saveReservations(ctx, order)
}

func (r *OrderRepository) saveReservations(ctx context.Context, order *domain.Order) error {
	for _, res := range order.Reservations {
		_, err := r.db.Exec(ctx, upsertReservationQuery,
			res.ID,
			order.TenantID,
			order.ID,
			res.ProductID,
			res.HeldQuantity,
			res.ExpiresAt,
			res.State,
			res.CreatedAt,
			res.ClosedAt,
		)
		if err != nil {
			return fmt.Errorf("save reservation %s: %w", res.ID, err)
		}
	}
	return nil
}

// ListExpired returns one page of orders due for expiry, keyset-paginated
// on (tenant_id, id).
func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time, after repository.ExpiredOrderRef, limit int) (_ []repository.ExpiredOrderRef, err error) {
	ctx, end := database.TraceQuery(ctx, "ListExpiredOrders", listExpiredQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listExpiredQuery, now, after.TenantID, after.OrderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	defer rows.Close()

	var refs []repository.ExpiredOrderRef
	for rows.Next() {
		var ref repository.ExpiredOrderRef
		if err = rows.Scan(&ref.TenantID, &ref.OrderID); err != nil {
			return nil, fmt.Errorf("scan expired order row: %w", err)
		}
		refs = append(refs, ref)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired order rows: %w", err)
	}
	return refs, nil
}
