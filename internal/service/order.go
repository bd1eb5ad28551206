package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// OrderService drives the order lifecycle and the stock holds it owns.
type OrderService struct {
	backend   repository.Backend
	publisher Publisher
	logger    *slog.Logger
	opts      options
}

// NewOrderService creates a new reservation state machine. A nil publisher
// disables events.
func NewOrderService(backend repository.Backend, publisher Publisher, logger *slog.Logger, opts ...Option) *OrderService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &OrderService{
		backend:   backend,
		publisher: publisher,
		logger:    logger,
		opts:      newOptions(opts),
	}
}

// DraftOrder creates a DRAFTED order. An empty orderID gets a generated one.
// Lines may be empty and supplied later at confirmation.
func (s *OrderService) DraftOrder(ctx context.Context, tenantID, orderID string, lines []domain.OrderLine) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.DraftOrder", attribute.String("tenant_id", tenantID))
	defer func() { end(err) }()

	if err = requireKeys("tenant_id", tenantID); err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		if err = domain.ValidateLines(lines); err != nil {
			return nil, err
		}
	}
	if orderID == "" {
		orderID = uuid.New().String()
	}

	order := domain.NewOrder(tenantID, orderID, lines, s.opts.now())
	if err = s.backend.Orders().Create(ctx, order); err != nil {
		return nil, fmt.Errorf("draft order: %w", err)
	}

	s.logger.InfoContext(ctx, "order drafted",
		slog.String("tenant_id", tenantID),
		slog.String("order_id", orderID),
		slog.Int("lines", len(lines)),
	)
	return order, nil
}

// ConfirmOrder reserves every line of an order and moves it to CONFIRMED.
// An unknown order is drafted on the fly. Either every line is reserved or,
// on any shortage, nothing changes and the error lists each short product.
func (s *OrderService) ConfirmOrder(ctx context.Context, cmd domain.ConfirmOrderCommand) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.ConfirmOrder",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("order_id", cmd.OrderID),
	)
	defer func() {
		reservationsTotal.WithLabelValues(outcome(err)).Inc()
		end(err)
	}()

	if err = validateCommand(cmd); err != nil {
		return nil, err
	}

	var (
		order   *domain.Order
		touched []*domain.StockRecord
	)
	now := s.opts.now()
	actor := actorOf(ctx, cmd.Actor)

	err = s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		o, created, err := s.loadOrDraft(ctx, store, cmd, now)
		if err != nil {
			return err
		}
		if !o.CanTransitionTo(domain.OrderStatusConfirmed) {
			return domain.InvalidStateTransition(o.ID, o.Status, domain.OrderStatusConfirmed)
		}

		lines := cmd.Lines
		if len(lines) == 0 {
			lines = o.Lines
		}
		if err := domain.ValidateLines(lines); err != nil {
			return err
		}
		merged := domain.MergeLines(lines)

		if err := s.checkAvailability(ctx, store, o.ID, cmd.TenantID, merged); err != nil {
			return err
		}

		expiresAt := now.Add(s.opts.timeouts.For(cmd.TenantID))
		for _, l := range merged {
			rec, err := store.Stocks().ApplyDelta(ctx, cmd.TenantID, l.ProductID, decimal.Zero, l.Quantity.Neg())
			if err != nil {
				return err
			}
			touched = append(touched, rec)

			if _, err := store.Ledger().Append(ctx, &domain.LedgerEntry{
				TenantID:        cmd.TenantID,
				ProductID:       l.ProductID,
				Type:            domain.TransactionReservation,
				SignedQuantity:  l.Quantity.Neg(),
				ReferenceNumber: o.ID,
				Actor:           actor,
			}); err != nil {
				return err
			}

			o.Reservations = append(o.Reservations, domain.Reservation{
				ID:           uuid.New().String(),
				OrderID:      o.ID,
				ProductID:    l.ProductID,
				HeldQuantity: l.Quantity,
				ExpiresAt:    expiresAt,
				State:        domain.ReservationActive,
				CreatedAt:    now,
			})
		}

		o.Lines = slices.Clone(lines)
		if err := o.TransitionTo(domain.OrderStatusConfirmed, now); err != nil {
			return err
		}

		if created {
			err = store.Orders().Create(ctx, o)
		} else {
			err = store.Orders().Update(ctx, o)
		}
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm order: %w", err)
	}
	countEntries(domain.TransactionReservation, len(touched))

	s.logger.InfoContext(ctx, "order confirmed",
		slog.String("tenant_id", order.TenantID),
		slog.String("order_id", order.ID),
		slog.Int("reservations", len(order.Reservations)),
		slog.Time("expires_at", order.Reservations[0].ExpiresAt),
	)

	logPublishFailure(ctx, s.logger, "inventory.reserved",
		s.publisher.PublishReserved(ctx, order),
		slog.String("order_id", order.ID))
	for _, rec := range touched {
		if !rec.AvailableQuantity.GreaterThan(s.opts.lowStock) {
			logPublishFailure(ctx, s.logger, "inventory.low_stock",
				s.publisher.PublishLowStock(ctx, rec),
				slog.String("product_id", rec.ProductID))
		}
	}

	return order, nil
}

func (s *OrderService) loadOrDraft(ctx context.Context, store repository.Store, cmd domain.ConfirmOrderCommand, now time.Time) (*domain.Order, bool, error) {
	o, err := store.Orders().GetForUpdate(ctx, cmd.TenantID, cmd.OrderID)
	if err == nil {
		return o, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}
	return domain.NewOrder(cmd.TenantID, cmd.OrderID, cmd.Lines, now), true, nil
}

// checkAvailability locks every requested stock row in product order and
// collects all shortages. A missing or discontinued product counts as
// having nothing available.
func (s *OrderService) checkAvailability(ctx context.Context, store repository.Store, orderID, tenantID string, lines []domain.OrderLine) error {
	var short []domain.ShortLine
	for _, l := range lines {
		available := decimal.Zero

		rec, err := store.Stocks().GetForUpdate(ctx, tenantID, l.ProductID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
		case err != nil:
			return err
		default:
			if !rec.FitsScale(l.Quantity) {
				return domain.InvalidQuantity("product %s: quantity %s exceeds scale %d", l.ProductID, l.Quantity, rec.Scale)
			}
			if !rec.IsDiscontinued() {
				available = rec.AvailableQuantity
			}
		}

		if l.Quantity.GreaterThan(available) {
			short = append(short, domain.ShortLine{
				ProductID: l.ProductID,
				Requested: l.Quantity.String(),
				Available: available.String(),
			})
		}
	}
	if len(short) > 0 {
		return &domain.InsufficientStockError{OrderID: orderID, Lines: short}
	}
	return nil
}

// CancelOrder cancels a DRAFTED or CONFIRMED order. A confirmed order gives
// back every held unit. An order found past its reservation deadline is
// expired instead and the cancel is rejected.
func (s *OrderService) CancelOrder(ctx context.Context, cmd domain.CancelOrderCommand) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.CancelOrder",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("order_id", cmd.OrderID),
	)
	defer func() { end(err) }()

	if err = validateCommand(cmd); err != nil {
		return nil, err
	}

	var (
		order    *domain.Order
		released []domain.Reservation
		expired  bool
	)
	now := s.opts.now()
	actor := actorOf(ctx, cmd.Actor)

	err = s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		o, err := store.Orders().GetForUpdate(ctx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}
		order = o

		if o.IsOverdue(now) {
			expired = true
			released, err = s.expire(ctx, store, o, now)
			return err
		}
		if !o.CanTransitionTo(domain.OrderStatusCancelled) {
			return domain.InvalidStateTransition(o.ID, o.Status, domain.OrderStatusCancelled)
		}

		released, err = s.release(ctx, store, o, now, actor, cmd.Reason)
		if err != nil {
			return err
		}
		o.CancelReason = cmd.Reason
		o.Notes = cmd.Notes
		if err := o.TransitionTo(domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		return store.Orders().Update(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	if expired {
		s.afterExpire(ctx, order, released)
		return nil, domain.InvalidStateTransition(order.ID, order.Status, domain.OrderStatusCancelled)
	}

	countEntries(domain.TransactionRelease, len(released))
	releasesTotal.WithLabelValues("cancelled").Add(float64(len(released)))

	s.logger.InfoContext(ctx, "order cancelled",
		slog.String("tenant_id", order.TenantID),
		slog.String("order_id", order.ID),
		slog.String("reason", cmd.Reason),
		slog.Int("released", len(released)),
	)

	if len(released) > 0 {
		logPublishFailure(ctx, s.logger, "inventory.released",
			s.publisher.PublishReleased(ctx, order, released),
			slog.String("order_id", order.ID))
	}
	return order, nil
}

// CompleteOrder records pickup or shipment of a CONFIRMED order and turns
// every hold into a sale. An overdue order is expired instead and the
// completion is rejected.
func (s *OrderService) CompleteOrder(ctx context.Context, cmd domain.CompleteOrderCommand) (_ *domain.Order, err error) {
	ctx, end := startSpan(ctx, "OrderService.CompleteOrder",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("order_id", cmd.OrderID),
		attribute.String("fulfillment", string(cmd.Fulfillment)),
	)
	defer func() { end(err) }()

	if err = validateCommand(cmd); err != nil {
		return nil, err
	}
	target, ok := cmd.Fulfillment.TargetStatus()
	if !ok {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown fulfillment %q", cmd.Fulfillment))
	}

	var (
		order    *domain.Order
		affected []domain.Reservation
		expired  bool
	)
	now := s.opts.now()
	actor := actorOf(ctx, cmd.Actor)

	err = s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		o, err := store.Orders().GetForUpdate(ctx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}
		order = o

		if o.IsOverdue(now) {
			expired = true
			affected, err = s.expire(ctx, store, o, now)
			return err
		}
		if !o.CanTransitionTo(target) {
			return domain.InvalidStateTransition(o.ID, o.Status, target)
		}

		affected, err = s.consume(ctx, store, o, now, actor)
		if err != nil {
			return err
		}
		if err := o.TransitionTo(target, now); err != nil {
			return err
		}
		return store.Orders().Update(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}

	if expired {
		s.afterExpire(ctx, order, affected)
		return nil, domain.InvalidStateTransition(order.ID, order.Status, target)
	}

	countEntries(domain.TransactionSale, len(affected))
	consumptionsTotal.WithLabelValues(string(cmd.Fulfillment)).Add(float64(len(affected)))

	s.logger.InfoContext(ctx, "order completed",
		slog.String("tenant_id", order.TenantID),
		slog.String("order_id", order.ID),
		slog.String("status", string(order.Status)),
		slog.Int("consumed", len(affected)),
	)

	logPublishFailure(ctx, s.logger, "inventory.consumed",
		s.publisher.PublishConsumed(ctx, order, affected),
		slog.String("order_id", order.ID))
	return order, nil
}

// GetOrder returns an order with its reservations. An order found past its
// deadline is expired first.
func (s *OrderService) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	if err := requireKeys("tenant_id", tenantID, "order_id", orderID); err != nil {
		return nil, err
	}

	order, err := s.backend.Orders().Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !order.IsOverdue(s.opts.now()) {
		return order, nil
	}

	order, _, err = s.expireOrder(ctx, tenantID, orderID, s.opts.now())
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// expireOrder expires one overdue order in its own unit of work. It is a
// no-op when the order is no longer overdue once locked.
func (s *OrderService) expireOrder(ctx context.Context, tenantID, orderID string, now time.Time) (*domain.Order, []domain.Reservation, error) {
	var (
		order    *domain.Order
		released []domain.Reservation
	)
	err := s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		o, err := store.Orders().GetForUpdate(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		order = o
		if !o.IsOverdue(now) {
			return nil
		}
		released, err = s.expire(ctx, store, o, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if len(released) > 0 {
		s.afterExpire(ctx, order, released)
	}
	return order, released, nil
}

// expire releases every active hold of order and moves it to EXPIRED.
func (s *OrderService) expire(ctx context.Context, store repository.Store, order *domain.Order, now time.Time) ([]domain.Reservation, error) {
	released, err := s.release(ctx, store, order, now, SystemActor, ReasonReservationExpired)
	if err != nil {
		return nil, err
	}
	if err := order.TransitionTo(domain.OrderStatusExpired, now); err != nil {
		return nil, err
	}
	if err := store.Orders().Update(ctx, order); err != nil {
		return nil, err
	}
	return released, nil
}

func (s *OrderService) afterExpire(ctx context.Context, order *domain.Order, released []domain.Reservation) {
	countEntries(domain.TransactionRelease, len(released))
	releasesTotal.WithLabelValues("expired").Add(float64(len(released)))

	s.logger.InfoContext(ctx, "order expired",
		slog.String("tenant_id", order.TenantID),
		slog.String("order_id", order.ID),
		slog.Int("released", len(released)),
	)

	logPublishFailure(ctx, s.logger, "inventory.expired",
		s.publisher.PublishExpired(ctx, order, released),
		slog.String("order_id", order.ID))
}

// release gives every active hold back to available stock, writing one
// RELEASE entry per hold. Holds are processed in product order.
func (s *OrderService) release(ctx context.Context, store repository.Store, order *domain.Order, now time.Time, actor, reason string) ([]domain.Reservation, error) {
	return closeHolds(ctx, order, func(r *domain.Reservation) error {
		if _, err := store.Stocks().ApplyDelta(ctx, order.TenantID, r.ProductID, decimal.Zero, r.HeldQuantity); err != nil {
			return err
		}
		_, err := store.Ledger().Append(ctx, &domain.LedgerEntry{
			TenantID:        order.TenantID,
			ProductID:       r.ProductID,
			Type:            domain.TransactionRelease,
			SignedQuantity:  r.HeldQuantity,
			ReferenceNumber: order.ID,
			Actor:           actor,
			Reason:          reason,
		})
		if err != nil {
			return err
		}
		return r.Close(domain.ReservationReleased, now)
	})
}

// consume removes every held unit from on-hand stock, writing one SALE
// entry per hold.
func (s *OrderService) consume(ctx context.Context, store repository.Store, order *domain.Order, now time.Time, actor string) ([]domain.Reservation, error) {
	return closeHolds(ctx, order, func(r *domain.Reservation) error {
		if _, err := store.Stocks().ApplyDelta(ctx, order.TenantID, r.ProductID, r.HeldQuantity.Neg(), decimal.Zero); err != nil {
			return err
		}
		_, err := store.Ledger().Append(ctx, &domain.LedgerEntry{
			TenantID:        order.TenantID,
			ProductID:       r.ProductID,
			Type:            domain.TransactionSale,
			SignedQuantity:  r.HeldQuantity.Neg(),
			ReferenceNumber: order.ID,
			Actor:           actor,
		})
		if err != nil {
			return err
		}
		return r.Close(domain.ReservationConsumed, now)
	})
}

// closeHolds applies closeFn to every active hold of order in product order
// and returns the closed holds.
func closeHolds(ctx context.Context, order *domain.Order, closeFn func(r *domain.Reservation) error) ([]domain.Reservation, error) {
	active := order.ActiveReservations()
	slices.SortFunc(active, func(a, b *domain.Reservation) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	closed := make([]domain.Reservation, 0, len(active))
	for _, r := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := closeFn(r); err != nil {
			return nil, fmt.Errorf("close reservation %s: %w", r.ID, err)
		}
		closed = append(closed, *r)
	}
	return closed, nil
}
