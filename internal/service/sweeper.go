package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stockledger/internal/repository"
)

// Sweeper releases reservations whose deadline has passed.
type Sweeper struct {
	orders    *OrderService
	logger    *slog.Logger
	batchSize int
}

// NewSweeper creates an expiry sweeper driving orders through the same
// release path as cancellation.
func NewSweeper(orders *OrderService, logger *slog.Logger, opts ...Option) *Sweeper {
	o := newOptions(opts)
	return &Sweeper{
		orders:    orders,
		logger:    logger,
		batchSize: o.batchSize,
	}
}

// SweepExpired expires every CONFIRMED order holding a reservation whose
// deadline is at or before now and returns the number of released
// reservations. Each order is expired in its own unit of work. A failing
// order is logged and skipped. Only a failed scan or a canceled ctx stops
// the sweep early, leaving already expired orders committed.
func (s *Sweeper) SweepExpired(ctx context.Context, now time.Time) (released int, err error) {
	ctx, end := startSpan(ctx, "Sweeper.SweepExpired")
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
		sweepReleased.Add(float64(released))
		end(err)
	}()

	var after repository.ExpiredOrderRef
	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		refs, err := s.orders.backend.Orders().ListExpired(ctx, now, after, s.batchSize)
		if err != nil {
			return released, fmt.Errorf("list expired orders: %w", err)
		}

		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return released, err
			}
			_, holds, err := s.orders.expireOrder(ctx, ref.TenantID, ref.OrderID, now)
			if err != nil {
				failed++
				sweepFailures.Inc()
				s.logger.ErrorContext(ctx, "failed to expire order",
					slog.String("tenant_id", ref.TenantID),
					slog.String("order_id", ref.OrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			released += len(holds)
		}

		if len(refs) < s.batchSize {
			break
		}
		after = refs[len(refs)-1]
	}

	if released > 0 || failed > 0 {
		s.logger.InfoContext(ctx, "expiry sweep finished",
			slog.Int("released", released),
			slog.Int("failed_orders", failed),
			slog.Time("now", now),
		)
	}
	return released, nil
}
