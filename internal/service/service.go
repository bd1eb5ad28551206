// Package service holds the inventory engine: stock lookups, the adjustment
// processor, the order reservation state machine and the expiry sweeper.
// Every mutation runs in one repository unit of work and pairs each stock
// change with exactly one ledger entry. Domain events are published only
// after the unit of work commits.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/logger"
	"github.com/utafrali/stockledger/pkg/tracing"
	"github.com/utafrali/stockledger/pkg/validator"
)

// Publisher emits inventory domain events.
type Publisher interface {
	PublishStockAdjusted(ctx context.Context, stock *domain.StockRecord, entry *domain.LedgerEntry) error
	PublishReserved(ctx context.Context, order *domain.Order) error
	PublishReleased(ctx context.Context, order *domain.Order, released []domain.Reservation) error
	PublishConsumed(ctx context.Context, order *domain.Order, consumed []domain.Reservation) error
	PublishExpired(ctx context.Context, order *domain.Order, released []domain.Reservation) error
	PublishLowStock(ctx context.Context, stock *domain.StockRecord) error
}

type noopPublisher struct{}

func (noopPublisher) PublishStockAdjusted(context.Context, *domain.StockRecord, *domain.LedgerEntry) error {
	return nil
}
func (noopPublisher) PublishReserved(context.Context, *domain.Order) error { return nil }
func (noopPublisher) PublishReleased(context.Context, *domain.Order, []domain.Reservation) error {
	return nil
}
func (noopPublisher) PublishConsumed(context.Context, *domain.Order, []domain.Reservation) error {
	return nil
}
func (noopPublisher) PublishExpired(context.Context, *domain.Order, []domain.Reservation) error {
	return nil
}
func (noopPublisher) PublishLowStock(context.Context, *domain.StockRecord) error { return nil }

// DefaultReservationTimeout applies to tenants without an override.
const DefaultReservationTimeout = 24 * time.Hour

// DefaultSweepBatchSize is the page size of the expiry scan.
const DefaultSweepBatchSize = 100

// SystemActor is recorded on ledger entries the engine writes on its own behalf.
const SystemActor = "system"

// ReasonReservationExpired is the ledger reason of an expiry release.
const ReasonReservationExpired = "reservation expired"

// ReservationTimeouts resolves the hold duration of a tenant.
type ReservationTimeouts struct {
	Default   time.Duration
	PerTenant map[string]time.Duration
}

// For returns the timeout for tenantID.
func (t ReservationTimeouts) For(tenantID string) time.Duration {
	if d, ok := t.PerTenant[tenantID]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultReservationTimeout
}

type options struct {
	now          func() time.Time
	timeouts     ReservationTimeouts
	lowStock     decimal.Decimal
	batchSize    int
	defaultScale int32
}

func newOptions(opts []Option) options {
	o := options{
		now:          func() time.Time { return time.Now().UTC() },
		timeouts:     ReservationTimeouts{Default: DefaultReservationTimeout},
		lowStock:     decimal.Zero,
		batchSize:    DefaultSweepBatchSize,
		defaultScale: domain.DefaultScale,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Option configures a service.
type Option func(*options)

// WithClock overrides the clock. Tests use it to drive expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReservationTimeouts sets the default and per-tenant hold durations.
func WithReservationTimeouts(t ReservationTimeouts) Option {
	return func(o *options) { o.timeouts = t }
}

// WithLowStockThreshold publishes a low-stock event whenever an operation
// leaves available stock at or below q.
func WithLowStockThreshold(q decimal.Decimal) Option {
	return func(o *options) { o.lowStock = q }
}

// WithSweepBatchSize sets the page size of the expiry scan.
func WithSweepBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithDefaultScale sets the scale given to products tracked without one.
func WithDefaultScale(scale int32) Option {
	return func(o *options) {
		if scale >= 0 {
			o.defaultScale = scale
		}
	}
}

var tracer = tracing.Tracer("github.com/utafrali/stockledger/internal/service")

// startSpan opens a span for one engine operation. The returned function
// records err and ends the span.
func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// validateCommand runs the struct tags of cmd. Quantity failures surface as
// INVALID_QUANTITY, everything else as INVALID_INPUT.
func validateCommand(cmd any) error {
	err := validator.Validate(cmd)
	if err == nil {
		return nil
	}
	var verr *validator.ValidationError
	if errors.As(err, &verr) && verr.Has("Quantity") {
		return domain.InvalidQuantity("%s", verr.Error())
	}
	return apperrors.InvalidInput(err.Error())
}

func requireKeys(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperrors.InvalidInput(pairs[i] + " is required")
		}
	}
	return nil
}

// actorOf prefers the explicit actor and falls back to the one carried in ctx.
func actorOf(ctx context.Context, actor string) string {
	if actor != "" {
		return actor
	}
	return logger.ActorFromContext(ctx)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(apperrors.Code(err))
}

// logPublishFailure logs err from a post-commit publish. A nil err is a no-op.
func logPublishFailure(ctx context.Context, l *slog.Logger, event string, err error, attrs ...any) {
	if err == nil {
		return
	}
	attrs = append(attrs, slog.String("event", event), slog.String("error", err.Error()))
	l.ErrorContext(ctx, "failed to publish event", attrs...)
}
