package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/domain"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

// Kafka topics consumed by the stock ledger.
const (
	TopicOrderConfirmed = "ecommerce.order.confirmed"
	TopicOrderCanceled  = "ecommerce.order.canceled"
	TopicOrderFulfilled = "ecommerce.order.fulfilled"
)

// OrderService defines the interface required by the event consumer.
type OrderService interface {
	ConfirmOrder(ctx context.Context, cmd domain.ConfirmOrderCommand) (*domain.Order, error)
	CancelOrder(ctx context.Context, cmd domain.CancelOrderCommand) (*domain.Order, error)
	CompleteOrder(ctx context.Context, cmd domain.CompleteOrderCommand) (*domain.Order, error)
}

// LineData is one order line in an order.confirmed payload.
type LineData struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// OrderConfirmedData is the expected payload of an order.confirmed event.
type OrderConfirmedData struct {
	OrderID string     `json:"order_id"`
	Lines   []LineData `json:"lines"`
	Actor   string     `json:"actor,omitempty"`
}

// OrderCanceledData is the expected payload of an order.canceled event.
type OrderCanceledData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	Notes   string `json:"notes,omitempty"`
	Actor   string `json:"actor,omitempty"`
}

// OrderFulfilledData is the expected payload of an order.fulfilled event.
type OrderFulfilledData struct {
	OrderID     string             `json:"order_id"`
	Fulfillment domain.Fulfillment `json:"fulfillment"`
	Actor       string             `json:"actor,omitempty"`
}

// Consumer processes incoming order events.
type Consumer struct {
	logger  *slog.Logger
	service OrderService
}

// NewConsumer creates a new event consumer.
func NewConsumer(service OrderService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// Handlers maps each consumed topic to its handler.
func (c *Consumer) Handlers() map[string]pkgkafka.Handler {
	return map[string]pkgkafka.Handler{
		TopicOrderConfirmed: c.HandleOrderConfirmed,
		TopicOrderCanceled:  c.HandleOrderCanceled,
		TopicOrderFulfilled: c.HandleOrderFulfilled,
	}
}

// HandleOrderConfirmed reserves stock for a confirmed order.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderConfirmedData
	ctx, err := c.decode(ctx, event, &data)
	if err != nil {
		return err
	}

	lines := make([]domain.OrderLine, 0, len(data.Lines))
	for _, l := range data.Lines {
		lines = append(lines, domain.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	c.logger.InfoContext(ctx, "processing order.confirmed event",
		slog.String("order_id", data.OrderID),
		slog.Int("lines", len(lines)),
	)

	_, err = c.service.ConfirmOrder(ctx, domain.ConfirmOrderCommand{
		TenantID: event.TenantID,
		OrderID:  data.OrderID,
		Lines:    lines,
		Actor:    data.Actor,
	})
	return c.result(ctx, event, data.OrderID, err)
}

// HandleOrderCanceled releases the holds of a canceled order.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	ctx, err := c.decode(ctx, event, &data)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "processing order.canceled event",
		slog.String("order_id", data.OrderID),
		slog.String("reason", data.Reason),
	)

	_, err = c.service.CancelOrder(ctx, domain.CancelOrderCommand{
		TenantID: event.TenantID,
		OrderID:  data.OrderID,
		Reason:   data.Reason,
		Notes:    data.Notes,
		Actor:    data.Actor,
	})
	return c.result(ctx, event, data.OrderID, err)
}

// HandleOrderFulfilled consumes the holds of a shipped or picked-up order.
func (c *Consumer) HandleOrderFulfilled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderFulfilledData
	ctx, err := c.decode(ctx, event, &data)
	if err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "processing order.fulfilled event",
		slog.String("order_id", data.OrderID),
		slog.String("fulfillment", string(data.Fulfillment)),
	)

	_, err = c.service.CompleteOrder(ctx, domain.CompleteOrderCommand{
		TenantID:    event.TenantID,
		OrderID:     data.OrderID,
		Fulfillment: data.Fulfillment,
		Actor:       data.Actor,
	})
	return c.result(ctx, event, data.OrderID, err)
}

// decode unmarshals the payload and scopes ctx to the event's tenant and
// correlation id.
func (c *Consumer) decode(ctx context.Context, event *pkgkafka.Event, target any) (context.Context, error) {
	if err := event.UnmarshalData(target); err != nil {
		return ctx, fmt.Errorf("unmarshal %s data: %w", event.EventType, err)
	}
	if event.TenantID == "" {
		return ctx, fmt.Errorf("%s event %s has no tenant", event.EventType, event.EventID)
	}
	ctx = logger.WithTenantID(ctx, event.TenantID)
	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}
	return ctx, nil
}

// result treats a rejected state transition as a redelivery of an event that
// was already applied. Other failures go back to the consumer for retry and
// dead-lettering.
func (c *Consumer) result(ctx context.Context, event *pkgkafka.Event, orderID string, err error) error {
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "order event applied",
			slog.String("event_type", event.EventType),
			slog.String("order_id", orderID),
		)
		return nil
	case errors.Is(err, domain.ErrInvalidStateTransition):
		c.logger.WarnContext(ctx, "order event ignored",
			slog.String("event_type", event.EventType),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return nil
	default:
		return fmt.Errorf("apply %s for order %s: %w", event.EventType, orderID, err)
	}
}
