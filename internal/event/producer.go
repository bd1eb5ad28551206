package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/domain"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

// Kafka topic constants for inventory domain events.
const (
	TopicInventoryAdjusted = "ecommerce.inventory.adjusted"
	TopicInventoryReserved = "ecommerce.inventory.reserved"
	TopicInventoryReleased = "ecommerce.inventory.released"
	TopicInventoryConsumed = "ecommerce.inventory.consumed"
	TopicInventoryExpired  = "ecommerce.inventory.expired"
	TopicInventoryLowStock = "ecommerce.inventory.low_stock"
)

// Aggregate types.
const (
	AggregateTypeStock = "stock"
	AggregateTypeOrder = "order"
)

// SourceStockLedger identifies events originating from this service.
const SourceStockLedger = "stockledger"

// StockAdjustedData is the payload for an inventory.adjusted event.
type StockAdjustedData struct {
	ProductID       string                 `json:"product_id"`
	TransactionType domain.TransactionType `json:"transaction_type"`
	SignedQuantity  decimal.Decimal        `json:"signed_quantity"`
	ReferenceNumber string                 `json:"reference_number"`
	LedgerEntryID   int64                  `json:"ledger_entry_id"`
	OnHand          decimal.Decimal        `json:"on_hand"`
	Available       decimal.Decimal        `json:"available"`
	Status          domain.StockStatus     `json:"status"`
}

// HoldData describes one reservation inside an order event.
type HoldData struct {
	ReservationID string          `json:"reservation_id"`
	ProductID     string          `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// OrderHoldsData is the payload shared by reserved, released, consumed and
// expired events.
type OrderHoldsData struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Holds   []HoldData         `json:"holds"`
}

// LowStockData is the payload for an inventory.low_stock event.
type LowStockData struct {
	ProductID string             `json:"product_id"`
	OnHand    decimal.Decimal    `json:"on_hand"`
	Available decimal.Decimal    `json:"available"`
	Status    domain.StockStatus `json:"status"`
}

// Producer publishes inventory domain events. It satisfies service.Publisher.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer. kafka is usually a
// *pkgkafka.BreakerPublisher wrapping a *pkgkafka.Producer.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishStockAdjusted publishes an inventory.adjusted event.
func (p *Producer) PublishStockAdjusted(ctx context.Context, stock *domain.StockRecord, entry *domain.LedgerEntry) error {
	data := StockAdjustedData{
		ProductID:       stock.ProductID,
		TransactionType: entry.Type,
		SignedQuantity:  entry.SignedQuantity,
		ReferenceNumber: entry.ReferenceNumber,
		LedgerEntryID:   entry.ID,
		OnHand:          stock.OnHandQuantity,
		Available:       stock.AvailableQuantity,
		Status:          stock.Status,
	}
	return p.publish(ctx, TopicInventoryAdjusted, stock.TenantID, stock.ProductID, AggregateTypeStock, data)
}

// PublishReserved publishes an inventory.reserved event listing every hold of the order.
func (p *Producer) PublishReserved(ctx context.Context, order *domain.Order) error {
	holds := make([]domain.Reservation, 0, len(order.Reservations))
	for _, r := range order.ActiveReservations() {
		holds = append(holds, *r)
	}
	return p.publishHolds(ctx, TopicInventoryReserved, order, holds)
}

// PublishReleased publishes an inventory.released event.
func (p *Producer) PublishReleased(ctx context.Context, order *domain.Order, released []domain.Reservation) error {
	return p.publishHolds(ctx, TopicInventoryReleased, order, released)
}

// PublishConsumed publishes an inventory.consumed event.
func (p *Producer) PublishConsumed(ctx context.Context, order *domain.Order, consumed []domain.Reservation) error {
	return p.publishHolds(ctx, TopicInventoryConsumed, order, consumed)
}

// PublishExpired publishes an inventory.expired event.
func (p *Producer) PublishExpired(ctx context.Context, order *domain.Order, released []domain.Reservation) error {
	return p.publishHolds(ctx, TopicInventoryExpired, order, released)
}

// PublishLowStock publishes an inventory.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, stock *domain.StockRecord) error {
	data := LowStockData{
		ProductID: stock.ProductID,
		OnHand:    stock.OnHandQuantity,
		Available: stock.AvailableQuantity,
		Status:    stock.Status,
	}
	return p.publish(ctx, TopicInventoryLowStock, stock.TenantID, stock.ProductID, AggregateTypeStock, data)
}

func (p *Producer) publishHolds(ctx context.Context, topic string, order *domain.Order, rs []domain.Reservation) error {
	data := OrderHoldsData{
		OrderID: order.ID,
		Status:  order.Status,
		Holds:   make([]HoldData, 0, len(rs)),
	}
	for _, r := range rs {
		data.Holds = append(data.Holds, HoldData{
			ReservationID: r.ID,
			ProductID:     r.ProductID,
			Quantity:      r.HeldQuantity,
			ExpiresAt:     r.ExpiresAt,
		})
	}
	return p.publish(ctx, topic, order.TenantID, order.ID, AggregateTypeOrder, data)
}

func (p *Producer) publish(ctx context.Context, topic, tenantID, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceStockLedger, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithTenant(tenantID)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("tenant_id", tenantID),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
