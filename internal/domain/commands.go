package domain

import "github.com/shopspring/decimal"

// AdjustmentType is the kind of manual stock correction.
type AdjustmentType string

// Adjustment types.
const (
	AdjustIncrease AdjustmentType = "INCREASE"
	AdjustDecrease AdjustmentType = "DECREASE"
	AdjustSetExact AdjustmentType = "SET_EXACT"
)

// AdjustStockCommand is an operator-initiated correction.
type AdjustStockCommand struct {
	TenantID        string          `validate:"required,max=64"`
	ProductID       string          `validate:"required,max=128"`
	Type            AdjustmentType  `validate:"required,oneof=INCREASE DECREASE SET_EXACT"`
	Quantity        decimal.Decimal `validate:"dnonneg"`
	Reason          string          `validate:"max=255"`
	Notes           string          `validate:"max=2000"`
	Actor           string          `validate:"max=128"`
	ReferenceNumber string          `validate:"max=128"`
}

// StockReceiptCommand records inbound stock from a purchase or a customer return.
type StockReceiptCommand struct {
	TenantID        string          `validate:"required,max=64"`
	ProductID       string          `validate:"required,max=128"`
	Quantity        decimal.Decimal `validate:"dpos"`
	ReferenceNumber string          `validate:"required,max=128"`
	Notes           string          `validate:"max=2000"`
	Actor           string          `validate:"max=128"`
}

// ConfirmOrderCommand confirms an order and reserves its lines.
type ConfirmOrderCommand struct {
	TenantID string      `validate:"required,max=64"`
	OrderID  string      `validate:"required,max=128"`
	Lines    []OrderLine `validate:"dive"`
	Actor    string      `validate:"max=128"`
}

// CancelOrderCommand cancels an order. Reason is kept for audit.
type CancelOrderCommand struct {
	TenantID string `validate:"required,max=64"`
	OrderID  string `validate:"required,max=128"`
	Reason   string `validate:"required,max=255"`
	Notes    string `validate:"max=2000"`
	Actor    string `validate:"max=128"`
}

// CompleteOrderCommand records pickup or shipment of a confirmed order.
type CompleteOrderCommand struct {
	TenantID    string      `validate:"required,max=64"`
	OrderID     string      `validate:"required,max=128"`
	Fulfillment Fulfillment `validate:"required,oneof=PICKUP SHIPMENT"`
	Actor       string      `validate:"max=128"`
}
