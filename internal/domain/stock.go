package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus is a cached classification of a stock record. It is derived
// from the quantities and is never authoritative.
type StockStatus string

// Stock status values.
const (
	StockStatusAvailable    StockStatus = "AVAILABLE"
	StockStatusReserved     StockStatus = "RESERVED"
	StockStatusOutOfStock   StockStatus = "OUT_OF_STOCK"
	StockStatusDiscontinued StockStatus = "DISCONTINUED"
)

// DefaultScale is the number of fractional digits allowed when a product
// is tracked without an explicit scale.
const DefaultScale int32 = 3

// StockRecord holds the quantity pair for one product of one tenant.
type StockRecord struct {
	TenantID          string          `json:"tenant_id"`
	ProductID         string          `json:"product_id"`
	OnHandQuantity    decimal.Decimal `json:"on_hand_quantity"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	Status            StockStatus     `json:"status"`
	Scale             int32           `json:"scale"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewStockRecord returns a zero-quantity record for a newly tracked product.
func NewStockRecord(tenantID, productID string, scale int32, now time.Time) *StockRecord {
	return &StockRecord{
		TenantID:          tenantID,
		ProductID:         productID,
		OnHandQuantity:    decimal.Zero,
		AvailableQuantity: decimal.Zero,
		Status:            StockStatusOutOfStock,
		Scale:             scale,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Reserved returns the quantity currently held by active reservations.
func (s *StockRecord) Reserved() decimal.Decimal {
	return s.OnHandQuantity.Sub(s.AvailableQuantity)
}

// IsDiscontinued reports whether the product no longer accepts reservations.
func (s *StockRecord) IsDiscontinued() bool {
	return s.Status == StockStatusDiscontinued
}

// FitsScale reports whether q has no more fractional digits than the record allows.
func (s *StockRecord) FitsScale(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(s.Scale))
}

// ApplyDelta adds both deltas in place. The record is left untouched when
// the result would violate 0 <= available <= onHand.
func (s *StockRecord) ApplyDelta(onHandDelta, availableDelta decimal.Decimal, now time.Time) error {
	onHand := s.OnHandQuantity.Add(onHandDelta)
	available := s.AvailableQuantity.Add(availableDelta)

	if err := CheckQuantities(s.ProductID, onHand, available); err != nil {
		return err
	}

	s.OnHandQuantity = onHand
	s.AvailableQuantity = available
	s.Status = DeriveStatus(s.Status, onHand, available)
	s.UpdatedAt = now
	return nil
}

// CheckQuantities validates a prospective quantity pair.
func CheckQuantities(productID string, onHand, available decimal.Decimal) error {
	if available.IsNegative() {
		return InvalidQuantity("product %s: available quantity would become %s", productID, available)
	}
	if available.GreaterThan(onHand) {
		return InvalidQuantity("product %s: available quantity %s would exceed on-hand %s", productID, available, onHand)
	}
	return nil
}

// DeriveStatus classifies a quantity pair. DISCONTINUED is sticky.
func DeriveStatus(current StockStatus, onHand, available decimal.Decimal) StockStatus {
	switch {
	case current == StockStatusDiscontinued:
		return StockStatusDiscontinued
	case available.IsPositive():
		return StockStatusAvailable
	case onHand.IsPositive():
		return StockStatusReserved
	default:
		return StockStatusOutOfStock
	}
}

// Clone returns a copy safe to hand out of a store.
func (s *StockRecord) Clone() *StockRecord {
	c := *s
	return &c
}
