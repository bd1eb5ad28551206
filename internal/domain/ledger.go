package domain

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// TransactionType classifies a ledger entry.
type TransactionType string

// Ledger transaction types.
const (
	TransactionPurchase    TransactionType = "PURCHASE"
	TransactionSale        TransactionType = "SALE"
	TransactionAdjustment  TransactionType = "ADJUSTMENT"
	TransactionReturn      TransactionType = "RETURN"
	TransactionReservation TransactionType = "RESERVATION"
	TransactionRelease     TransactionType = "RELEASE"
)

// ValidTransactionTypes returns every known ledger transaction type.
func ValidTransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionPurchase,
		TransactionSale,
		TransactionAdjustment,
		TransactionReturn,
		TransactionReservation,
		TransactionRelease,
	}
}

// IsValid reports whether t is a known transaction type.
func (t TransactionType) IsValid() bool {
	for _, v := range ValidTransactionTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// AffectsOnHand reports whether entries of this type change on-hand stock.
// RESERVATION and RELEASE only move units between available and held.
func (t TransactionType) AffectsOnHand() bool {
	return t != TransactionReservation && t != TransactionRelease
}

// AffectsAvailable reports whether entries of this type change available
// stock. A SALE consumes units that were already held.
func (t TransactionType) AffectsAvailable() bool {
	return t != TransactionSale
}

// LedgerEntry is an immutable record of one signed quantity change.
// Positive quantities add or release stock, negative ones remove or hold it.
type LedgerEntry struct {
	ID              int64           `json:"id"`
	TenantID        string          `json:"tenant_id"`
	ProductID       string          `json:"product_id"`
	Type            TransactionType `json:"transaction_type"`
	SignedQuantity  decimal.Decimal `json:"signed_quantity"`
	Timestamp       time.Time       `json:"timestamp"`
	ReferenceNumber string          `json:"reference_number"`
	Actor           string          `json:"actor,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Validate rejects entries that cannot be appended.
func (e *LedgerEntry) Validate() error {
	if e.TenantID == "" {
		return apperrors.InvalidInput("ledger entry tenant_id is required")
	}
	if e.ProductID == "" {
		return apperrors.InvalidInput("ledger entry product_id is required")
	}
	if !e.Type.IsValid() {
		return apperrors.InvalidInput("unknown ledger transaction type " + string(e.Type))
	}
	if e.SignedQuantity.IsZero() {
		return InvalidQuantity("ledger entry for product %s has zero quantity", e.ProductID)
	}
	return nil
}
