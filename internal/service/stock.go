package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// MaxScale is the largest product scale the schema can store.
const MaxScale int32 = 8

// StockService exposes stock records and the transaction ledger.
type StockService struct {
	backend repository.Backend
	logger  *slog.Logger
	opts    options
}

// NewStockService creates a new stock service.
func NewStockService(backend repository.Backend, logger *slog.Logger, opts ...Option) *StockService {
	return &StockService{
		backend: backend,
		logger:  logger,
		opts:    newOptions(opts),
	}
}

// TrackProduct starts tracking a product with zero quantities. A negative
// scale selects the configured default. Tracking an already tracked product
// returns the existing record.
func (s *StockService) TrackProduct(ctx context.Context, tenantID, productID string, scale int32) (_ *domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "StockService.TrackProduct",
		attribute.String("tenant_id", tenantID),
		attribute.String("product_id", productID),
	)
	defer func() { end(err) }()

	if err = requireKeys("tenant_id", tenantID, "product_id", productID); err != nil {
		return nil, err
	}
	if scale < 0 {
		scale = s.opts.defaultScale
	}
	if scale > MaxScale {
		return nil, apperrors.InvalidInput(fmt.Sprintf("scale must be at most %d", MaxScale))
	}

	rec, err := s.backend.Stocks().Track(ctx, tenantID, productID, scale)
	if err != nil {
		return nil, fmt.Errorf("track product: %w", err)
	}

	s.logger.InfoContext(ctx, "product tracked",
		slog.String("tenant_id", tenantID),
		slog.String("product_id", productID),
		slog.Int("scale", int(rec.Scale)),
	)
	return rec, nil
}

// DiscontinueProduct stops new reservations for a product. Existing holds
// and adjustments are unaffected.
func (s *StockService) DiscontinueProduct(ctx context.Context, tenantID, productID string) (_ *domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "StockService.DiscontinueProduct",
		attribute.String("tenant_id", tenantID),
		attribute.String("product_id", productID),
	)
	defer func() { end(err) }()

	if err = requireKeys("tenant_id", tenantID, "product_id", productID); err != nil {
		return nil, err
	}

	rec, err := s.backend.Stocks().Discontinue(ctx, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("discontinue product: %w", err)
	}

	s.logger.InfoContext(ctx, "product discontinued",
		slog.String("tenant_id", tenantID),
		slog.String("product_id", productID),
	)
	return rec, nil
}

// GetStock returns the current snapshot of a product's stock.
func (s *StockService) GetStock(ctx context.Context, tenantID, productID string) (*domain.StockRecord, error) {
	if err := requireKeys("tenant_id", tenantID, "product_id", productID); err != nil {
		return nil, err
	}
	rec, err := s.backend.Stocks().Get(ctx, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return rec, nil
}

// GetLedger returns the product's ledger entries in chronological order.
// The sequence is lazy and every range over it reads the ledger again.
func (s *StockService) GetLedger(ctx context.Context, tenantID, productID string) iter.Seq2[domain.LedgerEntry, error] {
	return s.backend.Ledger().ListByProduct(ctx, tenantID, productID)
}

// ReconcileReport compares a stock record with the sum of its ledger.
type ReconcileReport struct {
	TenantID          string          `json:"tenant_id"`
	ProductID         string          `json:"product_id"`
	Entries           int             `json:"entries"`
	ExpectedOnHand    decimal.Decimal `json:"expected_on_hand"`
	ActualOnHand      decimal.Decimal `json:"actual_on_hand"`
	ExpectedAvailable decimal.Decimal `json:"expected_available"`
	ActualAvailable   decimal.Decimal `json:"actual_available"`
	Consistent        bool            `json:"consistent"`
}

// Reconcile replays the ledger on top of initialOnHand, the quantity the
// product had before its first entry, and reports any drift. On-hand is
// rebuilt from every entry except RESERVATION and RELEASE, available from
// every entry except SALE.
func (s *StockService) Reconcile(ctx context.Context, tenantID, productID string, initialOnHand decimal.Decimal) (_ *ReconcileReport, err error) {
	ctx, end := startSpan(ctx, "StockService.Reconcile",
		attribute.String("tenant_id", tenantID),
		attribute.String("product_id", productID),
	)
	defer func() { end(err) }()

	if err = requireKeys("tenant_id", tenantID, "product_id", productID); err != nil {
		return nil, err
	}
	if initialOnHand.IsNegative() {
		return nil, domain.InvalidQuantity("initial on-hand quantity must not be negative, got %s", initialOnHand)
	}

	report := &ReconcileReport{
		TenantID:          tenantID,
		ProductID:         productID,
		ExpectedOnHand:    initialOnHand,
		ExpectedAvailable: initialOnHand,
	}

	err = s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		rec, err := store.Stocks().GetForUpdate(ctx, tenantID, productID)
		if err != nil {
			return err
		}
		report.ActualOnHand = rec.OnHandQuantity
		report.ActualAvailable = rec.AvailableQuantity

		for entry, err := range store.Ledger().ListByProduct(ctx, tenantID, productID) {
			if err != nil {
				return err
			}
			report.Entries++
			if entry.Type.AffectsOnHand() {
				report.ExpectedOnHand = report.ExpectedOnHand.Add(entry.SignedQuantity)
			}
			if entry.Type.AffectsAvailable() {
				report.ExpectedAvailable = report.ExpectedAvailable.Add(entry.SignedQuantity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	report.Consistent = report.ExpectedOnHand.Equal(report.ActualOnHand) &&
		report.ExpectedAvailable.Equal(report.ActualAvailable)

	if !report.Consistent {
		s.logger.WarnContext(ctx, "ledger drift detected",
			slog.String("tenant_id", tenantID),
			slog.String("product_id", productID),
			slog.String("expected_on_hand", report.ExpectedOnHand.String()),
			slog.String("actual_on_hand", report.ActualOnHand.String()),
			slog.String("expected_available", report.ExpectedAvailable.String()),
			slog.String("actual_available", report.ActualAvailable.String()),
		)
	}
	return report, nil
}
