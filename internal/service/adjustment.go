package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
)

// AdjustmentService applies operator corrections and inbound receipts.
type AdjustmentService struct {
	backend   repository.Backend
	publisher Publisher
	logger    *slog.Logger
	opts      options
}

// NewAdjustmentService creates a new adjustment processor. A nil publisher
// disables events.
func NewAdjustmentService(backend repository.Backend, publisher Publisher, logger *slog.Logger, opts ...Option) *AdjustmentService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &AdjustmentService{
		backend:   backend,
		publisher: publisher,
		logger:    logger,
		opts:      newOptions(opts),
	}
}

// stockChange describes one ledger-backed quantity change. Adjustments and
// receipts always move on-hand and available by the same amount, so delta
// returns a single signed quantity.
type stockChange struct {
	tenantID  string
	productID string
	quantity  decimal.Decimal
	txType    domain.TransactionType
	reference string
	actor     string
	reason    string
	notes     string
	delta     func(rec *domain.StockRecord) (decimal.Decimal, error)
}

// AdjustStock applies an INCREASE, DECREASE or SET_EXACT correction.
func (s *AdjustmentService) AdjustStock(ctx context.Context, cmd domain.AdjustStockCommand) (_ *domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "AdjustmentService.AdjustStock",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("product_id", cmd.ProductID),
		attribute.String("adjustment_type", string(cmd.Type)),
	)
	defer func() {
		adjustmentsTotal.WithLabelValues(string(domain.TransactionAdjustment), outcome(err)).Inc()
		end(err)
	}()

	if err = validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.Type != domain.AdjustSetExact && !cmd.Quantity.IsPositive() {
		return nil, domain.InvalidQuantity("%s quantity must be positive, got %s", cmd.Type, cmd.Quantity)
	}

	q := cmd.Quantity
	change := stockChange{
		tenantID:  cmd.TenantID,
		productID: cmd.ProductID,
		quantity:  q,
		txType:    domain.TransactionAdjustment,
		reference: cmd.ReferenceNumber,
		actor:     actorOf(ctx, cmd.Actor),
		reason:    cmd.Reason,
		notes:     cmd.Notes,
	}
	if change.reference == "" {
		change.reference = "ADJ-" + uuid.New().String()
	}

	switch cmd.Type {
	case domain.AdjustIncrease:
		change.delta = func(*domain.StockRecord) (decimal.Decimal, error) { return q, nil }
	case domain.AdjustDecrease:
		change.delta = func(rec *domain.StockRecord) (decimal.Decimal, error) {
			if rec.AvailableQuantity.LessThan(q) {
				return decimal.Zero, domain.InvalidQuantity(
					"product %s: cannot decrease by %s, only %s available", rec.ProductID, q, rec.AvailableQuantity)
			}
			return q.Neg(), nil
		}
	case domain.AdjustSetExact:
		change.delta = func(rec *domain.StockRecord) (decimal.Decimal, error) {
			if reserved := rec.Reserved(); q.LessThan(reserved) {
				return decimal.Zero, domain.InvalidQuantity(
					"product %s: cannot set on-hand to %s below reserved %s", rec.ProductID, q, reserved)
			}
			return q.Sub(rec.OnHandQuantity), nil
		}
	}

	return s.apply(ctx, change)
}

// ReceivePurchase books inbound stock against a purchase order number.
func (s *AdjustmentService) ReceivePurchase(ctx context.Context, cmd domain.StockReceiptCommand) (_ *domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "AdjustmentService.ReceivePurchase",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("product_id", cmd.ProductID),
	)
	defer func() {
		adjustmentsTotal.WithLabelValues(string(domain.TransactionPurchase), outcome(err)).Inc()
		end(err)
	}()
	return s.receive(ctx, cmd, domain.TransactionPurchase)
}

// RecordReturn books stock coming back from a customer against a return
// authorization number.
func (s *AdjustmentService) RecordReturn(ctx context.Context, cmd domain.StockReceiptCommand) (_ *domain.StockRecord, err error) {
	ctx, end := startSpan(ctx, "AdjustmentService.RecordReturn",
		attribute.String("tenant_id", cmd.TenantID),
		attribute.String("product_id", cmd.ProductID),
	)
	defer func() {
		adjustmentsTotal.WithLabelValues(string(domain.TransactionReturn), outcome(err)).Inc()
		end(err)
	}()
	return s.receive(ctx, cmd, domain.TransactionReturn)
}

func (s *AdjustmentService) receive(ctx context.Context, cmd domain.StockReceiptCommand, txType domain.TransactionType) (*domain.StockRecord, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	q := cmd.Quantity
	return s.apply(ctx, stockChange{
		tenantID:  cmd.TenantID,
		productID: cmd.ProductID,
		quantity:  q,
		txType:    txType,
		reference: cmd.ReferenceNumber,
		actor:     actorOf(ctx, cmd.Actor),
		notes:     cmd.Notes,
		delta:     func(*domain.StockRecord) (decimal.Decimal, error) { return q, nil },
	})
}

// apply locks the record, computes the delta against it, and writes the
// quantity change and its ledger entry in one unit of work. A zero delta
// changes nothing and writes no entry.
func (s *AdjustmentService) apply(ctx context.Context, c stockChange) (*domain.StockRecord, error) {
	var (
		updated *domain.StockRecord
		entry   *domain.LedgerEntry
		before  decimal.Decimal
	)

	err := s.backend.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		rec, err := store.Stocks().GetForUpdate(ctx, c.tenantID, c.productID)
		if err != nil {
			return err
		}
		if !rec.FitsScale(c.quantity) {
			return domain.InvalidQuantity("product %s: quantity %s exceeds scale %d", rec.ProductID, c.quantity, rec.Scale)
		}
		before = rec.AvailableQuantity

		delta, err := c.delta(rec)
		if err != nil {
			return err
		}
		if delta.IsZero() {
			updated = rec
			return nil
		}

		updated, err = store.Stocks().ApplyDelta(ctx, c.tenantID, c.productID, delta, delta)
		if err != nil {
			return err
		}

		entry, err = store.Ledger().Append(ctx, &domain.LedgerEntry{
			TenantID:        c.tenantID,
			ProductID:       c.productID,
			Type:            c.txType,
			SignedQuantity:  delta,
			ReferenceNumber: c.reference,
			Actor:           c.actor,
			Reason:          c.reason,
			Notes:           c.notes,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply stock change: %w", err)
	}

	if entry == nil {
		s.logger.InfoContext(ctx, "stock already at requested level",
			slog.String("tenant_id", c.tenantID),
			slog.String("product_id", c.productID),
		)
		return updated, nil
	}
	countEntries(entry.Type, 1)

	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("tenant_id", c.tenantID),
		slog.String("product_id", c.productID),
		slog.String("transaction_type", string(c.txType)),
		slog.String("delta", entry.SignedQuantity.String()),
		slog.String("reference_number", c.reference),
		slog.String("on_hand", updated.OnHandQuantity.String()),
		slog.String("available", updated.AvailableQuantity.String()),
	)

	logPublishFailure(ctx, s.logger, "inventory.adjusted",
		s.publisher.PublishStockAdjusted(ctx, updated, entry),
		slog.String("product_id", c.productID))
	if updated.AvailableQuantity.LessThan(before) && !updated.AvailableQuantity.GreaterThan(s.opts.lowStock) {
		logPublishFailure(ctx, s.logger, "inventory.low_stock",
			s.publisher.PublishLowStock(ctx, updated),
			slog.String("product_id", c.productID))
	}

	return updated, nil
}
