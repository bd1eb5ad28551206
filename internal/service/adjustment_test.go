package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/logger"
)

func adjust(typ domain.AdjustmentType, productID, qty string) domain.AdjustStockCommand {
	return domain.AdjustStockCommand{
		TenantID:  tenant,
		ProductID: productID,
		Type:      typ,
		Quantity:  dec(qty),
		Reason:    "cycle count",
	}
}

// ============================================================================
// AdjustStock Tests
// ============================================================================

func TestAdjustStock_Increase(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "10", "8")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustIncrease, "P", "5"))
	require.NoError(t, err)
	assertQuantities(t, rec, "15", "13")

	entries := f.ledger(t, "P")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionAdjustment, entries[0].Type)
	assert.True(t, entries[0].SignedQuantity.Equal(dec("5")))
	assert.Equal(t, "cycle count", entries[0].Reason)
	assert.True(t, strings.HasPrefix(entries[0].ReferenceNumber, "ADJ-"), "generated reference, got %q", entries[0].ReferenceNumber)

	f.pub.AssertNumberOfCalls(t, "PublishStockAdjusted", 1)
	f.pub.AssertNotCalled(t, "PublishLowStock", mock.Anything, mock.Anything)
}

func TestAdjustStock_Decrease(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "15", "13")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "5"))
	require.NoError(t, err)
	assertQuantities(t, rec, "10", "8")

	entries := f.ledger(t, "P")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].SignedQuantity.Equal(dec("-5")))
}

func TestAdjustStock_SetExactKeepsReservedUnits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "20", "15")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustSetExact, "P", "12"))
	require.NoError(t, err)
	assertQuantities(t, rec, "12", "7")

	entries := f.ledger(t, "P")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].SignedQuantity.Equal(dec("-8")))
}

func TestAdjustStock_DecreaseBelowAvailableRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "3", "3")

	_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, domain.CodeInvalidQuantity, apperrors.Code(err))

	assertQuantities(t, f.stock(t, "P"), "3", "3")
	assert.Empty(t, f.ledger(t, "P"))
	f.pub.AssertNotCalled(t, "PublishStockAdjusted", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustStock_DecreaseCannotTouchReservedUnits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "10", "4")

	_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "5"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assertQuantities(t, f.stock(t, "P"), "10", "4")
}

func TestAdjustStock_SetExactBelowReservedRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "20", "15")

	_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustSetExact, "P", "4"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assertQuantities(t, f.stock(t, "P"), "20", "15")
	assert.Empty(t, f.ledger(t, "P"))
}

func TestAdjustStock_SetExactToZeroWithoutReservations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "6", "6")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustSetExact, "P", "0"))
	require.NoError(t, err)
	assertQuantities(t, rec, "0", "0")
	assert.Equal(t, domain.StockStatusOutOfStock, rec.Status)
}

func TestAdjustStock_SetExactNoChangeWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "9", "9")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustSetExact, "P", "9"))
	require.NoError(t, err)
	assertQuantities(t, rec, "9", "9")
	assert.Empty(t, f.ledger(t, "P"))
	f.pub.AssertNotCalled(t, "PublishStockAdjusted", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdjustStock_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustIncrease, "ghost", "1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAdjustStock_QuantityRules(t *testing.T) {
	tests := []struct {
		name string
		cmd  domain.AdjustStockCommand
		want error
	}{
		{"zero increase", adjust(domain.AdjustIncrease, "P", "0"), domain.ErrInvalidQuantity},
		{"zero decrease", adjust(domain.AdjustDecrease, "P", "0"), domain.ErrInvalidQuantity},
		{"negative set", adjust(domain.AdjustSetExact, "P", "-1"), domain.ErrInvalidQuantity},
		{"unknown type", adjust("DOUBLE", "P", "1"), apperrors.ErrInvalidInput},
		{"missing product", adjust(domain.AdjustIncrease, "", "1"), apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "P", "5", "5")

			_, err := f.adjust.AdjustStock(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
			assertQuantities(t, f.stock(t, "P"), "5", "5")
		})
	}
}

func TestAdjustStock_QuantityMustFitScale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.stocks.TrackProduct(ctx, tenant, "bolts", 0)
	require.NoError(t, err)

	_, err = f.adjust.AdjustStock(ctx, adjust(domain.AdjustIncrease, "bolts", "1.5"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.stocks.TrackProduct(ctx, tenant, "flour", 3)
	require.NoError(t, err)
	rec, err := f.adjust.AdjustStock(ctx, adjust(domain.AdjustIncrease, "flour", "2.125"))
	require.NoError(t, err)
	assertQuantities(t, rec, "2.125", "2.125")
}

func TestAdjustStock_DiscontinuedProductStillAdjustable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "4", "4")
	_, err := f.stocks.DiscontinueProduct(context.Background(), tenant, "P")
	require.NoError(t, err)

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "4"))
	require.NoError(t, err)
	assert.Equal(t, domain.StockStatusDiscontinued, rec.Status)
}

func TestAdjustStock_ActorAndReference(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "1", "1")
	ctx := logger.WithActor(context.Background(), "ops-42")

	cmd := adjust(domain.AdjustIncrease, "P", "1")
	cmd.ReferenceNumber = "COUNT-2026-06"
	cmd.Notes = "shelf B3"
	_, err := f.adjust.AdjustStock(ctx, cmd)
	require.NoError(t, err)

	e := f.ledger(t, "P")[0]
	assert.Equal(t, "ops-42", e.Actor)
	assert.Equal(t, "COUNT-2026-06", e.ReferenceNumber)
	assert.Equal(t, "shelf B3", e.Notes)
	assert.Equal(t, t0, e.Timestamp)
}

func TestAdjustStock_LowStockEvent(t *testing.T) {
	f := newFixture(t, WithLowStockThreshold(dec("2")))
	f.seed(t, "P", "5", "5")

	_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "3"))
	require.NoError(t, err)
	f.pub.AssertNumberOfCalls(t, "PublishLowStock", 1)

	_, err = f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustIncrease, "P", "1"))
	require.NoError(t, err)
	f.pub.AssertNumberOfCalls(t, "PublishLowStock", 1)
}

func TestAdjustStock_PublishFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.pub = newMockPublisher(errors.New("broker down"))
	f.adjust = NewAdjustmentService(f.backend, f.pub, logger.Discard(), WithClock(f.clock.Now))
	f.seed(t, "P", "1", "1")

	rec, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustIncrease, "P", "2"))
	require.NoError(t, err)
	assertQuantities(t, rec, "3", "3")
	assert.Len(t, f.ledger(t, "P"), 1)
}

func TestAdjustStock_ConcurrentDecreasesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "50", "50")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.adjust.AdjustStock(context.Background(), adjust(domain.AdjustDecrease, "P", "1"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assertQuantities(t, f.stock(t, "P"), "0", "0")
	assert.Len(t, f.ledger(t, "P"), 50)
}

// ============================================================================
// Receipt Tests
// ============================================================================

func TestReceivePurchase(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "2", "1")

	rec, err := f.adjust.ReceivePurchase(context.Background(), domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("10"), ReferenceNumber: "PO-1001",
	})
	require.NoError(t, err)
	assertQuantities(t, rec, "12", "11")

	e := f.ledger(t, "P")[0]
	assert.Equal(t, domain.TransactionPurchase, e.Type)
	assert.Equal(t, "PO-1001", e.ReferenceNumber)
	assert.True(t, e.SignedQuantity.Equal(dec("10")))
}

func TestReceivePurchase_RequiresReference(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "0", "0")

	_, err := f.adjust.ReceivePurchase(context.Background(), domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NotErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestRecordReturn(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "0", "0")

	rec, err := f.adjust.RecordReturn(context.Background(), domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("1"), ReferenceNumber: "RMA-7",
	})
	require.NoError(t, err)
	assertQuantities(t, rec, "1", "1")
	assert.Equal(t, domain.TransactionReturn, f.ledger(t, "P")[0].Type)

	_, err = f.adjust.RecordReturn(context.Background(), domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("0"), ReferenceNumber: "RMA-8",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
