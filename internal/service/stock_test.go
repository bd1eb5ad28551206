package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

func TestTrackProduct(t *testing.T) {
	f := newFixture(t, WithDefaultScale(2))
	ctx := context.Background()

	rec, err := f.stocks.TrackProduct(ctx, tenant, "P", -1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rec.Scale)
	assert.Equal(t, domain.StockStatusOutOfStock, rec.Status)
	assertQuantities(t, rec, "0", "0")

	again, err := f.stocks.TrackProduct(ctx, tenant, "P", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), again.Scale, "tracking twice keeps the original record")

	_, err = f.stocks.TrackProduct(ctx, tenant, "Q", MaxScale+1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.stocks.TrackProduct(ctx, "", "Q", 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "7", "4")

	rec := f.stock(t, "P")
	assertQuantities(t, rec, "7", "4")
	assert.True(t, rec.Reserved().Equal(dec("3")))

	_, err := f.stocks.GetStock(context.Background(), tenant, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.stocks.GetStock(context.Background(), "tenant-2", "P")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "records are tenant scoped")
}

func TestDiscontinueProduct(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "3", "3")

	rec, err := f.stocks.DiscontinueProduct(context.Background(), tenant, "P")
	require.NoError(t, err)
	assert.Equal(t, domain.StockStatusDiscontinued, rec.Status)

	_, err = f.stocks.DiscontinueProduct(context.Background(), tenant, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetLedger_ChronologicalAndRestartable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "10", "10")
	ctx := context.Background()

	_, err := f.adjust.AdjustStock(ctx, adjust(domain.AdjustIncrease, "P", "2"))
	require.NoError(t, err)
	f.confirm(t, "ord-1", line("P", "4"))
	_, err = f.orders.CancelOrder(ctx, cancelCmd("ord-1"))
	require.NoError(t, err)

	seq := f.stocks.GetLedger(ctx, tenant, "P")

	var types []domain.TransactionType
	var lastID int64
	for e, err := range seq {
		require.NoError(t, err)
		assert.Greater(t, e.ID, lastID)
		lastID = e.ID
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.TransactionType{
		domain.TransactionAdjustment,
		domain.TransactionReservation,
		domain.TransactionRelease,
	}, types)

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)

	assert.Len(t, f.ledger(t, "P"), 3, "ranging again starts from the first entry")
	assert.Empty(t, f.ledger(t, "other"))
}

// ============================================================================
// Reconcile Tests
// ============================================================================

func TestReconcile_ConsistentAfterMixedHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.stocks.TrackProduct(ctx, tenant, "P", 0)
	require.NoError(t, err)

	_, err = f.adjust.ReceivePurchase(ctx, domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("20"), ReferenceNumber: "PO-1",
	})
	require.NoError(t, err)
	f.confirm(t, "ship", line("P", "5"))
	f.confirm(t, "cancel", line("P", "3"))
	f.confirm(t, "open", line("P", "2"))
	_, err = f.orders.CompleteOrder(ctx, completeCmd("ship", domain.FulfillmentShipment))
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, cancelCmd("cancel"))
	require.NoError(t, err)
	_, err = f.adjust.AdjustStock(ctx, adjust(domain.AdjustSetExact, "P", "11"))
	require.NoError(t, err)
	_, err = f.adjust.RecordReturn(ctx, domain.StockReceiptCommand{
		TenantID: tenant, ProductID: "P", Quantity: dec("1"), ReferenceNumber: "RMA-1",
	})
	require.NoError(t, err)

	assertQuantities(t, f.stock(t, "P"), "12", "10")

	report, err := f.stocks.Reconcile(ctx, tenant, "P", dec("0"))
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 8, report.Entries)
	assert.True(t, report.ExpectedOnHand.Equal(dec("12")))
	assert.True(t, report.ExpectedAvailable.Equal(dec("10")))
	f.assertHeldMatchesReservations(t, "P", "ship", "cancel", "open")
}

func TestReconcile_DetectsDrift(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "P", "5", "5")
	ctx := context.Background()

	report, err := f.stocks.Reconcile(ctx, tenant, "P", dec("5"))
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	// A write that skips the ledger.
	_, err = f.store.Stocks().ApplyDelta(ctx, tenant, "P", dec("1"), dec("1"))
	require.NoError(t, err)

	report, err = f.stocks.Reconcile(ctx, tenant, "P", dec("5"))
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.True(t, report.ExpectedOnHand.Equal(dec("5")))
	assert.True(t, report.ActualOnHand.Equal(dec("6")))
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.stocks.Reconcile(context.Background(), tenant, "ghost", dec("0"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.stocks.Reconcile(context.Background(), tenant, "ghost", dec("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
