package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// Holds are exclusive per (draw, number), so Settle can never see three
// PAID orders on one number.  The multi-winner split is exercised on
// compute directly with synthetic winners.
func TestComputeSplitsPrizeAndBanksRemainder(t *testing.T) {
	h := newHarness(t)
	d := model.Draw{ID: 7, RangeStart: 1, RangeEnd: 10, PrizeTotal: decimal.RequireFromString("1000.00"), Type: model.DrawTypeStandard}
	winners := []model.Order{
		{OrderID: "a", BuyerRef: "cust:1", Number: 6, CreatedAt: testEpoch},
		{OrderID: "b", BuyerRef: "cust:2", Number: 6, CreatedAt: testEpoch.Add(time.Minute)},
		{OrderID: "c", BuyerRef: "cust:3", Number: 6, CreatedAt: testEpoch.Add(2 * time.Minute)},
	}

	out := h.engine.Settlement.compute(d, 6, winners)

	assert.Equal(t, 3, out.WinnersCount)
	assert.Equal(t, "333.33", out.PayoutEach.StringFixed(2))
	assert.Equal(t, "0.01", out.Remainder.StringFixed(2))
	assert.False(t, out.NeedsReview)
	require.Len(t, out.Winners, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, out.Winners[i].OrderID)
		assert.Equal(t, i+1, out.Winners[i].Position)
	}
	total := out.PayoutEach.Mul(decimal.NewFromInt(3)).Add(out.Remainder)
	assert.True(t, total.Equal(d.PrizeTotal))
}

func TestSettleRecordsWinnerOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 10, "10.00", "1000.00")
	winner := h.reserve(t, d.ID, 6, "w")
	_, err := h.engine.Reconciler.Confirm(ctx, "w")
	require.NoError(t, err)
	h.reserve(t, d.ID, 7, "other")
	_, err = h.engine.Reconciler.Confirm(ctx, "other")
	require.NoError(t, err)

	out, err := h.engine.Settlement.Settle(ctx, d.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, out.WinnersCount)
	assert.Equal(t, "1000.00", out.PayoutEach.StringFixed(2))
	assert.True(t, out.Remainder.IsZero())
	require.Len(t, out.Winners, 1)
	assert.Equal(t, winner.OrderID, out.Winners[0].OrderID)

	_, err = h.engine.Settlement.Settle(ctx, d.ID, 7)
	assert.ErrorIs(t, err, ErrAlreadySettled)

	stored, err := h.engine.Settlement.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.DrawnNumber)
	assert.Equal(t, 1, stored.WinnersCount)

	got, err := h.engine.Draws.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	_, err = h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(8)})
	assert.ErrorIs(t, err, ErrDrawInactive)
}

func TestSettleIgnoresUnpaidOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 10, "10.00", "500.00")
	h.reserve(t, d.ID, 3, "pending")

	out, err := h.engine.Settlement.Settle(ctx, d.ID, 3)
	require.NoError(t, err)
	assert.Zero(t, out.WinnersCount)
	assert.True(t, out.NeedsReview)
	assert.True(t, out.PayoutEach.IsZero())
	assert.Equal(t, "500.00", out.Remainder.StringFixed(2))
	assert.Empty(t, out.Winners)
}

func TestSettleRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 10, "10.00", "100.00")
	pool := h.poolCampaign(t, 5, "1.00")

	_, err := h.engine.Settlement.Settle(ctx, d.ID, 11)
	assert.ErrorIs(t, err, ErrNumberOutOfRange)
	_, err = h.engine.Settlement.Settle(ctx, pool.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidDraw)
	_, err = h.engine.Settlement.Settle(ctx, 999, 1)
	assert.ErrorIs(t, err, ErrDrawNotFound)

	_, err = h.engine.Settlement.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotSettled)
	_, err = h.engine.Settlement.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrDrawNotFound)

	_, err = h.engine.Settlement.Settle(ctx, d.ID, 4)
	require.NoError(t, err)
}

func TestSettlementModeAttributesCommissions(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.CommissionMode = CommissionOnSettlement })
	ctx := context.Background()
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "ANA", Phone: "5511900000001"})
	d := h.standardDraw(t, 1, 10, "100.00", "1000.00")

	o, err := h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(2), PaymentRef: "r", ReferrerCode: "ANA"})
	require.NoError(t, err)
	_, err = h.engine.Reconciler.Confirm(ctx, "r")
	require.NoError(t, err)

	lines, err := h.store.CommissionsByOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = h.engine.Settlement.Settle(ctx, d.ID, 9)
	require.NoError(t, err)
	lines, err = h.store.CommissionsByOrder(ctx, o.OrderID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "10.00", lines[0].Amount.StringFixed(2))
}
