package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateClaimRespectsRoundQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.poolCampaign(t, 10, "5")

	c, err := h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 6, PaymentRef: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Round)
	assert.Equal(t, "30.00", c.Amount.StringFixed(2))

	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 5, PaymentRef: "c2"})
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 4, PaymentRef: "c3"})
	require.NoError(t, err)

	u, err := h.engine.Pool.RoundUsage(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, u.Used)
	assert.Zero(t, u.Remaining())
}

func TestCancelledClaimFreesQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.poolCampaign(t, 3, "5")

	_, err := h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 3, PaymentRef: "c1"})
	require.NoError(t, err)
	_, err = h.engine.Reconciler.Cancel(ctx, "c1", "by_payer")
	require.NoError(t, err)

	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 3, PaymentRef: "c2"})
	require.NoError(t, err)
}

func TestAdvanceRoundOpensFreshQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.poolCampaign(t, 2, "5")

	first, err := h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 2, PaymentRef: "c1"})
	require.NoError(t, err)

	round, err := h.engine.Pool.AdvanceRound(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, round)

	second, err := h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 2, PaymentRef: "c2"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Round)

	kept, err := h.store.GetClaim(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.Round)
}

func TestAllocateClaimRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.poolCampaign(t, 5, "5")
	std := h.standardDraw(t, 1, 10, "1", "1")

	_, err := h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: std.ID, Qty: 1})
	assert.ErrorIs(t, err, ErrDrawInactive)
	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: 404, Qty: 1})
	assert.ErrorIs(t, err, ErrDrawInactive)

	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 1, PaymentRef: "dup"})
	require.NoError(t, err)
	_, err = h.engine.Pool.AllocateClaim(ctx, ClaimRequest{CampaignID: pool.ID, Qty: 1, PaymentRef: "dup"})
	assert.ErrorIs(t, err, ErrDuplicatePaymentRef)

	_, err = h.engine.Pool.AdvanceRound(ctx, std.ID)
	assert.ErrorIs(t, err, ErrDrawInactive)
	_, err = h.engine.Pool.AdvanceRound(ctx, 404)
	assert.ErrorIs(t, err, ErrDrawNotFound)
	_, err = h.engine.Pool.RoundUsage(ctx, 404)
	assert.ErrorIs(t, err, ErrDrawNotFound)
}
