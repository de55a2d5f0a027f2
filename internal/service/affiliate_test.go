package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

func u64(n uint64) *uint64 { return &n }

func keys(chain []model.Affiliate) []string {
	out := make([]string, 0, len(chain))
	for _, a := range chain {
		out = append(out, a.Key)
	}
	return out
}

func TestResolveChainCrossesIntoVipTree(t *testing.T) {
	h := newHarness(t)
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 1, Phone: "551100000001"})
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 2, Phone: "551100000002", ParentID: u64(1)})
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "PARENT", Phone: "551100000010", ParentPhone: "551100000002"})
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "KID", Phone: "551100000011", ParentPhone: "551100000010"})

	chain, err := h.engine.Affiliates.ResolveChain(context.Background(), "KID")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub:KID", "sub:PARENT", "vip:2", "vip:1"}, keys(chain))

	byPhone, err := h.engine.Affiliates.ResolveChain(context.Background(), "551100000002")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip:2", "vip:1"}, keys(byPhone))
}

func TestResolveChainDetectsCycles(t *testing.T) {
	h := newHarness(t)
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "A", Phone: "551100000001", ParentPhone: "551100000002"})
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "B", Phone: "551100000002", ParentPhone: "551100000001"})
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 7, Phone: "551100000007", ParentID: u64(8)})
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 8, Phone: "551100000008", ParentID: u64(7)})
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 9, Phone: "551100000009", ParentID: u64(9)})

	for _, ref := range []string{"A", "551100000007", "551100000009"} {
		_, err := h.engine.Affiliates.ResolveChain(context.Background(), ref)
		assert.ErrorIs(t, err, ErrCycleDetected, ref)
	}
}

func TestResolveChainDepthLimit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxChainDepth = 3 })
	for i := 1; i <= 5; i++ {
		s := model.SubAffiliate{Code: fmt.Sprintf("S%d", i), Phone: fmt.Sprintf("55110000000%d", i)}
		if i < 5 {
			s.ParentPhone = fmt.Sprintf("55110000000%d", i+1)
		}
		h.store.PutSubAffiliate(s)
	}

	_, err := h.engine.Affiliates.ResolveChain(context.Background(), "S1")
	assert.ErrorIs(t, err, ErrChainTooDeep)
	chain, err := h.engine.Affiliates.ResolveChain(context.Background(), "S3")
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestResolveChainEdges(t *testing.T) {
	h := newHarness(t)
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "LONE", Phone: "551100000001", ParentPhone: "559999999999"})

	chain, err := h.engine.Affiliates.ResolveChain(context.Background(), "LONE")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub:LONE"}, keys(chain))

	_, err = h.engine.Affiliates.ResolveChain(context.Background(), "")
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
	_, err = h.engine.Affiliates.ResolveChain(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
}

func TestAttributeCommissionTruncatesAndCaps(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.CommissionRates = []decimal.Decimal{decimal.RequireFromString("0.6"), decimal.RequireFromString("0.6"), decimal.RequireFromString("0.1")}
	})
	chain := []model.Affiliate{{Key: "sub:a"}, {Key: "sub:b"}, {Key: "sub:c"}, {Key: "sub:d"}}
	order := model.Order{OrderID: "o1", Price: decimal.RequireFromString("9.99")}

	lines := h.engine.Affiliates.AttributeCommission(order, chain)
	require.Len(t, lines, 2)
	assert.Equal(t, "5.99", lines[0].Amount.StringFixed(2))
	assert.Equal(t, "4.00", lines[1].Amount.StringFixed(2))
	sum := lines[0].Amount.Add(lines[1].Amount)
	assert.True(t, sum.LessThanOrEqual(order.Price))
}

func TestPurchaseCommissionIsAttributedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.PutVipAffiliate(model.VipAffiliate{ID: 1, Phone: "551100000001"})
	h.store.PutSubAffiliate(model.SubAffiliate{Code: "ANA", Phone: "551100000002", ParentPhone: "551100000001"})
	d := h.standardDraw(t, 1, 10, "20.00", "100.00")

	o, err := h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(4), PaymentRef: "p", ReferrerCode: "ANA"})
	require.NoError(t, err)
	_, err = h.engine.Reconciler.Confirm(ctx, "p")
	require.NoError(t, err)
	_, err = h.engine.Reconciler.Confirm(ctx, "p")
	require.NoError(t, err)

	paid, err := h.store.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	_, err = h.engine.Affiliates.AttributeOrder(ctx, paid)
	require.NoError(t, err)

	lines, err := h.store.CommissionsByOrder(ctx, o.OrderID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "sub:ANA", lines[0].AffiliateKey)
	assert.Equal(t, "2.00", lines[0].Amount.StringFixed(2))
	assert.Equal(t, "vip:1", lines[1].AffiliateKey)
	assert.Equal(t, "1.00", lines[1].Amount.StringFixed(2))
}

func TestOrderWithoutReferrerEarnsNothing(t *testing.T) {
	h := newHarness(t)
	lines, err := h.engine.Affiliates.AttributeOrder(context.Background(), model.Order{OrderID: "x", Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Empty(t, lines)
}
