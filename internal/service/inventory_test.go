package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentReservationsOfNumber42(t *testing.T) {
	h := newHarness(t)
	d := h.standardDraw(t, 1, 100, "10.00", "1000.00")

	const buyers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, unavailable int
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Inventory.Reserve(context.Background(), ReserveRequest{
				DrawID: d.ID, Number: intPtr(42), BuyerRef: fmt.Sprintf("cust:%d", i), PaymentRef: fmt.Sprintf("pay-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrNumberUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, unavailable)
	held, err := h.store.HeldNumbers(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, held)
}

func TestReserveSetsPendingOrderWithConfiguredWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ExpirationWindow = 15 * time.Minute })
	d := h.standardDraw(t, 1, 100, "12.50", "500")

	o := h.reserve(t, d.ID, 7, "pay-7")
	assert.Equal(t, "PENDING", string(o.Status))
	assert.Equal(t, 7, o.Number)
	assert.True(t, o.Price.Equal(d.Price))
	assert.Equal(t, testEpoch, o.CreatedAt)
	assert.Equal(t, testEpoch.Add(15*time.Minute), o.ExpiresAt)
	assert.NotEmpty(t, o.OrderID)
}

func TestReservePicksLowestFreeNumber(t *testing.T) {
	h := newHarness(t)
	d := h.standardDraw(t, 1, 5, "1", "10")
	h.reserve(t, d.ID, 1, "a")
	h.reserve(t, d.ID, 2, "b")
	h.reserve(t, d.ID, 4, "c")

	o, err := h.engine.Inventory.Reserve(context.Background(), ReserveRequest{DrawID: d.ID, BuyerRef: "cust:9"})
	require.NoError(t, err)
	assert.Equal(t, 3, o.Number)
	o, err = h.engine.Inventory.Reserve(context.Background(), ReserveRequest{DrawID: d.ID, BuyerRef: "cust:9"})
	require.NoError(t, err)
	assert.Equal(t, 5, o.Number)

	_, err = h.engine.Inventory.Reserve(context.Background(), ReserveRequest{DrawID: d.ID, BuyerRef: "cust:9"})
	assert.ErrorIs(t, err, ErrNumberUnavailable)
}

func TestReserveRejectsInactiveAndOutOfRange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 100, "10", "100")

	_, err := h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(101)})
	assert.ErrorIs(t, err, ErrNumberOutOfRange)

	_, err = h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: 999, Number: intPtr(1)})
	assert.ErrorIs(t, err, ErrDrawInactive)

	require.NoError(t, h.engine.Draws.Deactivate(ctx, d.ID))
	_, err = h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(1)})
	assert.ErrorIs(t, err, ErrDrawInactive)

	pool := h.poolCampaign(t, 10, "5")
	_, err = h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: pool.ID, Number: intPtr(1)})
	assert.ErrorIs(t, err, ErrDrawInactive)
}

func TestReserveRejectsReusedPaymentRef(t *testing.T) {
	h := newHarness(t)
	d := h.standardDraw(t, 1, 10, "10", "100")
	h.reserve(t, d.ID, 1, "pay-1")
	_, err := h.engine.Inventory.Reserve(context.Background(), ReserveRequest{DrawID: d.ID, Number: intPtr(2), PaymentRef: "pay-1"})
	assert.ErrorIs(t, err, ErrDuplicatePaymentRef)
}

func TestReserveValidatesPaymentRef(t *testing.T) {
	h := newHarness(t)
	d := h.standardDraw(t, 1, 10, "10", "100")
	for _, ref := range []string{"a b", "pay/1", "ref\n", strings.Repeat("x", 65)} {
		_, err := h.engine.Inventory.Reserve(context.Background(), ReserveRequest{DrawID: d.ID, Number: intPtr(1), PaymentRef: ref})
		assert.ErrorIs(t, err, ErrInvalidPaymentRef, ref)
	}
	for _, ref := range []string{"", "mp-1234567890", "order:9_x.y"} {
		assert.NoError(t, ValidatePaymentRef(ref), ref)
	}
	free, err := h.engine.Inventory.Available(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, free, 10)
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 10, "10", "100")
	o := h.reserve(t, d.ID, 3, "pay-3")

	_, err := h.engine.Reconciler.Cancel(ctx, "pay-3", "rejected")
	require.NoError(t, err)
	require.NoError(t, h.engine.Inventory.Release(ctx, o.OrderID))
	require.NoError(t, h.engine.Inventory.Release(ctx, o.OrderID))
	require.NoError(t, h.engine.Inventory.Release(ctx, "unknown"))

	free, err := h.engine.Inventory.Available(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, free, 10)
}

func TestReleaseKeepsNumberOfPendingAndPaidOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.standardDraw(t, 1, 10, "10", "100")
	o := h.reserve(t, d.ID, 3, "pay-3")

	require.NoError(t, h.engine.Inventory.Release(ctx, o.OrderID))
	free, err := h.engine.Inventory.Available(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, free, 9)
	assert.NotContains(t, free, 3)

	_, err = h.engine.Reconciler.Confirm(ctx, "pay-3")
	require.NoError(t, err)
	require.NoError(t, h.engine.Inventory.Release(ctx, o.OrderID))
	free, err = h.engine.Inventory.Available(ctx, d.ID)
	require.NoError(t, err)
	assert.NotContains(t, free, 3)

	_, err = h.engine.Inventory.Reserve(ctx, ReserveRequest{DrawID: d.ID, Number: intPtr(3), PaymentRef: "pay-again"})
	assert.ErrorIs(t, err, ErrNumberUnavailable)
}

func TestAvailableExcludesHeldNumbers(t *testing.T) {
	h := newHarness(t)
	d := h.standardDraw(t, 1, 5, "10", "100")
	h.reserve(t, d.ID, 2, "a")
	h.reserve(t, d.ID, 5, "b")

	free, err := h.engine.Inventory.Available(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, free)

	_, err = h.engine.Inventory.Available(context.Background(), 404)
	assert.ErrorIs(t, err, ErrDrawNotFound)
}
