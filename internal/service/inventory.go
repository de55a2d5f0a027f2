package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// maxPickAttempts bounds automatic number selection when concurrent
// buyers keep taking the chosen candidate.
const maxPickAttempts = 8

// ReserveRequest asks for a ticket.  A nil Number lets the inventory
// pick the lowest free number of the draw.
type ReserveRequest struct {
	DrawID       uint64
	Number       *int
	BuyerRef     string
	PaymentRef   string
	ReferrerCode string
}

// Inventory owns ticket number reservation.  Exclusivity of a
// (draw, number) pair is enforced by the store at commit time; the
// free-number listing is only a hint.
type Inventory struct {
	store   repository.Store
	clock   clock.Clock
	window  time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewInventory(store repository.Store, clk clock.Clock, window time.Duration, m *metrics.Metrics, log *zap.Logger) *Inventory {
	return &Inventory{store: store, clock: clk, window: window, metrics: m, log: log.Named("inventory")}
}

// Reserve creates a PENDING order holding one number.
func (inv *Inventory) Reserve(ctx context.Context, req ReserveRequest) (model.Order, error) {
	if err := ValidatePaymentRef(req.PaymentRef); err != nil {
		return model.Order{}, err
	}
	d, err := inv.store.GetDraw(ctx, req.DrawID)
	if errors.Is(err, repository.ErrNotFound) {
		inv.metrics.Reservation("inactive")
		return model.Order{}, ErrDrawInactive
	}
	if err != nil {
		return model.Order{}, err
	}
	if !d.IsActive || d.Type != model.DrawTypeStandard {
		inv.metrics.Reservation("inactive")
		return model.Order{}, ErrDrawInactive
	}

	if req.Number != nil {
		o, err := inv.reserveNumber(ctx, d, *req.Number, req)
		inv.observe(err)
		return o, err
	}

	held, err := inv.store.HeldNumbers(ctx, d.ID)
	if err != nil {
		return model.Order{}, err
	}
	candidates := freeNumbers(d, held, maxPickAttempts)
	for _, n := range candidates {
		o, err := inv.reserveNumber(ctx, d, n, req)
		if errors.Is(err, ErrNumberUnavailable) {
			continue
		}
		inv.observe(err)
		return o, err
	}
	inv.metrics.Reservation("unavailable")
	return model.Order{}, ErrNumberUnavailable
}

func (inv *Inventory) reserveNumber(ctx context.Context, d model.Draw, n int, req ReserveRequest) (model.Order, error) {
	now := inv.clock.Now()
	o := model.Order{
		OrderID:      uuid.NewString(),
		DrawID:       d.ID,
		Number:       n,
		BuyerRef:     req.BuyerRef,
		ReferrerCode: req.ReferrerCode,
		Price:        d.Price,
		Status:       model.StatusPending,
		PaymentRef:   req.PaymentRef,
		CreatedAt:    now,
		ExpiresAt:    now.Add(inv.window),
	}
	err := inv.store.ReserveNumber(ctx, &o)
	switch {
	case err == nil:
		inv.log.Info("number reserved",
			zap.String("order_id", o.OrderID),
			zap.Uint64("draw_id", o.DrawID),
			zap.Int("number", o.Number),
		)
		return o, nil
	case errors.Is(err, repository.ErrNumberTaken):
		return model.Order{}, ErrNumberUnavailable
	case errors.Is(err, repository.ErrOutOfRange):
		return model.Order{}, ErrNumberOutOfRange
	case errors.Is(err, repository.ErrDrawInactive):
		return model.Order{}, ErrDrawInactive
	case errors.Is(err, repository.ErrDuplicate):
		return model.Order{}, ErrDuplicatePaymentRef
	default:
		return model.Order{}, fmt.Errorf("reserve number %d: %w", n, err)
	}
}

func (inv *Inventory) observe(err error) {
	switch {
	case err == nil:
		inv.metrics.Reservation("ok")
	case errors.Is(err, ErrNumberUnavailable):
		inv.metrics.Reservation("unavailable")
	case errors.Is(err, ErrDrawInactive):
		inv.metrics.Reservation("inactive")
	default:
		inv.metrics.Reservation("error")
	}
}

// freeNumbers returns up to limit numbers of d's range that are not in
// held (sorted ascending), lowest first.
func freeNumbers(d model.Draw, held []int, limit int) []int {
	out := make([]int, 0)
	i := 0
	for n := d.RangeStart; n <= d.RangeEnd; n++ {
		for i < len(held) && held[i] < n {
			i++
		}
		if i < len(held) && held[i] == n {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Release returns an order's number to the pool once the order has left
// PENDING/PAID.  Releasing an order that holds nothing, or one that is
// still PENDING or PAID, is a no-op.
func (inv *Inventory) Release(ctx context.Context, orderID string) error {
	released, err := inv.store.ReleaseNumber(ctx, orderID)
	if err != nil {
		return fmt.Errorf("release %s: %w", orderID, err)
	}
	if released {
		inv.log.Debug("number released", zap.String("order_id", orderID))
	}
	return nil
}

// ReleaseStale drops holds left behind by orders that are no longer
// PENDING or PAID.
func (inv *Inventory) ReleaseStale(ctx context.Context) (int, error) {
	n, err := inv.store.ReleaseStaleHolds(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		inv.log.Info("stale holds released", zap.Int("count", n))
	}
	return n, nil
}

// Available lists the numbers of a draw nobody holds right now.
func (inv *Inventory) Available(ctx context.Context, drawID uint64) ([]int, error) {
	d, err := inv.store.GetDraw(ctx, drawID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDrawNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.Type != model.DrawTypeStandard {
		return nil, ErrDrawInactive
	}
	held, err := inv.store.HeldNumbers(ctx, drawID)
	if err != nil {
		return nil, err
	}
	return freeNumbers(d, held, 0), nil
}
