package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// Settlement computes the winners and payout of a draw once.  The
// store holds an exclusive lock on the draw for the whole computation,
// and a settled draw is never recomputed.
type Settlement struct {
	store      repository.Store
	affiliates *AffiliateGraph
	mode       CommissionMode
	precision  int32
	clock      clock.Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewSettlement(store repository.Store, affiliates *AffiliateGraph, opts Options, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Settlement {
	opts = opts.withDefaults()
	return &Settlement{
		store:      store,
		affiliates: affiliates,
		mode:       opts.CommissionMode,
		precision:  opts.RoundingPrecision,
		clock:      clk,
		metrics:    m,
		log:        log.Named("settlement"),
	}
}

// Settle records drawnNumber as the winning number of drawID.  Winners
// are the PAID orders holding that number, earliest purchase first;
// they split the prize equally, truncated to the rounding precision,
// and the remainder is banked on the draw.  With no winners the prize
// is retained and the draw is flagged for review.  The draw is closed
// for sale afterwards.
func (s *Settlement) Settle(ctx context.Context, drawID uint64, drawnNumber int) (model.Settlement, error) {
	out, err := s.store.SettleDraw(ctx, drawID, drawnNumber, func(d model.Draw, winners []model.Order) (model.Settlement, error) {
		if d.Type != model.DrawTypeStandard {
			return model.Settlement{}, fmt.Errorf("%w: pool campaigns are not settled by number", ErrInvalidDraw)
		}
		if !d.Contains(drawnNumber) {
			return model.Settlement{}, ErrNumberOutOfRange
		}
		return s.compute(d, drawnNumber, winners), nil
	})
	switch {
	case errors.Is(err, repository.ErrAlreadySettled):
		s.metrics.Settlement("rejected")
		return model.Settlement{}, ErrAlreadySettled
	case errors.Is(err, repository.ErrNotFound):
		return model.Settlement{}, ErrDrawNotFound
	case err != nil:
		return model.Settlement{}, err
	}

	outcome := "winners"
	if out.NeedsReview {
		outcome = "no_winner"
	}
	s.metrics.Settlement(outcome)
	s.log.Info("draw settled",
		zap.Uint64("draw_id", drawID),
		zap.Int("drawn_number", drawnNumber),
		zap.Int("winners", out.WinnersCount),
		zap.String("payout_each", out.PayoutEach.String()),
		zap.String("remainder", out.Remainder.String()),
	)
	if s.mode == CommissionOnSettlement && s.affiliates != nil {
		s.attributeDraw(ctx, drawID)
	}
	return out, nil
}

func (s *Settlement) compute(d model.Draw, drawnNumber int, winners []model.Order) model.Settlement {
	each, rem := SplitEqually(d.PrizeTotal, len(winners), s.precision)
	lines := make([]model.WinnerLine, 0, len(winners))
	for i, o := range winners {
		lines = append(lines, model.WinnerLine{
			Position:    i + 1,
			OrderID:     o.OrderID,
			BuyerRef:    o.BuyerRef,
			Payout:      each,
			PurchasedAt: o.CreatedAt,
		})
	}
	return model.Settlement{
		DrawID:       d.ID,
		DrawnNumber:  drawnNumber,
		PrizeTotal:   d.PrizeTotal,
		WinnersCount: len(winners),
		PayoutEach:   each,
		Remainder:    rem,
		NeedsReview:  len(winners) == 0,
		Winners:      lines,
		SettledAt:    s.clock.Now(),
	}
}

// attributeDraw credits commissions for every PAID order of a settled
// draw.  Failures are logged per order; the settlement stands.
func (s *Settlement) attributeDraw(ctx context.Context, drawID uint64) {
	orders, err := s.store.PaidOrdersByDraw(ctx, drawID)
	if err != nil {
		s.log.Error("load paid orders for commissions", zap.Uint64("draw_id", drawID), zap.Error(err))
		return
	}
	for _, o := range orders {
		if _, err := s.affiliates.AttributeOrder(ctx, o); err != nil {
			s.log.Error("commission attribution failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}
}

// Get returns the stored settlement of a draw.
func (s *Settlement) Get(ctx context.Context, drawID uint64) (model.Settlement, error) {
	out, err := s.store.GetSettlement(ctx, drawID)
	if errors.Is(err, repository.ErrNotFound) {
		if _, derr := s.store.GetDraw(ctx, drawID); errors.Is(derr, repository.ErrNotFound) {
			return model.Settlement{}, ErrDrawNotFound
		}
		return model.Settlement{}, ErrNotSettled
	}
	return out, err
}
