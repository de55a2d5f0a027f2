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

type ClaimRequest struct {
	CampaignID uint64
	Qty        int
	Phone      string
	Name       string
	PaymentRef string
}

// PoolAllocator hands out quota of round-based pool campaigns.  Each
// round offers the campaign's base quantity; PENDING and PAID claims
// of the round consume it.
type PoolAllocator struct {
	store   repository.Store
	clock   clock.Clock
	window  time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewPoolAllocator(store repository.Store, clk clock.Clock, window time.Duration, m *metrics.Metrics, log *zap.Logger) *PoolAllocator {
	return &PoolAllocator{store: store, clock: clk, window: window, metrics: m, log: log.Named("pool")}
}

// AllocateClaim creates a PENDING claim of req.Qty units in the
// campaign's current round.
func (p *PoolAllocator) AllocateClaim(ctx context.Context, req ClaimRequest) (model.Claim, error) {
	if req.Qty < 1 {
		return model.Claim{}, ErrInvalidQuantity
	}
	if err := ValidatePaymentRef(req.PaymentRef); err != nil {
		return model.Claim{}, err
	}
	now := p.clock.Now()
	c := model.Claim{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		PaymentRef: req.PaymentRef,
		Phone:      req.Phone,
		Name:       req.Name,
		TotalQty:   req.Qty,
		Status:     model.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.window),
	}
	err := p.store.CreateClaim(ctx, &c)
	switch {
	case err == nil:
		p.metrics.Claim("ok")
		p.log.Info("claim allocated",
			zap.String("claim_id", c.ID),
			zap.Uint64("campaign_id", c.CampaignID),
			zap.Int("round", c.Round),
			zap.Int("qty", c.TotalQty),
		)
		return c, nil
	case errors.Is(err, repository.ErrQuotaExhausted):
		p.metrics.Claim("exhausted")
		return model.Claim{}, ErrQuotaExhausted
	case errors.Is(err, repository.ErrDrawInactive):
		p.metrics.Claim("inactive")
		return model.Claim{}, ErrDrawInactive
	case errors.Is(err, repository.ErrDuplicate):
		p.metrics.Claim("error")
		return model.Claim{}, ErrDuplicatePaymentRef
	default:
		p.metrics.Claim("error")
		return model.Claim{}, fmt.Errorf("allocate claim: %w", err)
	}
}

// AdvanceRound opens the next round of a pool campaign.  Pending
// claims of the previous round keep their round number.
func (p *PoolAllocator) AdvanceRound(ctx context.Context, campaignID uint64) (int, error) {
	round, err := p.store.AdvanceRound(ctx, campaignID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return 0, ErrDrawNotFound
	case errors.Is(err, repository.ErrDrawInactive):
		return 0, fmt.Errorf("%w: campaign %d is not a pool campaign", ErrDrawInactive, campaignID)
	case err != nil:
		return 0, err
	}
	p.log.Info("round advanced", zap.Uint64("campaign_id", campaignID), zap.Int("round", round))
	return round, nil
}

func (p *PoolAllocator) RoundUsage(ctx context.Context, campaignID uint64) (model.RoundUsage, error) {
	u, err := p.store.RoundUsage(ctx, campaignID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.RoundUsage{}, ErrDrawNotFound
	case errors.Is(err, repository.ErrDrawInactive):
		return model.RoundUsage{}, fmt.Errorf("%w: campaign %d is not a pool campaign", ErrDrawInactive, campaignID)
	}
	return u, err
}
