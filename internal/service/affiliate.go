package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// chainArena collects the nodes of one resolution, indexed by stable
// key.  Seeing a key twice means the parent links form a cycle.
type chainArena struct {
	nodes []model.Affiliate
	index map[string]int
	limit int
}

func newChainArena(limit int) *chainArena {
	return &chainArena{index: make(map[string]int), limit: limit}
}

func (a *chainArena) add(n model.Affiliate) error {
	if _, seen := a.index[n.Key]; seen {
		return fmt.Errorf("%w: %s revisited after %d hops", ErrCycleDetected, n.Key, len(a.nodes))
	}
	if len(a.nodes) >= a.limit {
		return fmt.Errorf("%w: more than %d levels", ErrChainTooDeep, a.limit)
	}
	a.index[n.Key] = len(a.nodes)
	a.nodes = append(a.nodes, n)
	return nil
}

// AffiliateGraph resolves referral chains and attributes commissions.
type AffiliateGraph struct {
	store     repository.AffiliateStore
	rates     []decimal.Decimal
	maxDepth  int
	precision int32
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewAffiliateGraph(store repository.AffiliateStore, opts Options, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *AffiliateGraph {
	opts = opts.withDefaults()
	return &AffiliateGraph{
		store:     store,
		rates:     opts.CommissionRates,
		maxDepth:  opts.MaxChainDepth,
		precision: opts.RoundingPrecision,
		clock:     clk,
		metrics:   m,
		log:       log.Named("affiliates"),
	}
}

// ResolveChain returns the referral chain starting at referrer (a
// sub-affiliate code, a sub-affiliate phone or a VIP phone) and ending
// at its root.  Sub-affiliate parents are followed by phone; once a
// parent phone belongs to a VIP affiliate the walk continues through
// the VIP tree by parent id.  A parent link pointing at nobody ends the
// chain.
func (g *AffiliateGraph) ResolveChain(ctx context.Context, referrer string) ([]model.Affiliate, error) {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return nil, ErrAffiliateNotFound
	}
	sub, vip, err := g.lookupStart(ctx, referrer)
	if err != nil {
		return nil, err
	}

	arena := newChainArena(g.maxDepth)
	for sub != nil || vip != nil {
		if sub != nil {
			s := *sub
			sub = nil
			if err := arena.add(model.Affiliate{Kind: model.AffiliateSub, Key: model.SubKey(s.Code), Phone: s.Phone}); err != nil {
				return nil, err
			}
			if s.ParentPhone == "" {
				break
			}
			if sub, vip, err = g.lookupPhone(ctx, s.ParentPhone); err != nil {
				if errors.Is(err, ErrAffiliateNotFound) {
					g.log.Warn("dangling parent phone", zap.String("code", s.Code), zap.String("parent_phone", s.ParentPhone))
					break
				}
				return nil, err
			}
			continue
		}
		v := *vip
		vip = nil
		if err := arena.add(model.Affiliate{Kind: model.AffiliateVIP, Key: model.VipKey(v.ID), Phone: v.Phone}); err != nil {
			return nil, err
		}
		if v.ParentID == nil {
			break
		}
		parent, err := g.store.VipAffiliateByID(ctx, *v.ParentID)
		if errors.Is(err, repository.ErrNotFound) {
			g.log.Warn("dangling vip parent", zap.Uint64("id", v.ID), zap.Uint64("parent_id", *v.ParentID))
			break
		}
		if err != nil {
			return nil, err
		}
		vip = &parent
	}
	return arena.nodes, nil
}

func (g *AffiliateGraph) lookupStart(ctx context.Context, referrer string) (*model.SubAffiliate, *model.VipAffiliate, error) {
	s, err := g.store.SubAffiliateByCode(ctx, referrer)
	if err == nil {
		return &s, nil, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}
	return g.lookupPhone(ctx, referrer)
}

// lookupPhone finds the affiliate owning phone, sub-affiliates first.
func (g *AffiliateGraph) lookupPhone(ctx context.Context, phone string) (*model.SubAffiliate, *model.VipAffiliate, error) {
	s, err := g.store.SubAffiliateByPhone(ctx, phone)
	if err == nil {
		return &s, nil, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, err
	}
	v, err := g.store.VipAffiliateByPhone(ctx, phone)
	if err == nil {
		return nil, &v, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrAffiliateNotFound
	}
	return nil, nil, err
}

// AttributeCommission computes per-tier commission lines for order.
// Tier i earns rates[i] of the order price truncated to the rounding
// precision; levels beyond the configured rates earn nothing.  The sum
// of all lines never exceeds the order price.
func (g *AffiliateGraph) AttributeCommission(order model.Order, chain []model.Affiliate) []model.Commission {
	lines := make([]model.Commission, 0, len(chain))
	remaining := order.Price
	now := g.clock.Now()
	for tier, a := range chain {
		if tier >= len(g.rates) || !remaining.IsPositive() {
			break
		}
		rate := g.rates[tier]
		amount := order.Price.Mul(rate).Truncate(g.precision)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if !amount.IsPositive() {
			continue
		}
		remaining = remaining.Sub(amount)
		lines = append(lines, model.Commission{
			OrderID:      order.OrderID,
			Tier:         tier,
			AffiliateKey: a.Key,
			Phone:        a.Phone,
			Rate:         rate,
			Amount:       amount,
			CreatedAt:    now,
		})
	}
	return lines
}

// AttributeOrder resolves the order's referrer and persists its
// commission lines.  Orders without a referrer earn nothing.  Calling
// it again for the same order stores nothing new.
func (g *AffiliateGraph) AttributeOrder(ctx context.Context, order model.Order) ([]model.Commission, error) {
	if order.ReferrerCode == "" {
		return nil, nil
	}
	chain, err := g.ResolveChain(ctx, order.ReferrerCode)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", order.OrderID, err)
	}
	lines := g.AttributeCommission(order, chain)
	n, err := g.store.SaveCommissions(ctx, lines)
	if err != nil {
		return nil, fmt.Errorf("order %s: save commissions: %w", order.OrderID, err)
	}
	g.metrics.Commissions(n)
	if n > 0 {
		g.log.Info("commissions attributed", zap.String("order_id", order.OrderID), zap.Int("lines", n))
	}
	return lines, nil
}
