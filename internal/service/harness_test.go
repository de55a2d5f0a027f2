package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]model.PaymentRecord
	recent   []model.PaymentRecord
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]model.PaymentRecord)}
}

func (g *fakeGateway) put(rec model.PaymentRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[rec.ID] = rec
	g.recent = append([]model.PaymentRecord{rec}, g.recent...)
}

func (g *fakeGateway) GetByID(_ context.Context, id string) (model.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.payments[id]
	if !ok {
		return model.PaymentRecord{}, gateway.ErrNotFound
	}
	return rec, nil
}

func (g *fakeGateway) SearchRecent(_ context.Context, limit int) ([]model.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit > len(g.recent) {
		limit = len(g.recent)
	}
	return append([]model.PaymentRecord(nil), g.recent[:limit]...), nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	anomalies []queue.AnomalyEvent
	confirmed []queue.PaymentConfirmedEvent
}

func (p *recordingPublisher) PublishAnomaly(_ context.Context, ev queue.AnomalyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anomalies = append(p.anomalies, ev)
	return nil
}

func (p *recordingPublisher) PublishPaymentConfirmed(_ context.Context, ev queue.PaymentConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, ev)
	return nil
}

func (p *recordingPublisher) confirmedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.confirmed)
}

type harness struct {
	store  *repository.MemoryStore
	clock  *clock.FakeClock
	gw     *fakeGateway
	pub    *recordingPublisher
	engine *Engine
}

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	opts := DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	h := &harness{
		store: repository.NewMemoryStore(),
		clock: clock.NewFakeClock(testEpoch),
		gw:    newFakeGateway(),
		pub:   &recordingPublisher{},
	}
	h.engine = NewEngine(Deps{
		Store:     h.store,
		Gateway:   h.gw,
		Publisher: h.pub,
		IDs:       node,
		Clock:     h.clock,
		Logger:    zap.NewNop(),
		Options:   opts,
	})
	return h
}

func (h *harness) standardDraw(t *testing.T, start, end int, price, prize string) model.Draw {
	t.Helper()
	d, err := h.engine.Draws.Create(context.Background(), model.Draw{
		Name:       "draw",
		RangeStart: start,
		RangeEnd:   end,
		Price:      decimal.RequireFromString(price),
		PrizeTotal: decimal.RequireFromString(prize),
		IsActive:   true,
		Type:       model.DrawTypeStandard,
	})
	require.NoError(t, err)
	return d
}

func (h *harness) poolCampaign(t *testing.T, baseQty int, price string) model.Draw {
	t.Helper()
	d, err := h.engine.Draws.Create(context.Background(), model.Draw{
		Name:     "bolao",
		Price:    decimal.RequireFromString(price),
		IsActive: true,
		Type:     model.DrawTypePool,
		BaseQty:  baseQty,
	})
	require.NoError(t, err)
	return d
}

func (h *harness) reserve(t *testing.T, drawID uint64, n int, paymentRef string) model.Order {
	t.Helper()
	o, err := h.engine.Inventory.Reserve(context.Background(), ReserveRequest{
		DrawID: drawID, Number: &n, BuyerRef: "cust:1", PaymentRef: paymentRef,
	})
	require.NoError(t, err)
	return o
}

func intPtr(n int) *int { return &n }

func approved(id string, amount string) model.PaymentRecord {
	return model.PaymentRecord{
		ID:                id,
		Status:            model.GatewayApproved,
		StatusDetail:      "accredited",
		TransactionAmount: decimal.RequireFromString(amount),
		DateCreated:       testEpoch,
	}
}
