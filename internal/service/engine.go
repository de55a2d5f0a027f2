package service

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// Deps are the collaborators shared by every engine component.
// Gateway and Publisher may be nil: without a gateway only Confirm,
// Cancel, Apply and SweepExpired work; without a publisher events are
// only persisted and logged.
type Deps struct {
	Store     repository.Store
	Gateway   PaymentGateway
	Publisher EventPublisher
	IDs       *snowflake.Node
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Options   Options
}

// Engine bundles the engine components wired to one store.
type Engine struct {
	Inventory  *Inventory
	Reconciler *Reconciler
	Pool       *PoolAllocator
	Settlement *Settlement
	Affiliates *AffiliateGraph
	Draws      *Draws
	Customers  *Customers
	Anomalies  *AnomalyLog
}

func NewEngine(d Deps) *Engine {
	opts := d.Options.withDefaults()
	clk := d.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ids := d.IDs
	if ids == nil {
		ids, _ = snowflake.NewNode(0)
	}

	inv := NewInventory(d.Store, clk, opts.ExpirationWindow, d.Metrics, log)
	aff := NewAffiliateGraph(d.Store, opts, clk, d.Metrics, log)
	anomalies := NewAnomalyLog(d.Store, ids, d.Publisher, clk, d.Metrics, log)
	return &Engine{
		Inventory: inv,
		Reconciler: NewReconciler(ReconcilerDeps{
			Store:      d.Store,
			Inventory:  inv,
			Affiliates: aff,
			Anomalies:  anomalies,
			Gateway:    d.Gateway,
			Publisher:  d.Publisher,
			Mode:       opts.CommissionMode,
			Clock:      clk,
			Metrics:    d.Metrics,
			Logger:     log,
		}),
		Pool:       NewPoolAllocator(d.Store, clk, opts.ExpirationWindow, d.Metrics, log),
		Settlement: NewSettlement(d.Store, aff, opts, clk, d.Metrics, log),
		Affiliates: aff,
		Draws:      NewDraws(d.Store, log),
		Customers:  NewCustomers(d.Store),
		Anomalies:  anomalies,
	}
}
