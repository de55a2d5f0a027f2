package repository

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// DrawStore persists campaigns.
type DrawStore interface {
	// CreateDraw inserts d and fills its ID and CreatedAt.  It returns
	// ErrRangeOverlap when d is an active standard draw whose range
	// intersects another active standard draw.
	CreateDraw(ctx context.Context, d *model.Draw) error
	GetDraw(ctx context.Context, id uint64) (model.Draw, error)
	SetDrawActive(ctx context.Context, id uint64, active bool) error
	// AdvanceRound increments current_round of a pool campaign and
	// returns the new value.
	AdvanceRound(ctx context.Context, id uint64) (int, error)
}

// TicketStore owns number holds.  A hold row exists for every
// (draw, number) currently held by a PENDING or PAID order.
type TicketStore interface {
	// ReserveNumber atomically checks the draw, inserts the hold and
	// inserts the order.  It returns ErrDrawInactive, ErrOutOfRange or
	// ErrNumberTaken.
	ReserveNumber(ctx context.Context, o *model.Order) error
	// ReleaseNumber deletes the hold of an order that is no longer
	// PENDING or PAID.  It reports whether a hold was removed; releasing
	// twice, or releasing an order that still holds, is not an error.
	ReleaseNumber(ctx context.Context, orderID string) (bool, error)
	// ReleaseStaleHolds removes holds whose order is no longer PENDING
	// or PAID and returns how many were removed.
	ReleaseStaleHolds(ctx context.Context) (int, error)
	HeldNumbers(ctx context.Context, drawID uint64) ([]int, error)
}

// Transition is a compare-and-set status change.  PaymentRef is
// written in the same update, and only onto a record that has none.
type Transition struct {
	From       model.Status
	To         model.Status
	Detail     string
	PaymentRef string
	At         time.Time
}

// OrderStore reads orders and applies compare-and-set transitions.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	OrderByPaymentRef(ctx context.Context, paymentRef string) (model.Order, error)
	// TransitionOrder moves the order from `from` to `to` only if it is
	// still in `from`.  It returns the stored order after the attempt
	// and whether this call performed the transition.
	TransitionOrder(ctx context.Context, orderID string, t Transition) (model.Order, bool, error)
	ExpiredOrders(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
	PaidOrdersByDraw(ctx context.Context, drawID uint64) ([]model.Order, error)
}

// ClaimStore persists pool claims.
type ClaimStore interface {
	// CreateClaim locks the campaign, stamps c.Round with its current
	// round and inserts the claim if the round quota allows it.
	CreateClaim(ctx context.Context, c *model.Claim) error
	GetClaim(ctx context.Context, id string) (model.Claim, error)
	ClaimByPaymentRef(ctx context.Context, paymentRef string) (model.Claim, error)
	TransitionClaim(ctx context.Context, id string, t Transition) (model.Claim, bool, error)
	ExpiredClaims(ctx context.Context, now time.Time, limit int) ([]model.Claim, error)
	RoundUsage(ctx context.Context, campaignID uint64) (model.RoundUsage, error)
}

// SettleFunc computes a settlement from the locked draw and its
// winning orders (PAID, drawn number, oldest first).
type SettleFunc func(d model.Draw, winners []model.Order) (model.Settlement, error)

// SettlementStore runs settlements under an exclusive draw lock.
type SettlementStore interface {
	// SettleDraw locks the draw, fails with ErrAlreadySettled when a
	// number was already drawn, loads the PAID orders holding
	// drawnNumber, calls fn and persists its result.
	SettleDraw(ctx context.Context, drawID uint64, drawnNumber int, fn SettleFunc) (model.Settlement, error)
	GetSettlement(ctx context.Context, drawID uint64) (model.Settlement, error)
}

// AffiliateStore resolves referral identities and stores commissions.
type AffiliateStore interface {
	SubAffiliateByCode(ctx context.Context, code string) (model.SubAffiliate, error)
	SubAffiliateByPhone(ctx context.Context, phone string) (model.SubAffiliate, error)
	VipAffiliateByID(ctx context.Context, id uint64) (model.VipAffiliate, error)
	VipAffiliateByPhone(ctx context.Context, phone string) (model.VipAffiliate, error)
	// SaveCommissions inserts commissions, skipping (order, tier) pairs
	// that already exist, and returns how many were inserted.
	SaveCommissions(ctx context.Context, cs []model.Commission) (int, error)
	CommissionsByOrder(ctx context.Context, orderID string) ([]model.Commission, error)
}

// CustomerStore persists buyers.
type CustomerStore interface {
	// UpsertCustomer inserts c or updates name/pix key of the customer
	// with the same phone, filling c.ID.
	UpsertCustomer(ctx context.Context, c *model.Customer) error
	CustomerByPhone(ctx context.Context, phone string) (model.Customer, error)
}

// AnomalyStore is the durable side of the anomaly log.
type AnomalyStore interface {
	// RecordAnomaly inserts a unless an entry with the same kind and
	// payment reference exists.  It reports whether a row was created.
	RecordAnomaly(ctx context.Context, a *model.Anomaly) (bool, error)
	ListAnomalies(ctx context.Context, f model.AnomalyFilter) ([]model.Anomaly, error)
	CountAnomalies(ctx context.Context, f model.AnomalyFilter) (int, error)
	ResolveAnomaly(ctx context.Context, id int64, note string, at time.Time) error
}

// OperatorStore persists back-office accounts.
type OperatorStore interface {
	CreateOperator(ctx context.Context, op *model.Operator) error
	OperatorByEmail(ctx context.Context, email string) (model.Operator, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	DrawStore
	TicketStore
	OrderStore
	ClaimStore
	SettlementStore
	AffiliateStore
	CustomerStore
	AnomalyStore
	OperatorStore
}
