package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Claim is a pool-campaign reservation of TotalQty units of the
// round's shared quota.  It follows the same lifecycle and
// confirmation rules as Order, keyed by PaymentRef.
type Claim struct {
	ID           string          // claims.id
	CampaignID   uint64          // claims.campaign_id
	PaymentRef   string          // claims.payment_ref
	Phone        string          // claims.phone
	Name         string          // claims.name
	TotalQty     int             // claims.total_qty
	Amount       decimal.Decimal // claims.amount
	Status       Status          // claims.status
	Round        int             // claims.round
	StatusDetail string          // claims.status_detail
	CreatedAt    time.Time       // claims.created_at
	ExpiresAt    time.Time       // claims.expires_at
	PaidAt       *time.Time      // claims.paid_at (nullable)
	UpdatedAt    time.Time       // claims.updated_at
}

// Expired reports whether a PENDING claim has passed its deadline.
func (c Claim) Expired(now time.Time) bool {
	return c.Status == StatusPending && c.ExpiresAt.Before(now)
}

// RoundUsage summarises quota consumption for a pool campaign round.
type RoundUsage struct {
	CampaignID uint64
	Round      int
	Quota      int
	Used       int
}

// Remaining returns the unclaimed quota of the round, never negative.
func (u RoundUsage) Remaining() int {
	if u.Used >= u.Quota {
		return 0
	}
	return u.Quota - u.Used
}
