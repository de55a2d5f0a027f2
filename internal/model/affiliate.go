package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SubAffiliate is a flat referral identity addressed by phone.  Its
// parent is whoever owns ParentPhone, which may be another
// sub-affiliate or a VIP affiliate.
type SubAffiliate struct {
	Code        string // sub_affiliates.code
	Phone       string // sub_affiliates.phone
	ParentPhone string // sub_affiliates.parent_phone (empty for roots)
}

// VipAffiliate is a node of the VIP tree addressed by surrogate id.
type VipAffiliate struct {
	ID       uint64  // vip_affiliates.id
	Phone    string  // vip_affiliates.phone
	ParentID *uint64 // vip_affiliates.parent_id (nullable)
}

// AffiliateKind tells which table a chain node came from.
type AffiliateKind string

const (
	AffiliateSub AffiliateKind = "SUB"
	AffiliateVIP AffiliateKind = "VIP"
)

// Affiliate is one resolved node of a referral chain.  Key is stable
// across calls and unique across both affiliate tables.
type Affiliate struct {
	Kind  AffiliateKind
	Key   string
	Phone string
}

// SubKey returns the chain key of a sub-affiliate.
func SubKey(code string) string { return "sub:" + code }

// VipKey returns the chain key of a VIP affiliate.
func VipKey(id uint64) string { return fmt.Sprintf("vip:%d", id) }

// Commission is the referral credit attributed to one chain level for
// one order.  (OrderID, Tier) is unique.
type Commission struct {
	OrderID      string          // commissions.order_id
	Tier         int             // commissions.tier (0 = direct referrer)
	AffiliateKey string          // commissions.affiliate_key
	Phone        string          // commissions.phone
	Rate         decimal.Decimal // commissions.rate
	Amount       decimal.Decimal // commissions.amount
	CreatedAt    time.Time       // commissions.created_at
}
