package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order records a single numbered-ticket sale for a draw.  It is
// created PENDING when a number is reserved and only the payment
// reconciler (PAID/CANCELLED) or the expiration sweep (EXPIRED) may
// change its status afterwards.
//
// Fields:
//
//	OrderID      – opaque unique identifier (UUID).
//	DrawID       – draw the number belongs to.
//	Number       – reserved ticket number.
//	BuyerRef     – opaque buyer identity.
//	ReferrerCode – affiliate code or phone the sale is attributed to.
//	Price        – price charged for the number.
//	Status       – PENDING, PAID, EXPIRED or CANCELLED.
//	PaymentRef   – gateway payment identifier.
//	StatusDetail – last gateway status detail seen for this order.
//	CreatedAt    – reservation time.
//	ExpiresAt    – when a still-PENDING order becomes EXPIRED.
//	PaidAt       – when the order was confirmed.
//	UpdatedAt    – last update timestamp.
type Order struct {
	OrderID      string          // orders.order_id
	DrawID       uint64          // orders.draw_id
	Number       int             // orders.number
	BuyerRef     string          // orders.buyer_ref
	ReferrerCode string          // orders.referrer_code
	Price        decimal.Decimal // orders.price
	Status       Status          // orders.status
	PaymentRef   string          // orders.payment_ref
	StatusDetail string          // orders.status_detail
	CreatedAt    time.Time       // orders.created_at
	ExpiresAt    time.Time       // orders.expires_at
	PaidAt       *time.Time      // orders.paid_at (nullable)
	UpdatedAt    time.Time       // orders.updated_at
}

// Expired reports whether a PENDING order has passed its deadline.
func (o Order) Expired(now time.Time) bool {
	return o.Status == StatusPending && o.ExpiresAt.Before(now)
}
