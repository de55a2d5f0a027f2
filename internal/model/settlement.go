package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WinnerLine is one winning order of a settled draw.  Position is the
// 1-based purchase order (earliest first); it is informational and
// does not weight the payout.
type WinnerLine struct {
	Position    int             // draw_winners.position
	OrderID     string          // draw_winners.order_id
	BuyerRef    string          // draw_winners.buyer_ref
	Payout      decimal.Decimal // draw_winners.payout
	PurchasedAt time.Time       // draw_winners.purchased_at
}

// Settlement is the one-time outcome of a draw.  The invariant
// PayoutEach*WinnersCount + Remainder == PrizeTotal holds exactly.
type Settlement struct {
	DrawID       uint64
	DrawnNumber  int
	PrizeTotal   decimal.Decimal
	WinnersCount int
	PayoutEach   decimal.Decimal
	Remainder    decimal.Decimal
	NeedsReview  bool
	Winners      []WinnerLine
	SettledAt    time.Time
}
