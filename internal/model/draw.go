package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrawType distinguishes numbered-ticket draws from pooled (bolão)
// campaigns.  Pool campaigns never allocate individual numbers; their
// claims consume a shared per-round quota instead.
type DrawType string

const (
	DrawTypeStandard DrawType = "STANDARD"
	DrawTypePool     DrawType = "POOL"
)

// Draw represents a raffle campaign as stored in the `draws` table.  A
// draw sells the numbers in [RangeStart, RangeEnd] at Price each and
// pays PrizeTotal, split equally, to the holders of the drawn number.
//
// Fields:
//
//	ID              – primary key identifier.
//	Name            – display name of the campaign.
//	RangeStart      – first sellable number (inclusive).
//	RangeEnd        – last sellable number (inclusive).
//	Price           – price of one number (or one pool unit).
//	PrizeTotal      – prize pool split among winners at settlement.
//	IsActive        – whether reservations/claims are accepted.
//	Type            – STANDARD or POOL.
//	CurrentRound    – pool round counter (pool campaigns only).
//	BaseQty         – pool quota per round (pool campaigns only).
//	DrawnNumber     – winning number; nil until settled.
//	WinnersCount    – cached number of winners, set at settlement.
//	PayoutEach      – cached per-winner payout, set at settlement.
//	PayoutRemainder – amount banked after truncating the split.
//	NeedsReview     – set when a settlement found no winners.
//	SettledAt       – when the draw was settled.
//	CreatedAt       – creation timestamp.
type Draw struct {
	ID              uint64          // draws.id
	Name            string          // draws.name
	RangeStart      int             // draws.range_start
	RangeEnd        int             // draws.range_end
	Price           decimal.Decimal // draws.price
	PrizeTotal      decimal.Decimal // draws.prize_total
	IsActive        bool            // draws.is_active
	Type            DrawType        // draws.type
	CurrentRound    int             // draws.current_round
	BaseQty         int             // draws.base_qty
	DrawnNumber     *int            // draws.drawn_number (nullable)
	WinnersCount    int             // draws.winners_count
	PayoutEach      decimal.Decimal // draws.payout_each
	PayoutRemainder decimal.Decimal // draws.payout_remainder
	NeedsReview     bool            // draws.needs_review
	SettledAt       *time.Time      // draws.settled_at (nullable)
	CreatedAt       time.Time       // draws.created_at
}

// Contains reports whether n lies inside the draw's number range.
func (d Draw) Contains(n int) bool {
	return n >= d.RangeStart && n <= d.RangeEnd
}

// Settled reports whether a winning number has been recorded.
func (d Draw) Settled() bool {
	return d.DrawnNumber != nil
}

// Overlaps reports whether the number ranges of d and o intersect.
func (d Draw) Overlaps(o Draw) bool {
	return d.RangeStart <= o.RangeEnd && o.RangeStart <= d.RangeEnd
}
