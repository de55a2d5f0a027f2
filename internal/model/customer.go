package model

import "time"

// Customer is the identity anchor for buyers, affiliates and payouts.
// Phone is unique; PixKey is an opaque payout destination.
type Customer struct {
	ID        uint64    // customers.id
	Phone     string    // customers.phone
	Name      string    // customers.name
	PixKey    string    // customers.pix_key
	CreatedAt time.Time // customers.created_at
}
