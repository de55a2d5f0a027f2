package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionMode selects when affiliate commissions are attributed.
type CommissionMode string

const (
	// CommissionOnPurchase attributes when an order becomes PAID.
	CommissionOnPurchase CommissionMode = "purchase"
	// CommissionOnSettlement attributes every PAID order of a draw when
	// the draw settles.
	CommissionOnSettlement CommissionMode = "settlement"
)

// Options holds the engine's business configuration.
type Options struct {
	ExpirationWindow  time.Duration
	CommissionRates   []decimal.Decimal
	MaxChainDepth     int
	// RoundingPrecision is the number of decimal places kept when
	// splitting money; zero keeps whole units.
	RoundingPrecision int32
	CommissionMode    CommissionMode
}

func DefaultOptions() Options {
	return Options{
		ExpirationWindow: 15 * time.Minute,
		CommissionRates: []decimal.Decimal{
			decimal.RequireFromString("0.10"),
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.02"),
		},
		MaxChainDepth:     10,
		RoundingPrecision: 2,
		CommissionMode:    CommissionOnPurchase,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ExpirationWindow <= 0 {
		o.ExpirationWindow = d.ExpirationWindow
	}
	if o.CommissionRates == nil {
		o.CommissionRates = d.CommissionRates
	}
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = d.MaxChainDepth
	}
	if o.RoundingPrecision < 0 {
		o.RoundingPrecision = d.RoundingPrecision
	}
	if o.CommissionMode == "" {
		o.CommissionMode = d.CommissionMode
	}
	return o
}
