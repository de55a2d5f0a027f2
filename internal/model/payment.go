package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gateway payment statuses as reported by the payment provider.
const (
	GatewayApproved  = "approved"
	GatewayPending   = "pending"
	GatewayInProcess = "in_process"
	GatewayCancelled = "cancelled"
	GatewayRejected  = "rejected"
)

// PaymentRecord is a read-only view of a payment held by the external
// gateway.  The engine never mutates it; Status is authoritative.
type PaymentRecord struct {
	ID                string
	Status            string
	StatusDetail      string
	TransactionAmount decimal.Decimal
	DateCreated       time.Time
	DateOfExpiration  *time.Time
	ExternalReference string
	Payer             Payer
	Metadata          map[string]any
}

// Payer carries the payer fields the engine reads from a payment.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	IDType    string
	IDNumber  string
}

// LocalStatus maps a gateway status onto the order/claim lifecycle.
// Unknown statuses map to PENDING so that nothing is transitioned on
// information the engine does not understand.
func (p PaymentRecord) LocalStatus() Status {
	switch p.Status {
	case GatewayApproved:
		return StatusPaid
	case GatewayCancelled, GatewayRejected:
		return StatusCancelled
	default:
		return StatusPending
	}
}
