package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnomalyKind classifies reconciliation events that need operator
// attention.
type AnomalyKind string

const (
	// AnomalyOrphanPayment: the gateway approved a payment that matches
	// no local order or claim.
	AnomalyOrphanPayment AnomalyKind = "ORPHAN_PAYMENT"
	// AnomalyExpiredBeforeConfirm: an approval arrived after the
	// record had already expired.
	AnomalyExpiredBeforeConfirm AnomalyKind = "EXPIRED_BEFORE_CONFIRM"
	// AnomalyCancelledBeforeConfirm: an approval arrived for a record
	// that had been cancelled.
	AnomalyCancelledBeforeConfirm AnomalyKind = "CANCELLED_BEFORE_CONFIRM"
	// AnomalyAmountMismatch: the approved amount differs from the
	// expected price.
	AnomalyAmountMismatch AnomalyKind = "AMOUNT_MISMATCH"
	// AnomalyPaidAfterSettlement: an order was confirmed after its draw
	// had already been settled without it.
	AnomalyPaidAfterSettlement AnomalyKind = "PAID_AFTER_SETTLEMENT"
)

// Anomaly is an entry of the reconciliation anomaly log.  (Kind,
// PaymentRef) is unique so that duplicate deliveries record once.
type Anomaly struct {
	ID             int64           // anomalies.id (snowflake)
	Kind           AnomalyKind     // anomalies.kind
	PaymentRef     string          // anomalies.payment_ref
	RecordID       string          // anomalies.record_id (order or claim id, empty for orphans)
	GatewayStatus  string          // anomalies.gateway_status
	Amount         decimal.Decimal // anomalies.amount
	Detail         string          // anomalies.detail
	Resolved       bool            // anomalies.resolved
	ResolutionNote string          // anomalies.resolution_note
	ResolvedAt     *time.Time      // anomalies.resolved_at (nullable)
	CreatedAt      time.Time       // anomalies.created_at
}

// AnomalyFilter narrows anomaly listings.  Zero values match all.
type AnomalyFilter struct {
	Kind           AnomalyKind
	UnresolvedOnly bool
	Limit          int
}
