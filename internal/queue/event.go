// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Both queues are durable.
const (
	AnomalyQueue          = "reconciliation.anomaly"
	PaymentConfirmedQueue = "payment.confirmed"
)

// AnomalyEvent is published when the reconciler records a new anomaly.
// It carries enough information for an operator to act on it without
// querying the primary database.
type AnomalyEvent struct {
	AnomalyID     int64  `json:"anomaly_id"`
	Kind          string `json:"kind"`
	PaymentRef    string `json:"payment_ref"`
	RecordID      string `json:"record_id,omitempty"`
	GatewayStatus string `json:"gateway_status,omitempty"`
	Amount        string `json:"amount"`
	Detail        string `json:"detail,omitempty"`
	DetectedAt    string `json:"detected_at"`
}

// PaymentConfirmedEvent is published once per order or claim that
// transitions to PAID.
type PaymentConfirmedEvent struct {
	Record     string `json:"record"` // "order" or "claim"
	RecordID   string `json:"record_id"`
	PaymentRef string `json:"payment_ref"`
	DrawID     uint64 `json:"draw_id"`
	Number     int    `json:"number,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
	Amount     string `json:"amount"`
	PaidAt     string `json:"paid_at"`
}
