// Package service implements the reconciliation and settlement engine:
// ticket inventory, payment reconciliation, pool claims, draw
// settlement and affiliate commission attribution.  The errors below
// form the engine's taxonomy; handlers map them to HTTP statuses with
// errors.Is.
package service

import "errors"

var (
	// ErrNumberUnavailable is retryable: the caller may pick another number.
	ErrNumberUnavailable = errors.New("number unavailable")
	ErrNumberOutOfRange  = errors.New("number outside draw range")
	ErrDrawInactive      = errors.New("draw is not active")
	ErrDrawNotFound      = errors.New("draw not found")
	ErrRangeOverlap      = errors.New("range overlaps an active draw")
	ErrInvalidDraw       = errors.New("invalid draw")

	ErrQuotaExhausted  = errors.New("round quota exhausted")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	ErrAlreadySettled = errors.New("draw already settled")
	ErrNotSettled     = errors.New("draw not settled")

	ErrExpiredBeforeConfirm   = errors.New("payment confirmed after expiration")
	ErrCancelledBeforeConfirm = errors.New("payment confirmed after cancellation")
	ErrDuplicatePaymentRef    = errors.New("payment reference already used")
	ErrInvalidPaymentRef      = errors.New("invalid payment reference")
	ErrGatewayUnavailable     = errors.New("payment gateway not configured")

	ErrCycleDetected     = errors.New("affiliate chain cycle detected")
	ErrChainTooDeep      = errors.New("affiliate chain too deep")
	ErrAffiliateNotFound = errors.New("affiliate not found")

	ErrInvalidPhone    = errors.New("invalid phone")
	ErrAnomalyNotFound = errors.New("anomaly not found or already resolved")
)
