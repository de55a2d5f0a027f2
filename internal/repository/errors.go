// Package repository defines the persistence boundary of the engine.
// These sentinel values allow higher layers such as services and
// handlers to distinguish between different failure scenarios without
// depending on driver error types.  For example, ErrNumberTaken
// signals that another order already holds a ticket number, while
// ErrAlreadySettled protects a draw whose winners were computed.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNumberTaken is returned when a (draw, number) pair is already held
// by a PENDING or PAID order.
var ErrNumberTaken = errors.New("number already held")

// ErrDrawInactive is returned when a draw is missing, inactive or of
// the wrong type for the requested operation.
var ErrDrawInactive = errors.New("draw is not active")

// ErrOutOfRange is returned when a ticket number lies outside the
// draw's range.
var ErrOutOfRange = errors.New("number outside draw range")

// ErrRangeOverlap is returned when an active standard draw would share
// ticket numbers with another active standard draw.
var ErrRangeOverlap = errors.New("range overlaps an active draw")

// ErrQuotaExhausted is returned when a pool claim does not fit in the
// remaining quota of the current round.
var ErrQuotaExhausted = errors.New("round quota exhausted")

// ErrAlreadySettled is returned when a draw already has a drawn number.
var ErrAlreadySettled = errors.New("draw already settled")

// ErrDuplicate is returned when a unique key (email, phone, payment
// reference) already exists.
var ErrDuplicate = errors.New("duplicate record")

// mysqlDuplicateEntry is the server error number for unique key
// violations (ER_DUP_ENTRY).
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
