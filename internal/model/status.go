package model

// Status is the lifecycle state shared by orders and pool claims.
// PENDING is the only state with outgoing transitions; the other three
// are final.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Final reports whether no further transition is allowed out of s.
func (s Status) Final() bool {
	return s != StatusPending
}

// Holding reports whether a record in state s keeps its inventory
// (a ticket number or pool quota) reserved.
func (s Status) Holding() bool {
	return s == StatusPending || s == StatusPaid
}
