package repository

import "database/sql"

// MySQLStore is the production Store.  Each embedded repo owns one
// group of tables; all of them share the same connection pool.
type MySQLStore struct {
	*DrawRepo
	*TicketRepo
	*OrderRepo
	*ClaimRepo
	*SettlementRepo
	*AffiliateRepo
	*CustomerRepo
	*AnomalyRepo
	*OperatorRepo
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore wires every repo to db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		DrawRepo:       NewDrawRepo(db),
		TicketRepo:     NewTicketRepo(db),
		OrderRepo:      NewOrderRepo(db),
		ClaimRepo:      NewClaimRepo(db),
		SettlementRepo: NewSettlementRepo(db),
		AffiliateRepo:  NewAffiliateRepo(db),
		CustomerRepo:   NewCustomerRepo(db),
		AnomalyRepo:    NewAnomalyRepo(db),
		OperatorRepo:   NewOperatorRepo(db),
	}
}
