package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// CustomerRepo provides access to the customers table.
type CustomerRepo struct {
	db *sql.DB
}

// NewCustomerRepo returns a new CustomerRepo.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{db: db} }

// UpsertCustomer inserts a customer or refreshes name and pix key of
// the existing row with the same phone.  c.ID is set in both cases.
func (r *CustomerRepo) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO customers (phone, name, pix_key, created_at) VALUES (?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE name = VALUES(name), pix_key = COALESCE(VALUES(pix_key), pix_key), id = LAST_INSERT_ID(id)`
	res, err := r.db.ExecContext(ctx, q, c.Phone, c.Name, nullIfEmpty(c.PixKey), c.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// CustomerByPhone returns the customer with the given phone or ErrNotFound.
func (r *CustomerRepo) CustomerByPhone(ctx context.Context, phone string) (model.Customer, error) {
	var c model.Customer
	var pix sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone, name, pix_key, created_at FROM customers WHERE phone = ?`, phone,
	).Scan(&c.ID, &c.Phone, &c.Name, &pix, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Customer{}, ErrNotFound
	}
	if err != nil {
		return model.Customer{}, err
	}
	c.PixKey = pix.String
	return c, nil
}
