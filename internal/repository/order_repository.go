package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// OrderRepo provides read access and guarded status transitions for
// the orders table.  Status is never written unconditionally: every
// update is a compare-and-set on the current status, which is what
// makes confirmation and expiration mutually exclusive.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `order_id, draw_id, number, buyer_ref, referrer_code, price, status, payment_ref,
       status_detail, created_at, expires_at, paid_at, updated_at`

func scanOrder(r rowScanner) (model.Order, error) {
	var o model.Order
	var status string
	var referrer, paymentRef, detail sql.NullString
	var paidAt sql.NullTime
	err := r.Scan(
		&o.OrderID, &o.DrawID, &o.Number, &o.BuyerRef, &referrer, &o.Price, &status, &paymentRef,
		&detail, &o.CreatedAt, &o.ExpiresAt, &paidAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	o.Status = model.Status(status)
	o.ReferrerCode = referrer.String
	o.PaymentRef = paymentRef.String
	o.StatusDetail = detail.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	defer rows.Close()
	out := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder returns the order with the given ID or ErrNotFound.
func (r *OrderRepo) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID))
}

// OrderByPaymentRef returns the order carrying the gateway payment
// reference or ErrNotFound.
func (r *OrderRepo) OrderByPaymentRef(ctx context.Context, paymentRef string) (model.Order, error) {
	if paymentRef == "" {
		return model.Order{}, ErrNotFound
	}
	return scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_ref = ?`, paymentRef))
}

// TransitionOrder moves an order from `from` to `to` only when its
// status is still `from`.  The row is re-read inside the same
// transaction so the caller always sees the state that won.  The
// boolean result is true only for the call that performed the update.
// A payment reference already in use by another order yields
// ErrDuplicate.
func (r *OrderRepo) TransitionOrder(ctx context.Context, orderID string, t Transition) (model.Order, bool, error) {
	var out model.Order
	var applied bool
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var paidAt any
		if t.To == model.StatusPaid {
			paidAt = t.At
		}
		const q = `UPDATE orders
                   SET status = ?, status_detail = COALESCE(?, status_detail), payment_ref = COALESCE(payment_ref, ?),
                       paid_at = COALESCE(?, paid_at), updated_at = ?
                   WHERE order_id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, q, string(t.To), nullIfEmpty(t.Detail), nullIfEmpty(t.PaymentRef), paidAt, t.At,
			orderID, string(t.From))
		if err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicate
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n == 1
		out, err = scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID))
		return err
	})
	if err != nil {
		return model.Order{}, false, err
	}
	return out, applied, nil
}

// ExpiredOrders lists PENDING orders whose expires_at is strictly
// before now, oldest deadline first.
func (r *OrderRepo) ExpiredOrders(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders
               WHERE status = 'PENDING' AND expires_at < ?
               ORDER BY expires_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// PaidOrdersByDraw lists the PAID orders of a draw by purchase time.
func (r *OrderRepo) PaidOrdersByDraw(ctx context.Context, drawID uint64) ([]model.Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders
               WHERE draw_id = ? AND status = 'PAID'
               ORDER BY created_at, order_id`
	rows, err := r.db.QueryContext(ctx, q, drawID)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}
