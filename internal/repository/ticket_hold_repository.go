package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// TicketRepo provides data access to the ticket_holds table.  A hold
// row is the exclusive claim on a (draw_id, number) pair; its primary
// key is what makes two concurrent reservations of the same number
// yield exactly one success.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the provided database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// ReserveNumber creates the hold and the PENDING order in a single
// transaction.  The draw row is read with a shared lock so that a
// concurrent settlement (which takes an exclusive lock) cannot slip
// between the activity check and the insert.
//
// It returns ErrDrawInactive when the draw is missing, inactive or a
// pool campaign, ErrOutOfRange when the number is outside the draw's
// range and ErrNumberTaken when the hold already exists.
func (r *TicketRepo) ReserveNumber(ctx context.Context, o *model.Order) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var start, end int
		var active bool
		var typ string
		err := tx.QueryRowContext(ctx,
			`SELECT range_start, range_end, is_active, type FROM draws WHERE id = ? LOCK IN SHARE MODE`,
			o.DrawID,
		).Scan(&start, &end, &active, &typ)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDrawInactive
		}
		if err != nil {
			return err
		}
		if !active || model.DrawType(typ) != model.DrawTypeStandard {
			return ErrDrawInactive
		}
		if o.Number < start || o.Number > end {
			return ErrOutOfRange
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_holds (draw_id, number, order_id) VALUES (?, ?, ?)`,
			o.DrawID, o.Number, o.OrderID,
		); err != nil {
			if isDuplicateKey(err) {
				return ErrNumberTaken
			}
			return err
		}
		const q = `INSERT INTO orders (order_id, draw_id, number, buyer_ref, referrer_code, price, status, payment_ref, created_at, expires_at, updated_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			o.OrderID, o.DrawID, o.Number, o.BuyerRef, nullIfEmpty(o.ReferrerCode), o.Price,
			string(o.Status), nullIfEmpty(o.PaymentRef), o.CreatedAt, o.ExpiresAt, o.CreatedAt,
		); err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicate
			}
			return err
		}
		o.UpdatedAt = o.CreatedAt
		return nil
	})
}

// ReleaseNumber deletes the hold owned by orderID once the order has
// left PENDING/PAID.  It returns false when there was nothing to
// release or the order still holds its number, neither being an error.
func (r *TicketRepo) ReleaseNumber(ctx context.Context, orderID string) (bool, error) {
	const q = `DELETE h FROM ticket_holds h
               LEFT JOIN orders o ON o.order_id = h.order_id
               WHERE h.order_id = ? AND (o.order_id IS NULL OR o.status NOT IN ('PENDING', 'PAID'))`
	res, err := r.db.ExecContext(ctx, q, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseStaleHolds deletes holds whose order has left PENDING/PAID
// (or no longer exists).  Such holds remain only when a process died
// between a status transition and the matching release.
func (r *TicketRepo) ReleaseStaleHolds(ctx context.Context) (int, error) {
	const q = `DELETE h FROM ticket_holds h
               LEFT JOIN orders o ON o.order_id = h.order_id
               WHERE o.order_id IS NULL OR o.status NOT IN ('PENDING', 'PAID')`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// HeldNumbers lists the numbers currently held for a draw in
// ascending order.  The result is informational only; allocation
// always revalidates through ReserveNumber.
func (r *TicketRepo) HeldNumbers(ctx context.Context, drawID uint64) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT number FROM ticket_holds WHERE draw_id = ? ORDER BY number`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	held := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		held = append(held, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return held, nil
}
