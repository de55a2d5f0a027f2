package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// SettlementRepo writes and reads draw settlements.
type SettlementRepo struct {
	db *sql.DB
}

// NewSettlementRepo returns a new SettlementRepo bound to the given database.
func NewSettlementRepo(db *sql.DB) *SettlementRepo { return &SettlementRepo{db: db} }

// SettleDraw settles a draw exactly once.  The draw row is locked FOR
// UPDATE for the whole transaction; the PAID orders holding the drawn
// number are read in purchase order and handed to fn, whose result is
// persisted as the draw aggregates and the draw_winners lines.  A draw
// that already carries a drawn number yields ErrAlreadySettled and fn
// is never called.
func (r *SettlementRepo) SettleDraw(ctx context.Context, drawID uint64, drawnNumber int, fn SettleFunc) (model.Settlement, error) {
	var out model.Settlement
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		d, err := scanDraw(tx.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ? FOR UPDATE`, drawID))
		if err != nil {
			return err
		}
		if d.Settled() {
			return ErrAlreadySettled
		}
		const wq = `SELECT ` + orderColumns + ` FROM orders
                    WHERE draw_id = ? AND number = ? AND status = 'PAID'
                    ORDER BY created_at, order_id`
		rows, err := tx.QueryContext(ctx, wq, drawID, drawnNumber)
		if err != nil {
			return err
		}
		winners, err := scanOrders(rows)
		if err != nil {
			return err
		}
		s, err := fn(d, winners)
		if err != nil {
			return err
		}
		const uq = `UPDATE draws
                    SET drawn_number = ?, winners_count = ?, payout_each = ?, payout_remainder = ?,
                        needs_review = ?, settled_at = ?, is_active = 0
                    WHERE id = ? AND drawn_number IS NULL`
		res, err := tx.ExecContext(ctx, uq,
			s.DrawnNumber, s.WinnersCount, s.PayoutEach, s.Remainder, s.NeedsReview, s.SettledAt, drawID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return ErrAlreadySettled
		}
		if len(s.Winners) > 0 {
			var sb strings.Builder
			sb.WriteString(`INSERT INTO draw_winners (draw_id, position, order_id, buyer_ref, payout, purchased_at) VALUES `)
			args := make([]any, 0, len(s.Winners)*6)
			for i, w := range s.Winners {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString("(?, ?, ?, ?, ?, ?)")
				args = append(args, drawID, w.Position, w.OrderID, w.BuyerRef, w.Payout, w.PurchasedAt)
			}
			if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	if err != nil {
		return model.Settlement{}, err
	}
	return out, nil
}

// GetSettlement rebuilds the settlement of a settled draw from the
// cached aggregates.  Unsettled draws yield ErrNotFound.
func (r *SettlementRepo) GetSettlement(ctx context.Context, drawID uint64) (model.Settlement, error) {
	d, err := scanDraw(r.db.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ?`, drawID))
	if err != nil {
		return model.Settlement{}, err
	}
	if !d.Settled() {
		return model.Settlement{}, ErrNotFound
	}
	s := settlementFromDraw(d)
	rows, err := r.db.QueryContext(ctx,
		`SELECT position, order_id, buyer_ref, payout, purchased_at FROM draw_winners WHERE draw_id = ? ORDER BY position`,
		drawID,
	)
	if err != nil {
		return model.Settlement{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var w model.WinnerLine
		if err := rows.Scan(&w.Position, &w.OrderID, &w.BuyerRef, &w.Payout, &w.PurchasedAt); err != nil {
			return model.Settlement{}, err
		}
		s.Winners = append(s.Winners, w)
	}
	if err := rows.Err(); err != nil {
		return model.Settlement{}, err
	}
	return s, nil
}

func settlementFromDraw(d model.Draw) model.Settlement {
	s := model.Settlement{
		DrawID:       d.ID,
		PrizeTotal:   d.PrizeTotal,
		WinnersCount: d.WinnersCount,
		PayoutEach:   d.PayoutEach,
		Remainder:    d.PayoutRemainder,
		NeedsReview:  d.NeedsReview,
		Winners:      []model.WinnerLine{},
	}
	if d.DrawnNumber != nil {
		s.DrawnNumber = *d.DrawnNumber
	}
	if d.SettledAt != nil {
		s.SettledAt = *d.SettledAt
	}
	return s
}
