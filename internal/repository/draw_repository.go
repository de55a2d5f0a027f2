package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// DrawRepo provides access to the draws table.  Range overlap checks
// and round advancement run in transactions that lock the affected
// rows so that concurrent operators cannot interleave.
type DrawRepo struct {
	db *sql.DB
}

// NewDrawRepo returns a new DrawRepo bound to the provided database.
func NewDrawRepo(db *sql.DB) *DrawRepo { return &DrawRepo{db: db} }

const drawColumns = `id, name, range_start, range_end, price, prize_total, is_active, type,
       current_round, base_qty, drawn_number, winners_count, payout_each, payout_remainder,
       needs_review, settled_at, created_at`

func scanDraw(r rowScanner) (model.Draw, error) {
	var d model.Draw
	var typ string
	var drawn sql.NullInt64
	var settled sql.NullTime
	err := r.Scan(
		&d.ID, &d.Name, &d.RangeStart, &d.RangeEnd, &d.Price, &d.PrizeTotal, &d.IsActive, &typ,
		&d.CurrentRound, &d.BaseQty, &drawn, &d.WinnersCount, &d.PayoutEach, &d.PayoutRemainder,
		&d.NeedsReview, &settled, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Draw{}, ErrNotFound
	}
	if err != nil {
		return model.Draw{}, err
	}
	d.Type = model.DrawType(typ)
	if drawn.Valid {
		n := int(drawn.Int64)
		d.DrawnNumber = &n
	}
	if settled.Valid {
		t := settled.Time
		d.SettledAt = &t
	}
	return d, nil
}

// checkOverlapTx returns ErrRangeOverlap when another active standard
// draw intersects [start, end].  The matching rows are locked so that
// two overlapping activations serialize.
func checkOverlapTx(ctx context.Context, tx *sql.Tx, excludeID uint64, start, end int) error {
	const q = `SELECT id FROM draws
               WHERE is_active = 1 AND type = 'STANDARD' AND id <> ?
                 AND range_start <= ? AND range_end >= ?
               LIMIT 1 FOR UPDATE`
	var id uint64
	err := tx.QueryRowContext(ctx, q, excludeID, end, start).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrRangeOverlap
}

// CreateDraw inserts a new draw and populates its ID.  Active standard
// draws are checked for range overlap in the same transaction.
func (r *DrawRepo) CreateDraw(ctx context.Context, d *model.Draw) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.CurrentRound == 0 {
		d.CurrentRound = 1
	}
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if d.IsActive && d.Type == model.DrawTypeStandard {
			if err := checkOverlapTx(ctx, tx, 0, d.RangeStart, d.RangeEnd); err != nil {
				return err
			}
		}
		const q = `INSERT INTO draws (name, range_start, range_end, price, prize_total, is_active, type, current_round, base_qty, created_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := tx.ExecContext(ctx, q,
			d.Name, d.RangeStart, d.RangeEnd, d.Price, d.PrizeTotal, d.IsActive, string(d.Type),
			d.CurrentRound, d.BaseQty, d.CreatedAt,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		d.ID = uint64(id)
		return nil
	})
}

// GetDraw returns the draw with the given ID or ErrNotFound.
func (r *DrawRepo) GetDraw(ctx context.Context, id uint64) (model.Draw, error) {
	return scanDraw(r.db.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ?`, id))
}

// SetDrawActive toggles is_active.  Activating a standard draw
// re-checks the range overlap rule.
func (r *DrawRepo) SetDrawActive(ctx context.Context, id uint64, active bool) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		d, err := scanDraw(tx.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE id = ? FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if active && d.Type == model.DrawTypeStandard {
			if d.Settled() {
				return ErrAlreadySettled
			}
			if err := checkOverlapTx(ctx, tx, id, d.RangeStart, d.RangeEnd); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE draws SET is_active = ? WHERE id = ?`, active, id)
		return err
	})
}

// AdvanceRound increments current_round of a pool campaign.  The row
// is locked so that claims allocated concurrently see either the old
// or the new round, never a mix.
func (r *DrawRepo) AdvanceRound(ctx context.Context, id uint64) (int, error) {
	var round int
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var typ string
		err := tx.QueryRowContext(ctx, `SELECT type, current_round FROM draws WHERE id = ? FOR UPDATE`, id).Scan(&typ, &round)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.DrawType(typ) != model.DrawTypePool {
			return ErrDrawInactive
		}
		round++
		_, err = tx.ExecContext(ctx, `UPDATE draws SET current_round = ? WHERE id = ?`, round, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return round, nil
}
