package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// ClaimRepo provides data access to pool campaign claims.  Quota
// checks lock the campaign row, so claims of one campaign allocate
// one at a time while other campaigns proceed independently.
type ClaimRepo struct {
	db *sql.DB
}

// NewClaimRepo returns a new ClaimRepo bound to the given database.
func NewClaimRepo(db *sql.DB) *ClaimRepo { return &ClaimRepo{db: db} }

const claimColumns = `id, campaign_id, payment_ref, phone, name, total_qty, amount, status, round,
       status_detail, created_at, expires_at, paid_at, updated_at`

func scanClaim(r rowScanner) (model.Claim, error) {
	var c model.Claim
	var status string
	var paymentRef, detail sql.NullString
	var paidAt sql.NullTime
	err := r.Scan(
		&c.ID, &c.CampaignID, &paymentRef, &c.Phone, &c.Name, &c.TotalQty, &c.Amount, &status, &c.Round,
		&detail, &c.CreatedAt, &c.ExpiresAt, &paidAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, ErrNotFound
	}
	if err != nil {
		return model.Claim{}, err
	}
	c.Status = model.Status(status)
	c.PaymentRef = paymentRef.String
	c.StatusDetail = detail.String
	if paidAt.Valid {
		t := paidAt.Time
		c.PaidAt = &t
	}
	return c, nil
}

// usedQuotaTx sums the units held (PENDING or PAID) in a round.
func usedQuotaTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, campaignID uint64, round int) (int, error) {
	var used int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_qty), 0) FROM claims WHERE campaign_id = ? AND round = ? AND status IN ('PENDING', 'PAID')`,
		campaignID, round,
	).Scan(&used)
	return used, err
}

// CreateClaim allocates quota for a claim.  The campaign row is locked
// FOR UPDATE, the claim is stamped with the campaign's current round
// and its amount (price × quantity), and the insert happens only when
// the round still has room.  It returns ErrDrawInactive for missing,
// inactive or standard campaigns and ErrQuotaExhausted when the round
// is full.
func (r *ClaimRepo) CreateClaim(ctx context.Context, c *model.Claim) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var active bool
		var typ string
		var round, base int
		var price decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`SELECT is_active, type, current_round, base_qty, price FROM draws WHERE id = ? FOR UPDATE`,
			c.CampaignID,
		).Scan(&active, &typ, &round, &base, &price)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDrawInactive
		}
		if err != nil {
			return err
		}
		if !active || model.DrawType(typ) != model.DrawTypePool {
			return ErrDrawInactive
		}
		used, err := usedQuotaTx(ctx, tx, c.CampaignID, round)
		if err != nil {
			return err
		}
		if used+c.TotalQty > base {
			return ErrQuotaExhausted
		}
		c.Round = round
		c.Amount = price.Mul(decimal.NewFromInt(int64(c.TotalQty)))
		const q = `INSERT INTO claims (id, campaign_id, payment_ref, phone, name, total_qty, amount, status, round, created_at, expires_at, updated_at)
                   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q,
			c.ID, c.CampaignID, nullIfEmpty(c.PaymentRef), c.Phone, c.Name, c.TotalQty, c.Amount,
			string(c.Status), c.Round, c.CreatedAt, c.ExpiresAt, c.CreatedAt,
		); err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicate
			}
			return err
		}
		c.UpdatedAt = c.CreatedAt
		return nil
	})
}

// GetClaim returns the claim with the given ID or ErrNotFound.
func (r *ClaimRepo) GetClaim(ctx context.Context, id string) (model.Claim, error) {
	return scanClaim(r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
}

// ClaimByPaymentRef returns the claim carrying the payment reference.
func (r *ClaimRepo) ClaimByPaymentRef(ctx context.Context, paymentRef string) (model.Claim, error) {
	if paymentRef == "" {
		return model.Claim{}, ErrNotFound
	}
	return scanClaim(r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE payment_ref = ?`, paymentRef))
}

// TransitionClaim is the claim counterpart of OrderRepo.TransitionOrder.
func (r *ClaimRepo) TransitionClaim(ctx context.Context, id string, t Transition) (model.Claim, bool, error) {
	var out model.Claim
	var applied bool
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var paidAt any
		if t.To == model.StatusPaid {
			paidAt = t.At
		}
		const q = `UPDATE claims
                   SET status = ?, status_detail = COALESCE(?, status_detail), payment_ref = COALESCE(payment_ref, ?),
                       paid_at = COALESCE(?, paid_at), updated_at = ?
                   WHERE id = ? AND status = ?`
		res, err := tx.ExecContext(ctx, q, string(t.To), nullIfEmpty(t.Detail), nullIfEmpty(t.PaymentRef), paidAt, t.At,
			id, string(t.From))
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
		out, err = scanClaim(tx.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return model.Claim{}, false, err
	}
	return out, applied, nil
}

// ExpiredClaims lists PENDING claims whose deadline is before now.
func (r *ClaimRepo) ExpiredClaims(ctx context.Context, now time.Time, limit int) ([]model.Claim, error) {
	const q = `SELECT ` + claimColumns + ` FROM claims
               WHERE status = 'PENDING' AND expires_at < ?
               ORDER BY expires_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RoundUsage reports quota and consumption of a pool campaign's
// current round.
func (r *ClaimRepo) RoundUsage(ctx context.Context, campaignID uint64) (model.RoundUsage, error) {
	var typ string
	u := model.RoundUsage{CampaignID: campaignID}
	err := r.db.QueryRowContext(ctx,
		`SELECT type, current_round, base_qty FROM draws WHERE id = ?`, campaignID,
	).Scan(&typ, &u.Round, &u.Quota)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoundUsage{}, ErrNotFound
	}
	if err != nil {
		return model.RoundUsage{}, err
	}
	if model.DrawType(typ) != model.DrawTypePool {
		return model.RoundUsage{}, ErrDrawInactive
	}
	used, err := usedQuotaTx(ctx, r.db, campaignID, u.Round)
	if err != nil {
		return model.RoundUsage{}, err
	}
	u.Used = used
	return u, nil
}
