package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// AffiliateRepo reads the two affiliate tiers and stores commission
// lines.  Parent links are returned as stored; cycle and depth checks
// belong to the chain resolver.
type AffiliateRepo struct {
	db *sql.DB
}

// NewAffiliateRepo returns a new AffiliateRepo bound to the given database.
func NewAffiliateRepo(db *sql.DB) *AffiliateRepo { return &AffiliateRepo{db: db} }

func scanSub(r rowScanner) (model.SubAffiliate, error) {
	var s model.SubAffiliate
	var parent sql.NullString
	err := r.Scan(&s.Code, &s.Phone, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubAffiliate{}, ErrNotFound
	}
	if err != nil {
		return model.SubAffiliate{}, err
	}
	s.ParentPhone = parent.String
	return s, nil
}

func scanVip(r rowScanner) (model.VipAffiliate, error) {
	var v model.VipAffiliate
	var parent sql.NullInt64
	err := r.Scan(&v.ID, &v.Phone, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VipAffiliate{}, ErrNotFound
	}
	if err != nil {
		return model.VipAffiliate{}, err
	}
	if parent.Valid {
		id := uint64(parent.Int64)
		v.ParentID = &id
	}
	return v, nil
}

// SubAffiliateByCode looks up a sub-affiliate by its referral code.
func (r *AffiliateRepo) SubAffiliateByCode(ctx context.Context, code string) (model.SubAffiliate, error) {
	return scanSub(r.db.QueryRowContext(ctx, `SELECT code, phone, parent_phone FROM sub_affiliates WHERE code = ?`, code))
}

// SubAffiliateByPhone looks up a sub-affiliate by phone.
func (r *AffiliateRepo) SubAffiliateByPhone(ctx context.Context, phone string) (model.SubAffiliate, error) {
	return scanSub(r.db.QueryRowContext(ctx, `SELECT code, phone, parent_phone FROM sub_affiliates WHERE phone = ?`, phone))
}

// VipAffiliateByID looks up a VIP affiliate by surrogate id.
func (r *AffiliateRepo) VipAffiliateByID(ctx context.Context, id uint64) (model.VipAffiliate, error) {
	return scanVip(r.db.QueryRowContext(ctx, `SELECT id, phone, parent_id FROM vip_affiliates WHERE id = ?`, id))
}

// VipAffiliateByPhone looks up a VIP affiliate by phone.
func (r *AffiliateRepo) VipAffiliateByPhone(ctx context.Context, phone string) (model.VipAffiliate, error) {
	return scanVip(r.db.QueryRowContext(ctx, `SELECT id, phone, parent_id FROM vip_affiliates WHERE phone = ?`, phone))
}

// SaveCommissions inserts commission lines, skipping (order, tier)
// pairs already recorded.  It returns the number of new lines.
func (r *AffiliateRepo) SaveCommissions(ctx context.Context, lines []model.Commission) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT IGNORE INTO commissions (order_id, tier, affiliate_key, phone, rate, amount, created_at) VALUES `)
	args := make([]any, 0, len(lines)*7)
	for i, c := range lines {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, c.OrderID, c.Tier, c.AffiliateKey, c.Phone, c.Rate, c.Amount, c.CreatedAt)
	}
	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CommissionsByOrder lists the commission lines of an order by tier.
func (r *AffiliateRepo) CommissionsByOrder(ctx context.Context, orderID string) ([]model.Commission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, tier, affiliate_key, phone, rate, amount, created_at FROM commissions WHERE order_id = ? ORDER BY tier`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Commission, 0)
	for rows.Next() {
		var c model.Commission
		if err := rows.Scan(&c.OrderID, &c.Tier, &c.AffiliateKey, &c.Phone, &c.Rate, &c.Amount, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
