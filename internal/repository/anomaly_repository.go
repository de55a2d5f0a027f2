package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// AnomalyRepo persists the reconciliation anomaly log.  An anomaly is
// unique per (kind, payment_ref): redelivered webhooks and overlapping
// polls record it once.
type AnomalyRepo struct {
	db *sql.DB
}

// NewAnomalyRepo returns a new AnomalyRepo bound to the given database.
func NewAnomalyRepo(db *sql.DB) *AnomalyRepo { return &AnomalyRepo{db: db} }

const anomalyColumns = `id, kind, payment_ref, record_id, gateway_status, amount, detail,
       resolved, resolution_note, resolved_at, created_at`

func scanAnomaly(r rowScanner) (model.Anomaly, error) {
	var a model.Anomaly
	var kind string
	var record, status, detail, note sql.NullString
	var resolvedAt sql.NullTime
	if err := r.Scan(&a.ID, &kind, &a.PaymentRef, &record, &status, &a.Amount, &detail,
		&a.Resolved, &note, &resolvedAt, &a.CreatedAt); err != nil {
		return model.Anomaly{}, err
	}
	a.Kind = model.AnomalyKind(kind)
	a.RecordID = record.String
	a.GatewayStatus = status.String
	a.Detail = detail.String
	a.ResolutionNote = note.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return a, nil
}

// RecordAnomaly stores a, returning false when an anomaly of the same
// kind already exists for the payment reference.
func (r *AnomalyRepo) RecordAnomaly(ctx context.Context, a *model.Anomaly) (bool, error) {
	const q = `INSERT IGNORE INTO anomalies (id, kind, payment_ref, record_id, gateway_status, amount, detail, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		a.ID, string(a.Kind), a.PaymentRef, nullIfEmpty(a.RecordID), nullIfEmpty(a.GatewayStatus),
		a.Amount, nullIfEmpty(a.Detail), a.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func anomalyWhere(f model.AnomalyFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.UnresolvedOnly {
		conds = append(conds, "resolved = 0")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListAnomalies returns anomalies matching f, newest first.
func (r *AnomalyRepo) ListAnomalies(ctx context.Context, f model.AnomalyFilter) ([]model.Anomaly, error) {
	where, args := anomalyWhere(f)
	q := `SELECT ` + anomalyColumns + ` FROM anomalies` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Anomaly, 0)
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountAnomalies counts anomalies matching f, ignoring its limit.
func (r *AnomalyRepo) CountAnomalies(ctx context.Context, f model.AnomalyFilter) (int, error) {
	where, args := anomalyWhere(f)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM anomalies`+where, args...).Scan(&n)
	return n, err
}

// ResolveAnomaly marks an open anomaly as resolved.
func (r *AnomalyRepo) ResolveAnomaly(ctx context.Context, id int64, note string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE anomalies SET resolved = 1, resolution_note = ?, resolved_at = ? WHERE id = ? AND resolved = 0`,
		nullIfEmpty(note), at, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
