package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

type OperatorRepo struct{ db *sql.DB }

func NewOperatorRepo(db *sql.DB) *OperatorRepo { return &OperatorRepo{db: db} }

// CreateOperator inserts an operator whose password is already hashed.
func (r *OperatorRepo) CreateOperator(ctx context.Context, op *model.Operator) error {
	op.Email = strings.ToLower(strings.TrimSpace(op.Email))
	if op.Role == "" {
		op.Role = model.RoleOperator
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO operators (email, password_hash, role, is_active, created_at) VALUES (?,?,?,?,?)",
		op.Email, op.PasswordHash, op.Role, op.IsActive, op.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	op.ID = uint64(id)
	return nil
}

// OperatorByEmail fetches an operator by normalized email.
func (r *OperatorRepo) OperatorByEmail(ctx context.Context, email string) (model.Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var op model.Operator
	err := r.db.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at FROM operators WHERE email=? LIMIT 1",
		email).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Role, &op.IsActive, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operator{}, ErrNotFound
	}
	return op, err
}
