package model

import "time"

// Operator is a back-office account allowed to run privileged engine
// operations (settlement, round advancement, anomaly resolution).
//
// Fields:
//
//	ID           – primary key identifier.
//	Email        – unique login email.
//	PasswordHash – bcrypt hashed password.
//	Role         – role claim placed in issued tokens (OPERATOR).
//	IsActive     – disabled operators cannot log in.
//	CreatedAt    – timestamp of creation.
type Operator struct {
	ID           uint64    // operators.id
	Email        string    // operators.email
	PasswordHash string    // operators.password_hash
	Role         string    // operators.role
	IsActive     bool      // operators.is_active
	CreatedAt    time.Time // operators.created_at
}

// RoleOperator is the only role accepted on /v1/admin routes.
const RoleOperator = "OPERATOR"
