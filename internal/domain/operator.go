package domain

import "time"

// OperatorRole enumerates access levels for operator accounts.
type OperatorRole string

const (
	OperatorRoleAgent OperatorRole = "agent"
	OperatorRoleAdmin OperatorRole = "admin"
)

// Operator is a human handling tickets the gate routed away from auto-send.
type Operator struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         OperatorRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
