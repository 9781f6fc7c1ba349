package dto

import (
	"time"

	"github.com/supportops/mailtriage/internal/domain"
)

// LoginRequest payload for operator login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OperatorResponse public view of an operator account.
type OperatorResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Email     string              `json:"email"`
	Role      domain.OperatorRole `json:"role"`
	Active    bool                `json:"active"`
	CreatedAt time.Time           `json:"created_at"`
}

// CreateOperatorRequest payload for admin-created accounts.
type CreateOperatorRequest struct {
	Name     string              `json:"name"`
	Email    string              `json:"email"`
	Password string              `json:"password"`
	Role     domain.OperatorRole `json:"role"`
}

// ChangePasswordRequest payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// SetOperatorActiveRequest toggles an account.
type SetOperatorActiveRequest struct {
	Active *bool `json:"active"`
}

// PasswordResetRequest starts a reset flow for the given account email.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest completes a reset with the issued token.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
