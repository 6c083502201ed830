package dto

import "time"

// ==================== AUTHENTICATION REQUEST DTOs ====================

type LoginRequest struct {
	Password string `json:"password" validate:"required" example:"SecurePass123!"`
}

func (l LoginRequest) Validate() error {
	return GetValidator().Struct(l)
}

// ==================== AUTHENTICATION RESPONSE DTOs ====================

type LoginResponse struct {
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	ExpiresIn int64  `json:"expires_in" example:"86400"`
}

type SessionUser struct {
	ID    string `json:"id" example:"usr_owner"`
	Email string `json:"email" example:"owner@example.com"`
	Name  string `json:"name" example:"Owner"`
}

type SessionResponse struct {
	Authenticated bool         `json:"authenticated" example:"true"`
	User          *SessionUser `json:"user,omitempty"`
}

type LogoutResponse struct {
	Success bool `json:"success" example:"true"`
}

// ==================== LOCKOUT DTOs ====================

type LockoutInfo struct {
	Allowed           bool       `json:"allowed" example:"true"`
	Locked            bool       `json:"locked" example:"false"`
	RemainingAttempts int        `json:"remaining_attempts" example:"4"`
	LockedUntil       *time.Time `json:"locked_until,omitempty" example:"2023-01-15T12:00:00Z"`
}
