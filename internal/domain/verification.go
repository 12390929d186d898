package domain

import "time"

// Verification code statuses.
const (
	VerificationStatusPending  = "pending"
	VerificationStatusVerified = "verified"
	VerificationStatusExpired  = "expired"
)

// Verification delivery methods.
const (
	VerificationMethodEmail = "email"
	VerificationMethodPhone = "phone"
)

// VerificationCode is a short-lived confirmation code bound to a user and
// method (e.g. email). Only the code's one-way hash is stored.
type VerificationCode struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Method     string     `json:"method"`
	CodeHash   string     `json:"-"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	ExpiresAt  time.Time  `json:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// VerificationResult is the outcome of a confirmation attempt.
type VerificationResult struct {
	Verified     bool              `json:"verified"`
	Reason       string            `json:"reason,omitempty"`
	Verification *VerificationCode `json:"verification"`
	User         *User             `json:"user"`
}
