package domain

import "time"

// Session represents a stored refresh session. Only the one-way hash of the
// refresh token is persisted, never the token itself.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	JTI        string     `json:"jti"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionInfo is the caller-facing view of a session, hash omitted.
type SessionInfo struct {
	ID         string     `json:"id"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Info strips the session down to its public view.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		ExpiresAt:  s.ExpiresAt,
		LastUsedAt: s.LastUsedAt,
		Revoked:    s.RevokedAt != nil,
		CreatedAt:  s.CreatedAt,
	}
}
