package repository

import (
	"context"
	"time"

	"idcore/internal/domain"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by normalized email
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByProviderIdentity retrieves a user by (provider, provider user id)
	GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*domain.User, error)

	// Create creates a new user
	Create(ctx context.Context, user *domain.User) error

	// UpdateProfile persists identity and profile fields of an existing user
	UpdateProfile(ctx context.Context, user *domain.User) error

	// UpdateScores writes the derived score fields
	UpdateScores(ctx context.Context, userID string, completeness float64, trust int, privacyLevel string) error

	// UpdatePrivacyPreference writes the explicit visibility preference
	UpdatePrivacyPreference(ctx context.Context, userID, preference string) error

	// TouchLogin increments the login counter and stamps the login time
	TouchLogin(ctx context.Context, userID string, at time.Time) error

	// SetVerified marks the user as verified
	SetVerified(ctx context.Context, userID string) error

	// Deactivate disables the account, optionally scheduling reactivation
	Deactivate(ctx context.Context, userID string, at time.Time, reactivateAt *time.Time) error

	// Activate re-enables a deactivated account and clears its schedule
	Activate(ctx context.Context, userID string, at time.Time) error

	// Pseudonymize atomically erases PII, revokes all sessions and schedules
	// the purge. Idempotent on an already pseudonymized user. Returns the
	// updated user, the JTIs of sessions revoked in this call, and whether
	// this call performed the transition.
	Pseudonymize(ctx context.Context, userID, placeholderEmail string, at, purgeAt time.Time) (*domain.User, []string, bool, error)

	// ReactivateErased returns a pseudonymized user to the active state,
	// strictly before the scheduled purge time. The bool reports whether
	// this call performed the transition.
	ReactivateErased(ctx context.Context, userID string, now time.Time) (*domain.User, bool, error)

	// ListDuePurges returns IDs of users whose purge is due
	ListDuePurges(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Purge hard-deletes a due user under a per-user lock. Returns false
	// when another worker holds the user or the purge is no longer due,
	// plus the JTIs of the deleted sessions.
	Purge(ctx context.Context, userID string, now time.Time) (bool, []string, error)
}

// SessionRepository defines the interface for stored session operations
type SessionRepository interface {
	// Create persists a new session hash with metadata
	Create(ctx context.Context, session *domain.Session) error

	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// GetByTokenHash retrieves a session by its token hash
	GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error)

	// ListByUser retrieves all sessions of a user, newest first
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)

	// Revoke marks one session revoked and returns its JTI
	Revoke(ctx context.Context, sessionID string, at time.Time) (string, error)

	// RevokeAllForUser revokes every live session of a user and returns
	// their JTIs
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) ([]string, error)

	// TouchLastUsed stamps the last-used time
	TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error
}

// AuditRepository defines the interface for the append-only audit log
type AuditRepository interface {
	// Insert appends one immutable entry
	Insert(ctx context.Context, entry *domain.AuditEntry) error

	// ListByUser retrieves recent entries for a user, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error)
}

// VerificationRepository defines the interface for verification codes
type VerificationRepository interface {
	// Upsert creates or replaces the code for (user, method)
	Upsert(ctx context.Context, code *domain.VerificationCode) error

	// GetByUserAndMethod retrieves the code for (user, method)
	GetByUserAndMethod(ctx context.Context, userID, method string) (*domain.VerificationCode, error)

	// Update persists status, attempts and verification time
	Update(ctx context.Context, code *domain.VerificationCode) error

	// ListByUser retrieves all codes of a user, newest first
	ListByUser(ctx context.Context, userID string) ([]domain.VerificationCode, error)
}

// ConnectionRepository defines the interface for user connection records
type ConnectionRepository interface {
	// Create persists a new connection
	Create(ctx context.Context, connection *domain.UserConnection) error

	// ListByUser retrieves all connections of a user, newest first
	ListByUser(ctx context.Context, userID string) ([]domain.UserConnection, error)
}

// ActivityRepository defines the interface for user activity records
type ActivityRepository interface {
	// Record appends an activity entry and applies its score delta to the
	// user's engagement score, floored at zero
	Record(ctx context.Context, entry *domain.ActivityEntry) error

	// ListByUser retrieves recent activities of a user, newest first
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	User         UserRepository
	Session      SessionRepository
	Audit        AuditRepository
	Verification VerificationRepository
	Connection   ConnectionRepository
	Activity     ActivityRepository
}
