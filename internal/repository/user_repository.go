package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"idcore/internal/domain"
	"idcore/pkg/database"
	"idcore/pkg/errors"
)

const userColumns = `id, email, name, provider, provider_user_id,
	       title, company, location, industry, bio, linkedin_url, photo_url, skills, interests,
	       phone_encrypted, dob_encrypted,
	       profile_completeness, trust_score, privacy_level, privacy_preference,
	       login_count, engagement_score, reputation_score, is_active, is_verified,
	       erasure_state, pseudonymized_at, scheduled_purge_at, deactivated_at, reactivate_at,
	       created_at, updated_at, last_login_at`

type PostgresUserRepository struct {
	db *database.PostgresDB
}

func NewPostgresUserRepository(db *database.PostgresDB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Provider,
		&u.ProviderUserID,
		&u.Title,
		&u.Company,
		&u.Location,
		&u.Industry,
		&u.Bio,
		&u.LinkedInURL,
		&u.PhotoURL,
		&u.Skills,
		&u.Interests,
		&u.PhoneEncrypted,
		&u.DateOfBirthEncrypted,
		&u.ProfileCompleteness,
		&u.TrustScore,
		&u.PrivacyLevel,
		&u.PrivacyPreference,
		&u.LoginCount,
		&u.EngagementScore,
		&u.ReputationScore,
		&u.IsActive,
		&u.IsVerified,
		&u.ErasureState,
		&u.PseudonymizedAt,
		&u.ScheduledPurgeAt,
		&u.DeactivatedAt,
		&u.ReactivateAt,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID gets a user by ID
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByEmail gets a user by normalized email
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, email))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetByProviderIdentity gets a user by the provider identity pair
func (r *PostgresUserRepository) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE provider = $1 AND provider_user_id = $2`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, provider, providerUserID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by provider identity: %w", err)
	}

	return user, nil
}

// Create creates a new user record
func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, email, name, provider, provider_user_id,
			title, company, location, industry, bio, linkedin_url, photo_url, skills, interests,
			phone_encrypted, dob_encrypted,
			profile_completeness, trust_score, privacy_level, privacy_preference,
			login_count, engagement_score, reputation_score, is_active, is_verified, erasure_state
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Provider,
		user.ProviderUserID,
		user.Title,
		user.Company,
		user.Location,
		user.Industry,
		user.Bio,
		user.LinkedInURL,
		user.PhotoURL,
		user.Skills,
		user.Interests,
		user.PhoneEncrypted,
		user.DateOfBirthEncrypted,
		user.ProfileCompleteness,
		user.TrustScore,
		user.PrivacyLevel,
		user.PrivacyPreference,
		user.LoginCount,
		user.EngagementScore,
		user.ReputationScore,
		user.IsActive,
		user.IsVerified,
		user.ErasureState,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateProfile persists identity and profile fields of an existing user
func (r *PostgresUserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, name = $3, provider = $4, provider_user_id = $5,
		    title = $6, company = $7, location = $8, industry = $9, bio = $10,
		    linkedin_url = $11, photo_url = $12, skills = $13, interests = $14,
		    phone_encrypted = $15, dob_encrypted = $16, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Provider,
		user.ProviderUserID,
		user.Title,
		user.Company,
		user.Location,
		user.Industry,
		user.Bio,
		user.LinkedInURL,
		user.PhotoURL,
		user.Skills,
		user.Interests,
		user.PhoneEncrypted,
		user.DateOfBirthEncrypted,
	).Scan(&user.UpdatedAt)

	if err == pgx.ErrNoRows {
		return fmt.Errorf("user %s not found", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	return nil
}

// UpdateScores writes the derived score fields
func (r *PostgresUserRepository) UpdateScores(ctx context.Context, userID string, completeness float64, trust int, privacyLevel string) error {
	query := `
		UPDATE users
		SET profile_completeness = $2, trust_score = $3, privacy_level = $4, updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, completeness, trust, privacyLevel)
	if err != nil {
		return fmt.Errorf("failed to update scores: %w", err)
	}

	return nil
}

// UpdatePrivacyPreference writes the explicit visibility preference
func (r *PostgresUserRepository) UpdatePrivacyPreference(ctx context.Context, userID, preference string) error {
	query := `UPDATE users SET privacy_preference = $2, updated_at = now() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, userID, preference)
	if err != nil {
		return fmt.Errorf("failed to update privacy preference: %w", err)
	}

	return nil
}

// TouchLogin increments the login counter and stamps the login time
func (r *PostgresUserRepository) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE users
		SET login_count = login_count + 1, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to touch login: %w", err)
	}

	return nil
}

// SetVerified marks the user as verified
func (r *PostgresUserRepository) SetVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET is_verified = true, updated_at = now() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to set verified: %w", err)
	}

	return nil
}

// Deactivate disables the account, optionally scheduling reactivation
func (r *PostgresUserRepository) Deactivate(ctx context.Context, userID string, at time.Time, reactivateAt *time.Time) error {
	query := `
		UPDATE users
		SET is_active = false, deactivated_at = $2, reactivate_at = $3, updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, at, reactivateAt)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	return nil
}

// Activate re-enables a deactivated account
func (r *PostgresUserRepository) Activate(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE users
		SET is_active = true, deactivated_at = NULL, reactivate_at = NULL, updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	return nil
}

// Pseudonymize atomically erases PII, revokes all sessions and schedules the
// purge. The whole erasure runs in one transaction under a row lock: a
// failure anywhere leaves the record untouched. Returns nil when the user no
// longer exists; the bool is true only when this call performed the erase.
func (r *PostgresUserRepository) Pseudonymize(ctx context.Context, userID, placeholderEmail string, at, purgeAt time.Time) (*domain.User, []string, bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to begin erasure: %w", err)
	}
	defer tx.Rollback(ctx)

	var state string
	err = tx.QueryRow(ctx, `SELECT erasure_state FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&state)
	if err == pgx.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to lock user for erasure: %w", err)
	}

	// Repeated erasure returns the existing schedule untouched.
	if state == domain.ErasureStatePseudonymized {
		user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to read pseudonymized user: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, false, fmt.Errorf("failed to commit erasure: %w", err)
		}
		return user, nil, false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET email = $2, name = '', title = '', company = '', location = '', industry = '',
		    bio = '', linkedin_url = '', photo_url = '', skills = '{}', interests = '{}',
		    phone_encrypted = '', dob_encrypted = '', privacy_preference = '',
		    is_active = false, erasure_state = $3,
		    pseudonymized_at = $4, scheduled_purge_at = $5, updated_at = $4
		WHERE id = $1
	`, userID, placeholderEmail, domain.ErasureStatePseudonymized, at, purgeAt)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to pseudonymize user: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
		RETURNING jti
	`, userID, at)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	var jtis []string
	for rows.Next() {
		var jti string
		if err := rows.Scan(&jti); err != nil {
			rows.Close()
			return nil, nil, false, fmt.Errorf("failed to scan revoked jti: %w", err)
		}
		jtis = append(jtis, jti)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read pseudonymized user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("failed to commit erasure: %w", err)
	}

	return user, jtis, true, nil
}

// ReactivateErased returns a pseudonymized user to the active state. Permitted
// strictly before the scheduled purge time; once the deadline has passed the
// purge owns the outcome. The bool is true only when this call performed the
// transition.
func (r *PostgresUserRepository) ReactivateErased(ctx context.Context, userID string, now time.Time) (*domain.User, bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin reactivation: %w", err)
	}
	defer tx.Rollback(ctx)

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err == pgx.ErrNoRows {
		return nil, false, errors.NewAlreadyPurgedError(userID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock user for reactivation: %w", err)
	}

	if user.ErasureState == domain.ErasureStateActive {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit reactivation: %w", err)
		}
		return user, false, nil
	}

	if user.ScheduledPurgeAt == nil || !now.Before(*user.ScheduledPurgeAt) {
		return nil, false, errors.NewRetentionWindowActiveError("purge deadline has passed")
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET erasure_state = $2, pseudonymized_at = NULL, scheduled_purge_at = NULL,
		    is_active = true, deactivated_at = NULL, reactivate_at = NULL, updated_at = $3
		WHERE id = $1
	`, userID, domain.ErasureStateActive, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reactivate user: %w", err)
	}

	user, err = scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read reactivated user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit reactivation: %w", err)
	}

	return user, true, nil
}

// ListDuePurges returns IDs of users whose purge is due
func (r *PostgresUserRepository) ListDuePurges(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM users
		WHERE erasure_state = $1 AND scheduled_purge_at <= $2
		ORDER BY scheduled_purge_at
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, domain.ErasureStatePseudonymized, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due purges: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan purge candidate: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Purge hard-deletes a due user. SKIP LOCKED makes concurrent sweeps and a
// racing reactivation serialize on the same row: whoever wins the lock
// decides the outcome, the loser sees either a missing or no longer due row.
func (r *PostgresUserRepository) Purge(ctx context.Context, userID string, now time.Time) (bool, []string, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback(ctx)

	var state string
	var purgeAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT erasure_state, scheduled_purge_at FROM users WHERE id = $1 FOR UPDATE SKIP LOCKED
	`, userID).Scan(&state, &purgeAt)
	if err == pgx.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to lock user for purge: %w", err)
	}

	if state != domain.ErasureStatePseudonymized || purgeAt == nil || purgeAt.After(now) {
		return false, nil, nil
	}

	rows, err := tx.Query(ctx, `SELECT jti FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to list sessions for purge: %w", err)
	}
	var jtis []string
	for rows.Next() {
		var jti string
		if err := rows.Scan(&jti); err != nil {
			rows.Close()
			return false, nil, fmt.Errorf("failed to scan session jti: %w", err)
		}
		jtis = append(jtis, jti)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, nil, fmt.Errorf("failed to list sessions for purge: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return false, nil, fmt.Errorf("failed to purge user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("failed to commit purge: %w", err)
	}

	return true, jtis, nil
}
