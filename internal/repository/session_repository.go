package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"idcore/internal/domain"
	"idcore/pkg/database"
)

const sessionColumns = `id, user_id, token_hash, jti, ip_address, user_agent,
	       expires_at, last_used_at, revoked_at, created_at`

type PostgresSessionRepository struct {
	db *database.PostgresDB
}

func NewPostgresSessionRepository(db *database.PostgresDB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.JTI,
		&s.IPAddress,
		&s.UserAgent,
		&s.ExpiresAt,
		&s.LastUsedAt,
		&s.RevokedAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create persists a new refresh session
func (r *PostgresSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, jti, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.JTI,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	).Scan(&session.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID gets a session by ID
func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// GetByTokenHash gets a session by the refresh token hash
func (r *PostgresSessionRepository) GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`

	session, err := scanSession(r.db.Pool.QueryRow(ctx, query, hash))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by token hash: %w", err)
	}

	return session, nil
}

// ListByUser lists all sessions of a user, newest first
func (r *PostgresSessionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	return sessions, rows.Err()
}

// Revoke marks one session revoked and returns its jti. Returns an empty
// jti when the session was already revoked or does not exist.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, sessionID string, at time.Time) (string, error) {
	query := `
		UPDATE sessions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING jti
	`

	var jti string
	err := r.db.Pool.QueryRow(ctx, query, sessionID, at).Scan(&jti)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to revoke session: %w", err)
	}

	return jti, nil
}

// RevokeAllForUser revokes every live session of a user and returns their jtis
func (r *PostgresSessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	query := `
		UPDATE sessions SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
		RETURNING jti
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	defer rows.Close()

	var jtis []string
	for rows.Next() {
		var jti string
		if err := rows.Scan(&jti); err != nil {
			return nil, fmt.Errorf("failed to scan revoked jti: %w", err)
		}
		jtis = append(jtis, jti)
	}

	return jtis, rows.Err()
}

// TouchLastUsed stamps the session's last use time
func (r *PostgresSessionRepository) TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_used_at = $2 WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, sessionID, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}
