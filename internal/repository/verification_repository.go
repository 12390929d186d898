package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"idcore/internal/domain"
	"idcore/pkg/database"
)

const verificationColumns = `id, user_id, method, code_hash, status, attempts,
	       expires_at, verified_at, created_at`

type PostgresVerificationRepository struct {
	db *database.PostgresDB
}

func NewPostgresVerificationRepository(db *database.PostgresDB) *PostgresVerificationRepository {
	return &PostgresVerificationRepository{db: db}
}

func scanVerification(row pgx.Row) (*domain.VerificationCode, error) {
	var v domain.VerificationCode
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.Method,
		&v.CodeHash,
		&v.Status,
		&v.Attempts,
		&v.ExpiresAt,
		&v.VerifiedAt,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Upsert writes a verification code, replacing a previous code of the same
// user and method. Requesting a new code resets the attempt counter.
func (r *PostgresVerificationRepository) Upsert(ctx context.Context, code *domain.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (id, user_id, method, code_hash, status, attempts, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, method) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, status = EXCLUDED.status,
		    attempts = 0, expires_at = EXCLUDED.expires_at, verified_at = NULL,
		    created_at = now()
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		code.ID,
		code.UserID,
		code.Method,
		code.CodeHash,
		code.Status,
		code.Attempts,
		code.ExpiresAt,
	).Scan(&code.ID, &code.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert verification code: %w", err)
	}

	return nil
}

// GetByUserAndMethod gets the current code for a user and method
func (r *PostgresVerificationRepository) GetByUserAndMethod(ctx context.Context, userID, method string) (*domain.VerificationCode, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_codes WHERE user_id = $1 AND method = $2`

	code, err := scanVerification(r.db.Pool.QueryRow(ctx, query, userID, method))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}

	return code, nil
}

// Update persists the mutable state of a code after an attempt
func (r *PostgresVerificationRepository) Update(ctx context.Context, code *domain.VerificationCode) error {
	query := `
		UPDATE verification_codes
		SET status = $2, attempts = $3, verified_at = $4
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, code.ID, code.Status, code.Attempts, code.VerifiedAt)
	if err != nil {
		return fmt.Errorf("failed to update verification code: %w", err)
	}

	return nil
}

// ListByUser lists all verification codes of a user
func (r *PostgresVerificationRepository) ListByUser(ctx context.Context, userID string) ([]domain.VerificationCode, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_codes WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification codes: %w", err)
	}
	defer rows.Close()

	var codes []domain.VerificationCode
	for rows.Next() {
		code, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification code: %w", err)
		}
		codes = append(codes, *code)
	}

	return codes, rows.Err()
}
