package repository

import (
	"context"
	"fmt"

	"idcore/internal/domain"
	"idcore/pkg/database"
)

type PostgresAuditRepository struct {
	db *database.PostgresDB
}

func NewPostgresAuditRepository(db *database.PostgresDB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Insert appends one audit entry. The table is append-only and keeps no
// foreign key to users, so the trail survives account purges.
func (r *PostgresAuditRepository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_log (id, event_type, user_id, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		entry.ID,
		entry.EventType,
		entry.UserID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Details,
	).Scan(&entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// ListByUser lists audit entries for a user, newest first
func (r *PostgresAuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, event_type, user_id, ip_address, user_agent, details, created_at
		FROM audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		err := rows.Scan(&e.ID, &e.EventType, &e.UserID, &e.IPAddress, &e.UserAgent, &e.Details, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
