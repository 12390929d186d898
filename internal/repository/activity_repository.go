package repository

import (
	"context"
	"fmt"

	"idcore/internal/domain"
	"idcore/pkg/database"
)

type PostgresActivityRepository struct {
	db *database.PostgresDB
}

func NewPostgresActivityRepository(db *database.PostgresDB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

// Record inserts an activity entry and applies its score delta to the user's
// engagement score in the same transaction. The score never goes below zero.
func (r *PostgresActivityRepository) Record(ctx context.Context, entry *domain.ActivityEntry) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin activity record: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO user_activity (id, user_id, activity_type, description, score_delta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ActivityType,
		entry.Description,
		entry.ScoreDelta,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	if entry.ScoreDelta != 0 {
		_, err = tx.Exec(ctx, `
			UPDATE users SET engagement_score = GREATEST(0, engagement_score + $2) WHERE id = $1
		`, entry.UserID, entry.ScoreDelta)
		if err != nil {
			return fmt.Errorf("failed to apply engagement delta: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit activity record: %w", err)
	}

	return nil
}

// ListByUser lists recent activity of a user, newest first
func (r *PostgresActivityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	query := `
		SELECT id, user_id, activity_type, description, score_delta, created_at
		FROM user_activity
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		err := rows.Scan(&e.ID, &e.UserID, &e.ActivityType, &e.Description, &e.ScoreDelta, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
