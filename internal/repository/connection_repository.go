package repository

import (
	"context"
	"fmt"

	"idcore/internal/domain"
	"idcore/pkg/database"
)

type PostgresConnectionRepository struct {
	db *database.PostgresDB
}

func NewPostgresConnectionRepository(db *database.PostgresDB) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

// Create persists a new connection record
func (r *PostgresConnectionRepository) Create(ctx context.Context, connection *domain.UserConnection) error {
	query := `
		INSERT INTO user_connections (id, user_id, connection_type, status, target_user_id, external_reference, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		connection.ID,
		connection.UserID,
		connection.ConnectionType,
		connection.Status,
		connection.TargetUserID,
		connection.ExternalReference,
		connection.Attributes,
	).Scan(&connection.CreatedAt, &connection.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// ListByUser lists all connections of a user
func (r *PostgresConnectionRepository) ListByUser(ctx context.Context, userID string) ([]domain.UserConnection, error) {
	query := `
		SELECT id, user_id, connection_type, status, target_user_id, external_reference, attributes, created_at, updated_at
		FROM user_connections
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []domain.UserConnection
	for rows.Next() {
		var c domain.UserConnection
		err := rows.Scan(&c.ID, &c.UserID, &c.ConnectionType, &c.Status, &c.TargetUserID,
			&c.ExternalReference, &c.Attributes, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, c)
	}

	return connections, rows.Err()
}
