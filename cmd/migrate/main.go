package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Get database URL
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	// Get command
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go [drop|up|seed]")
		os.Exit(1)
	}

	command := os.Args[1]

	// Connect to database
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "drop":
		if err := dropTables(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ All tables dropped successfully")

	case "up":
		if err := createTables(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ All tables created successfully")

	case "seed":
		if err := seedData(ctx, conn); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Println("✅ Data seeded successfully")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Usage: go run main.go [drop|up|seed]")
		os.Exit(1)
	}
}

func dropTables(ctx context.Context, conn *pgx.Conn) error {
	queries := []string{
		`DROP TABLE IF EXISTS user_activity CASCADE`,
		`DROP TABLE IF EXISTS user_connections CASCADE`,
		`DROP TABLE IF EXISTS verification_codes CASCADE`,
		`DROP TABLE IF EXISTS sessions CASCADE`,
		`DROP TABLE IF EXISTS audit_log CASCADE`,
		`DROP TABLE IF EXISTS users CASCADE`,
	}

	for _, query := range queries {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		fmt.Printf("  Dropped: %s\n", query)
	}

	return nil
}

func createTables(ctx context.Context, conn *pgx.Conn) error {
	queries := []string{
		// Create users table. IDs are generated by the application, email is
		// indexed but NOT unique: a pseudonymized row keeps its placeholder
		// address while the same person signs up again through a provider.
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			provider VARCHAR(50) NOT NULL,
			provider_user_id VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			company VARCHAR(255) NOT NULL DEFAULT '',
			location VARCHAR(255) NOT NULL DEFAULT '',
			industry VARCHAR(255) NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			linkedin_url TEXT NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			skills TEXT[] NOT NULL DEFAULT '{}',
			interests TEXT[] NOT NULL DEFAULT '{}',
			phone_encrypted TEXT NOT NULL DEFAULT '',
			dob_encrypted TEXT NOT NULL DEFAULT '',
			profile_completeness DOUBLE PRECISION NOT NULL DEFAULT 0,
			trust_score INTEGER NOT NULL DEFAULT 0,
			privacy_level VARCHAR(20) NOT NULL DEFAULT 'standard',
			privacy_preference VARCHAR(20) NOT NULL DEFAULT '',
			login_count INTEGER NOT NULL DEFAULT 0,
			engagement_score INTEGER NOT NULL DEFAULT 0,
			reputation_score INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			is_verified BOOLEAN NOT NULL DEFAULT false,
			erasure_state VARCHAR(20) NOT NULL DEFAULT 'active',
			pseudonymized_at TIMESTAMPTZ,
			scheduled_purge_at TIMESTAMPTZ,
			deactivated_at TIMESTAMPTZ,
			reactivate_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_login_at TIMESTAMPTZ,
			UNIQUE(provider, provider_user_id)
		)`,

		// Create sessions table, one row per issued refresh token
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT UNIQUE NOT NULL,
			jti UUID NOT NULL,
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ,
			revoked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Create audit_log table. user_id is plain text with no foreign key so
		// entries survive a purge of the user row.
		`CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			details JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Create verification_codes table, one live code per user and method
		`CREATE TABLE IF NOT EXISTS verification_codes (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			method VARCHAR(20) NOT NULL,
			code_hash TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			expires_at TIMESTAMPTZ NOT NULL,
			verified_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(user_id, method)
		)`,

		// Create user_connections table
		`CREATE TABLE IF NOT EXISTS user_connections (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			connection_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			target_user_id TEXT NOT NULL DEFAULT '',
			external_reference TEXT NOT NULL DEFAULT '',
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Create user_activity table
		`CREATE TABLE IF NOT EXISTS user_activity (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			activity_type VARCHAR(50) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			score_delta INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Create indexes
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_users_purge_due ON users(scheduled_purge_at) WHERE erasure_state = 'pseudonymized'`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_user_id ON audit_log(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON audit_log(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_verification_codes_expires_at ON verification_codes(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_connections_user_id ON user_connections(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_activity_user_id ON user_activity(user_id, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
		fmt.Printf("  Created: %s\n", getTableName(query))
	}

	return nil
}

func seedData(ctx context.Context, conn *pgx.Conn) error {
	// Insert a development user. Encrypted columns stay empty because
	// ciphertexts can only be produced with the runtime key set.
	query := `
		INSERT INTO users (id, email, name, provider, provider_user_id, title, company, is_verified, trust_score)
		VALUES ('00000000-0000-4000-8000-000000000001', 'dev@example.com', 'Dev User', 'google', 'seed-google-1', 'Engineer', 'Example Corp', true, 10)
		ON CONFLICT (provider, provider_user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = now()
	`

	if _, err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	fmt.Println("  Seeded 1 development user")

	return nil
}

func getTableName(query string) string {
	if len(query) > 50 {
		return query[:50] + "..."
	}
	return query
}
