package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// KeyEntry is one versioned encryption key as configured, primary first.
type KeyEntry struct {
	Version  string
	Material string // hex-encoded, 32 bytes once decoded
}

// ProviderCredentials holds OAuth client credentials for one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Configured reports whether the provider has usable credentials.
func (p ProviderCredentials) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != "" && p.RedirectURL != ""
}

// Config holds all configuration values for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	Environment    string

	DatabaseURL string
	RedisURL    string

	JWTSecret  string
	JWTTTL     time.Duration
	RefreshTTL time.Duration

	EncryptionKeys           []KeyEntry // ordered, primary first
	EncryptionRotationWindow time.Duration

	OAuthStateTTL time.Duration
	Google        ProviderCredentials
	LinkedIn      ProviderCredentials

	RetentionDays int
	PurgeInterval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	keys, err := parseEncryptionKeys(getEnv("ENCRYPTION_KEYS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: parseOrigins(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Environment:    getEnv("ENVIRONMENT", "production"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTTTL:     getDurationEnv("JWT_TTL", 60*time.Minute),
		RefreshTTL: getDurationEnv("REFRESH_TTL", 720*time.Hour),

		EncryptionKeys:           keys,
		EncryptionRotationWindow: getDurationEnv("ENCRYPTION_ROTATION_WINDOW", 2160*time.Hour),

		OAuthStateTTL: getDurationEnv("OAUTH_STATE_TTL", 10*time.Minute),
		Google: ProviderCredentials{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		},
		LinkedIn: ProviderCredentials{
			ClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
			ClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("LINKEDIN_REDIRECT_URL", ""),
		},

		RetentionDays: getIntEnv("RETENTION_DAYS", 30),
		PurgeInterval: getDurationEnv("PURGE_INTERVAL", time.Hour),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations that cannot run safely. Secrets are
// required in every environment; providers without credentials are simply
// not registered.
func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(c.EncryptionKeys) == 0 {
		missing = append(missing, "ENCRYPTION_KEYS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	return nil
}

// parseEncryptionKeys parses "v2:<hex>,v1:<hex>" into an ordered key list,
// primary first. Key material is validated by the encryption service.
func parseEncryptionKeys(raw string) ([]KeyEntry, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	keys := make([]KeyEntry, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, material, found := strings.Cut(part, ":")
		if !found || version == "" || material == "" {
			return nil, fmt.Errorf("ENCRYPTION_KEYS entry must be version:hex, got %q", part)
		}
		if seen[version] {
			return nil, fmt.Errorf("ENCRYPTION_KEYS contains duplicate version %s", version)
		}
		seen[version] = true
		keys = append(keys, KeyEntry{Version: version, Material: material})
	}

	return keys, nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getIntEnv gets an integer environment variable with a fallback value
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDurationEnv gets a duration environment variable with a fallback value
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
