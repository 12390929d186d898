package redis

import "fmt"

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" {
		prefix = "staging"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// GetPrefix returns the current environment prefix
func (kb *KeyBuilder) GetPrefix() string {
	return kb.prefix
}

// OAuth key builders
func (kb *KeyBuilder) KeyOAuthState(state string) string {
	return kb.BuildKey(fmt.Sprintf(KeyOAuthState, state))
}

// Token key builders
func (kb *KeyBuilder) KeyRevokedJTI(jti string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRevokedJTI, jti))
}

// Profile cache key builders
func (kb *KeyBuilder) KeyUserProfile(userID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyUserProfile, userID))
}
