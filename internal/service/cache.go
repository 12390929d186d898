package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"idcore/internal/domain"
	"idcore/pkg/redis"
)

// profileEntry is the cached form of a user row. Ciphertext columns are
// carried explicitly because domain.User never serializes them; plaintext
// PII is never written to the cache.
type profileEntry struct {
	User                 domain.User `json:"user"`
	PhoneEncrypted       string      `json:"phone_encrypted,omitempty"`
	DateOfBirthEncrypted string      `json:"dob_encrypted,omitempty"`
}

// ProfileCache is a read-through cache in front of the users table. Every
// mutation path invalidates; cache failures degrade to a miss.
type ProfileCache struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewProfileCache creates a profile cache backed by Redis.
func NewProfileCache(redisClient *redis.Client, logger *zap.Logger) *ProfileCache {
	return &ProfileCache{
		redis:  redisClient,
		logger: logger,
	}
}

// Get returns the cached user, or nil on a miss.
func (c *ProfileCache) Get(ctx context.Context, userID string) *domain.User {
	if c == nil || c.redis == nil {
		return nil
	}

	raw, err := c.redis.Get(ctx, c.redis.KeyBuilder.KeyUserProfile(userID))
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}

	var entry profileEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn("dropping corrupt profile cache entry", zap.String("user_id", userID))
		c.Invalidate(ctx, userID)
		return nil
	}

	user := entry.User
	user.PhoneEncrypted = entry.PhoneEncrypted
	user.DateOfBirthEncrypted = entry.DateOfBirthEncrypted
	return &user
}

// Set stores the user row for the profile TTL.
func (c *ProfileCache) Set(ctx context.Context, user *domain.User) {
	if c == nil || c.redis == nil || user == nil {
		return
	}

	payload, err := json.Marshal(profileEntry{
		User:                 *user,
		PhoneEncrypted:       user.PhoneEncrypted,
		DateOfBirthEncrypted: user.DateOfBirthEncrypted,
	})
	if err != nil {
		return
	}

	key := c.redis.KeyBuilder.KeyUserProfile(user.ID)
	if err := c.redis.Set(ctx, key, string(payload), redis.TTLProfile); err != nil {
		c.logger.Debug("profile cache write failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Invalidate drops the cached row.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.redis == nil {
		return
	}

	if err := c.redis.Delete(ctx, c.redis.KeyBuilder.KeyUserProfile(userID)); err != nil {
		c.logger.Warn("profile cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
