package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"idcore/internal/domain"
	"idcore/pkg/errors"
	"idcore/pkg/redis"
)

// StateStore persists single-use OAuth states. The state value is the lookup
// key and appears nowhere in the stored payload. Records are kept for twice
// the logical TTL so a late callback is reported as expired rather than
// indistinguishable from a forged state.
type StateStore struct {
	redis *redis.Client
	ttl   time.Duration
	clock clockwork.Clock
}

func NewStateStore(redisClient *redis.Client, ttl time.Duration, clock clockwork.Clock) *StateStore {
	return &StateStore{
		redis: redisClient,
		ttl:   ttl,
		clock: clock,
	}
}

// Issue creates and persists a fresh state for one login attempt. The state
// value carries 256 bits of entropy.
func (s *StateStore) Issue(ctx context.Context, provider string) (*domain.OAuthState, error) {
	stateValue, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	state := &domain.OAuthState{
		State:     stateValue,
		Nonce:     nonce,
		Provider:  provider,
		CreatedAt: s.clock.Now().UTC(),
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	key := s.redis.KeyBuilder.KeyOAuthState(stateValue)
	if err := s.redis.Set(ctx, key, payload, 2*s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	return state, nil
}

// Consume atomically removes and returns the state. Whatever the outcome,
// a state value reaching this method is burned: a replay, a provider
// mismatch and a successful login all consume it exactly once. Concurrent
// callbacks with the same value serialize on the atomic take; exactly one
// of them sees the record.
func (s *StateStore) Consume(ctx context.Context, provider, stateValue string) (*domain.OAuthState, error) {
	if stateValue == "" {
		return nil, errors.NewInvalidStateError("State is required")
	}

	raw, err := s.redis.GetDel(ctx, s.redis.KeyBuilder.KeyOAuthState(stateValue))
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, errors.NewInvalidStateError("State not found or already used")
		}
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	var state domain.OAuthState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, errors.NewInvalidStateError("State record is corrupted")
	}
	state.State = stateValue

	if state.Provider != provider {
		return nil, errors.NewInvalidStateError("State was issued for a different provider")
	}
	if s.clock.Now().Sub(state.CreatedAt) > s.ttl {
		return nil, errors.NewExpiredStateError("State has expired")
	}

	return &state, nil
}

func randomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
