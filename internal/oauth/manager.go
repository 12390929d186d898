package oauth

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"idcore/internal/audit"
	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/internal/scoring"
	"idcore/internal/token"
	"idcore/pkg/errors"
)

const (
	retryAttempts    = 3
	defaultRetryBase = 250 * time.Millisecond
	loginScoreDelta  = 1
)

// ProfileCache invalidates cached user profiles after a mutation.
type ProfileCache interface {
	Invalidate(ctx context.Context, userID string)
}

// Manager drives the full login flow: state issuance, callback validation,
// code exchange, profile fetch, user upsert, score refresh and session start.
type Manager struct {
	providers map[string]Provider
	states    *StateStore
	users     repository.UserRepository
	activity  repository.ActivityRepository
	tokens    *token.Service
	cache     ProfileCache
	recorder  *audit.Recorder
	logger    *zap.Logger
	clock     clockwork.Clock
	retryBase time.Duration
}

func NewManager(
	providers []Provider,
	states *StateStore,
	users repository.UserRepository,
	activity repository.ActivityRepository,
	tokens *token.Service,
	cache ProfileCache,
	recorder *audit.Recorder,
	logger *zap.Logger,
	clock clockwork.Clock,
) *Manager {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Manager{
		providers: byName,
		states:    states,
		users:     users,
		activity:  activity,
		tokens:    tokens,
		cache:     cache,
		recorder:  recorder,
		logger:    logger,
		clock:     clock,
		retryBase: defaultRetryBase,
	}
}

// Providers returns the names of all configured providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Initiate starts a login flow: persists a fresh single-use state and returns
// the provider authorization URL carrying it.
func (m *Manager) Initiate(ctx context.Context, providerName, ipAddress, userAgent string) (string, error) {
	provider, ok := m.providers[providerName]
	if !ok {
		err := errors.NewUnsupportedProviderError(providerName)
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageInit, err)
		return "", err
	}

	state, err := m.states.Issue(ctx, providerName)
	if err != nil {
		return "", fmt.Errorf("failed to issue state: %w", err)
	}

	m.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventOAuthInitiated,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"provider": providerName, "stage": domain.StageAuthRequested},
	})

	return provider.AuthCodeURL(state.State, state.Nonce), nil
}

// HandleCallback completes a login flow. The state is consumed before
// anything else happens, so no two callbacks can both succeed with the same
// value. Provider calls are retried within a small backoff budget before
// surfacing the provider as unavailable; validation failures are never
// retried. The scorer runs synchronously before the result is returned.
func (m *Manager) HandleCallback(ctx context.Context, providerName, code, stateValue, ipAddress, userAgent string) (*domain.AuthResult, error) {
	m.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventOAuthCallbackReceived,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"provider": providerName, "stage": domain.StageCallbackReceived},
	})

	provider, ok := m.providers[providerName]
	if !ok {
		err := errors.NewUnsupportedProviderError(providerName)
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageCallbackReceived, err)
		return nil, err
	}

	if _, err := m.states.Consume(ctx, providerName, stateValue); err != nil {
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageCallbackReceived, err)
		return nil, err
	}

	if code == "" {
		err := errors.NewValidationError("Authorization code is required", nil)
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageCallbackReceived, err)
		return nil, err
	}

	providerToken, err := m.exchangeWithRetry(ctx, provider, code)
	if err != nil {
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageTokenExchanged, err)
		return nil, err
	}

	profile, err := m.fetchProfileWithRetry(ctx, provider, providerToken)
	if err != nil {
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageProfileFetched, err)
		return nil, err
	}

	user, created, reactivated, err := m.upsertUser(ctx, profile)
	if err != nil {
		m.auditFailure(ctx, providerName, "", ipAddress, userAgent, domain.StageUserLinked, err)
		return nil, err
	}

	now := m.clock.Now()
	if err := m.users.TouchLogin(ctx, user.ID, now); err != nil {
		m.auditFailure(ctx, providerName, user.ID, ipAddress, userAgent, domain.StageUserLinked, err)
		return nil, err
	}
	user.LoginCount++
	user.LastLoginAt = &now

	if err := m.activity.Record(ctx, &domain.ActivityEntry{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		ActivityType: domain.ActivityLogin,
		Description:  "login via " + providerName,
		ScoreDelta:   loginScoreDelta,
	}); err != nil {
		m.logger.Warn("failed to record login activity", zap.String("user_id", user.ID), zap.Error(err))
	}

	scoring.Refresh(user, now)
	if err := m.users.UpdateScores(ctx, user.ID, user.ProfileCompleteness, user.TrustScore, user.PrivacyLevel); err != nil {
		m.auditFailure(ctx, providerName, user.ID, ipAddress, userAgent, domain.StageUserLinked, err)
		return nil, err
	}

	if m.cache != nil {
		m.cache.Invalidate(ctx, user.ID)
	}

	result, err := m.tokens.StartSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		m.auditFailure(ctx, providerName, user.ID, ipAddress, userAgent, domain.StageUserLinked, err)
		return nil, err
	}

	if reactivated {
		m.recorder.Record(ctx, domain.AuditEvent{
			Type:      domain.EventUserReactivated,
			UserID:    user.ID,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Details:   map[string]interface{}{"provider": providerName, "through": "oauth_login"},
		})
	}

	m.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventOAuthCompleted,
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details: map[string]interface{}{
			"provider": providerName,
			"stage":    domain.StageComplete,
			"created":  created,
		},
	})

	return result, nil
}

// upsertUser resolves the provider profile to a local user. Match order:
// provider identity pair first, then verified email. A pseudonymized match
// means the account was erased and the owner is logging in again before the
// purge: the account is reactivated with fresh provider data, scrubbed PII is
// never restored from anywhere else.
func (m *Manager) upsertUser(ctx context.Context, profile *domain.ProviderProfile) (*domain.User, bool, bool, error) {
	now := m.clock.Now()
	email := normalizeEmail(profile.Email)

	user, err := m.users.GetByProviderIdentity(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, false, false, err
	}

	if user != nil {
		if user.IsPseudonymized() {
			reactivated, performed, err := m.users.ReactivateErased(ctx, user.ID, now)
			if err != nil {
				return nil, false, false, err
			}
			reactivated.Email = email
			reactivated.Name = profile.Name
			reactivated.PhotoURL = profile.PhotoURL
			if err := m.users.UpdateProfile(ctx, reactivated); err != nil {
				return nil, false, false, err
			}
			return reactivated, false, performed, nil
		}

		changed := false
		if email != "" && user.Email != email {
			user.Email = email
			changed = true
		}
		if profile.Name != "" && user.Name != profile.Name {
			user.Name = profile.Name
			changed = true
		}
		if profile.PhotoURL != "" && user.PhotoURL != profile.PhotoURL {
			user.PhotoURL = profile.PhotoURL
			changed = true
		}
		if changed {
			if err := m.users.UpdateProfile(ctx, user); err != nil {
				return nil, false, false, err
			}
		}
		if !user.IsActive {
			if err := m.users.Activate(ctx, user.ID, now); err != nil {
				return nil, false, false, err
			}
			user.IsActive = true
			user.DeactivatedAt = nil
			user.ReactivateAt = nil
			return user, false, true, nil
		}
		return user, false, false, nil
	}

	if profile.EmailVerified && email != "" {
		existing, err := m.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, false, false, err
		}
		if existing != nil && !existing.IsPseudonymized() {
			existing.Provider = profile.Provider
			existing.ProviderUserID = profile.ProviderUserID
			if profile.Name != "" {
				existing.Name = profile.Name
			}
			if profile.PhotoURL != "" {
				existing.PhotoURL = profile.PhotoURL
			}
			if err := m.users.UpdateProfile(ctx, existing); err != nil {
				return nil, false, false, err
			}
			return existing, false, false, nil
		}
	}

	user = &domain.User{
		ID:             uuid.New().String(),
		Email:          email,
		Name:           profile.Name,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		PhotoURL:       profile.PhotoURL,
		IsActive:       true,
		IsVerified:     profile.EmailVerified,
		ErasureState:   domain.ErasureStateActive,
		PrivacyLevel:   domain.PrivacyLevelStandard,
	}
	if err := m.users.Create(ctx, user); err != nil {
		return nil, false, false, err
	}
	return user, true, false, nil
}

func (m *Manager) exchangeWithRetry(ctx context.Context, provider Provider, code string) (*oauth2.Token, error) {
	var providerToken *oauth2.Token
	err := m.withRetry(ctx, provider.Name(), "token exchange", func() error {
		var err error
		providerToken, err = provider.Exchange(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return providerToken, nil
}

func (m *Manager) fetchProfileWithRetry(ctx context.Context, provider Provider, providerToken *oauth2.Token) (*domain.ProviderProfile, error) {
	var profile *domain.ProviderProfile
	err := m.withRetry(ctx, provider.Name(), "profile fetch", func() error {
		var err error
		profile, err = provider.FetchProfile(ctx, providerToken)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// withRetry runs fn with bounded exponential backoff. Classified application
// errors (e.g. a malformed profile) surface immediately; transient provider
// and transport failures burn the retry budget before the provider is
// reported unavailable.
func (m *Manager) withRetry(ctx context.Context, providerName, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := m.retryBase << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return errors.NewProviderUnavailableError(providerName, ctx.Err())
			case <-m.clock.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if _, ok := errors.AsAppError(err); ok {
			return err
		}
		if !transient(err) {
			break
		}
		m.logger.Warn("provider call failed, retrying",
			zap.String("provider", providerName),
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return errors.NewProviderUnavailableError(providerName, lastErr)
}

// transient reports whether a provider failure is worth retrying. Server-side
// and transport failures are; definitive 4xx refusals are not.
func transient(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil {
			return true
		}
		code := retrieveErr.Response.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests
	}
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests
	}
	var statusErr *httpStatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.status >= 500 || statusErr.status == http.StatusTooManyRequests
	}
	return true
}

// auditFailure records a failed flow with the stage it died at.
func (m *Manager) auditFailure(ctx context.Context, providerName, userID, ipAddress, userAgent, stage string, err error) {
	reason := "internal"
	if appErr, ok := errors.AsAppError(err); ok {
		reason = string(appErr.Type)
	}
	m.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventOAuthFailed,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details: map[string]interface{}{
			"provider": providerName,
			"stage":    stage,
			"reason":   reason,
		},
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
