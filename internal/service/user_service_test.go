package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/crypto"
	"idcore/internal/domain"
	"idcore/internal/repository/repotest"
	"idcore/internal/token"
	"idcore/pkg/errors"
	"idcore/pkg/redis"
)

type serviceFixture struct {
	svc        *UserService
	cache      *ProfileCache
	users      *repotest.MemoryUserRepository
	sessions   *repotest.MemorySessionRepository
	activities *repotest.MemoryActivityRepository
	auditLog   *repotest.MemoryAuditRepository
	tokens     *token.Service
	crypto     crypto.Service
	redis      *redis.Client
	clock      *clockwork.FakeClock
	mr         *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *serviceFixture {
	return newServiceFixtureWithKeys(t, []crypto.KeyConfig{{Version: "v1", Hex: randomKeyHex(t)}})
}

func newServiceFixtureWithKeys(t *testing.T, keys []crypto.KeyConfig) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient, err := redis.NewClient("redis://"+mr.Addr(), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	clock := clockwork.NewFakeClock()

	cryptoSvc, err := crypto.NewVersionedService(keys, 90*24*time.Hour, clock)
	require.NoError(t, err)

	sessions := repotest.NewMemorySessionRepository()
	users := repotest.NewMemoryUserRepository(sessions)
	verifications := repotest.NewMemoryVerificationRepository()
	activities := repotest.NewMemoryActivityRepository(users)
	auditRepo := repotest.NewMemoryAuditRepository()
	recorder := audit.NewRecorder(auditRepo, zap.NewNop())

	tokens := token.NewService(sessions, users, cryptoSvc, redisClient, recorder,
		"test-signing-secret", time.Hour, 720*time.Hour, zap.NewNop(), clock)

	cache := NewProfileCache(redisClient, zap.NewNop())
	svc := NewUserService(users, verifications, activities, cryptoSvc, tokens,
		cache, recorder, zap.NewNop(), clock)

	return &serviceFixture{
		svc:        svc,
		cache:      cache,
		users:      users,
		sessions:   sessions,
		activities: activities,
		auditLog:   auditRepo,
		tokens:     tokens,
		crypto:     cryptoSvc,
		redis:      redisClient,
		clock:      clock,
		mr:         mr,
	}
}

func randomKeyHex(t *testing.T) string {
	t.Helper()
	keyBytes := make([]byte, 32)
	_, err := rand.Read(keyBytes)
	require.NoError(t, err)
	return hex.EncodeToString(keyBytes)
}

func (f *serviceFixture) seedUser(t *testing.T, id, email string) *domain.User {
	t.Helper()

	user := &domain.User{
		ID:             id,
		Email:          email,
		Provider:       "google",
		ProviderUserID: "google-" + id,
		IsActive:       true,
		ErasureState:   domain.ErasureStateActive,
		PrivacyLevel:   domain.PrivacyLevelStandard,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *serviceFixture) seedRichUser(t *testing.T, id, email string) *domain.User {
	t.Helper()

	user := f.seedUser(t, id, email)
	phoneCT, err := f.crypto.Encrypt("+44 20 7946 0321")
	require.NoError(t, err)
	dobCT, err := f.crypto.Encrypt("1815-12-10")
	require.NoError(t, err)

	user.Name = "Ada Lovelace"
	user.Title = "Analyst"
	user.PhoneEncrypted = phoneCT
	user.DateOfBirthEncrypted = dobCT
	require.NoError(t, f.users.UpdateProfile(context.Background(), user))
	return user
}

func strPtr(s string) *string { return &s }

func requireAppError(t *testing.T, err error, want errors.ErrorType) *errors.AppError {
	t.Helper()
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	require.Equal(t, want, appErr.Type)
	return appErr
}

// wrongCode derives a code that deterministically differs from the real one.
func wrongCode(code string) string {
	if code[0] == '9' {
		return "0" + code[1:]
	}
	return string(code[0]+1) + code[1:]
}

func TestGetProfileDecryptsFields(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	view, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", view.Email)
	assert.Equal(t, "Ada Lovelace", view.Name)
	assert.Equal(t, "+44 20 7946 0321", view.Phone)
	assert.Equal(t, "1815-12-10", view.DateOfBirth)
}

func TestGetProfileUnknownUser(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.GetProfile(context.Background(), "ghost")
	requireAppError(t, err, errors.ErrorTypeNotFound)
}

func TestGetProfileServesFromCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := f.seedRichUser(t, "user-1", "ada@example.com")

	_, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)

	// A write that bypasses the service is invisible until invalidation.
	user.Name = "Augusta King"
	require.NoError(t, f.users.UpdateProfile(ctx, user))

	view, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", view.Name)

	f.cache.Invalidate(ctx, "user-1")

	view, err = f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Augusta King", view.Name)
}

func TestCachedProfileHoldsCiphertextNotPlaintext(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	_, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)

	raw, err := f.mr.Get(f.redis.KeyBuilder.KeyUserProfile("user-1"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "+44 20 7946 0321")
	assert.NotContains(t, raw, "1815-12-10")
	assert.Contains(t, raw, "phone_encrypted")
}

func TestGetProfileDropsCorruptCacheEntry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	key := f.redis.KeyBuilder.KeyUserProfile("user-1")
	require.NoError(t, f.mr.Set(key, "{not json"))

	view, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", view.Name)
}

func TestGetProfileReencryptsStaleCiphertext(t *testing.T) {
	retiredHex := randomKeyHex(t)
	f := newServiceFixtureWithKeys(t, []crypto.KeyConfig{
		{Version: "v2", Hex: randomKeyHex(t)},
		{Version: "v1", Hex: retiredHex},
	})
	ctx := context.Background()

	retired, err := crypto.NewVersionedService(
		[]crypto.KeyConfig{{Version: "v1", Hex: retiredHex}}, 90*24*time.Hour, f.clock)
	require.NoError(t, err)
	phoneCT, err := retired.Encrypt("+44 20 7946 0321")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(phoneCT, "v1:"))

	user := f.seedUser(t, "user-1", "ada@example.com")
	user.PhoneEncrypted = phoneCT
	require.NoError(t, f.users.UpdateProfile(ctx, user))

	view, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "+44 20 7946 0321", view.Phone)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PhoneEncrypted, "v2:"),
		"ciphertext should be rewritten under the primary key")

	// The refreshed ciphertext round-trips on a later read.
	view, err = f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "+44 20 7946 0321", view.Phone)
}

func TestUpdateProfileAppliesFieldsAndScores(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	view, err := f.svc.UpdateProfile(ctx, "user-1", &domain.ProfileUpdate{
		Name:   strPtr("Ada Lovelace"),
		Title:  strPtr("Analyst"),
		Skills: &[]string{"mathematics", "mechanical computation"},
		Phone:  strPtr("+44 20 7946 0321"),
	}, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", view.Name)
	assert.Equal(t, "+442079460321", view.Phone)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", stored.Title)
	assert.True(t, strings.HasPrefix(stored.PhoneEncrypted, "v1:"))
	assert.NotContains(t, stored.PhoneEncrypted, "7946")

	// name 0.15 + title 0.15 + skills 0.10
	assert.InDelta(t, 0.40, stored.ProfileCompleteness, 1e-9)
	assert.Equal(t, domain.PrivacyLevelMedium, stored.PrivacyLevel)
	assert.Equal(t, profileUpdateScoreDelta, stored.EngagementScore)

	events := f.auditLog.EntriesOfType(domain.EventProfileUpdated)
	require.Len(t, events, 1)
	fields, ok := events[0].Details["fields"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"name", "title", "skills", "phone"}, fields)

	activities, err := f.activities.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, domain.ActivityProfileUpdate, activities[0].ActivityType)
}

func TestUpdateProfileRequiresChanges(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user-1", "ada@example.com")

	_, err := f.svc.UpdateProfile(context.Background(), "user-1", &domain.ProfileUpdate{}, "", "")
	requireAppError(t, err, errors.ErrorTypeValidation)
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.UpdateProfile(context.Background(), "ghost",
		&domain.ProfileUpdate{Name: strPtr("Nobody")}, "", "")
	requireAppError(t, err, errors.ErrorTypeNotFound)
}

func TestUpdateProfileClearsEncryptedField(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	view, err := f.svc.UpdateProfile(ctx, "user-1", &domain.ProfileUpdate{
		Phone: strPtr(""),
	}, "", "")
	require.NoError(t, err)
	assert.Empty(t, view.Phone)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored.PhoneEncrypted)
	assert.Equal(t, domain.PrivacyLevelMedium, stored.PrivacyLevel)
}

func TestUpdateProfileRejectsInvalidPhone(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, err := f.svc.UpdateProfile(ctx, "user-1", &domain.ProfileUpdate{
		Phone: strPtr("not-a-number"),
	}, "", "")
	requireAppError(t, err, errors.ErrorTypeValidation)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored.PhoneEncrypted)
}

func TestUpdateProfileInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	_, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.svc.UpdateProfile(ctx, "user-1", &domain.ProfileUpdate{
		Name: strPtr("Augusta King"),
	}, "", "")
	require.NoError(t, err)

	view, err := f.svc.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Augusta King", view.Name)
}

func TestUpdateProfileRejectsPseudonymizedUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")
	now := f.clock.Now()
	_, _, _, err := f.users.Pseudonymize(ctx, "user-1", "erased-1@anonymized.invalid", now, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.UpdateProfile(ctx, "user-1", &domain.ProfileUpdate{
		Name: strPtr("Ada"),
	}, "", "")
	requireAppError(t, err, errors.ErrorTypeConflict)
}

func TestGetPrivacyReturnsFacet(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedRichUser(t, "user-1", "ada@example.com")

	privacy, err := f.svc.GetPrivacy(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", privacy.UserID)
	assert.Empty(t, privacy.PrivacyPreference)
}

func TestUpdatePrivacyValidatesPreference(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user-1", "ada@example.com")

	_, err := f.svc.UpdatePrivacy(context.Background(), "user-1", "friends", "", "")
	appErr := requireAppError(t, err, errors.ErrorTypeValidation)
	assert.Contains(t, appErr.Details, "privacy_preference")
}

func TestUpdatePrivacyPreferenceOverridesDerivedLevel(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	user, err := f.svc.UpdatePrivacy(ctx, "user-1", domain.PrivacyPreferencePrivate, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, domain.PrivacyLevelHigh, user.PrivacyLevel)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PrivacyPreferencePrivate, stored.PrivacyPreference)
	assert.Equal(t, domain.PrivacyLevelHigh, stored.PrivacyLevel)

	events := f.auditLog.EntriesOfType(domain.EventPrivacyUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PrivacyPreferencePrivate, events[0].Details["privacy_preference"])

	// Clearing the preference falls back to the sensitivity-derived level.
	user, err = f.svc.UpdatePrivacy(ctx, "user-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.PrivacyLevelStandard, user.PrivacyLevel)
}

func TestRequestVerificationIssuesCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	record, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	assert.Equal(t, domain.VerificationStatusPending, record.Status)
	assert.Equal(t, 0, record.Attempts)
	assert.True(t, record.ExpiresAt.Equal(f.clock.Now().UTC().Add(verificationTTL)))
	assert.NotEqual(t, code, record.CodeHash)

	events := f.auditLog.EntriesOfType(domain.EventVerificationRequested)
	require.Len(t, events, 1)
	assert.Equal(t, "email", events[0].Details["method"])
	assert.NotContains(t, events[0].Details, "code")
}

func TestRequestVerificationInvalidMethod(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user-1", "ada@example.com")

	_, _, err := f.svc.RequestVerification(context.Background(), "user-1", "carrier-pigeon", "", "")
	requireAppError(t, err, errors.ErrorTypeValidation)
}

func TestRequestVerificationReplacesPreviousCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, first, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, wrongCode(first), "", "")
	require.NoError(t, err)
	require.False(t, result.Verified)
	require.Equal(t, 1, result.Verification.Attempts)

	f.clock.Advance(5 * time.Minute)
	record, _, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	assert.Equal(t, 0, record.Attempts)
	assert.True(t, record.ExpiresAt.Equal(f.clock.Now().UTC().Add(verificationTTL)))
}

func TestConfirmVerificationSuccess(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.True(t, result.Verified)
	assert.Equal(t, domain.VerificationStatusVerified, result.Verification.Status)
	require.NotNil(t, result.Verification.VerifiedAt)
	require.NotNil(t, result.User)
	assert.True(t, result.User.IsVerified)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Equal(t, 10, stored.TrustScore)
	assert.Equal(t, verifiedScoreDelta, stored.EngagementScore)

	require.Len(t, f.auditLog.EntriesOfType(domain.EventVerificationConfirmed), 1)
	assert.Empty(t, f.auditLog.EntriesOfType(domain.EventVerificationFailed))
}

func TestConfirmVerificationWrongCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, wrongCode(code), "", "")
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, "invalid_code", result.Reason)
	assert.Equal(t, 1, result.Verification.Attempts)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)

	events := f.auditLog.EntriesOfType(domain.EventVerificationFailed)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid_code", events[0].Details["reason"])

	// The correct code still works afterwards.
	result, err = f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "", "")
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestConfirmVerificationExpired(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	f.clock.Advance(verificationTTL + time.Second)

	result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "", "")
	require.NoError(t, err)

	assert.False(t, result.Verified)
	assert.Equal(t, "expired", result.Reason)
	assert.Equal(t, domain.VerificationStatusExpired, result.Verification.Status)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func TestConfirmVerificationAlreadyUsed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "", "")
	require.NoError(t, err)

	_, err = f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "", "")
	requireAppError(t, err, errors.ErrorTypeConflict)
}

func TestConfirmVerificationTooManyAttempts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	_, code, err := f.svc.RequestVerification(ctx, "user-1", domain.VerificationMethodEmail, "", "")
	require.NoError(t, err)

	for i := 0; i < verificationMaxTries; i++ {
		result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, wrongCode(code), "", "")
		require.NoError(t, err)
		require.Equal(t, "invalid_code", result.Reason)
	}

	// Even the correct code is refused once the budget is spent.
	result, err := f.svc.ConfirmVerification(ctx, "user-1", domain.VerificationMethodEmail, code, "", "")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, "too_many_attempts", result.Reason)

	stored, err := f.users.GetByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func TestConfirmVerificationWithoutRequest(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user-1", "ada@example.com")

	_, err := f.svc.ConfirmVerification(context.Background(), "user-1", domain.VerificationMethodEmail, "123456", "", "")
	requireAppError(t, err, errors.ErrorTypeNotFound)
}

func TestDeactivateRevokesSessions(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com")

	auth, err := f.tokens.StartSession(ctx, user, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	updated, err := f.svc.Deactivate(ctx, "user-1", nil, "203.0.113.7", "test-agent")
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	require.NotNil(t, updated.DeactivatedAt)
	assert.Nil(t, updated.ReactivateAt)

	_, err = f.tokens.Verify(ctx, auth.Token)
	requireAppError(t, err, errors.ErrorTypeTokenRevoked)

	_, err = f.tokens.Refresh(ctx, auth.RefreshToken, "203.0.113.7", "test-agent")
	requireAppError(t, err, errors.ErrorTypeTokenRevoked)

	events := f.auditLog.EntriesOfType(domain.EventUserDeactivated)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Details["revoked_sessions"])
}

func TestDeactivateWithReactivationSchedule(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")

	reactivateAt := f.clock.Now().UTC().Add(14 * 24 * time.Hour)
	updated, err := f.svc.Deactivate(ctx, "user-1", &reactivateAt, "", "")
	require.NoError(t, err)
	require.NotNil(t, updated.ReactivateAt)
	assert.True(t, updated.ReactivateAt.Equal(reactivateAt))

	events := f.auditLog.EntriesOfType(domain.EventUserDeactivated)
	require.Len(t, events, 1)
	assert.Equal(t, reactivateAt.Format(time.RFC3339), events[0].Details["reactivate_at"])
}

func TestDeactivateRejectsPastReactivation(t *testing.T) {
	f := newServiceFixture(t)
	f.seedUser(t, "user-1", "ada@example.com")

	past := f.clock.Now().UTC().Add(-time.Hour)
	_, err := f.svc.Deactivate(context.Background(), "user-1", &past, "", "")
	requireAppError(t, err, errors.ErrorTypeValidation)
}

func TestDeactivateRejectsPseudonymizedUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seedUser(t, "user-1", "ada@example.com")
	now := f.clock.Now()
	_, _, _, err := f.users.Pseudonymize(ctx, "user-1", "erased-1@anonymized.invalid", now, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Deactivate(ctx, "user-1", nil, "", "")
	requireAppError(t, err, errors.ErrorTypeConflict)
}
