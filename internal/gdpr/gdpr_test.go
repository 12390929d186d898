package gdpr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

const testRetention = 30 * 24 * time.Hour

type gdprFixture struct {
	mgr           *Manager
	sweeper       *Sweeper
	users         *repotest.MemoryUserRepository
	sessions      *repotest.MemorySessionRepository
	verifications *repotest.MemoryVerificationRepository
	connections   *repotest.MemoryConnectionRepository
	activities    *repotest.MemoryActivityRepository
	auditLog      *repotest.MemoryAuditRepository
	recorder      *audit.Recorder
	tokens        *token.Service
	crypto        crypto.Service
	clock         *clockwork.FakeClock
}

func newGDPRFixture(t *testing.T) *gdprFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient, err := redis.NewClient("redis://"+mr.Addr(), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	clock := clockwork.NewFakeClock()

	keyBytes := make([]byte, 32)
	_, err = rand.Read(keyBytes)
	require.NoError(t, err)
	cryptoSvc, err := crypto.NewVersionedService(
		[]crypto.KeyConfig{{Version: "v1", Hex: hex.EncodeToString(keyBytes)}},
		90*24*time.Hour, clock)
	require.NoError(t, err)

	sessions := repotest.NewMemorySessionRepository()
	users := repotest.NewMemoryUserRepository(sessions)
	verifications := repotest.NewMemoryVerificationRepository()
	connections := repotest.NewMemoryConnectionRepository()
	activities := repotest.NewMemoryActivityRepository(users)
	auditRepo := repotest.NewMemoryAuditRepository()
	recorder := audit.NewRecorder(auditRepo, zap.NewNop())

	tokens := token.NewService(sessions, users, cryptoSvc, redisClient, recorder,
		"test-signing-secret", time.Hour, 720*time.Hour, zap.NewNop(), clock)

	mgr := NewManager(users, sessions, verifications, connections, activities,
		cryptoSvc, tokens, nil, recorder, zap.NewNop(), clock, testRetention)
	sweeper := NewSweeper(users, tokens, recorder, zap.NewNop(), clock, time.Hour)

	return &gdprFixture{
		mgr:           mgr,
		sweeper:       sweeper,
		users:         users,
		sessions:      sessions,
		verifications: verifications,
		connections:   connections,
		activities:    activities,
		auditLog:      auditRepo,
		recorder:      recorder,
		tokens:        tokens,
		crypto:        cryptoSvc,
		clock:         clock,
	}
}

func (f *gdprFixture) seedUser(t *testing.T, id, email, providerUserID string) *domain.User {
	t.Helper()

	phoneCT, err := f.crypto.Encrypt("+44 20 7946 0321")
	require.NoError(t, err)
	dobCT, err := f.crypto.Encrypt("1815-12-10")
	require.NoError(t, err)

	user := &domain.User{
		ID:                   id,
		Email:                email,
		Name:                 "Ada Lovelace",
		Provider:             domain.ProviderGoogle,
		ProviderUserID:       providerUserID,
		Title:                "Analyst",
		PhoneEncrypted:       phoneCT,
		DateOfBirthEncrypted: dobCT,
		IsActive:             true,
		IsVerified:           true,
		ErasureState:         domain.ErasureStateActive,
		PrivacyLevel:         domain.PrivacyLevelStandard,
		CreatedAt:            f.clock.Now(),
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func requireAppError(t *testing.T, err error, wantType errors.ErrorType) {
	t.Helper()
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, wantType, appErr.Type)
}

func TestExportAssemblesEverything(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.tokens.StartSession(ctx, user, "203.0.113.7", "agent-a")
	require.NoError(t, err)
	_, err = f.tokens.StartSession(ctx, user, "203.0.113.8", "agent-b")
	require.NoError(t, err)

	require.NoError(t, f.verifications.Upsert(ctx, &domain.VerificationCode{
		ID:        "ver-1",
		UserID:    user.ID,
		Method:    "email",
		CodeHash:  "irrelevant-hash",
		Status:    domain.VerificationStatusPending,
		ExpiresAt: f.clock.Now().Add(15 * time.Minute),
	}))
	require.NoError(t, f.connections.Create(ctx, &domain.UserConnection{
		ID:             "conn-1",
		UserID:         user.ID,
		ConnectionType: "invite",
		Status:         "pending",
	}))
	require.NoError(t, f.activities.Record(ctx, &domain.ActivityEntry{
		ID:           "act-1",
		UserID:       user.ID,
		ActivityType: domain.ActivityLogin,
		ScoreDelta:   1,
	}))
	f.recorder.Record(ctx, domain.AuditEvent{Type: domain.EventProfileUpdated, UserID: user.ID})

	snapshot, err := f.mgr.Export(ctx, user.ID, "203.0.113.7", "agent-a")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", snapshot.Profile.Email)
	assert.Equal(t, "+44 20 7946 0321", snapshot.Profile.Phone)
	assert.Equal(t, "1815-12-10", snapshot.Profile.DateOfBirth)
	assert.Len(t, snapshot.Sessions, 2)
	assert.Len(t, snapshot.Verifications, 1)
	assert.Len(t, snapshot.Connections, 1)
	assert.Len(t, snapshot.Activities, 1)
	assert.Len(t, snapshot.AuditTrail, 1)

	exported := f.auditLog.EntriesOfType(domain.EventGDPRExported)
	require.Len(t, exported, 1)
	assert.Equal(t, user.ID, exported[0].UserID)
	assert.Equal(t, 2, exported[0].Details["sessions"])
}

func TestExportUnknownUser(t *testing.T) {
	f := newGDPRFixture(t)

	_, err := f.mgr.Export(context.Background(), "no-such-user", "203.0.113.7", "agent")
	requireAppError(t, err, errors.ErrorTypeNotFound)
}

func TestExportFailsOnUndecryptableCiphertext(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	user.PhoneEncrypted = "v9:1735689600:deadbeef"
	require.NoError(t, f.users.UpdateProfile(ctx, user))

	_, err := f.mgr.Export(ctx, user.ID, "203.0.113.7", "agent")
	requireAppError(t, err, errors.ErrorTypeKeyNotFound)
}

func TestEraseScrubsAndSchedules(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	auth, err := f.tokens.StartSession(ctx, user, "203.0.113.7", "agent-a")
	require.NoError(t, err)

	now := f.clock.Now().UTC()
	schedule, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, schedule.UserID)
	assert.True(t, schedule.ScheduledPurgeAt.Equal(now.Add(testRetention)))

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, strings.HasPrefix(stored.Email, "erased-"))
	assert.True(t, strings.HasSuffix(stored.Email, "@anonymized.invalid"))
	assert.Empty(t, stored.Name)
	assert.Empty(t, stored.Title)
	assert.Empty(t, stored.PhoneEncrypted)
	assert.Empty(t, stored.DateOfBirthEncrypted)
	assert.False(t, stored.IsActive)
	assert.Equal(t, domain.ErasureStatePseudonymized, stored.ErasureState)

	// Sessions are revoked in the same transaction and outstanding access
	// tokens die immediately through the revocation markers.
	_, err = f.tokens.Refresh(ctx, auth.RefreshToken, "203.0.113.7", "agent-a")
	requireAppError(t, err, errors.ErrorTypeTokenRevoked)
	_, err = f.tokens.Verify(ctx, auth.Token)
	requireAppError(t, err, errors.ErrorTypeTokenRevoked)

	erased := f.auditLog.EntriesOfType(domain.EventGDPRErased)
	require.Len(t, erased, 1)
	assert.Equal(t, user.ID, erased[0].UserID)
	assert.Equal(t, 1, erased[0].Details["revoked_sessions"])
}

func TestEraseIsIdempotent(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	first, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	afterFirst, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	second, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	assert.True(t, second.PseudonymizedAt.Equal(first.PseudonymizedAt))
	assert.True(t, second.ScheduledPurgeAt.Equal(first.ScheduledPurgeAt))

	afterSecond, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, afterFirst.Email, afterSecond.Email)

	assert.Len(t, f.auditLog.EntriesOfType(domain.EventGDPRErased), 1)
}

func TestEraseUnknownUserReportsAlreadyPurged(t *testing.T) {
	f := newGDPRFixture(t)

	_, err := f.mgr.Erase(context.Background(), "no-such-user", "203.0.113.7", "agent")
	requireAppError(t, err, errors.ErrorTypeAlreadyPurged)
}

func TestExportAfterEraseReturnsScrubbedProfile(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	snapshot, err := f.mgr.Export(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(snapshot.Profile.Email, "erased-"))
	assert.Empty(t, snapshot.Profile.Name)
	assert.Empty(t, snapshot.Profile.Phone)
	assert.Empty(t, snapshot.Profile.DateOfBirth)
}

func TestReactivateRestoresAccountStanding(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)

	restored, err := f.mgr.Reactivate(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	assert.Equal(t, domain.ErasureStateActive, restored.ErasureState)
	assert.True(t, restored.IsActive)
	assert.Nil(t, restored.PseudonymizedAt)
	assert.Nil(t, restored.ScheduledPurgeAt)

	// Scrubbed PII stays gone; identity fields refill on the next login.
	assert.True(t, strings.HasPrefix(restored.Email, "erased-"))
	assert.Empty(t, restored.Name)
	assert.Empty(t, restored.PhoneEncrypted)

	require.Len(t, f.auditLog.EntriesOfType(domain.EventUserReactivated), 1)

	// Repeating the call on an active account changes nothing.
	_, err = f.mgr.Reactivate(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	assert.Len(t, f.auditLog.EntriesOfType(domain.EventUserReactivated), 1)
}

func TestReactivateAfterDeadlineFails(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	f.clock.Advance(testRetention + time.Hour)

	_, err = f.mgr.Reactivate(ctx, user.ID, "203.0.113.7", "agent")
	requireAppError(t, err, errors.ErrorTypeRetentionWindowActive)

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErasureStatePseudonymized, stored.ErasureState)
}

func TestReactivateUnknownUserReportsAlreadyPurged(t *testing.T) {
	f := newGDPRFixture(t)

	_, err := f.mgr.Reactivate(context.Background(), "no-such-user", "203.0.113.7", "agent")
	requireAppError(t, err, errors.ErrorTypeAlreadyPurged)
}

func TestSweepPurgesDueUsers(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	first := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")
	second := f.seedUser(t, "user-2", "grace@example.com", "google-uid-2")

	_, err := f.tokens.StartSession(ctx, first, "203.0.113.7", "agent")
	require.NoError(t, err)

	_, err = f.mgr.Erase(ctx, first.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	_, err = f.mgr.Erase(ctx, second.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	f.clock.Advance(testRetention + time.Hour)

	// Erased after the clock moved, so not yet due.
	third := f.seedUser(t, "user-3", "margaret@example.com", "google-uid-3")
	_, err = f.mgr.Erase(ctx, third.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	purged, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	gone, err := f.users.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	gone, err = f.users.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := f.users.GetByID(ctx, third.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, domain.ErasureStatePseudonymized, kept.ErasureState)

	remaining, err := f.sessions.ListByUser(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.Len(t, f.auditLog.EntriesOfType(domain.EventGDPRPurged), 2)
}

func TestSweepSkipsReactivatedUser(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.mgr.Reactivate(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)

	f.clock.Advance(testRetention)

	purged, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
}

func TestSweeperLifecycle(t *testing.T) {
	f := newGDPRFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "user-1", "ada@example.com", "google-uid-1")

	_, err := f.mgr.Erase(ctx, user.ID, "203.0.113.7", "agent")
	require.NoError(t, err)
	f.clock.Advance(testRetention + time.Minute)

	require.NoError(t, f.sweeper.Start(ctx))
	require.NoError(t, f.sweeper.Start(ctx))

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		stored, err := f.users.GetByID(ctx, user.ID)
		return err == nil && stored == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sweeper.Stop())
	require.NoError(t, f.sweeper.Stop())
}
