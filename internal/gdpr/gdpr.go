// Package gdpr implements the data lifecycle: full export, pseudonymizing
// erasure with a retention window, reactivation before the purge deadline
// and the background purge sweep.
package gdpr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/crypto"
	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/internal/token"
	"idcore/pkg/errors"
)

// Older history than this is not included in an export.
const exportHistoryLimit = 1000

// ProfileCache invalidates cached profile views after an account mutation.
type ProfileCache interface {
	Invalidate(ctx context.Context, userID string)
}

// Manager drives exports, erasure and reactivation for a single user.
type Manager struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	verifications repository.VerificationRepository
	connections   repository.ConnectionRepository
	activities    repository.ActivityRepository
	crypto        crypto.Service
	tokens        *token.Service
	cache         ProfileCache
	recorder      *audit.Recorder
	logger        *zap.Logger
	clock         clockwork.Clock
	retention     time.Duration
}

func NewManager(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	verifications repository.VerificationRepository,
	connections repository.ConnectionRepository,
	activities repository.ActivityRepository,
	cryptoSvc crypto.Service,
	tokens *token.Service,
	cache ProfileCache,
	recorder *audit.Recorder,
	logger *zap.Logger,
	clock clockwork.Clock,
	retention time.Duration,
) *Manager {
	return &Manager{
		users:         users,
		sessions:      sessions,
		verifications: verifications,
		connections:   connections,
		activities:    activities,
		crypto:        cryptoSvc,
		tokens:        tokens,
		cache:         cache,
		recorder:      recorder,
		logger:        logger,
		clock:         clock,
		retention:     retention,
	}
}

// Export assembles everything held about the user into one snapshot, with
// sensitive fields decrypted for the owner. A ciphertext that no longer
// decrypts fails the whole export rather than silently dropping data.
func (m *Manager) Export(ctx context.Context, userID, ipAddress, userAgent string) (*domain.ExportSnapshot, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}

	profile := &domain.ProfileView{User: *user}
	if user.PhoneEncrypted != "" {
		phone, err := m.crypto.Decrypt(user.PhoneEncrypted)
		if err != nil {
			return nil, err
		}
		profile.Phone = phone
	}
	if user.DateOfBirthEncrypted != "" {
		dob, err := m.crypto.Decrypt(user.DateOfBirthEncrypted)
		if err != nil {
			return nil, err
		}
		profile.DateOfBirth = dob
	}

	sessions, err := m.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessionInfos := make([]domain.SessionInfo, 0, len(sessions))
	for i := range sessions {
		sessionInfos = append(sessionInfos, sessions[i].Info())
	}

	verifications, err := m.verifications.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	connections, err := m.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	activities, err := m.activities.ListByUser(ctx, userID, exportHistoryLimit)
	if err != nil {
		return nil, err
	}
	trail, err := m.recorder.ListByUser(ctx, userID, exportHistoryLimit)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.ExportSnapshot{
		ExportedAt:    m.clock.Now().UTC(),
		Profile:       profile,
		Sessions:      sessionInfos,
		Verifications: verifications,
		Connections:   connections,
		Activities:    activities,
		AuditTrail:    trail,
	}

	m.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventGDPRExported,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details: map[string]interface{}{
			"sessions":      len(sessionInfos),
			"activities":    len(activities),
			"audit_entries": len(trail),
		},
	})

	return snapshot, nil
}

// Erase pseudonymizes the account and schedules its purge. Idempotent:
// repeating the request returns the schedule already in force. Every live
// session is revoked in the same transaction that scrubs the row, and the
// erased audit event is recorded only by the call that performed the
// transition.
func (m *Manager) Erase(ctx context.Context, userID, ipAddress, userAgent string) (*domain.ErasureSchedule, error) {
	now := m.clock.Now().UTC()
	user, jtis, performed, err := m.users.Pseudonymize(ctx, userID, placeholderEmail(), now, now.Add(m.retention))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewAlreadyPurgedError(userID)
	}

	if len(jtis) > 0 {
		m.tokens.MarkRevoked(ctx, jtis)
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, userID)
	}

	if performed {
		m.recorder.Record(ctx, domain.AuditEvent{
			Type:      domain.EventGDPRErased,
			UserID:    userID,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Details: map[string]interface{}{
				"scheduled_purge_at": user.ScheduledPurgeAt.UTC().Format(time.RFC3339),
				"revoked_sessions":   len(jtis),
			},
		})
	}

	return &domain.ErasureSchedule{
		UserID:           user.ID,
		PseudonymizedAt:  *user.PseudonymizedAt,
		ScheduledPurgeAt: *user.ScheduledPurgeAt,
	}, nil
}

// Reactivate reverses an erasure strictly before the scheduled purge.
func (m *Manager) Reactivate(ctx context.Context, userID, ipAddress, userAgent string) (*domain.User, error) {
	user, performed, err := m.users.ReactivateErased(ctx, userID, m.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		m.cache.Invalidate(ctx, userID)
	}
	if performed {
		m.recorder.Record(ctx, domain.AuditEvent{
			Type:      domain.EventUserReactivated,
			UserID:    userID,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Details:   map[string]interface{}{"through": "erasure_reversal"},
		})
	}

	return user, nil
}

// placeholderEmail returns a unique non-routable address for a scrubbed row.
func placeholderEmail() string {
	return fmt.Sprintf("erased-%s@anonymized.invalid", uuid.New().String()[:8])
}
