// Package service implements the profile-facing operations: cached profile
// reads with field decryption, profile and privacy updates, verification
// codes and account deactivation.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/crypto"
	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/internal/scoring"
	"idcore/internal/token"
	"idcore/pkg/errors"
	"idcore/pkg/utils"
)

const (
	verificationTTL      = 15 * time.Minute
	verificationMaxTries = 5

	profileUpdateScoreDelta = 2
	verifiedScoreDelta      = 5
)

// UserService coordinates profile reads and mutations around the user
// repository, keeping derived scores, the cache and the audit trail in step.
type UserService struct {
	users         repository.UserRepository
	verifications repository.VerificationRepository
	activities    repository.ActivityRepository
	crypto        crypto.Service
	tokens        *token.Service
	cache         *ProfileCache
	recorder      *audit.Recorder
	logger        *zap.Logger
	clock         clockwork.Clock
}

// NewUserService creates a user service.
func NewUserService(
	users repository.UserRepository,
	verifications repository.VerificationRepository,
	activities repository.ActivityRepository,
	cryptoSvc crypto.Service,
	tokens *token.Service,
	cache *ProfileCache,
	recorder *audit.Recorder,
	logger *zap.Logger,
	clock clockwork.Clock,
) *UserService {
	return &UserService{
		users:         users,
		verifications: verifications,
		activities:    activities,
		crypto:        cryptoSvc,
		tokens:        tokens,
		cache:         cache,
		recorder:      recorder,
		logger:        logger,
		clock:         clock,
	}
}

// GetProfile returns the owner view of a profile with encrypted fields
// decrypted. Reads go through the cache; a database read additionally
// rewrites ciphertexts produced under a retired or aging key.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.ProfileView, error) {
	if cached := s.cache.Get(ctx, userID); cached != nil {
		view, err := s.decryptView(cached)
		if err == nil {
			return view, nil
		}
		s.cache.Invalidate(ctx, userID)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}

	view, err := s.decryptView(user)
	if err != nil {
		return nil, err
	}

	s.refreshStaleCiphertexts(ctx, user, view.Phone, view.DateOfBirth)
	s.cache.Set(ctx, user)

	return view, nil
}

// UpdateProfile applies the non-nil fields of the update, encrypts phone and
// date of birth, refreshes derived scores and audits the change.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, update *domain.ProfileUpdate, ipAddress, userAgent string) (*domain.ProfileView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}
	if user.IsPseudonymized() {
		return nil, errors.NewConflictError("Account is pending erasure", nil)
	}

	var fields []string
	setField := func(name string, dst *string, src *string) {
		if src != nil {
			*dst = *src
			fields = append(fields, name)
		}
	}
	setField("name", &user.Name, update.Name)
	setField("title", &user.Title, update.Title)
	setField("company", &user.Company, update.Company)
	setField("location", &user.Location, update.Location)
	setField("industry", &user.Industry, update.Industry)
	setField("bio", &user.Bio, update.Bio)
	setField("linkedin_url", &user.LinkedInURL, update.LinkedInURL)
	setField("photo_url", &user.PhotoURL, update.PhotoURL)
	if update.Skills != nil {
		user.Skills = *update.Skills
		fields = append(fields, "skills")
	}
	if update.Interests != nil {
		user.Interests = *update.Interests
		fields = append(fields, "interests")
	}
	if update.Phone != nil {
		phone := *update.Phone
		if phone != "" {
			normalized, err := utils.NormalizePhoneNumber(phone)
			if err != nil {
				return nil, errors.NewValidationError("Invalid phone number", map[string]interface{}{"phone": err.Error()})
			}
			phone = normalized
		}
		ciphertext, err := s.encryptOptional(phone)
		if err != nil {
			return nil, err
		}
		user.PhoneEncrypted = ciphertext
		fields = append(fields, "phone")
	}
	if update.DateOfBirth != nil {
		ciphertext, err := s.encryptOptional(*update.DateOfBirth)
		if err != nil {
			return nil, err
		}
		user.DateOfBirthEncrypted = ciphertext
		fields = append(fields, "date_of_birth")
	}

	if len(fields) == 0 {
		return nil, errors.NewValidationError("No profile fields to update", nil)
	}

	now := s.clock.Now().UTC()
	scoring.Refresh(user, now)

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	if err := s.users.UpdateScores(ctx, userID, user.ProfileCompleteness, user.TrustScore, user.PrivacyLevel); err != nil {
		return nil, err
	}

	if err := s.activities.Record(ctx, &domain.ActivityEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		ActivityType: domain.ActivityProfileUpdate,
		Description:  "profile fields updated",
		ScoreDelta:   profileUpdateScoreDelta,
		CreatedAt:    now,
	}); err != nil {
		s.logger.Warn("failed to record profile activity",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	s.cache.Invalidate(ctx, userID)

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventProfileUpdated,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"fields": fields},
	})

	return s.decryptView(user)
}

// GetPrivacy returns the privacy facet of a profile.
func (s *UserService) GetPrivacy(ctx context.Context, userID string) (*domain.PrivacyView, error) {
	user := s.cache.Get(ctx, userID)
	if user == nil {
		stored, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, errors.NewNotFoundError("User not found")
		}
		user = stored
	}

	return &domain.PrivacyView{
		UserID:            user.ID,
		PrivacyLevel:      user.PrivacyLevel,
		PrivacyPreference: user.PrivacyPreference,
	}, nil
}

// UpdatePrivacy sets the explicit visibility preference and refreshes the
// derived privacy level and trust score.
func (s *UserService) UpdatePrivacy(ctx context.Context, userID, preference, ipAddress, userAgent string) (*domain.User, error) {
	if !domain.ValidPrivacyPreference(preference) {
		return nil, errors.NewValidationError("Invalid privacy preference", map[string]interface{}{
			"privacy_preference": "must be public, network, connections, private, hidden or empty",
		})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}
	if user.IsPseudonymized() {
		return nil, errors.NewConflictError("Account is pending erasure", nil)
	}

	if err := s.users.UpdatePrivacyPreference(ctx, userID, preference); err != nil {
		return nil, err
	}

	user.PrivacyPreference = preference
	scoring.Refresh(user, s.clock.Now().UTC())
	if err := s.users.UpdateScores(ctx, userID, user.ProfileCompleteness, user.TrustScore, user.PrivacyLevel); err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, userID)

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventPrivacyUpdated,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"privacy_preference": preference, "privacy_level": user.PrivacyLevel},
	})

	return user, nil
}

// RequestVerification issues a fresh verification code for the method,
// replacing any previous code and resetting its attempt counter. The
// plaintext code is returned to the caller for out-of-band delivery and is
// never persisted or logged.
func (s *UserService) RequestVerification(ctx context.Context, userID, method, ipAddress, userAgent string) (*domain.VerificationCode, string, error) {
	switch method {
	case domain.VerificationMethodEmail, domain.VerificationMethodPhone:
	default:
		return nil, "", errors.NewValidationError("Invalid verification method", map[string]interface{}{
			"method": "must be email or phone",
		})
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", errors.NewNotFoundError("User not found")
	}
	if user.IsPseudonymized() {
		return nil, "", errors.NewConflictError("Account is pending erasure", nil)
	}

	code, err := generateVerificationCode()
	if err != nil {
		return nil, "", errors.NewInternalError("Failed to generate verification code", err)
	}

	now := s.clock.Now().UTC()
	record := &domain.VerificationCode{
		ID:        uuid.New().String(),
		UserID:    userID,
		Method:    method,
		CodeHash:  s.crypto.HashToken(code),
		Status:    domain.VerificationStatusPending,
		ExpiresAt: now.Add(verificationTTL),
		CreatedAt: now,
	}
	if err := s.verifications.Upsert(ctx, record); err != nil {
		return nil, "", err
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventVerificationRequested,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"method": method},
	})

	s.logger.Info("verification code issued",
		zap.String("user_id", userID),
		zap.String("method", method),
		zap.Time("expires_at", record.ExpiresAt))

	return record, code, nil
}

// ConfirmVerification checks a presented code. A mismatch or an expired code
// yields a negative result rather than an error; confirming a code that was
// already used is a conflict.
func (s *UserService) ConfirmVerification(ctx context.Context, userID, method, code, ipAddress, userAgent string) (*domain.VerificationResult, error) {
	record, err := s.verifications.GetByUserAndMethod(ctx, userID, method)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.NewNotFoundError("No verification code requested for this method")
	}
	if record.Status == domain.VerificationStatusVerified {
		return nil, errors.NewConflictError("Verification code already used", nil)
	}

	now := s.clock.Now().UTC()
	record.Attempts++

	if !now.Before(record.ExpiresAt) {
		record.Status = domain.VerificationStatusExpired
		if err := s.verifications.Update(ctx, record); err != nil {
			return nil, err
		}
		s.auditVerificationFailed(ctx, userID, method, "expired", ipAddress, userAgent)
		return &domain.VerificationResult{Verified: false, Reason: "expired", Verification: record}, nil
	}

	if record.Attempts > verificationMaxTries {
		if err := s.verifications.Update(ctx, record); err != nil {
			return nil, err
		}
		s.auditVerificationFailed(ctx, userID, method, "too_many_attempts", ipAddress, userAgent)
		return &domain.VerificationResult{Verified: false, Reason: "too_many_attempts", Verification: record}, nil
	}

	if !s.crypto.VerifyTokenHash(code, record.CodeHash) {
		if err := s.verifications.Update(ctx, record); err != nil {
			return nil, err
		}
		s.auditVerificationFailed(ctx, userID, method, "invalid_code", ipAddress, userAgent)
		return &domain.VerificationResult{Verified: false, Reason: "invalid_code", Verification: record}, nil
	}

	record.Status = domain.VerificationStatusVerified
	record.VerifiedAt = &now
	if err := s.verifications.Update(ctx, record); err != nil {
		return nil, err
	}
	if err := s.users.SetVerified(ctx, userID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}

	scoring.Refresh(user, now)
	if err := s.users.UpdateScores(ctx, userID, user.ProfileCompleteness, user.TrustScore, user.PrivacyLevel); err != nil {
		return nil, err
	}

	if err := s.activities.Record(ctx, &domain.ActivityEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		ActivityType: domain.ActivityVerification,
		Description:  method + " verified",
		ScoreDelta:   verifiedScoreDelta,
		CreatedAt:    now,
	}); err != nil {
		s.logger.Warn("failed to record verification activity",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	s.cache.Invalidate(ctx, userID)

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventVerificationConfirmed,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"method": method},
	})

	return &domain.VerificationResult{Verified: true, Verification: record, User: user}, nil
}

// Deactivate disables the account, revokes every live session and optionally
// schedules automatic reactivation. The profile itself is untouched.
func (s *UserService) Deactivate(ctx context.Context, userID string, reactivateAt *time.Time, ipAddress, userAgent string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError("User not found")
	}
	if user.IsPseudonymized() {
		return nil, errors.NewConflictError("Account is pending erasure", nil)
	}

	now := s.clock.Now().UTC()
	if reactivateAt != nil && !reactivateAt.After(now) {
		return nil, errors.NewValidationError("reactivate_at must be in the future", nil)
	}

	if err := s.users.Deactivate(ctx, userID, now, reactivateAt); err != nil {
		return nil, err
	}

	revoked, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, userID)

	details := map[string]interface{}{"revoked_sessions": revoked}
	if reactivateAt != nil {
		details["reactivate_at"] = reactivateAt.UTC().Format(time.RFC3339)
	}
	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventUserDeactivated,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   details,
	})

	user.IsActive = false
	user.DeactivatedAt = &now
	user.ReactivateAt = reactivateAt
	return user, nil
}

func (s *UserService) auditVerificationFailed(ctx context.Context, userID, method, reason, ipAddress, userAgent string) {
	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventVerificationFailed,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"method": method, "reason": reason},
	})
}

// decryptView builds the owner view of a user, decrypting stored fields.
func (s *UserService) decryptView(user *domain.User) (*domain.ProfileView, error) {
	view := &domain.ProfileView{User: *user}

	if user.PhoneEncrypted != "" {
		phone, err := s.crypto.Decrypt(user.PhoneEncrypted)
		if err != nil {
			return nil, err
		}
		view.Phone = phone
	}
	if user.DateOfBirthEncrypted != "" {
		dob, err := s.crypto.Decrypt(user.DateOfBirthEncrypted)
		if err != nil {
			return nil, err
		}
		view.DateOfBirth = dob
	}

	return view, nil
}

// refreshStaleCiphertexts rewrites ciphertexts produced under a retired key
// or older than the rotation window, so rotation converges through normal
// reads. Failures are left for a later read.
func (s *UserService) refreshStaleCiphertexts(ctx context.Context, user *domain.User, phone, dateOfBirth string) {
	changed := 0
	if user.PhoneEncrypted != "" {
		if stale, err := s.crypto.IsStale(user.PhoneEncrypted); err == nil && stale {
			if ciphertext, err := s.crypto.Encrypt(phone); err == nil {
				user.PhoneEncrypted = ciphertext
				changed++
			}
		}
	}
	if user.DateOfBirthEncrypted != "" {
		if stale, err := s.crypto.IsStale(user.DateOfBirthEncrypted); err == nil && stale {
			if ciphertext, err := s.crypto.Encrypt(dateOfBirth); err == nil {
				user.DateOfBirthEncrypted = ciphertext
				changed++
			}
		}
	}
	if changed == 0 {
		return
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		s.logger.Warn("failed to persist re-encrypted fields",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return
	}

	s.logger.Info("re-encrypted stale profile fields",
		zap.String("user_id", user.ID),
		zap.Int("fields", changed))
}

func (s *UserService) encryptOptional(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.crypto.Encrypt(plaintext)
}

// generateVerificationCode draws a uniform six digit code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
