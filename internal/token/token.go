// Package token issues and verifies access tokens and manages refresh
// sessions. Access tokens are HS256 JWTs; refresh tokens are opaque random
// values persisted only as one-way hashes. Revocation is immediate:
// the session row is authoritative and a short-lived cache marker covers
// tokens that are revoked but not yet expired.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/crypto"
	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/pkg/errors"
	"idcore/pkg/redis"
)

// Claims is the access token payload.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// AccessToken is one freshly signed access token.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

type Service struct {
	sessions   repository.SessionRepository
	users      repository.UserRepository
	crypto     crypto.Service
	redis      *redis.Client
	recorder   *audit.Recorder
	logger     *zap.Logger
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
}

func NewService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	cryptoSvc crypto.Service,
	redisClient *redis.Client,
	recorder *audit.Recorder,
	secret string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
	logger *zap.Logger,
	clock clockwork.Clock,
) *Service {
	return &Service{
		sessions:   sessions,
		users:      users,
		crypto:     cryptoSvc,
		redis:      redisClient,
		recorder:   recorder,
		logger:     logger,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
	}
}

// Issue signs a new access token for the user. The jti is kept on the session
// record for audit correlation and revocation lookups.
func (s *Service) Issue(user *domain.User) (*AccessToken, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.accessTTL)
	jti := uuid.New().String()

	claims := &Claims{
		Email:    user.Email,
		Provider: user.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &AccessToken{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Verify validates an access token. Only HS256 is accepted; any other
// algorithm in the header fails as a signature error before the payload is
// trusted. A revocation marker on the jti fails verification even for a
// well-signed, unexpired token.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))

	if err != nil {
		switch {
		case stderrors.Is(err, jwt.ErrTokenExpired):
			return nil, errors.NewTokenExpiredError()
		case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.NewTokenSignatureError(err)
		default:
			return nil, errors.NewTokenMalformedError(err)
		}
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, errors.NewTokenMalformedError(fmt.Errorf("missing required claims"))
	}

	if s.redis != nil {
		n, err := s.redis.Exists(ctx, s.redis.KeyBuilder.KeyRevokedJTI(claims.ID))
		if err != nil {
			s.logger.Warn("revocation marker check unavailable", zap.Error(err))
		} else if n > 0 {
			return nil, errors.NewTokenRevokedError()
		}
	}

	return claims, nil
}

// StartSession issues an access token plus a fresh refresh token and persists
// the session. The refresh token leaves this method exactly once, in the
// returned result; only its hash is stored.
func (s *Service) StartSession(ctx context.Context, user *domain.User, ipAddress, userAgent string) (*domain.AuthResult, error) {
	access, err := s.Issue(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		TokenHash: s.crypto.HashToken(refreshToken),
		JTI:       access.JTI,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ExpiresAt: s.clock.Now().Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return &domain.AuthResult{
		Token:        access.Token,
		RefreshToken: refreshToken,
		ExpiresAt:    access.ExpiresAt,
		User:         user,
	}, nil
}

// Refresh exchanges a live refresh token for a new token pair. The presented
// token is matched by hash under every retained key, so sessions survive key
// rotation. The old session is revoked in the same call: each refresh token
// works exactly once.
func (s *Service) Refresh(ctx context.Context, presented, ipAddress, userAgent string) (*domain.AuthResult, error) {
	session, err := s.lookupByToken(ctx, presented)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.NewAuthenticationError("Invalid refresh token")
	}
	if session.RevokedAt != nil {
		return nil, errors.NewTokenRevokedError()
	}

	now := s.clock.Now()
	if !now.Before(session.ExpiresAt) {
		return nil, errors.NewTokenExpiredError()
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || user.IsPseudonymized() {
		return nil, errors.NewAuthenticationError("Account is not active")
	}

	jti, err := s.sessions.Revoke(ctx, session.ID, now)
	if err != nil {
		return nil, err
	}
	if jti == "" {
		// A concurrent refresh won the race on the same token.
		return nil, errors.NewTokenRevokedError()
	}
	s.MarkRevoked(ctx, []string{jti})

	result, err := s.StartSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventTokenRefreshed,
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"rotated_jti": jti},
	})

	return result, nil
}

// RevokeSession revokes one session owned by the user. Revoking an already
// revoked or unknown session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID, ipAddress, userAgent string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.UserID != userID {
		return errors.NewNotFoundError("Session not found")
	}
	if session.RevokedAt != nil {
		return nil
	}

	jti, err := s.sessions.Revoke(ctx, sessionID, s.clock.Now())
	if err != nil {
		return err
	}
	if jti != "" {
		s.MarkRevoked(ctx, []string{jti})
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventTokenRevoked,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"session_id": sessionID},
	})

	return nil
}

// RevokeByRefreshToken revokes the session behind a presented refresh token.
// Unknown or already revoked tokens are treated as a successful logout.
func (s *Service) RevokeByRefreshToken(ctx context.Context, presented, ipAddress, userAgent string) error {
	session, err := s.lookupByToken(ctx, presented)
	if err != nil {
		return err
	}
	if session == nil || session.RevokedAt != nil {
		return nil
	}

	jti, err := s.sessions.Revoke(ctx, session.ID, s.clock.Now())
	if err != nil {
		return err
	}
	if jti != "" {
		s.MarkRevoked(ctx, []string{jti})
	}

	s.recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventTokenRevoked,
		UserID:    session.UserID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details:   map[string]interface{}{"session_id": session.ID, "reason": "logout"},
	})

	return nil
}

// RevokeAllForUser revokes every live session of the user and returns how
// many were revoked.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	jtis, err := s.sessions.RevokeAllForUser(ctx, userID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.MarkRevoked(ctx, jtis)
	return len(jtis), nil
}

// ListSessions returns all sessions of the user, hashes stripped.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]domain.SessionInfo, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	infos := make([]domain.SessionInfo, 0, len(sessions))
	for i := range sessions {
		infos = append(infos, sessions[i].Info())
	}
	return infos, nil
}

// MarkRevoked writes revocation markers for the given jtis. Markers live as
// long as an access token possibly could, after which expiry takes over.
// Marker writes are best-effort: the session rows already carry the
// authoritative revocation.
func (s *Service) MarkRevoked(ctx context.Context, jtis []string) {
	if s.redis == nil || len(jtis) == 0 {
		return
	}
	for _, jti := range jtis {
		key := s.redis.KeyBuilder.KeyRevokedJTI(jti)
		if err := s.redis.Set(ctx, key, "1", s.accessTTL); err != nil {
			s.logger.Warn("failed to write revocation marker", zap.String("jti", jti), zap.Error(err))
		}
	}
}

func (s *Service) lookupByToken(ctx context.Context, presented string) (*domain.Session, error) {
	for _, hash := range s.crypto.HashCandidates(presented) {
		session, err := s.sessions.GetByTokenHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return nil, nil
}

func generateRefreshToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
