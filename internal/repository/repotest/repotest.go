// Package repotest provides in-memory repository implementations for tests.
// They mirror the transactional semantics of the Postgres repositories
// (idempotent erasure, purge-vs-reactivate exclusivity, engagement floor)
// behind a single mutex.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"idcore/internal/domain"
	"idcore/pkg/errors"
)

// MemorySessionRepository is an in-memory SessionRepository.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepository) GetByTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemorySessionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySessionRepository) Revoke(ctx context.Context, sessionID string, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.RevokedAt != nil {
		return "", nil
	}
	t := at
	s.RevokedAt = &t
	return s.JTI, nil
}

func (r *MemorySessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeAllLocked(userID, at), nil
}

func (r *MemorySessionRepository) revokeAllLocked(userID string, at time.Time) []string {
	var jtis []string
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
			jtis = append(jtis, s.JTI)
		}
	}
	return jtis
}

func (r *MemorySessionRepository) TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		t := at
		s.LastUsedAt = &t
	}
	return nil
}

func (r *MemorySessionRepository) deleteAllLocked(userID string) []string {
	var jtis []string
	for id, s := range r.sessions {
		if s.UserID == userID {
			jtis = append(jtis, s.JTI)
			delete(r.sessions, id)
		}
	}
	return jtis
}

// MemoryUserRepository is an in-memory UserRepository. When Sessions is set,
// erasure and purge cascade onto it the way the SQL transactions do.
type MemoryUserRepository struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	Sessions *MemorySessionRepository
}

func NewMemoryUserRepository(sessions *MemorySessionRepository) *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*domain.User), Sessions: sessions}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) GetByProviderIdentity(ctx context.Context, provider, providerUserID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Provider == provider && u.ProviderUserID == providerUserID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return nil
	}
	existing.Email = user.Email
	existing.Name = user.Name
	existing.Provider = user.Provider
	existing.ProviderUserID = user.ProviderUserID
	existing.Title = user.Title
	existing.Company = user.Company
	existing.Location = user.Location
	existing.Industry = user.Industry
	existing.Bio = user.Bio
	existing.LinkedInURL = user.LinkedInURL
	existing.PhotoURL = user.PhotoURL
	existing.Skills = append([]string(nil), user.Skills...)
	existing.Interests = append([]string(nil), user.Interests...)
	existing.PhoneEncrypted = user.PhoneEncrypted
	existing.DateOfBirthEncrypted = user.DateOfBirthEncrypted
	existing.UpdatedAt = time.Now()
	user.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *MemoryUserRepository) UpdateScores(ctx context.Context, userID string, completeness float64, trust int, privacyLevel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.ProfileCompleteness = completeness
		u.TrustScore = trust
		u.PrivacyLevel = privacyLevel
	}
	return nil
}

func (r *MemoryUserRepository) UpdatePrivacyPreference(ctx context.Context, userID, preference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.PrivacyPreference = preference
	}
	return nil
}

func (r *MemoryUserRepository) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.LoginCount++
		t := at
		u.LastLoginAt = &t
		u.UpdatedAt = at
	}
	return nil
}

func (r *MemoryUserRepository) SetVerified(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.IsVerified = true
	}
	return nil
}

func (r *MemoryUserRepository) Deactivate(ctx context.Context, userID string, at time.Time, reactivateAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.IsActive = false
		t := at
		u.DeactivatedAt = &t
		u.ReactivateAt = reactivateAt
	}
	return nil
}

func (r *MemoryUserRepository) Activate(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.IsActive = true
		u.DeactivatedAt = nil
		u.ReactivateAt = nil
		u.UpdatedAt = at
	}
	return nil
}

func (r *MemoryUserRepository) Pseudonymize(ctx context.Context, userID, placeholderEmail string, at, purgeAt time.Time) (*domain.User, []string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, nil, false, nil
	}
	if u.ErasureState == domain.ErasureStatePseudonymized {
		cp := *u
		return &cp, nil, false, nil
	}

	u.Email = placeholderEmail
	u.Name = ""
	u.Title = ""
	u.Company = ""
	u.Location = ""
	u.Industry = ""
	u.Bio = ""
	u.LinkedInURL = ""
	u.PhotoURL = ""
	u.Skills = nil
	u.Interests = nil
	u.PhoneEncrypted = ""
	u.DateOfBirthEncrypted = ""
	u.PrivacyPreference = ""
	u.IsActive = false
	u.ErasureState = domain.ErasureStatePseudonymized
	pt := at
	u.PseudonymizedAt = &pt
	st := purgeAt
	u.ScheduledPurgeAt = &st
	u.UpdatedAt = at

	var jtis []string
	if r.Sessions != nil {
		r.Sessions.mu.Lock()
		jtis = r.Sessions.revokeAllLocked(userID, at)
		r.Sessions.mu.Unlock()
	}

	cp := *u
	return &cp, jtis, true, nil
}

func (r *MemoryUserRepository) ReactivateErased(ctx context.Context, userID string, now time.Time) (*domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, false, errors.NewAlreadyPurgedError(userID)
	}
	if u.ErasureState == domain.ErasureStateActive {
		cp := *u
		return &cp, false, nil
	}
	if u.ScheduledPurgeAt == nil || !now.Before(*u.ScheduledPurgeAt) {
		return nil, false, errors.NewRetentionWindowActiveError("purge deadline has passed")
	}

	u.ErasureState = domain.ErasureStateActive
	u.PseudonymizedAt = nil
	u.ScheduledPurgeAt = nil
	u.IsActive = true
	u.DeactivatedAt = nil
	u.ReactivateAt = nil
	u.UpdatedAt = now

	cp := *u
	return &cp, true, nil
}

func (r *MemoryUserRepository) ListDuePurges(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type due struct {
		id string
		at time.Time
	}
	var dues []due
	for _, u := range r.users {
		if u.ErasureState == domain.ErasureStatePseudonymized && u.ScheduledPurgeAt != nil && !u.ScheduledPurgeAt.After(now) {
			dues = append(dues, due{u.ID, *u.ScheduledPurgeAt})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at.Before(dues[j].at) })
	var ids []string
	for i, d := range dues {
		if i >= limit {
			break
		}
		ids = append(ids, d.id)
	}
	return ids, nil
}

func (r *MemoryUserRepository) Purge(ctx context.Context, userID string, now time.Time) (bool, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil, nil
	}
	if u.ErasureState != domain.ErasureStatePseudonymized || u.ScheduledPurgeAt == nil || u.ScheduledPurgeAt.After(now) {
		return false, nil, nil
	}

	var jtis []string
	if r.Sessions != nil {
		r.Sessions.mu.Lock()
		jtis = r.Sessions.deleteAllLocked(userID)
		r.Sessions.mu.Unlock()
	}
	delete(r.users, userID)
	return true, jtis, nil
}

// MemoryAuditRepository is an in-memory AuditRepository. Setting FailWith
// makes every Insert fail, for exercising the non-fatal audit policy.
type MemoryAuditRepository struct {
	mu       sync.Mutex
	entries  []domain.AuditEntry
	FailWith error
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryAuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

// Entries returns a snapshot of everything recorded so far.
func (r *MemoryAuditRepository) Entries() []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEntry(nil), r.entries...)
}

// EntriesOfType returns recorded entries matching the event type.
func (r *MemoryAuditRepository) EntriesOfType(eventType string) []domain.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range r.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MemoryVerificationRepository is an in-memory VerificationRepository.
type MemoryVerificationRepository struct {
	mu    sync.Mutex
	codes map[string]*domain.VerificationCode // keyed by user_id|method
}

func NewMemoryVerificationRepository() *MemoryVerificationRepository {
	return &MemoryVerificationRepository{codes: make(map[string]*domain.VerificationCode)}
}

func (r *MemoryVerificationRepository) Upsert(ctx context.Context, code *domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := code.UserID + "|" + code.Method
	if existing, ok := r.codes[key]; ok {
		code.ID = existing.ID
	}
	code.Attempts = 0
	code.VerifiedAt = nil
	code.CreatedAt = time.Now()
	cp := *code
	r.codes[key] = &cp
	return nil
}

func (r *MemoryVerificationRepository) GetByUserAndMethod(ctx context.Context, userID, method string) (*domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[userID+"|"+method]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryVerificationRepository) Update(ctx context.Context, code *domain.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code.UserID+"|"+code.Method]
	if !ok {
		return nil
	}
	c.Status = code.Status
	c.Attempts = code.Attempts
	c.VerifiedAt = code.VerifiedAt
	return nil
}

func (r *MemoryVerificationRepository) ListByUser(ctx context.Context, userID string) ([]domain.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.VerificationCode
	for _, c := range r.codes {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// MemoryConnectionRepository is an in-memory ConnectionRepository.
type MemoryConnectionRepository struct {
	mu          sync.Mutex
	connections []domain.UserConnection
}

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{}
}

func (r *MemoryConnectionRepository) Create(ctx context.Context, connection *domain.UserConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	connection.CreatedAt = now
	connection.UpdatedAt = now
	r.connections = append(r.connections, *connection)
	return nil
}

func (r *MemoryConnectionRepository) ListByUser(ctx context.Context, userID string) ([]domain.UserConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.UserConnection
	for _, c := range r.connections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// MemoryActivityRepository is an in-memory ActivityRepository. When Users is
// set, score deltas are applied to the user's engagement score with the same
// floor-at-zero rule as the SQL implementation.
type MemoryActivityRepository struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
	Users   *MemoryUserRepository
}

func NewMemoryActivityRepository(users *MemoryUserRepository) *MemoryActivityRepository {
	return &MemoryActivityRepository{Users: users}
}

func (r *MemoryActivityRepository) Record(ctx context.Context, entry *domain.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, *entry)

	if r.Users != nil && entry.ScoreDelta != 0 {
		r.Users.mu.Lock()
		if u, ok := r.Users.users[entry.UserID]; ok {
			u.EngagementScore += entry.ScoreDelta
			if u.EngagementScore < 0 {
				u.EngagementScore = 0
			}
		}
		r.Users.mu.Unlock()
	}
	return nil
}

func (r *MemoryActivityRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ActivityEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}
