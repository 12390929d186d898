package domain

import "time"

// Erasure lifecycle states for a user record. Purged users have no row left;
// the constant exists for audit trails.
const (
	ErasureStateActive        = "active"
	ErasureStatePseudonymized = "pseudonymized"
	ErasureStatePurged        = "purged"
)

// Privacy levels derived by the scorer.
const (
	PrivacyLevelStandard = "standard"
	PrivacyLevelMedium   = "medium"
	PrivacyLevelHigh     = "high"
)

// Explicit visibility preferences a user may set. Empty means unset.
const (
	PrivacyPreferencePublic      = "public"
	PrivacyPreferenceNetwork     = "network"
	PrivacyPreferenceConnections = "connections"
	PrivacyPreferencePrivate     = "private"
	PrivacyPreferenceHidden      = "hidden"
)

// User represents a user in the system
type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`

	Title       string   `json:"title,omitempty"`
	Company     string   `json:"company,omitempty"`
	Location    string   `json:"location,omitempty"`
	Industry    string   `json:"industry,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	LinkedInURL string   `json:"linkedin_url,omitempty"`
	PhotoURL    string   `json:"photo_url,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Interests   []string `json:"interests,omitempty"`

	// Versioned ciphertexts, never exposed over the API.
	PhoneEncrypted       string `json:"-"`
	DateOfBirthEncrypted string `json:"-"`

	ProfileCompleteness float64 `json:"profile_completeness"`
	TrustScore          int     `json:"trust_score"`
	PrivacyLevel        string  `json:"privacy_level"`
	PrivacyPreference   string  `json:"privacy_preference,omitempty"`

	LoginCount      int `json:"login_count"`
	EngagementScore int `json:"engagement_score"`
	ReputationScore int `json:"reputation_score"`

	IsActive   bool `json:"is_active"`
	IsVerified bool `json:"is_verified"`

	ErasureState     string     `json:"erasure_state"`
	PseudonymizedAt  *time.Time `json:"pseudonymized_at,omitempty"`
	ScheduledPurgeAt *time.Time `json:"scheduled_purge_at,omitempty"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
	ReactivateAt     *time.Time `json:"reactivate_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// IsPseudonymized reports whether the user is awaiting purge.
func (u *User) IsPseudonymized() bool {
	return u.ErasureState == ErasureStatePseudonymized
}

// ProfileView is a user profile as returned to its owner, with sensitive
// fields decrypted.
type ProfileView struct {
	User
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// PrivacyView is the privacy facet of a profile.
type PrivacyView struct {
	UserID            string `json:"user_id"`
	PrivacyLevel      string `json:"privacy_level"`
	PrivacyPreference string `json:"privacy_preference,omitempty"`
}

// ValidPrivacyPreference reports whether the value is an accepted explicit
// preference. Empty clears the preference.
func ValidPrivacyPreference(preference string) bool {
	switch preference {
	case "", PrivacyPreferencePublic, PrivacyPreferenceNetwork,
		PrivacyPreferenceConnections, PrivacyPreferencePrivate, PrivacyPreferenceHidden:
		return true
	}
	return false
}

// ProfileUpdate carries a partial profile mutation. Nil fields are untouched.
type ProfileUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Company     *string   `json:"company,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Industry    *string   `json:"industry,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	LinkedInURL *string   `json:"linkedin_url,omitempty"`
	PhotoURL    *string   `json:"photo_url,omitempty"`
	Skills      *[]string `json:"skills,omitempty"`
	Interests   *[]string `json:"interests,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
}

// ErasureSchedule is the outcome of a pseudonymizing erasure.
type ErasureSchedule struct {
	UserID           string    `json:"user_id"`
	PseudonymizedAt  time.Time `json:"pseudonymized_at"`
	ScheduledPurgeAt time.Time `json:"scheduled_purge_at"`
}
