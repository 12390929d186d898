// Package scoring derives the three computed user metrics: profile
// completeness, trust score and privacy level. All functions are pure and
// deterministic: recomputing on an unchanged user yields identical values.
// Derived fields are written only through Refresh, never by API callers.
package scoring

import (
	"math"
	"strings"
	"time"

	"idcore/internal/domain"
)

// Completeness field weights. Core identity and role fields count more than
// optional links.
const (
	weightName      = 0.15
	weightBio       = 0.15
	weightTitle     = 0.15
	weightCompany   = 0.10
	weightLocation  = 0.10
	weightIndustry  = 0.10
	weightSkills    = 0.10
	weightPhoto     = 0.05
	weightLinkedIn  = 0.05
	weightInterests = 0.05
)

// Trust score contributions.
const (
	verifiedBoost      = 10.0
	accountAgeCap      = 25.0
	accountAgeTauDays  = 180.0
	completenessWeight = 40.0
)

// Completeness returns the weighted fraction of filled profile fields in [0,1],
// rounded to two decimals.
func Completeness(u *domain.User) float64 {
	var score float64
	if filled(u.Name) {
		score += weightName
	}
	if filled(u.Bio) {
		score += weightBio
	}
	if filled(u.Title) {
		score += weightTitle
	}
	if filled(u.Company) {
		score += weightCompany
	}
	if filled(u.Location) {
		score += weightLocation
	}
	if filled(u.Industry) {
		score += weightIndustry
	}
	if len(u.Skills) > 0 {
		score += weightSkills
	}
	if filled(u.PhotoURL) {
		score += weightPhoto
	}
	if filled(u.LinkedInURL) {
		score += weightLinkedIn
	}
	if len(u.Interests) > 0 {
		score += weightInterests
	}
	return math.Round(score*100) / 100
}

// TrustScore combines verification status, account age, profile completeness
// and login recency into a score in [0,100]. Account age contributes with
// diminishing returns, capped at accountAgeCap.
func TrustScore(u *domain.User, now time.Time) int {
	var score float64

	if u.IsVerified {
		score += verifiedBoost
	}

	ageDays := now.Sub(u.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	score += accountAgeCap * (1 - math.Exp(-ageDays/accountAgeTauDays))

	score += Completeness(u) * completenessWeight

	score += recencyPoints(u.LastLoginAt, now)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

func recencyPoints(lastLogin *time.Time, now time.Time) float64 {
	if lastLogin == nil {
		return 0
	}
	since := now.Sub(*lastLogin)
	switch {
	case since <= 7*24*time.Hour:
		return 25
	case since <= 30*24*time.Hour:
		return 15
	case since <= 90*24*time.Hour:
		return 5
	default:
		return 0
	}
}

// PrivacyLevel derives the effective privacy level. An explicit preference
// always wins; without one the presence of sensitive fields (phone, date of
// birth) nudges the default stricter.
func PrivacyLevel(u *domain.User) string {
	switch u.PrivacyPreference {
	case domain.PrivacyPreferencePrivate, domain.PrivacyPreferenceHidden:
		return domain.PrivacyLevelHigh
	case domain.PrivacyPreferenceNetwork, domain.PrivacyPreferenceConnections:
		return domain.PrivacyLevelMedium
	case domain.PrivacyPreferencePublic:
		return domain.PrivacyLevelStandard
	}

	sensitive := 0
	if u.PhoneEncrypted != "" {
		sensitive++
	}
	if u.DateOfBirthEncrypted != "" {
		sensitive++
	}
	switch {
	case sensitive >= 2:
		return domain.PrivacyLevelHigh
	case sensitive == 1:
		return domain.PrivacyLevelMedium
	default:
		return domain.PrivacyLevelStandard
	}
}

// Refresh recomputes all derived fields on the user in place.
func Refresh(u *domain.User, now time.Time) {
	u.ProfileCompleteness = Completeness(u)
	u.TrustScore = TrustScore(u, now)
	u.PrivacyLevel = PrivacyLevel(u)
}

func filled(s string) bool {
	return strings.TrimSpace(s) != ""
}
