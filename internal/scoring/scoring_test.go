package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"idcore/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fullProfile(createdAt time.Time) *domain.User {
	return &domain.User{
		Name:        "Ada Lovelace",
		Bio:         "Analytical engines",
		Title:       "Engineer",
		Company:     "Babbage & Co",
		Location:    "London",
		Industry:    "Computing",
		Skills:      []string{"mathematics"},
		PhotoURL:    "https://example.com/ada.jpg",
		LinkedInURL: "https://linkedin.com/in/ada",
		Interests:   []string{"poetry"},
		CreatedAt:   createdAt,
	}
}

func TestCompleteness(t *testing.T) {
	t.Run("empty profile scores zero", func(t *testing.T) {
		u := &domain.User{CreatedAt: testNow}
		assert.Equal(t, 0.0, Completeness(u))
	})

	t.Run("full profile scores one", func(t *testing.T) {
		assert.Equal(t, 1.0, Completeness(fullProfile(testNow)))
	})

	t.Run("partial profile sums field weights", func(t *testing.T) {
		u := &domain.User{
			Name:  "Ada",
			Bio:   "Engines",
			Title: "Engineer",
		}
		assert.Equal(t, 0.45, Completeness(u))
	})

	t.Run("whitespace does not count as filled", func(t *testing.T) {
		u := &domain.User{Name: "   ", Bio: "\t"}
		assert.Equal(t, 0.0, Completeness(u))
	})

	t.Run("optional links carry the small weights", func(t *testing.T) {
		u := &domain.User{
			PhotoURL:    "https://example.com/p.jpg",
			LinkedInURL: "https://linkedin.com/in/p",
			Interests:   []string{"golf"},
		}
		assert.Equal(t, 0.15, Completeness(u))
	})
}

func TestTrustScore(t *testing.T) {
	t.Run("brand new empty account scores zero", func(t *testing.T) {
		u := &domain.User{CreatedAt: testNow}
		assert.Equal(t, 0, TrustScore(u, testNow))
	})

	t.Run("verification adds a flat boost", func(t *testing.T) {
		u := &domain.User{CreatedAt: testNow, IsVerified: true}
		assert.Equal(t, 10, TrustScore(u, testNow))
	})

	t.Run("account age has diminishing returns", func(t *testing.T) {
		young := &domain.User{CreatedAt: testNow.AddDate(0, 0, -30)}
		mid := &domain.User{CreatedAt: testNow.AddDate(0, 0, -180)}
		old := &domain.User{CreatedAt: testNow.AddDate(-10, 0, 0)}

		youngScore := TrustScore(young, testNow)
		midScore := TrustScore(mid, testNow)
		oldScore := TrustScore(old, testNow)

		assert.Less(t, youngScore, midScore)
		assert.Less(t, midScore, oldScore)
		// tau=180d puts the half-life style knee at 1-1/e of the cap
		assert.Equal(t, 16, midScore)
		// the cap is never exceeded no matter the age
		assert.Equal(t, 25, oldScore)
	})

	t.Run("everything maxed caps at one hundred", func(t *testing.T) {
		lastLogin := testNow.Add(-time.Hour)
		u := fullProfile(testNow.AddDate(-10, 0, 0))
		u.IsVerified = true
		u.LastLoginAt = &lastLogin
		assert.Equal(t, 100, TrustScore(u, testNow))
	})

	t.Run("recency tiers", func(t *testing.T) {
		base := &domain.User{CreatedAt: testNow}
		assert.Equal(t, 0, TrustScore(base, testNow))

		tests := []struct {
			name string
			ago  time.Duration
			want int
		}{
			{"within a week", 3 * 24 * time.Hour, 25},
			{"within a month", 20 * 24 * time.Hour, 15},
			{"within a quarter", 60 * 24 * time.Hour, 5},
			{"stale", 200 * 24 * time.Hour, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				last := testNow.Add(-tt.ago)
				u := &domain.User{CreatedAt: testNow, LastLoginAt: &last}
				assert.Equal(t, tt.want, TrustScore(u, testNow))
			})
		}
	})

	t.Run("clock skew on created_at does not go negative", func(t *testing.T) {
		u := &domain.User{CreatedAt: testNow.Add(time.Hour)}
		assert.Equal(t, 0, TrustScore(u, testNow))
	})
}

func TestPrivacyLevel(t *testing.T) {
	t.Run("explicit preference wins", func(t *testing.T) {
		tests := []struct {
			preference string
			want       string
		}{
			{domain.PrivacyPreferencePrivate, domain.PrivacyLevelHigh},
			{domain.PrivacyPreferenceHidden, domain.PrivacyLevelHigh},
			{domain.PrivacyPreferenceNetwork, domain.PrivacyLevelMedium},
			{domain.PrivacyPreferenceConnections, domain.PrivacyLevelMedium},
			{domain.PrivacyPreferencePublic, domain.PrivacyLevelStandard},
		}
		for _, tt := range tests {
			u := &domain.User{
				PrivacyPreference: tt.preference,
				// sensitive fields present must not override the preference
				PhoneEncrypted:       "v1:0:deadbeef",
				DateOfBirthEncrypted: "v1:0:deadbeef",
			}
			assert.Equal(t, tt.want, PrivacyLevel(u), "preference %s", tt.preference)
		}
	})

	t.Run("unset preference derives from sensitivity", func(t *testing.T) {
		assert.Equal(t, domain.PrivacyLevelStandard, PrivacyLevel(&domain.User{}))
		assert.Equal(t, domain.PrivacyLevelMedium, PrivacyLevel(&domain.User{
			PhoneEncrypted: "v1:0:deadbeef",
		}))
		assert.Equal(t, domain.PrivacyLevelMedium, PrivacyLevel(&domain.User{
			DateOfBirthEncrypted: "v1:0:deadbeef",
		}))
		assert.Equal(t, domain.PrivacyLevelHigh, PrivacyLevel(&domain.User{
			PhoneEncrypted:       "v1:0:deadbeef",
			DateOfBirthEncrypted: "v1:0:deadbeef",
		}))
	})
}

func TestRefresh(t *testing.T) {
	t.Run("writes all derived fields", func(t *testing.T) {
		lastLogin := testNow.Add(-2 * 24 * time.Hour)
		u := fullProfile(testNow.AddDate(-1, 0, 0))
		u.IsVerified = true
		u.LastLoginAt = &lastLogin

		Refresh(u, testNow)

		assert.Equal(t, 1.0, u.ProfileCompleteness)
		assert.Equal(t, 97, u.TrustScore)
		assert.Equal(t, domain.PrivacyLevelStandard, u.PrivacyLevel)
	})

	t.Run("idempotent on unchanged snapshot", func(t *testing.T) {
		u := fullProfile(testNow.AddDate(0, -6, 0))
		u.PhoneEncrypted = "v1:0:deadbeef"

		Refresh(u, testNow)
		first := *u
		Refresh(u, testNow)

		assert.Equal(t, first.ProfileCompleteness, u.ProfileCompleteness)
		assert.Equal(t, first.TrustScore, u.TrustScore)
		assert.Equal(t, first.PrivacyLevel, u.PrivacyLevel)
	})
}
