package domain

import "time"

// Activity types recorded by the core.
const (
	ActivityLogin         = "login"
	ActivityProfileUpdate = "profile_update"
	ActivityVerification  = "verification"
)

// ActivityEntry is one user activity record. ScoreDelta feeds the
// engagement score, floored at zero.
type ActivityEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	Description  string    `json:"description,omitempty"`
	ScoreDelta   int       `json:"score_delta"`
	CreatedAt    time.Time `json:"created_at"`
}
