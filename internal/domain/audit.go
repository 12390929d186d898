package domain

import "time"

// Audit event types, one per security-relevant logical event.
const (
	EventOAuthInitiated        = "oauth.initiated"
	EventOAuthCallbackReceived = "oauth.callback_received"
	EventOAuthCompleted        = "oauth.completed"
	EventOAuthFailed           = "oauth.failed"
	EventTokenVerifyFailed     = "token.verify_failed"
	EventTokenRefreshed        = "token.refreshed"
	EventTokenRevoked          = "token.revoked"
	EventVerificationRequested = "verification.requested"
	EventVerificationConfirmed = "verification.confirmed"
	EventVerificationFailed    = "verification.failed"
	EventProfileUpdated        = "profile.updated"
	EventPrivacyUpdated        = "privacy.updated"
	EventUserDeactivated       = "user.deactivated"
	EventUserReactivated       = "user.reactivated"
	EventGDPRExported          = "gdpr.exported"
	EventGDPRErased            = "gdpr.erased"
	EventGDPRPurged            = "gdpr.purged"
)

// AuditEvent is the input to the audit recorder.
type AuditEvent struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditEntry is one immutable, persisted audit record.
type AuditEntry struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
