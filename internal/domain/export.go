package domain

import "time"

// ExportSnapshot is the full data snapshot returned by a GDPR export.
type ExportSnapshot struct {
	ExportedAt    time.Time          `json:"exported_at"`
	Profile       *ProfileView       `json:"profile"`
	Sessions      []SessionInfo      `json:"sessions"`
	Verifications []VerificationCode `json:"verifications"`
	Connections   []UserConnection   `json:"connections"`
	Activities    []ActivityEntry    `json:"activities"`
	AuditTrail    []AuditEntry       `json:"audit_trail"`
}
