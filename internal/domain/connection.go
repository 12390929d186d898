package domain

import "time"

// UserConnection is an extended relationship record attached to a user
// (e.g. a pending invite or an external account link).
type UserConnection struct {
	ID                string                 `json:"id"`
	UserID            string                 `json:"user_id"`
	ConnectionType    string                 `json:"connection_type"`
	Status            string                 `json:"status"`
	TargetUserID      string                 `json:"target_user_id,omitempty"`
	ExternalReference string                 `json:"external_reference,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}
