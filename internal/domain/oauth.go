package domain

import "time"

// Supported identity providers.
const (
	ProviderGoogle   = "google"
	ProviderLinkedIn = "linkedin"
)

// OAuth flow stages, recorded in audit details as the flow advances. A failed
// flow is recorded with the stage it died at.
const (
	StageInit             = "init"
	StageAuthRequested    = "auth_requested"
	StageCallbackReceived = "callback_received"
	StageTokenExchanged   = "token_exchanged"
	StageProfileFetched   = "profile_fetched"
	StageUserLinked       = "user_linked"
	StageComplete         = "complete"
)

// OAuthState is the single-use correlation record for one login attempt.
// Expiry is enforced by the state store TTL.
type OAuthState struct {
	State     string    `json:"-"`
	Nonce     string    `json:"nonce"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderProfile is the normalized identity a provider returns after a
// successful code exchange.
type ProviderProfile struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	Email          string `json:"email"`
	EmailVerified  bool   `json:"email_verified"`
	Name           string `json:"name"`
	PhotoURL       string `json:"photo_url,omitempty"`
	Locale         string `json:"locale,omitempty"`
}

// AuthResult is returned by a completed OAuth callback.
type AuthResult struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}
