package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"

	"idcore/internal/config"
	"idcore/internal/domain"
	"idcore/pkg/errors"
)

const linkedinUserinfoURL = "https://api.linkedin.com/v2/userinfo"

// LinkedInProvider implements the authorization-code flow against LinkedIn
// using their OpenID Connect userinfo endpoint.
type LinkedInProvider struct {
	config *oauth2.Config
}

func NewLinkedInProvider(creds config.ProviderCredentials) *LinkedInProvider {
	return &LinkedInProvider{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     linkedin.Endpoint,
		},
	}
}

func (p *LinkedInProvider) Name() string {
	return domain.ProviderLinkedIn
}

func (p *LinkedInProvider) AuthCodeURL(state, nonce string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
}

func (p *LinkedInProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

func (p *LinkedInProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*domain.ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, linkedinUserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	// LinkedIn's OIDC userinfo returns locale either as a string or as a
	// {language, country} object depending on the account.
	var payload struct {
		Sub           string          `json:"sub"`
		Email         string          `json:"email"`
		EmailVerified bool            `json:"email_verified"`
		Name          string          `json:"name"`
		GivenName     string          `json:"given_name"`
		FamilyName    string          `json:"family_name"`
		Picture       string          `json:"picture"`
		Locale        json.RawMessage `json:"locale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.NewProfileParseError("LinkedIn profile payload is not valid JSON", err)
	}
	if payload.Sub == "" || payload.Email == "" {
		return nil, errors.NewProfileParseError("LinkedIn profile is missing required fields", nil)
	}

	name := payload.Name
	if name == "" && (payload.GivenName != "" || payload.FamilyName != "") {
		name = joinName(payload.GivenName, payload.FamilyName)
	}

	return &domain.ProviderProfile{
		Provider:       domain.ProviderLinkedIn,
		ProviderUserID: payload.Sub,
		Email:          payload.Email,
		EmailVerified:  payload.EmailVerified,
		Name:           name,
		PhotoURL:       payload.Picture,
		Locale:         parseLocale(payload.Locale),
	}, nil
}

func joinName(given, family string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	default:
		return given + " " + family
	}
}

func parseLocale(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Language string `json:"language"`
		Country  string `json:"country"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Language != "" {
		if obj.Country != "" {
			return obj.Language + "-" + obj.Country
		}
		return obj.Language
	}
	return ""
}
