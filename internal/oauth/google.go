package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"idcore/internal/config"
	"idcore/internal/domain"
	"idcore/pkg/errors"
)

// GoogleProvider implements the authorization-code flow against Google.
type GoogleProvider struct {
	config *oauth2.Config
}

func NewGoogleProvider(creds config.ProviderCredentials) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

func (p *GoogleProvider) Name() string {
	return domain.ProviderGoogle
}

func (p *GoogleProvider) AuthCodeURL(state, nonce string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("nonce", nonce),
	)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

// FetchProfile reads the userinfo endpoint with the exchanged token.
func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*domain.ProviderProfile, error) {
	svc, err := googleoauth2.NewService(ctx, option.WithHTTPClient(p.config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	if info.Id == "" || info.Email == "" {
		return nil, errors.NewProfileParseError("Google profile is missing required fields", nil)
	}

	verified := info.VerifiedEmail != nil && *info.VerifiedEmail
	return &domain.ProviderProfile{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: info.Id,
		Email:          info.Email,
		EmailVerified:  verified,
		Name:           info.Name,
		PhotoURL:       info.Picture,
		Locale:         info.Locale,
	}, nil
}
