// Package oauth drives the authorization-code handshake against the
// configured identity providers and owns the single-use state tokens that
// correlate an initiated flow with its callback.
package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"idcore/internal/domain"
)

// Provider abstracts one OAuth2 identity provider. Implementations return
// raw transport errors from Exchange and FetchProfile; the manager decides
// what is retryable. A malformed profile payload is the one exception and
// surfaces as a profile parse failure directly.
type Provider interface {
	Name() string
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*domain.ProviderProfile, error)
}

// httpStatusError carries a non-2xx provider response status for retry
// classification.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.status)
}
