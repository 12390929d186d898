package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idcore/internal/oauth"
	"idcore/internal/token"
	"idcore/pkg/errors"
)

// AuthHandler handles the OAuth flow and token lifecycle endpoints.
type AuthHandler struct {
	oauth  *oauth.Manager
	tokens *token.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(oauthManager *oauth.Manager, tokens *token.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		oauth:  oauthManager,
		tokens: tokens,
		logger: logger,
	}
}

// Initiate handles POST /auth/{provider}.
func (h *AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, err := h.oauth.Initiate(r.Context(), provider, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// Callback handles GET /auth/{provider}/callback.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	result, err := h.oauth.HandleCallback(r.Context(), provider,
		query.Get("code"), query.Get("state"), clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Verify handles POST /auth/verify. The token may arrive in the body or as a
// bearer header.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}
	if req.Token == "" {
		respondError(w, h.logger, errors.NewValidationError("Token is required", nil))
		return
	}

	claims, err := h.tokens.Verify(r.Context(), req.Token)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"sub":   claims.Subject,
		"exp":   claims.ExpiresAt.Unix(),
	})
}

// Refresh handles POST /auth/refresh. Rotation: the presented refresh token
// is consumed and a new pair is returned.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.RefreshToken == "" {
		respondError(w, h.logger, errors.NewValidationError("Refresh token is required", nil))
		return
	}

	result, err := h.tokens.Refresh(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Logout handles POST /auth/logout, revoking the presented session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.RefreshToken == "" {
		respondError(w, h.logger, errors.NewValidationError("Refresh token is required", nil))
		return
	}

	if err := h.tokens.RevokeByRefreshToken(r.Context(), req.RefreshToken, clientIP(r), r.UserAgent()); err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
