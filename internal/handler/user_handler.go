package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idcore/internal/domain"
	"idcore/internal/service"
	"idcore/internal/token"
	"idcore/pkg/errors"
)

// UserHandler handles profile, privacy, verification and session endpoints.
type UserHandler struct {
	users  *service.UserService
	tokens *token.Service
	logger *zap.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users *service.UserService, tokens *token.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

// GetProfile handles GET /users/{id}.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	view, err := h.users.GetProfile(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"user": view})
}

// UpdateProfile handles PUT /users/{id}.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var update domain.ProfileUpdate
	if err := decodeBody(r, &update); err != nil {
		respondError(w, h.logger, err)
		return
	}

	view, err := h.users.UpdateProfile(r.Context(), userID, &update, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"user": view})
}

// GetPrivacy handles GET /users/{id}/privacy.
func (h *UserHandler) GetPrivacy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	privacy, err := h.users.GetPrivacy(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, privacy)
}

// UpdatePrivacy handles PUT /users/{id}/privacy.
func (h *UserHandler) UpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		PrivacyPreference string `json:"privacy_preference"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}

	user, err := h.users.UpdatePrivacy(r.Context(), userID, req.PrivacyPreference, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// RequestVerification handles POST /users/{id}/verify/request. The code is
// delivered out of band; the response only confirms issuance.
func (h *UserHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		Method string `json:"method"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.Method == "" {
		req.Method = domain.VerificationMethodEmail
	}

	record, _, err := h.users.RequestVerification(r.Context(), userID, req.Method, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"method":     record.Method,
		"expires_at": record.ExpiresAt,
	})
}

// ConfirmVerification handles POST /users/{id}/verify. A wrong or expired
// code comes back as 409 with the failure reason.
func (h *UserHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		Method string `json:"method"`
		Code   string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.Method == "" {
		req.Method = domain.VerificationMethodEmail
	}
	if req.Code == "" {
		respondError(w, h.logger, errors.NewValidationError("Verification code is required", nil))
		return
	}

	result, err := h.users.ConfirmVerification(r.Context(), userID, req.Method, req.Code, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.Verified {
		status = http.StatusConflict
	}
	respondJSON(w, status, result)
}

// Deactivate handles POST /users/{id}/deactivate.
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		ReactivateAt string `json:"reactivate_at"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, h.logger, err)
			return
		}
	}

	var reactivateAt *time.Time
	if req.ReactivateAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReactivateAt)
		if err != nil {
			respondError(w, h.logger, errors.NewValidationError("reactivate_at must be RFC3339", map[string]interface{}{
				"reactivate_at": req.ReactivateAt,
			}))
			return
		}
		reactivateAt = &parsed
	}

	user, err := h.users.Deactivate(r.Context(), userID, reactivateAt, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":           user,
		"deactivated_at": user.DeactivatedAt,
		"reactivate_at":  user.ReactivateAt,
	})
}

// ListSessions handles GET /users/{id}/sessions. Only metadata is exposed,
// never token hashes.
func (h *UserHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	sessions, err := h.tokens.ListSessions(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// RevokeSession handles DELETE /users/{id}/sessions/{sessionID}.
func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.tokens.RevokeSession(r.Context(), userID, sessionID, clientIP(r), r.UserAgent()); err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
