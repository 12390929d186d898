package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idcore/internal/gdpr"
)

// GDPRHandler handles the data lifecycle endpoints.
type GDPRHandler struct {
	gdpr   *gdpr.Manager
	logger *zap.Logger
}

// NewGDPRHandler creates a new GDPR handler.
func NewGDPRHandler(gdprManager *gdpr.Manager, logger *zap.Logger) *GDPRHandler {
	return &GDPRHandler{
		gdpr:   gdprManager,
		logger: logger,
	}
}

// Export handles GET /users/{id}/export.
func (h *GDPRHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	snapshot, err := h.gdpr.Export(r.Context(), userID, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// Erase handles POST /users/{id}/erase. Repeating the request returns the
// schedule already in force.
func (h *GDPRHandler) Erase(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	schedule, err := h.gdpr.Erase(r.Context(), userID, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, schedule)
}

// Reactivate handles POST /users/{id}/reactivate, reversing an erasure
// strictly before its purge deadline.
func (h *GDPRHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.gdpr.Reactivate(r.Context(), userID, clientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
