package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/domain"
	"idcore/internal/token"
	"idcore/pkg/errors"
)

// ContextKey represents keys used in request context
type ContextKey string

const (
	// UserContextKey is the key for the verified token claims in context
	UserContextKey ContextKey = "user"
	// RequestIDContextKey is the key for request ID in context
	RequestIDContextKey ContextKey = "request_id"
)

// Auth verifies the bearer token on every request and stores the claims in
// the context. Each failed verification is audited once with the caller's
// address.
func Auth(tokens *token.Service, recorder *audit.Recorder, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get("Authorization")
			if header == "" {
				auditVerifyFailed(ctx, recorder, r, "missing_token")
				writeError(w, logger, errors.NewAuthenticationError("Authorization header is required"))
				return
			}
			if !strings.HasPrefix(header, "Bearer ") {
				auditVerifyFailed(ctx, recorder, r, "malformed_header")
				writeError(w, logger, errors.NewAuthenticationError("Invalid authorization header format"))
				return
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == "" {
				auditVerifyFailed(ctx, recorder, r, "missing_token")
				writeError(w, logger, errors.NewAuthenticationError("Token is required"))
				return
			}

			claims, err := tokens.Verify(ctx, tokenString)
			if err != nil {
				reason := "invalid"
				if appErr, ok := errors.AsAppError(err); ok {
					reason = string(appErr.Type)
				}
				auditVerifyFailed(ctx, recorder, r, reason)
				writeError(w, logger, err)
				return
			}

			ctx = context.WithValue(ctx, UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSubject restricts a /users/{id} route to the token subject itself.
func RequireSubject(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(UserContextKey).(*token.Claims)
			if !ok || claims == nil {
				writeError(w, logger, errors.NewAuthenticationError("Authentication required"))
				return
			}

			if claims.Subject != chi.URLParam(r, "id") {
				logger.Debug("subject mismatch on protected route",
					zap.String("path", r.URL.Path))
				writeError(w, logger, errors.NewAuthorizationError("Access denied"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with a unique ID, exposed in the response
// headers and the context.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func auditVerifyFailed(ctx context.Context, recorder *audit.Recorder, r *http.Request, reason string) {
	recorder.Record(ctx, domain.AuditEvent{
		Type:      domain.EventTokenVerifyFailed,
		IPAddress: requestIP(r),
		UserAgent: r.UserAgent(),
		Details:   map[string]interface{}{"reason": reason},
	})
}

// requestIP extracts the client address, preferring proxy headers.
func requestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if strings.HasPrefix(ip, "[") {
		if idx := strings.LastIndex(ip, "]:"); idx != -1 {
			ip = ip[1:idx]
		}
	} else if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// writeError writes the structured error body used across the API.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("Internal server error", err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("error_type", string(appErr.Type)), zap.Error(err))
	}

	errBody := map[string]interface{}{
		"type":    string(appErr.Type),
		"message": appErr.Message,
	}
	if appErr.Details != nil {
		errBody["details"] = appErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errBody,
	})
}
