package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"idcore/pkg/errors"
)

// respondJSON writes data as a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes the structured error body for err. Unknown errors are
// masked as internal ones so no detail leaks to the client.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.NewInternalError("Internal server error", err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("error_type", string(appErr.Type)),
			zap.Error(err))
	} else {
		logger.Debug("request rejected",
			zap.String("error_type", string(appErr.Type)),
			zap.Int("status", appErr.StatusCode))
	}

	errBody := map[string]interface{}{
		"type":    string(appErr.Type),
		"message": appErr.Message,
	}
	if appErr.Details != nil {
		errBody["details"] = appErr.Details
	}

	respondJSON(w, appErr.StatusCode, map[string]interface{}{
		"success": false,
		"error":   errBody,
	})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidationError("Invalid request body", nil)
	}
	return nil
}

// clientIP extracts the originating client address, preferring the proxy
// headers set by the load balancer.
func clientIP(r *http.Request) string {
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

	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}
