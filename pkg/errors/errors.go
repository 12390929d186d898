package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different types of application errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"

	// OAuth flow errors
	ErrorTypeUnsupportedProvider ErrorType = "unsupported_provider"
	ErrorTypeInvalidState        ErrorType = "invalid_state"
	ErrorTypeExpiredState        ErrorType = "expired_state"
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"
	ErrorTypeProfileParse        ErrorType = "profile_parse_error"

	// Token errors
	ErrorTypeTokenExpired          ErrorType = "token_expired"
	ErrorTypeTokenMalformed        ErrorType = "token_malformed"
	ErrorTypeTokenSignatureInvalid ErrorType = "token_signature_invalid"
	ErrorTypeTokenRevoked          ErrorType = "token_revoked"

	// Encryption errors
	ErrorTypeKeyNotFound      ErrorType = "key_not_found"
	ErrorTypeDecryptionFailed ErrorType = "decryption_failed"

	// Audit errors
	ErrorTypeAuditWriteFailed ErrorType = "audit_write_failed"

	// GDPR lifecycle errors
	ErrorTypeAlreadyPurged         ErrorType = "already_purged"
	ErrorTypeRetentionWindowActive ErrorType = "retention_window_active"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	Internal   error                  `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Internal.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Internal
}

// AsAppError extracts an *AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries the given error type.
func IsType(err error, t ErrorType) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type == t
	}
	return false
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthorization,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
		Details:    details,
	}
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Internal:   internal,
	}
}

// NewUnsupportedProviderError signals an OAuth provider outside the allowlist.
func NewUnsupportedProviderError(provider string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnsupportedProvider,
		Message:    fmt.Sprintf("unsupported oauth provider: %s", provider),
		StatusCode: http.StatusBadRequest,
	}
}

// NewInvalidStateError signals an unknown, consumed, or mismatched OAuth state.
func NewInvalidStateError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvalidState,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewExpiredStateError signals an OAuth state past its TTL.
func NewExpiredStateError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExpiredState,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewProviderUnavailableError signals an exhausted retry budget against a provider.
func NewProviderUnavailableError(provider string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeProviderUnavailable,
		Message:    fmt.Sprintf("provider %s unavailable", provider),
		StatusCode: http.StatusBadGateway,
		Internal:   internal,
	}
}

// NewProfileParseError signals a malformed or incomplete provider profile.
func NewProfileParseError(message string, internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeProfileParse,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Internal:   internal,
	}
}

// NewTokenExpiredError creates a token expiry error
func NewTokenExpiredError() *AppError {
	return &AppError{
		Type:       ErrorTypeTokenExpired,
		Message:    "token has expired",
		StatusCode: http.StatusUnauthorized,
	}
}

// NewTokenMalformedError creates a malformed token error
func NewTokenMalformedError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeTokenMalformed,
		Message:    "token is malformed",
		StatusCode: http.StatusUnauthorized,
		Internal:   internal,
	}
}

// NewTokenSignatureError covers bad signatures and algorithm confusion.
func NewTokenSignatureError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeTokenSignatureInvalid,
		Message:    "token signature is invalid",
		StatusCode: http.StatusUnauthorized,
		Internal:   internal,
	}
}

// NewTokenRevokedError creates a revoked token error
func NewTokenRevokedError() *AppError {
	return &AppError{
		Type:       ErrorTypeTokenRevoked,
		Message:    "token has been revoked",
		StatusCode: http.StatusUnauthorized,
	}
}

// NewKeyNotFoundError signals a ciphertext whose key version is no longer retained.
func NewKeyNotFoundError(version string) *AppError {
	return &AppError{
		Type:       ErrorTypeKeyNotFound,
		Message:    fmt.Sprintf("encryption key version %s not found", version),
		StatusCode: http.StatusInternalServerError,
	}
}

// NewDecryptionFailedError signals corrupted or tampered ciphertext.
func NewDecryptionFailedError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeDecryptionFailed,
		Message:    "decryption failed",
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// NewAuditWriteFailedError signals a lost audit append. Callers treat it as
// non-fatal to the primary operation but must log it for alerting.
func NewAuditWriteFailedError(internal error) *AppError {
	return &AppError{
		Type:       ErrorTypeAuditWriteFailed,
		Message:    "audit write failed",
		StatusCode: http.StatusInternalServerError,
		Internal:   internal,
	}
}

// NewAlreadyPurgedError signals an operation on a user whose purge has executed.
func NewAlreadyPurgedError(userID string) *AppError {
	return &AppError{
		Type:       ErrorTypeAlreadyPurged,
		Message:    fmt.Sprintf("user %s has already been purged", userID),
		StatusCode: http.StatusGone,
	}
}

// NewRetentionWindowActiveError signals a lifecycle action blocked by the
// retention schedule.
func NewRetentionWindowActiveError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRetentionWindowActive,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// ErrorResponse represents the JSON error response
type ErrorResponse struct {
	Error struct {
		Type      ErrorType              `json:"type"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"request_id,omitempty"`
		Timestamp string                 `json:"timestamp"`
	} `json:"error"`
}
