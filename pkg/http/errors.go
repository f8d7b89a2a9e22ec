package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Machine-readable error codes shared by handlers and middleware
const (
	CodeBadRequest         = "bad_request"
	CodeValidation         = "validation_error"
	CodeUnauthorized       = "unauthorized"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountLocked      = "account_locked"
	CodeSessionExpired     = "session_expired"
	CodeTokenExpired       = "token_expired"
	CodeTokenInvalid       = "token_invalid"
	CodeMFARequired        = "mfa_required"
	CodeStateMismatch      = "state_mismatch"
	CodeWeakPassword       = "weak_password"
	CodeForbidden          = "forbidden"
	CodeCSRF               = "csrf_invalid"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeRateLimited        = "rate_limit_exceeded"
	CodeInternal           = "internal_error"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteJSON writes v as a JSON body with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, message)
}

// WriteSessionExpired reports an idle-timeout expiry, distinct from a plain 401
func WriteSessionExpired(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, CodeSessionExpired, "Session expired due to inactivity")
}

// WriteAccountLocked reports an active lockout and its remaining time
func WriteAccountLocked(w http.ResponseWriter, retryAfterSeconds int64) {
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
	WriteErrorWithDetails(w, http.StatusTooManyRequests, CodeAccountLocked,
		"Too many failed attempts. Try again later.",
		"retry_after_seconds="+strconv.FormatInt(retryAfterSeconds, 10))
}
