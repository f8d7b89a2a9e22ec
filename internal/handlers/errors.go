package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/praxis/internal/models"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
)

// writeServiceError maps the authentication error taxonomy onto HTTP
// responses. Unexpected errors are logged with context and surface as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var locked *models.LockoutError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteAccountLocked(w, locked.RemainingSeconds())
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials, "Invalid username or password")
	case errors.Is(err, models.ErrMFARequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeMFARequired, "Second factor required")
	case errors.Is(err, models.ErrMFAInvalidCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials, "Invalid verification code")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteSessionExpired(w)
	case errors.Is(err, models.ErrUnauthenticated):
		pkghttp.WriteUnauthorized(w, "Authentication required")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeTokenExpired, "Token has expired")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeTokenInvalid, "Token is invalid")
	case errors.Is(err, models.ErrStateMismatch):
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeStateMismatch, "Authorization state mismatch")
	case errors.Is(err, models.ErrWeakPassword):
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, pkghttp.CodeWeakPassword,
			"Password does not meet strength requirements", err.Error())
	case errors.Is(err, models.ErrDuplicateAccount):
		pkghttp.WriteConflict(w, "An account with that username or email already exists")
	case errors.Is(err, models.ErrMFAAlreadyEnrolled), errors.Is(err, models.ErrMFANotEnrolled):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrUnknownProvider), errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// decodeAndValidate reads a JSON body into req and runs its validate tags.
// It writes the 400 itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return false
	}
	return true
}

const maxBodyBytes = 1 << 16
