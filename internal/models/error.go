package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication taxonomy
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrSessionExpired     = errors.New("session expired due to inactivity")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrStateMismatch      = errors.New("oauth state mismatch")
	ErrWeakPassword       = errors.New("password does not meet strength requirements")
	ErrDuplicateAccount   = errors.New("account already exists")

	// Second factor
	ErrMFARequired        = errors.New("second factor required")
	ErrMFAInvalidCode     = errors.New("invalid second factor code")
	ErrMFANotEnrolled     = errors.New("two-factor authentication is not enabled")
	ErrMFAAlreadyEnrolled = errors.New("two-factor authentication is already enabled")

	// Federation
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// LockoutError reports an active lockout together with the time left on it
type LockoutError struct {
	Key       string
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s: retry in %d seconds", ErrAccountLocked.Error(), e.RemainingSeconds())
}

// Is makes errors.Is(err, ErrAccountLocked) match
func (e *LockoutError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RemainingSeconds rounds the remaining lockout up to whole seconds
func (e *LockoutError) RemainingSeconds() int64 {
	secs := int64(e.Remaining / time.Second)
	if e.Remaining%time.Second != 0 {
		secs++
	}
	return secs
}

// SecondFactorRequiredError reports that the password step succeeded for a
// TOTP-enrolled user and a second factor must follow
type SecondFactorRequiredError struct {
	UserID string
}

func (e *SecondFactorRequiredError) Error() string {
	return ErrMFARequired.Error()
}

// Is makes errors.Is(err, ErrMFARequired) match
func (e *SecondFactorRequiredError) Is(target error) bool {
	return target == ErrMFARequired
}
