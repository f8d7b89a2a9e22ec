package models

import "time"

// LoginAttemptRecord is the windowed failure counter for one key (username or IP)
type LoginAttemptRecord struct {
	Key             string
	FailureCount    int
	WindowStartedAt time.Time
}

// Expired reports whether the lockout window of the record has elapsed at now
func (r *LoginAttemptRecord) Expired(now time.Time, lockoutDuration time.Duration) bool {
	return !now.Before(r.WindowStartedAt.Add(lockoutDuration))
}

// LockedUntil returns the instant the record stops blocking its key
func (r *LoginAttemptRecord) LockedUntil(lockoutDuration time.Duration) time.Time {
	return r.WindowStartedAt.Add(lockoutDuration)
}
