package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
)

// UsernameAttemptKey is the tracker key for a login username
func UsernameAttemptKey(username string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(username))
}

// IPAttemptKey is the tracker key for a client address
func IPAttemptKey(ip string) string {
	return "ip:" + ip
}

// LoginAttemptTracker counts failed logins per key inside a fixed window
// and blocks the key once the threshold is reached. The window starts at
// the first failure and lasts lockoutDuration; a record older than that is
// treated as absent.
type LoginAttemptTracker struct {
	store       AttemptStore
	maxAttempts int
	duration    time.Duration
	now         func() time.Time
}

// NewLoginAttemptTracker creates a tracker that locks a key after
// maxAttempts failures for duration
func NewLoginAttemptTracker(store AttemptStore, maxAttempts int, duration time.Duration) *LoginAttemptTracker {
	return &LoginAttemptTracker{
		store:       store,
		maxAttempts: maxAttempts,
		duration:    duration,
		now:         time.Now,
	}
}

// WithClock overrides the time source
func (t *LoginAttemptTracker) WithClock(now func() time.Time) *LoginAttemptTracker {
	t.now = now
	return t
}

// MaxAttempts returns the lockout threshold
func (t *LoginAttemptTracker) MaxAttempts() int {
	return t.maxAttempts
}

// CheckAllowed returns a *models.LockoutError while key is locked
func (t *LoginAttemptTracker) CheckAllowed(ctx context.Context, key string) error {
	now := t.now()
	record, err := t.store.Get(ctx, key, now, t.duration)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read login attempts: %w", err)
	}

	if record.FailureCount < t.maxAttempts {
		return nil
	}

	return &models.LockoutError{
		Key:       key,
		Remaining: record.LockedUntil(t.duration).Sub(now),
	}
}

// RecordAttempt records the outcome of one attempt. A success deletes the
// record; a failure increments it and returns the updated record.
func (t *LoginAttemptTracker) RecordAttempt(ctx context.Context, key string, success bool) (*models.LoginAttemptRecord, error) {
	if success {
		return nil, t.Clear(ctx, key)
	}

	record, err := t.store.RecordFailure(ctx, key, t.now(), t.duration)
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return record, nil
}

// JustLocked reports whether record is the failure that crossed the threshold
func (t *LoginAttemptTracker) JustLocked(record *models.LoginAttemptRecord) bool {
	return record != nil && record.FailureCount == t.maxAttempts
}

// Clear removes any record for key
func (t *LoginAttemptTracker) Clear(ctx context.Context, key string) error {
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}
