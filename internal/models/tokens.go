package models

import (
	"time"
)

// PasswordResetToken is an opaque, single-use reset credential. Only the hash is stored.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired checks if the token has expired at now
func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed checks if the token has already been redeemed
func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// EmailVerificationToken is an opaque, single-use email verification credential
type EmailVerificationToken struct {
	ID        string
	UserID    string
	TokenHash string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsExpired checks if the token has expired at now
func (t *EmailVerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsUsed checks if the token has already been used
func (t *EmailVerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// OAuthStateRecord is the durable copy of an anti-CSRF federation state value
type OAuthStateRecord struct {
	State     string
	Service   string
	UserID    *string // Set when an authenticated user links a provider
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// IsExpired checks if the state has expired at now
func (s *OAuthStateRecord) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
