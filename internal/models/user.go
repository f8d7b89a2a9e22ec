package models

import (
	"time"
)

// Roles recognised by the fixed role check
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the identity record owned by the credential store
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	Role                string
	EmailVerified       bool
	TOTPSecretEncrypted []byte // AES-256-GCM sealed TOTP secret, nil until enrollment is confirmed
	TOTPSecretNonce     []byte
	TOTPLastStep        *int64 // Last accepted TOTP time-step, for replay rejection
	RecoveryCodeHashes  []string
	ExternalProvider    *string // Set for users provisioned through federation
	ExternalSubject     *string
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TOTPEnabled reports whether a confirmed TOTP secret is on record
func (u *User) TOTPEnabled() bool {
	return len(u.TOTPSecretEncrypted) > 0
}

// IsFederated reports whether the account was auto-provisioned by an external provider
func (u *User) IsFederated() bool {
	return u.ExternalProvider != nil && *u.ExternalProvider != ""
}
