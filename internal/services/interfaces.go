package services

import (
	"context"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
)

// UserRepository is the identity store consumed by the services
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByExternalIdentity(ctx context.Context, provider, subject string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changed bool) error
	SetTOTP(ctx context.Context, id string, encrypted, nonce []byte, step int64, recoveryHashes []string) error
	ClearTOTP(ctx context.Context, id string) error
	AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error)
	ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, error)
	ReplaceRecoveryCodes(ctx context.Context, id string, hashes []string) error
	MarkEmailVerified(ctx context.Context, id, email string) error
	LinkExternalIdentity(ctx context.Context, id, provider, subject string) error
}

// AttemptStore holds LoginAttemptRecords. Every method is a single atomic
// store operation.
type AttemptStore interface {
	Get(ctx context.Context, key string, now time.Time, window time.Duration) (*models.LoginAttemptRecord, error)
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (*models.LoginAttemptRecord, error)
	Delete(ctx context.Context, key string) error
}

// SessionStore holds ServerSessions by id
type SessionStore interface {
	Create(ctx context.Context, s *models.ServerSession, ttl time.Duration, maxPerUser int) ([]string, error)
	Get(ctx context.Context, sessionID string) (*models.ServerSession, error)
	Touch(ctx context.Context, sessionID string, now time.Time, ip string) (bool, error)
	Delete(ctx context.Context, sessionID, userID string) error
	DeleteAllForUser(ctx context.Context, userID, exceptID string) (int, error)
}

// PasswordResetRepository stores hashed reset tokens
type PasswordResetRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)
	Release(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// EmailVerificationRepository stores hashed verification tokens
type EmailVerificationRepository interface {
	Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkUsed(ctx context.Context, id string, now time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// OAuthStateRepository is the durable copy of federation state values
type OAuthStateRepository interface {
	Create(ctx context.Context, state *models.OAuthStateRecord) error
	MarkUsed(ctx context.Context, state string) (*models.OAuthStateRecord, error)
	// InsertUsed records an already-consumed state. It reports false when a
	// record for the state exists.
	InsertUsed(ctx context.Context, state *models.OAuthStateRecord) (bool, error)
}

// AuditRepository persists audit entries
type AuditRepository interface {
	Append(ctx context.Context, entry *models.SecurityAuditLogEntry) error
}

// PendingEnrollmentStore holds unconfirmed TOTP secrets
type PendingEnrollmentStore interface {
	Put(ctx context.Context, userID, secret string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// Purger deletes durable records that expired before cutoff
type Purger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
