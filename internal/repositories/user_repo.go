package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, username, email, password_hash, role, email_verified,
	totp_secret_encrypted, totp_secret_nonce, totp_last_step, recovery_code_hashes,
	external_provider, external_subject, password_changed_at, created_at, updated_at`

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.EmailVerified,
		&user.TOTPSecretEncrypted, &user.TOTPSecretNonce, &user.TOTPLastStep, &user.RecoveryCodeHashes,
		&user.ExternalProvider, &user.ExternalSubject, &user.PasswordChangedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByUsername matches case-insensitively
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

// GetByEmail matches case-insensitively
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// GetByExternalIdentity finds a user linked to an external provider subject
func (r *UserRepository) GetByExternalIdentity(ctx context.Context, provider, subject string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_provider = $1 AND external_subject = $2`
	return scanUserRow(r.pool.QueryRow(ctx, query, provider, subject))
}

// Create inserts a user. Unique violations surface as models.ErrConflict
// carrying the constraint name.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.RecoveryCodeHashes == nil {
		user.RecoveryCodeHashes = []string{}
	}

	query := `
		INSERT INTO users (username, email, password_hash, role, email_verified,
			external_provider, external_subject, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role, user.EmailVerified,
		user.ExternalProvider, user.ExternalSubject, user.PasswordChangedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// UpdatePassword replaces the stored hash. changed marks a user-initiated
// change rather than a transparent rehash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changed bool) error {
	query := `
		UPDATE users
		SET password_hash = $2,
		    password_changed_at = CASE WHEN $3 THEN NOW() ELSE password_changed_at END,
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "update password", query, id, passwordHash, changed)
}

// SetTOTP stores a confirmed secret with its recovery code hashes and the
// step that confirmed it
func (r *UserRepository) SetTOTP(ctx context.Context, id string, encrypted, nonce []byte, step int64, recoveryHashes []string) error {
	query := `
		UPDATE users
		SET totp_secret_encrypted = $2, totp_secret_nonce = $3, totp_last_step = $4,
		    recovery_code_hashes = $5, updated_at = NOW()
		WHERE id = $1 AND totp_secret_encrypted IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id, encrypted, nonce, step, recoveryHashes)
	if err != nil {
		return fmt.Errorf("failed to set totp: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrMFAAlreadyEnrolled
	}
	return nil
}

// ClearTOTP removes the secret and all recovery codes
func (r *UserRepository) ClearTOTP(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET totp_secret_encrypted = NULL, totp_secret_nonce = NULL, totp_last_step = NULL,
		    recovery_code_hashes = '{}', updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "clear totp", query, id)
}

// AdvanceTOTPStep records step as the last accepted TOTP step. It returns
// false when an equal or later step was already recorded, which means the
// code is being replayed.
func (r *UserRepository) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	query := `
		UPDATE users SET totp_last_step = $2, updated_at = NOW()
		WHERE id = $1 AND (totp_last_step IS NULL OR totp_last_step < $2)
	`
	tag, err := r.pool.Exec(ctx, query, id, step)
	if err != nil {
		return false, fmt.Errorf("failed to advance totp step: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeRecoveryCode removes one stored hash. It returns false when the hash
// is no longer present, so a concurrent redemption of the same code loses.
func (r *UserRepository) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, error) {
	query := `
		UPDATE users
		SET recovery_code_hashes = array_remove(recovery_code_hashes, $2), updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(recovery_code_hashes)
	`
	tag, err := r.pool.Exec(ctx, query, id, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceRecoveryCodes swaps the whole recovery code set
func (r *UserRepository) ReplaceRecoveryCodes(ctx context.Context, id string, hashes []string) error {
	query := `UPDATE users SET recovery_code_hashes = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, "replace recovery codes", query, id, hashes)
}

// MarkEmailVerified flags the email as verified if it still matches
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id, email string) error {
	query := `
		UPDATE users SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND LOWER(email) = LOWER($2)
	`
	return r.execOne(ctx, "mark email verified", query, id, email)
}

// LinkExternalIdentity attaches a provider subject to a user that has none.
// Relinking the same identity is a no-op. models.ErrNotFound means the user
// is missing or already linked to another identity; a subject owned by a
// different user surfaces as models.ErrConflict.
func (r *UserRepository) LinkExternalIdentity(ctx context.Context, id, provider, subject string) error {
	query := `
		UPDATE users SET external_provider = $2, external_subject = $3, updated_at = NOW()
		WHERE id = $1
		  AND (external_provider IS NULL OR (external_provider = $2 AND external_subject = $3))
	`
	return r.execOne(ctx, "link external identity", query, id, provider, subject)
}

func (r *UserRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
