package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmailVerificationRepository stores hashed email verification tokens
type EmailVerificationRepository struct {
	pool *pgxpool.Pool
}

func NewEmailVerificationRepository(db *database.DB) *EmailVerificationRepository {
	return &EmailVerificationRepository{pool: db.Pool}
}

func scanVerificationToken(row rowScanner) (*models.EmailVerificationToken, error) {
	var t models.EmailVerificationToken
	if err := row.Scan(&t.ID, &t.UserID, &t.Email, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// Create stores a new verification token
func (r *EmailVerificationRepository) Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error) {
	created, err := scanVerificationToken(r.pool.QueryRow(ctx, `
		INSERT INTO email_verification_tokens (user_id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, email, token_hash, expires_at, used_at, created_at
	`, token.UserID, token.Email, token.TokenHash, token.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create verification token: %w", err)
	}
	return created, nil
}

// GetByHash looks up a token regardless of its state
func (r *EmailVerificationRepository) GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	return scanVerificationToken(r.pool.QueryRow(ctx, `
		SELECT id, user_id, email, token_hash, expires_at, used_at, created_at
		FROM email_verification_tokens WHERE token_hash = $1
	`, tokenHash))
}

// MarkUsed flags the token as used; false means another request won
func (r *EmailVerificationRepository) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE email_verification_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark verification token used: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a token
func (r *EmailVerificationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM email_verification_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete verification token: %w", database.MapPostgresError(err))
	}
	return nil
}

// DeleteExpired purges tokens that expired before cutoff
func (r *EmailVerificationRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM email_verification_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge verification tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
