package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository stores hashed password reset tokens
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

func scanResetToken(row rowScanner) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// Create stores a new token, invalidating any outstanding token of the user
func (r *PasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1 AND used_at IS NULL`, token.UserID); err != nil {
		return nil, fmt.Errorf("failed to invalidate previous tokens: %w", database.MapPostgresError(err))
	}

	created, err := scanResetToken(tx.QueryRow(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, token_hash, expires_at, used_at, created_at
	`, token.UserID, token.TokenHash, token.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create reset token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reset token: %w", err)
	}
	return created, nil
}

// GetByHash looks up a token regardless of its state
func (r *PasswordResetRepository) GetByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	return scanResetToken(r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1
	`, tokenHash))
}

// MarkUsed flags the token as redeemed. It returns false when the token was
// already used or has expired at now, so only one redemption can win.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark reset token used: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Release clears used_at so a token marked for a reset that failed can be redeemed again
func (r *PasswordResetRepository) Release(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = NULL
		WHERE id = $1 AND used_at IS NOT NULL
	`, id); err != nil {
		return fmt.Errorf("failed to release reset token: %w", database.MapPostgresError(err))
	}
	return nil
}

// Delete removes a token
func (r *PasswordResetRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete reset token: %w", database.MapPostgresError(err))
	}
	return nil
}

// DeleteExpired purges tokens that expired before cutoff
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reset tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
