package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OAuthStateRepository is the durable store for federation state values
type OAuthStateRepository struct {
	pool *pgxpool.Pool
}

func NewOAuthStateRepository(db *database.DB) *OAuthStateRepository {
	return &OAuthStateRepository{pool: db.Pool}
}

func scanOAuthState(row rowScanner) (*models.OAuthStateRecord, error) {
	var s models.OAuthStateRecord
	if err := row.Scan(&s.State, &s.Service, &s.UserID, &s.ExpiresAt, &s.Used, &s.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Create stores a state record
func (r *OAuthStateRepository) Create(ctx context.Context, state *models.OAuthStateRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_states (state, service, user_id, expires_at)
		VALUES ($1, $2, $3, $4)
	`, state.State, state.Service, state.UserID, state.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", database.MapPostgresError(err))
	}
	return nil
}

// InsertUsed stores state already flagged used. It returns false when the
// state is on record, so a session copy can be redeemed only once.
func (r *OAuthStateRepository) InsertUsed(ctx context.Context, state *models.OAuthStateRecord) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_states (state, service, user_id, expires_at, used)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (state) DO NOTHING
	`, state.State, state.Service, state.UserID, state.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to record consumed oauth state: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// MarkUsed flags an unused state as used and returns it. Only one caller can
// win for a given state. When nothing was flagged, the existing record is
// returned with Used=true, or models.ErrNotFound if it was never issued.
func (r *OAuthStateRepository) MarkUsed(ctx context.Context, state string) (*models.OAuthStateRecord, error) {
	record, err := scanOAuthState(r.pool.QueryRow(ctx, `
		UPDATE oauth_states SET used = TRUE
		WHERE state = $1 AND used = FALSE
		RETURNING state, service, user_id, expires_at, FALSE, created_at
	`, state))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	// Either never issued or already consumed
	return scanOAuthState(r.pool.QueryRow(ctx, `
		SELECT state, service, user_id, expires_at, used, created_at
		FROM oauth_states WHERE state = $1
	`, state))
}

// DeleteExpired purges states that expired before cutoff
func (r *OAuthStateRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge oauth states: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
