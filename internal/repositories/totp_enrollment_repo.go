package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/redis/go-redis/v9"
)

const totpEnrollmentPrefix = "mfa:enroll:"

// TOTPEnrollmentRepository holds unconfirmed TOTP secrets outside the user
// record until the user proves possession
type TOTPEnrollmentRepository struct {
	client *redis.Client
}

func NewTOTPEnrollmentRepository(client *redis.Client) *TOTPEnrollmentRepository {
	return &TOTPEnrollmentRepository{client: client}
}

// Put stores a pending secret, replacing any earlier one
func (r *TOTPEnrollmentRepository) Put(ctx context.Context, userID, secret string, ttl time.Duration) error {
	if err := r.client.Set(ctx, totpEnrollmentPrefix+userID, secret, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending totp secret: %w", err)
	}
	return nil
}

// Get returns the pending secret; models.ErrNotFound if none or expired
func (r *TOTPEnrollmentRepository) Get(ctx context.Context, userID string) (string, error) {
	secret, err := r.client.Get(ctx, totpEnrollmentPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pending totp secret: %w", err)
	}
	return secret, nil
}

// Delete discards the pending secret
func (r *TOTPEnrollmentRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, totpEnrollmentPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete pending totp secret: %w", err)
	}
	return nil
}
