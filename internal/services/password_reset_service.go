package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

// ResetTokenPreview is what a reset link discloses before it is redeemed
type ResetTokenPreview struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// PasswordResetService runs the forgot/reset password token lifecycle.
// Reset tokens are opaque and stored only as SHA-256 hashes.
type PasswordResetService struct {
	tokens       PasswordResetRepository
	users        UserRepository
	hasher       *pkgauth.PasswordHasher
	sessions     *SessionActivityMonitor
	userAttempts *LoginAttemptTracker
	email        EmailSender
	audit        Auditor
	logger       *slog.Logger
	baseURL      string
	tokenExpiry  time.Duration
	now          func() time.Time
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	tokens PasswordResetRepository,
	users UserRepository,
	hasher *pkgauth.PasswordHasher,
	sessions *SessionActivityMonitor,
	userAttempts *LoginAttemptTracker,
	email EmailSender,
	audit Auditor,
	logger *slog.Logger,
	baseURL string,
	tokenExpiry time.Duration,
) *PasswordResetService {
	return &PasswordResetService{
		tokens:       tokens,
		users:        users,
		hasher:       hasher,
		sessions:     sessions,
		userAttempts: userAttempts,
		email:        email,
		audit:        audit,
		logger:       logger,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tokenExpiry:  tokenExpiry,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	s.now = now
	return s
}

// ForgotPassword emails a reset link when the address belongs to a user.
// The outcome is indistinguishable to the caller either way; only store
// failures are returned.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	plainToken, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = s.tokens.Create(ctx, &models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: tokenHash,
		ExpiresAt: s.now().Add(s.tokenExpiry),
	})
	if err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	subject, body := passwordResetEmail(s.baseURL + "/reset-password/" + plainToken)
	if err := s.email.SendEmail(ctx, user.Email, subject, body); err != nil {
		s.logger.Error("failed to send password reset email",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionPasswordResetReq,
		IP:       ip,
		Severity: models.SeverityLow,
	})
	return nil
}

// PreviewResetToken checks a reset token without redeeming it. An unknown
// token is models.ErrTokenInvalid; an expired one is deleted and reported as
// models.ErrTokenExpired.
func (s *PasswordResetService) PreviewResetToken(ctx context.Context, plainToken string) (*ResetTokenPreview, error) {
	token, err := s.lookup(ctx, plainToken)
	if err != nil {
		return nil, err
	}
	return &ResetTokenPreview{ExpiresAt: token.ExpiresAt}, nil
}

// ResetPassword redeems a reset token exactly once, sets the new password
// and ends every session of the user
func (s *PasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword, ip string) error {
	token, err := s.lookup(ctx, plainToken)
	if err != nil {
		return err
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	marked, err := s.tokens.MarkUsed(ctx, token.ID, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	if !marked {
		return models.ErrTokenInvalid
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, true); err != nil {
		// The password did not change, so the link stays usable.
		if releaseErr := s.tokens.Release(ctx, token.ID); releaseErr != nil {
			s.logger.Error("failed to release reset token", slog.String("token_id", token.ID), slog.Any("error", releaseErr))
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.sessions.DestroyAllForUser(ctx, user.ID, "")
	if err != nil {
		s.logger.Error("failed to revoke sessions after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	if err := s.userAttempts.Clear(ctx, UsernameAttemptKey(user.Username)); err != nil {
		s.logger.Error("failed to clear lockout after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionPasswordReset,
		IP:       ip,
		Details:  models.AuditDetails{"sessions_revoked": revoked},
		Severity: models.SeverityMedium,
	})
	return nil
}

func (s *PasswordResetService) lookup(ctx context.Context, plainToken string) (*models.PasswordResetToken, error) {
	if plainToken == "" {
		return nil, models.ErrTokenInvalid
	}

	token, err := s.tokens.GetByHash(ctx, auth.HashOpaqueToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load reset token: %w", err)
	}
	if token.IsUsed() {
		return nil, models.ErrTokenInvalid
	}

	if token.IsExpired(s.now()) {
		if err := s.tokens.Delete(ctx, token.ID); err != nil {
			s.logger.Error("failed to delete expired reset token", slog.Any("error", err))
		}
		return nil, models.ErrTokenExpired
	}
	return token, nil
}
