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
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	tokens      EmailVerificationRepository
	users       UserRepository
	email       EmailSender
	audit       Auditor
	logger      *slog.Logger
	baseURL     string
	tokenExpiry time.Duration
	now         func() time.Time
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	tokens EmailVerificationRepository,
	users UserRepository,
	email EmailSender,
	audit Auditor,
	logger *slog.Logger,
	baseURL string,
	tokenExpiry time.Duration,
) *EmailVerificationService {
	return &EmailVerificationService{
		tokens:      tokens,
		users:       users,
		email:       email,
		audit:       audit,
		logger:      logger,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

// WithClock overrides the time source
func (s *EmailVerificationService) WithClock(now func() time.Time) *EmailVerificationService {
	s.now = now
	return s
}

// SendVerificationEmail generates a token and sends a verification email
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, user *models.User) error {
	plainToken, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = s.tokens.Create(ctx, &models.EmailVerificationToken{
		UserID:    user.ID,
		TokenHash: tokenHash,
		Email:     user.Email,
		ExpiresAt: s.now().Add(s.tokenExpiry),
	})
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	subject, body := verificationEmail(s.baseURL + "/verify-email?token=" + plainToken)
	if err := s.email.SendEmail(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)))
	return nil
}

// VerifyEmail redeems a verification token. The address must still be the
// one the token was issued for.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken, ip string) error {
	if plainToken == "" {
		return models.ErrTokenInvalid
	}

	token, err := s.tokens.GetByHash(ctx, auth.HashOpaqueToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		return fmt.Errorf("failed to load verification token: %w", err)
	}
	if token.IsUsed() {
		return models.ErrTokenInvalid
	}

	now := s.now()
	if token.IsExpired(now) {
		if err := s.tokens.Delete(ctx, token.ID); err != nil {
			s.logger.Error("failed to delete expired verification token", slog.Any("error", err))
		}
		return models.ErrTokenExpired
	}

	marked, err := s.tokens.MarkUsed(ctx, token.ID, now)
	if err != nil {
		return fmt.Errorf("failed to mark token used: %w", err)
	}
	if !marked {
		return models.ErrTokenInvalid
	}

	if err := s.users.MarkEmailVerified(ctx, token.UserID, token.Email); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTokenInvalid
		}
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   token.UserID,
		Action:   models.AuditActionEmailVerified,
		IP:       ip,
		Severity: models.SeverityLow,
	})
	return nil
}
