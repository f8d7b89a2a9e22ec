package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
)

// MFAService handles TOTP enrollment and recovery codes. A pending secret
// lives only in the enrollment store until a valid code confirms it.
type MFAService struct {
	users             UserRepository
	pending           PendingEnrollmentStore
	totp              *auth.TOTPProvider
	hasher            *pkgauth.PasswordHasher
	verifier          *CredentialVerifier
	audit             Auditor
	logger            *slog.Logger
	enrollmentTTL     time.Duration
	recoveryCodeCount int
}

// NewMFAService creates a new MFAService
func NewMFAService(
	users UserRepository,
	pending PendingEnrollmentStore,
	totp *auth.TOTPProvider,
	hasher *pkgauth.PasswordHasher,
	verifier *CredentialVerifier,
	audit Auditor,
	logger *slog.Logger,
	enrollmentTTL time.Duration,
	recoveryCodeCount int,
) *MFAService {
	return &MFAService{
		users:             users,
		pending:           pending,
		totp:              totp,
		hasher:            hasher,
		verifier:          verifier,
		audit:             audit,
		logger:            logger,
		enrollmentTTL:     enrollmentTTL,
		recoveryCodeCount: recoveryCodeCount,
	}
}

// BeginEnrollment generates a new secret and holds it pending confirmation
func (s *MFAService) BeginEnrollment(ctx context.Context, principal *models.Principal) (*auth.Enrollment, error) {
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.TOTPEnabled() {
		return nil, models.ErrMFAAlreadyEnrolled
	}

	enrollment, err := s.totp.Enroll(user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.pending.Put(ctx, user.ID, enrollment.Secret, s.enrollmentTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending enrollment: %w", err)
	}
	return enrollment, nil
}

// ConfirmEnrollment activates the pending secret once code matches it and
// returns the plaintext recovery codes. They are never retrievable again.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error) {
	secret, err := s.pending.Get(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMFANotEnrolled
		}
		return nil, fmt.Errorf("failed to load pending enrollment: %w", err)
	}

	if err := s.verifier.CheckStepUp(ctx, principal, ip); err != nil {
		return nil, err
	}
	step, ok := s.totp.Verify(code, secret, nil)
	if !ok {
		s.verifier.RecordStepUpFailure(ctx, principal, ip, "mfa_confirm_bad_code")
		return nil, models.ErrMFAInvalidCode
	}

	encrypted, nonce, err := s.totp.EncryptSecret(secret)
	if err != nil {
		return nil, err
	}

	codes, hashes, err := s.newRecoveryCodes(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetTOTP(ctx, principal.UserID, encrypted, nonce, step, hashes); err != nil {
		return nil, err
	}

	if err := s.pending.Delete(ctx, principal.UserID); err != nil {
		s.logger.Warn("failed to delete pending enrollment", slog.String("user_id", principal.UserID), slog.Any("error", err))
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   principal.UserID,
		Action:   models.AuditActionMFAEnabled,
		IP:       ip,
		Severity: models.SeverityMedium,
	})
	return codes, nil
}

// Disable turns TOTP off. Both the password and a current second factor
// are required.
func (s *MFAService) Disable(ctx context.Context, principal *models.Principal, password, code, ip string) error {
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TOTPEnabled() {
		return models.ErrMFANotEnrolled
	}

	if err := s.verifier.CheckStepUp(ctx, principal, ip); err != nil {
		return err
	}

	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.verifier.RecordStepUpFailure(ctx, principal, ip, "mfa_disable_bad_password")
		return models.ErrInvalidCredentials
	}

	if err := s.verifier.VerifySecondFactor(ctx, user, code, ip); err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) {
			s.verifier.RecordStepUpFailure(ctx, principal, ip, "mfa_disable_bad_code")
		}
		s.auditFailure(ctx, user.ID, ip, "disable")
		return err
	}

	if err := s.users.ClearTOTP(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionMFADisabled,
		IP:       ip,
		Severity: models.SeverityHigh,
	})
	return nil
}

// RegenerateRecoveryCodes replaces all recovery codes. A TOTP code is
// required; a recovery code cannot mint new ones.
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error) {
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TOTPEnabled() {
		return nil, models.ErrMFANotEnrolled
	}

	if err := s.verifier.CheckStepUp(ctx, principal, ip); err != nil {
		return nil, err
	}
	if err := s.verifier.VerifyTOTP(ctx, user, code); err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) {
			s.verifier.RecordStepUpFailure(ctx, principal, ip, "mfa_regenerate_bad_code")
		}
		s.auditFailure(ctx, user.ID, ip, "regenerate_recovery_codes")
		return nil, err
	}

	codes, hashes, err := s.newRecoveryCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionRecoveryCodesNew,
		IP:       ip,
		Details:  models.AuditDetails{"count": len(codes)},
		Severity: models.SeverityMedium,
	})
	return codes, nil
}

func (s *MFAService) newRecoveryCodes(ctx context.Context) ([]string, []string, error) {
	codes, err := s.totp.GenerateRecoveryCodes(s.recoveryCodeCount)
	if err != nil {
		return nil, nil, err
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i], err = s.hasher.Hash(ctx, code)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
	}
	return codes, hashes, nil
}

func (s *MFAService) auditFailure(ctx context.Context, userID, ip, operation string) {
	s.audit.Append(ctx, AuditEvent{
		UserID:   userID,
		Action:   models.AuditActionMFAFailed,
		IP:       ip,
		Details:  models.AuditDetails{"operation": operation},
		Severity: models.SeverityMedium,
	})
}
