package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
)

// PasswordCredentials is a username/password login attempt with an
// optional second factor (TOTP or recovery code)
type PasswordCredentials struct {
	Username     string
	Password     string
	IP           string
	SecondFactor string
}

// CredentialVerifier checks passwords and second factors. Lockout is
// consulted before any hashing, and unknown usernames cost the same bcrypt
// work as known ones.
type CredentialVerifier struct {
	users        UserRepository
	hasher       *pkgauth.PasswordHasher
	totp         *auth.TOTPProvider
	userAttempts *LoginAttemptTracker
	ipAttempts   *LoginAttemptTracker
	audit        Auditor
	logger       *slog.Logger
}

// NewCredentialVerifier creates a new CredentialVerifier
func NewCredentialVerifier(
	users UserRepository,
	hasher *pkgauth.PasswordHasher,
	totp *auth.TOTPProvider,
	userAttempts, ipAttempts *LoginAttemptTracker,
	audit Auditor,
	logger *slog.Logger,
) *CredentialVerifier {
	return &CredentialVerifier{
		users:        users,
		hasher:       hasher,
		totp:         totp,
		userAttempts: userAttempts,
		ipAttempts:   ipAttempts,
		audit:        audit,
		logger:       logger,
	}
}

// Authenticate verifies creds and returns the resulting Principal.
// A TOTP-enrolled user without a second factor in creds yields a
// *models.SecondFactorRequiredError.
func (v *CredentialVerifier) Authenticate(ctx context.Context, creds PasswordCredentials) (*models.Principal, error) {
	usernameKey := UsernameAttemptKey(creds.Username)

	if err := v.checkLocks(ctx, usernameKey, creds.IP); err != nil {
		return nil, err
	}

	user, err := v.users.GetByUsername(ctx, creds.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		v.hasher.DummyVerify(ctx, creds.Password)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.recordFailure(ctx, "", usernameKey, creds.IP, "unknown_user")
		return nil, models.ErrInvalidCredentials
	}

	ok, err := v.hasher.Verify(ctx, creds.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		v.recordFailure(ctx, user.ID, usernameKey, creds.IP, "bad_password")
		return nil, models.ErrInvalidCredentials
	}

	if user.TOTPEnabled() {
		if creds.SecondFactor == "" {
			return nil, &models.SecondFactorRequiredError{UserID: user.ID}
		}
		if err := v.VerifySecondFactor(ctx, user, creds.SecondFactor, creds.IP); err != nil {
			if errors.Is(err, models.ErrMFAInvalidCode) {
				v.recordFailure(ctx, user.ID, usernameKey, creds.IP, "bad_second_factor")
			}
			return nil, err
		}
	}

	v.succeed(ctx, user, usernameKey, creds.Password, creds.IP)
	return models.NewPrincipal(user, models.AuthMethodPassword), nil
}

// CompleteSecondFactor finishes a login that stopped at the MFA step
func (v *CredentialVerifier) CompleteSecondFactor(ctx context.Context, userID, code, ip string) (*models.Principal, error) {
	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TOTPEnabled() {
		return nil, models.ErrMFANotEnrolled
	}

	usernameKey := UsernameAttemptKey(user.Username)
	if err := v.checkLocks(ctx, usernameKey, ip); err != nil {
		return nil, err
	}

	if err := v.VerifySecondFactor(ctx, user, code, ip); err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) {
			v.recordFailure(ctx, user.ID, usernameKey, ip, "bad_second_factor")
		}
		return nil, err
	}

	v.succeed(ctx, user, usernameKey, "", ip)
	return models.NewPrincipal(user, models.AuthMethodPassword), nil
}

// VerifySecondFactor accepts either a current TOTP code or an unused
// recovery code. TOTP steps are single use; recovery codes are consumed.
func (v *CredentialVerifier) VerifySecondFactor(ctx context.Context, user *models.User, code, ip string) error {
	normalized := auth.NormalizeRecoveryCode(code)
	if auth.LooksLikeRecoveryCode(normalized) {
		return v.verifyRecoveryCode(ctx, user, normalized, ip)
	}
	return v.VerifyTOTP(ctx, user, code)
}

// VerifyTOTP accepts only a TOTP code
func (v *CredentialVerifier) VerifyTOTP(ctx context.Context, user *models.User, code string) error {
	if !user.TOTPEnabled() {
		return models.ErrMFANotEnrolled
	}

	secret, err := v.totp.DecryptSecret(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		return fmt.Errorf("failed to decrypt totp secret: %w", err)
	}

	step, ok := v.totp.Verify(code, secret, user.TOTPLastStep)
	if !ok {
		return models.ErrMFAInvalidCode
	}

	advanced, err := v.users.AdvanceTOTPStep(ctx, user.ID, step)
	if err != nil {
		return fmt.Errorf("failed to record totp step: %w", err)
	}
	if !advanced {
		// Another request redeemed this step first
		return models.ErrMFAInvalidCode
	}
	user.TOTPLastStep = &step
	return nil
}

func (v *CredentialVerifier) verifyRecoveryCode(ctx context.Context, user *models.User, code, ip string) error {
	for _, hash := range user.RecoveryCodeHashes {
		ok, err := v.hasher.Verify(ctx, code, hash)
		if err != nil {
			return fmt.Errorf("failed to verify recovery code: %w", err)
		}
		if !ok {
			continue
		}

		consumed, err := v.users.ConsumeRecoveryCode(ctx, user.ID, hash)
		if err != nil {
			return fmt.Errorf("failed to consume recovery code: %w", err)
		}
		if !consumed {
			return models.ErrMFAInvalidCode
		}

		remaining := len(user.RecoveryCodeHashes) - 1
		v.audit.Append(ctx, AuditEvent{
			UserID:   user.ID,
			Action:   models.AuditActionRecoveryCodeUsed,
			IP:       ip,
			Details:  models.AuditDetails{"remaining": remaining},
			Severity: models.SeverityMedium,
		})
		return nil
	}
	return models.ErrMFAInvalidCode
}

// CheckStepUp reports whether a signed-in user may attempt a step-up check
// before a sensitive account change. Step-up checks spend the login budget.
func (v *CredentialVerifier) CheckStepUp(ctx context.Context, principal *models.Principal, ip string) error {
	return v.checkLocks(ctx, UsernameAttemptKey(principal.Username), ip)
}

// RecordStepUpFailure counts a failed step-up check toward lockout
func (v *CredentialVerifier) RecordStepUpFailure(ctx context.Context, principal *models.Principal, ip, reason string) {
	v.recordFailure(ctx, principal.UserID, UsernameAttemptKey(principal.Username), ip, reason)
}

func (v *CredentialVerifier) checkLocks(ctx context.Context, usernameKey, ip string) error {
	if ip != "" {
		if err := v.ipAttempts.CheckAllowed(ctx, IPAttemptKey(ip)); err != nil {
			return err
		}
	}
	return v.userAttempts.CheckAllowed(ctx, usernameKey)
}

func (v *CredentialVerifier) recordFailure(ctx context.Context, userID, usernameKey, ip, reason string) {
	v.audit.Append(ctx, AuditEvent{
		UserID:   userID,
		Action:   models.AuditActionLoginFailed,
		IP:       ip,
		Details:  models.AuditDetails{"reason": reason},
		Severity: models.SeverityLow,
	})

	record, err := v.userAttempts.RecordAttempt(ctx, usernameKey, false)
	if err != nil {
		v.logger.Error("failed to record username failure", slog.Any("error", err))
	} else if v.userAttempts.JustLocked(record) {
		v.audit.Append(ctx, AuditEvent{
			UserID:   userID,
			Action:   models.AuditActionLockout,
			IP:       ip,
			Details:  models.AuditDetails{"key": "username", "failures": record.FailureCount},
			Severity: models.SeverityHigh,
		})
	}

	if ip == "" {
		return
	}
	record, err = v.ipAttempts.RecordAttempt(ctx, IPAttemptKey(ip), false)
	if err != nil {
		v.logger.Error("failed to record ip failure", slog.Any("error", err))
	} else if v.ipAttempts.JustLocked(record) {
		v.audit.Append(ctx, AuditEvent{
			Action:   models.AuditActionLockout,
			IP:       ip,
			Details:  models.AuditDetails{"key": "ip", "failures": record.FailureCount},
			Severity: models.SeverityHigh,
		})
	}
}

// succeed clears the username counter and upgrades a stale hash. The IP
// counter is left alone so one good account cannot mask spraying from the
// same address.
func (v *CredentialVerifier) succeed(ctx context.Context, user *models.User, usernameKey, password, ip string) {
	if _, err := v.userAttempts.RecordAttempt(ctx, usernameKey, true); err != nil {
		v.logger.Error("failed to clear login attempts", slog.Any("error", err))
	}

	if password == "" || !v.hasher.NeedsRehash(user.PasswordHash) {
		return
	}

	hash, err := v.hasher.Hash(ctx, password)
	if err != nil {
		v.logger.Error("failed to rehash password", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := v.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		v.logger.Error("failed to store rehashed password", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.PasswordHash = hash
	v.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionPasswordRehashed,
		IP:       ip,
		Details:  models.AuditDetails{"cost": v.hasher.Cost()},
		Severity: models.SeverityLow,
	})
}
