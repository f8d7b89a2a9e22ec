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
)

// RegisterInput is a local account registration
type RegisterInput struct {
	Username string
	Email    string
	Password string
	IP       string
}

// LoginResult is either an established session or a pending second factor
type LoginResult struct {
	Principal *models.Principal
	Session   *models.ServerSession

	MFARequired  bool
	MFAToken     string
	MFAExpiresAt time.Time
}

// TokenResult is a freshly issued bearer token
type TokenResult struct {
	Token     string
	ExpiresAt time.Time
	Principal *models.Principal
}

// AuthService handles authentication business logic
type AuthService struct {
	users         UserRepository
	hasher        *pkgauth.PasswordHasher
	signer        *auth.TokenSigner
	authenticator *Authenticator
	verifier      *CredentialVerifier
	sessions      *SessionActivityMonitor
	verification  *EmailVerificationService
	audit         Auditor
	logger        *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	hasher *pkgauth.PasswordHasher,
	signer *auth.TokenSigner,
	authenticator *Authenticator,
	verifier *CredentialVerifier,
	sessions *SessionActivityMonitor,
	verification *EmailVerificationService,
	audit Auditor,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		hasher:        hasher,
		signer:        signer,
		authenticator: authenticator,
		verifier:      verifier,
		sessions:      sessions,
		verification:  verification,
		audit:         audit,
		logger:        logger,
	}
}

// Register creates a local account and sends the first verification email.
// A failed email does not fail the registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateAccount
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionRegister,
		IP:       in.IP,
		Severity: models.SeverityLow,
	})

	if s.verification != nil {
		if err := s.verification.SendVerificationEmail(ctx, user); err != nil {
			s.logger.Error("failed to send verification email",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
	}

	return user, nil
}

// Login verifies a password attempt and starts a session, or hands back an
// MFA challenge when the account needs a second factor
func (s *AuthService) Login(ctx context.Context, creds PasswordCredentials) (*LoginResult, error) {
	principal, err := s.authenticator.Authenticate(ctx, Credentials{Kind: CredentialPassword, Password: creds, IP: creds.IP})
	if err != nil {
		var mfa *models.SecondFactorRequiredError
		if errors.As(err, &mfa) {
			return s.challenge(mfa.UserID)
		}
		return nil, err
	}
	return s.EstablishSession(ctx, principal, creds.IP)
}

// CompleteMFALogin finishes a challenged login with a TOTP or recovery code
func (s *AuthService) CompleteMFALogin(ctx context.Context, mfaToken, code, ip string) (*LoginResult, error) {
	claims, err := s.signer.ParseChallenge(mfaToken)
	if err != nil {
		return nil, err
	}

	principal, err := s.verifier.CompleteSecondFactor(ctx, claims.UserID, code, ip)
	if err != nil {
		return nil, err
	}
	return s.EstablishSession(ctx, principal, ip)
}

// EstablishSession starts a server-side session for an authenticated principal
func (s *AuthService) EstablishSession(ctx context.Context, principal *models.Principal, ip string) (*LoginResult, error) {
	session, err := s.sessions.Start(ctx, principal.UserID, ip)
	if err != nil {
		return nil, err
	}
	principal.SessionID = session.SessionID

	action := models.AuditActionLogin
	if principal.Method == models.AuthMethodFederated {
		action = models.AuditActionFederatedLogin
	}
	s.audit.Append(ctx, AuditEvent{
		UserID:   principal.UserID,
		Action:   action,
		IP:       ip,
		Details:  models.AuditDetails{"method": string(principal.Method)},
		Severity: models.SeverityLow,
	})

	return &LoginResult{Principal: principal, Session: session}, nil
}

// IssueBearerToken exchanges credentials for a bearer token. No session is
// created; a TOTP-enrolled account must include its code.
func (s *AuthService) IssueBearerToken(ctx context.Context, creds PasswordCredentials) (*TokenResult, error) {
	principal, err := s.authenticator.Authenticate(ctx, Credentials{Kind: CredentialPassword, Password: creds, IP: creds.IP})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.IssueBearer(principal)
	if err != nil {
		return nil, fmt.Errorf("failed to sign bearer token: %w", err)
	}
	principal.Method = models.AuthMethodBearer

	s.audit.Append(ctx, AuditEvent{
		UserID:   principal.UserID,
		Action:   models.AuditActionTokenIssued,
		IP:       creds.IP,
		Details:  models.AuditDetails{"expires_at": expiresAt.UTC().Format(time.RFC3339)},
		Severity: models.SeverityLow,
	})

	return &TokenResult{Token: token, ExpiresAt: expiresAt, Principal: principal}, nil
}

// Logout ends the principal's current session
func (s *AuthService) Logout(ctx context.Context, principal *models.Principal, ip string) error {
	if principal.SessionID != "" {
		if err := s.sessions.Destroy(ctx, principal.SessionID, principal.UserID); err != nil {
			return err
		}
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   principal.UserID,
		Action:   models.AuditActionLogout,
		IP:       ip,
		Severity: models.SeverityLow,
	})
	return nil
}

// LogoutAll ends every session of the principal's user
func (s *AuthService) LogoutAll(ctx context.Context, principal *models.Principal, ip string) (int, error) {
	n, err := s.sessions.DestroyAllForUser(ctx, principal.UserID, "")
	if err != nil {
		return 0, err
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   principal.UserID,
		Action:   models.AuditActionLogoutAll,
		IP:       ip,
		Details:  models.AuditDetails{"sessions": n},
		Severity: models.SeverityMedium,
	})
	return n, nil
}

// ChangePassword replaces the password after checking the current one and
// ends every other session of the user
func (s *AuthService) ChangePassword(ctx context.Context, principal *models.Principal, current, next, ip string) error {
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, current, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return models.ErrInvalidCredentials
	}

	if err := pkgauth.ValidatePassword(next); err != nil {
		return fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, true); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := s.sessions.DestroyAllForUser(ctx, user.ID, principal.SessionID)
	if err != nil {
		s.logger.Error("failed to revoke other sessions", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionPasswordChanged,
		IP:       ip,
		Details:  models.AuditDetails{"sessions_revoked": revoked},
		Severity: models.SeverityMedium,
	})
	return nil
}

// ResolveSession implements auth.PrincipalResolver for session cookies
func (s *AuthService) ResolveSession(ctx context.Context, sessionID, ip string) (*models.Principal, error) {
	session, err := s.sessions.Validate(ctx, sessionID, ip)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = s.sessions.Destroy(ctx, session.SessionID, session.UserID)
			return nil, models.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	principal := models.NewPrincipal(user, models.AuthMethodSession)
	principal.SessionID = session.SessionID
	return principal, nil
}

// ResolveBearer implements auth.PrincipalResolver for bearer tokens
func (s *AuthService) ResolveBearer(ctx context.Context, token string) (*models.Principal, error) {
	return s.authenticator.Authenticate(ctx, Credentials{Kind: CredentialBearer, Bearer: token})
}

// SessionStatus reports the idle budget of a session
func (s *AuthService) SessionStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	return s.sessions.Status(ctx, sessionID)
}

func (s *AuthService) challenge(userID string) (*LoginResult, error) {
	token, expiresAt, err := s.signer.IssueChallenge(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign mfa challenge: %w", err)
	}
	return &LoginResult{MFARequired: true, MFAToken: token, MFAExpiresAt: expiresAt}, nil
}
