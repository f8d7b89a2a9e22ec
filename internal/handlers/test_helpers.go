package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/services"
)

// TestClientIP is the address every test request resolves to
const TestClientIP = "203.0.113.10"

// StaticClientIP resolves every request to TestClientIP
func StaticClientIP(r *http.Request) string { return TestClientIP }

// DiscardLogger returns a logger that writes nowhere
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithAuthContext adds a session principal to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, username string) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), &models.Principal{
		UserID:    userID,
		Username:  username,
		Email:     username + "@example.com",
		Role:      models.RoleUser,
		Method:    models.AuthMethodSession,
		SessionID: "session-" + userID,
	}))
}

// WithAdminContext adds an admin principal to request context
func WithAdminContext(req *http.Request, userID, username string) *http.Request {
	req = WithAuthContext(req, userID, username)
	auth.GetPrincipal(req).Role = models.RoleAdmin
	return req
}

// WithURLParam sets a chi route parameter on the request
func WithURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc         func(ctx context.Context, in services.RegisterInput) (*models.User, error)
	LoginFunc            func(ctx context.Context, creds services.PasswordCredentials) (*services.LoginResult, error)
	CompleteMFALoginFunc func(ctx context.Context, mfaToken, code, ip string) (*services.LoginResult, error)
	IssueBearerTokenFunc func(ctx context.Context, creds services.PasswordCredentials) (*services.TokenResult, error)
	LogoutFunc           func(ctx context.Context, principal *models.Principal, ip string) error
	LogoutAllFunc        func(ctx context.Context, principal *models.Principal, ip string) (int, error)
	ChangePasswordFunc   func(ctx context.Context, principal *models.Principal, current, next, ip string) error
	SessionStatusFunc    func(ctx context.Context, sessionID string) (*models.SessionStatus, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrDuplicateAccount
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) Login(ctx context.Context, creds services.PasswordCredentials) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, creds)
}

func (m *MockAuthService) CompleteMFALogin(ctx context.Context, mfaToken, code, ip string) (*services.LoginResult, error) {
	if m.CompleteMFALoginFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.CompleteMFALoginFunc(ctx, mfaToken, code, ip)
}

func (m *MockAuthService) IssueBearerToken(ctx context.Context, creds services.PasswordCredentials) (*services.TokenResult, error) {
	if m.IssueBearerTokenFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.IssueBearerTokenFunc(ctx, creds)
}

func (m *MockAuthService) Logout(ctx context.Context, principal *models.Principal, ip string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, principal, ip)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, principal *models.Principal, ip string) (int, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, principal, ip)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, principal *models.Principal, current, next, ip string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, principal, current, next, ip)
}

func (m *MockAuthService) SessionStatus(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	if m.SessionStatusFunc == nil {
		return nil, models.ErrUnauthenticated
	}
	return m.SessionStatusFunc(ctx, sessionID)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	ForgotPasswordFunc    func(ctx context.Context, email, ip string) error
	PreviewResetTokenFunc func(ctx context.Context, plainToken string) (*services.ResetTokenPreview, error)
	ResetPasswordFunc     func(ctx context.Context, plainToken, newPassword, ip string) error
}

func (m *MockPasswordResetService) ForgotPassword(ctx context.Context, email, ip string) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email, ip)
}

func (m *MockPasswordResetService) PreviewResetToken(ctx context.Context, plainToken string) (*services.ResetTokenPreview, error) {
	if m.PreviewResetTokenFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.PreviewResetTokenFunc(ctx, plainToken)
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword, ip string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrTokenInvalid
	}
	return m.ResetPasswordFunc(ctx, plainToken, newPassword, ip)
}

// MockEmailVerificationService for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc func(ctx context.Context, plainToken, ip string) error
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, plainToken, ip string) error {
	if m.VerifyEmailFunc == nil {
		return models.ErrTokenInvalid
	}
	return m.VerifyEmailFunc(ctx, plainToken, ip)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	BeginEnrollmentFunc         func(ctx context.Context, principal *models.Principal) (*auth.Enrollment, error)
	ConfirmEnrollmentFunc       func(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error)
	DisableFunc                 func(ctx context.Context, principal *models.Principal, password, code, ip string) error
	RegenerateRecoveryCodesFunc func(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error)
}

func (m *MockMFAService) BeginEnrollment(ctx context.Context, principal *models.Principal) (*auth.Enrollment, error) {
	if m.BeginEnrollmentFunc == nil {
		return nil, models.ErrMFAAlreadyEnrolled
	}
	return m.BeginEnrollmentFunc(ctx, principal)
}

func (m *MockMFAService) ConfirmEnrollment(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error) {
	if m.ConfirmEnrollmentFunc == nil {
		return nil, models.ErrMFAInvalidCode
	}
	return m.ConfirmEnrollmentFunc(ctx, principal, code, ip)
}

func (m *MockMFAService) Disable(ctx context.Context, principal *models.Principal, password, code, ip string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, principal, password, code, ip)
}

func (m *MockMFAService) RegenerateRecoveryCodes(ctx context.Context, principal *models.Principal, code, ip string) ([]string, error) {
	if m.RegenerateRecoveryCodesFunc == nil {
		return nil, models.ErrMFAInvalidCode
	}
	return m.RegenerateRecoveryCodesFunc(ctx, principal, code, ip)
}

// MockFederationService implements FederationServiceInterface for testing
type MockFederationService struct {
	BeginFunc    func(ctx context.Context, providerName, returnTo string, principal *models.Principal) (*services.FederationRedirect, error)
	CompleteFunc func(ctx context.Context, providerName, state, code, sessionCopy, ip string) (*services.FederationResult, error)
}

func (m *MockFederationService) Begin(ctx context.Context, providerName, returnTo string, principal *models.Principal) (*services.FederationRedirect, error) {
	if m.BeginFunc == nil {
		return nil, models.ErrUnknownProvider
	}
	return m.BeginFunc(ctx, providerName, returnTo, principal)
}

func (m *MockFederationService) Complete(ctx context.Context, providerName, state, code, sessionCopy, ip string) (*services.FederationResult, error) {
	if m.CompleteFunc == nil {
		return nil, models.ErrStateMismatch
	}
	return m.CompleteFunc(ctx, providerName, state, code, sessionCopy, ip)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ClearLockoutFunc func(ctx context.Context, admin *models.Principal, username, ip string) error
}

func (m *MockAdminService) ClearLockout(ctx context.Context, admin *models.Principal, username, ip string) error {
	if m.ClearLockoutFunc == nil {
		return nil
	}
	return m.ClearLockoutFunc(ctx, admin, username, ip)
}
