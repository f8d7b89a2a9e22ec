package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/BradenHooton/praxis/internal/federation"
	"github.com/BradenHooton/praxis/internal/models"
)

// ProviderRegistry resolves identity providers by name
type ProviderRegistry interface {
	Get(name string) (federation.Provider, error)
}

// FederationRedirect starts a federation flow
type FederationRedirect struct {
	URL         string
	SessionCopy string
}

// FederationResult is the outcome of a provider callback
type FederationResult struct {
	Login    *LoginResult
	ReturnTo string
}

// FederationService runs the provider redirect and callback
type FederationService struct {
	providers      ProviderRegistry
	guard          *OAuthStateGuard
	authenticator  *Authenticator
	auth           *AuthService
	audit          Auditor
	logger         *slog.Logger
	allowedDomains []string
}

// NewFederationService creates a new FederationService
func NewFederationService(
	providers ProviderRegistry,
	guard *OAuthStateGuard,
	authenticator *Authenticator,
	authService *AuthService,
	audit Auditor,
	logger *slog.Logger,
	allowedDomains []string,
) *FederationService {
	return &FederationService{
		providers:      providers,
		guard:          guard,
		authenticator:  authenticator,
		auth:           authService,
		audit:          audit,
		logger:         logger,
		allowedDomains: allowedDomains,
	}
}

// Begin issues a state and returns the provider authorization URL
func (s *FederationService) Begin(ctx context.Context, providerName, returnTo string, principal *models.Principal) (*FederationRedirect, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	var userID string
	if principal != nil {
		userID = principal.UserID
	}

	issued, err := s.guard.Issue(ctx, provider.Name(), userID, s.SafeReturnTo(returnTo))
	if err != nil {
		return nil, err
	}

	return &FederationRedirect{
		URL:         provider.AuthCodeURL(issued.State),
		SessionCopy: issued.SessionCopy,
	}, nil
}

// Complete consumes the state before exchanging the code, then signs the
// user in. TOTP-enrolled users get an MFA challenge instead of a session.
func (s *FederationService) Complete(ctx context.Context, providerName, state, code, sessionCopy, ip string) (*FederationResult, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	consumed, err := s.guard.Consume(ctx, state, provider.Name(), sessionCopy)
	if err != nil {
		if errors.Is(err, models.ErrStateMismatch) {
			s.audit.Append(ctx, AuditEvent{
				Action:   models.AuditActionOAuthStateInvalid,
				IP:       ip,
				Details:  models.AuditDetails{"provider": provider.Name()},
				Severity: models.SeverityMedium,
			})
		}
		return nil, err
	}

	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", models.ErrBadRequest)
	}

	identity, err := provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	creds := Credentials{
		Kind:      CredentialFederated,
		Federated: identity,
		IP:        ip,
	}
	if consumed.Record.UserID != nil {
		creds.LinkUserID = *consumed.Record.UserID
	}

	principal, err := s.authenticator.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	result := &FederationResult{ReturnTo: s.SafeReturnTo(consumed.ReturnTo)}
	if principal.MFAEnabled {
		result.Login, err = s.auth.challenge(principal.UserID)
		return result, err
	}

	result.Login, err = s.auth.EstablishSession(ctx, principal, ip)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SafeReturnTo returns returnTo when it is a local path or an absolute URL
// on an allowed host, and "/" otherwise
func (s *FederationService) SafeReturnTo(returnTo string) string {
	if returnTo == "" {
		return "/"
	}

	u, err := url.Parse(returnTo)
	if err != nil {
		return "/"
	}

	if u.Scheme == "" && u.Host == "" {
		if strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//") && !strings.Contains(returnTo, `\`) {
			return returnTo
		}
		return "/"
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return "/"
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range s.allowedDomains {
		domain = strings.ToLower(strings.TrimPrefix(domain, "."))
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return returnTo
		}
	}
	return "/"
}
