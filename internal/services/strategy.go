package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/federation"
	"github.com/BradenHooton/praxis/internal/models"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
)

// CredentialKind tags the shape of a credential
type CredentialKind string

const (
	CredentialPassword  CredentialKind = "password"
	CredentialBearer    CredentialKind = "bearer"
	CredentialFederated CredentialKind = "federated"
)

// Credentials is one of a password attempt, a bearer token or a
// provider-vouched identity, selected by Kind. LinkUserID is set when a
// signed-in user started the federated flow.
type Credentials struct {
	Kind       CredentialKind
	Password   PasswordCredentials
	Bearer     string
	Federated  *federation.Identity
	LinkUserID string
	IP         string
}

// AuthStrategy turns one kind of credential into a Principal
type AuthStrategy interface {
	Kind() CredentialKind
	Authenticate(ctx context.Context, creds Credentials) (*models.Principal, error)
}

// Authenticator dispatches credentials to the strategy for their kind
type Authenticator struct {
	strategies map[CredentialKind]AuthStrategy
}

// NewAuthenticator creates an Authenticator over the given strategies
func NewAuthenticator(strategies ...AuthStrategy) *Authenticator {
	a := &Authenticator{strategies: make(map[CredentialKind]AuthStrategy, len(strategies))}
	for _, s := range strategies {
		a.strategies[s.Kind()] = s
	}
	return a
}

// Authenticate returns the Principal for creds
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*models.Principal, error) {
	strategy, ok := a.strategies[creds.Kind]
	if !ok {
		return nil, models.ErrUnauthenticated
	}
	return strategy.Authenticate(ctx, creds)
}

// PasswordStrategy authenticates username/password (+ second factor)
type PasswordStrategy struct {
	verifier *CredentialVerifier
}

func NewPasswordStrategy(verifier *CredentialVerifier) *PasswordStrategy {
	return &PasswordStrategy{verifier: verifier}
}

func (s *PasswordStrategy) Kind() CredentialKind { return CredentialPassword }

func (s *PasswordStrategy) Authenticate(ctx context.Context, creds Credentials) (*models.Principal, error) {
	pc := creds.Password
	if pc.IP == "" {
		pc.IP = creds.IP
	}
	return s.verifier.Authenticate(ctx, pc)
}

// BearerStrategy authenticates self-contained bearer tokens. The user is
// reloaded so a deleted account stops working before the token expires.
type BearerStrategy struct {
	signer *auth.TokenSigner
	users  UserRepository
}

func NewBearerStrategy(signer *auth.TokenSigner, users UserRepository) *BearerStrategy {
	return &BearerStrategy{signer: signer, users: users}
}

func (s *BearerStrategy) Kind() CredentialKind { return CredentialBearer }

func (s *BearerStrategy) Authenticate(ctx context.Context, creds Credentials) (*models.Principal, error) {
	claims, err := s.signer.ParseBearer(creds.Bearer)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}

	return models.NewPrincipal(user, models.AuthMethodBearer), nil
}

// FederatedStrategy maps a provider identity onto a local user, creating
// one on first sight. An existing local account is only matched by email
// when the provider has verified that address.
type FederatedStrategy struct {
	users  UserRepository
	audit  Auditor
	logger *slog.Logger
}

func NewFederatedStrategy(users UserRepository, audit Auditor, logger *slog.Logger) *FederatedStrategy {
	return &FederatedStrategy{users: users, audit: audit, logger: logger}
}

func (s *FederatedStrategy) Kind() CredentialKind { return CredentialFederated }

func (s *FederatedStrategy) Authenticate(ctx context.Context, creds Credentials) (*models.Principal, error) {
	identity := creds.Federated
	if identity == nil || identity.Subject == "" {
		return nil, models.ErrUnauthenticated
	}

	user, err := s.users.GetByExternalIdentity(ctx, identity.Provider, identity.Subject)
	if err == nil {
		if creds.LinkUserID != "" && creds.LinkUserID != user.ID {
			return nil, fmt.Errorf("%w: identity is linked to another account", models.ErrForbidden)
		}
		return models.NewPrincipal(user, models.AuthMethodFederated), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up external identity: %w", err)
	}

	if creds.LinkUserID != "" {
		return s.link(ctx, creds.LinkUserID, identity, creds.IP)
	}

	if identity.Email == "" || !identity.EmailVerified {
		return nil, fmt.Errorf("%w: provider did not verify the email address", models.ErrForbidden)
	}

	user, err = s.users.GetByEmail(ctx, identity.Email)
	if err == nil {
		return models.NewPrincipal(user, models.AuthMethodFederated), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}

	user, err = s.provision(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionFederatedCreated,
		IP:       creds.IP,
		Details:  models.AuditDetails{"provider": identity.Provider},
		Severity: models.SeverityLow,
	})
	return models.NewPrincipal(user, models.AuthMethodFederated), nil
}

// link attaches identity to the signed-in user who started the flow. The
// provider email plays no part, so an unverified address is fine here.
func (s *FederatedStrategy) link(ctx context.Context, userID string, identity *federation.Identity, ip string) (*models.Principal, error) {
	err := s.users.LinkExternalIdentity(ctx, userID, identity.Provider, identity.Subject)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrConflict):
		return nil, fmt.Errorf("%w: account already has a different external identity", models.ErrForbidden)
	default:
		return nil, fmt.Errorf("failed to link external identity: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked user: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:   user.ID,
		Action:   models.AuditActionFederatedLinked,
		IP:       ip,
		Details:  models.AuditDetails{"provider": identity.Provider},
		Severity: models.SeverityMedium,
	})
	return models.NewPrincipal(user, models.AuthMethodFederated), nil
}

func (s *FederatedStrategy) provision(ctx context.Context, identity *federation.Identity) (*models.User, error) {
	unusable, err := pkgauth.UnusablePasswordHash()
	if err != nil {
		return nil, err
	}

	provider, subject := identity.Provider, identity.Subject
	base := federatedUsername(identity)
	username := base
	for attempt := 0; attempt < 3; attempt++ {
		user, err := s.users.Create(ctx, &models.User{
			Username:         username,
			Email:            identity.Email,
			PasswordHash:     unusable,
			Role:             models.RoleUser,
			EmailVerified:    identity.EmailVerified,
			ExternalProvider: &provider,
			ExternalSubject:  &subject,
		})
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, models.ErrConflict) || !strings.Contains(err.Error(), "users_username_key") {
			return nil, fmt.Errorf("failed to provision federated user: %w", err)
		}
		s.logger.Debug("federated username taken, retrying", slog.String("username", username))
		username = base + "-" + uuid.NewString()[:8]
	}
	return nil, fmt.Errorf("failed to provision federated user: %w", models.ErrConflict)
}

func federatedUsername(identity *federation.Identity) string {
	if identity.Login != "" {
		return strings.ToLower(identity.Login)
	}
	if at := strings.IndexByte(identity.Email, '@'); at > 0 {
		return strings.ToLower(identity.Email[:at])
	}
	return identity.Provider + "-" + identity.Subject
}
