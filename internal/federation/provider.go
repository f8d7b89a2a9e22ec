package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/BradenHooton/praxis/internal/config"
	"github.com/BradenHooton/praxis/internal/models"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserURL     = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"

	maxProfileBytes = 1 << 20
)

// Identity is the profile an external provider vouches for
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Login         string
}

// Provider is one external identity provider
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// ProfileFunc fetches the identity behind an authorized client
type ProfileFunc func(ctx context.Context, client *http.Client) (*Identity, error)

// OAuth2Provider runs the authorization code flow with golang.org/x/oauth2
type OAuth2Provider struct {
	name    string
	config  *oauth2.Config
	profile ProfileFunc
}

// NewOAuth2Provider creates a provider from an oauth2 config and a profile fetcher
func NewOAuth2Provider(name string, cfg *oauth2.Config, profile ProfileFunc) *OAuth2Provider {
	return &OAuth2Provider{name: name, config: cfg, profile: profile}
}

// NewGoogleProvider creates the Google OpenID Connect provider
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *OAuth2Provider {
	return NewOAuth2Provider(ProviderGoogle, &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}, GoogleProfile(googleUserInfoURL))
}

// NewGitHubProvider creates the GitHub OAuth provider
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *OAuth2Provider {
	return NewOAuth2Provider(ProviderGitHub, &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     github.Endpoint,
		Scopes:       []string{"read:user", "user:email"},
	}, GitHubProfile(githubUserURL, githubEmailsURL))
}

func (p *OAuth2Provider) Name() string {
	return p.name
}

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a token and fetches the profile
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange failed: %w", p.name, err)
	}

	identity, err := p.profile(ctx, p.config.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("%s profile fetch failed: %w", p.name, err)
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("%s profile has no subject", p.name)
	}
	identity.Provider = p.name
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	return identity, nil
}

// GoogleProfile reads the OpenID Connect userinfo document
func GoogleProfile(userInfoURL string) ProfileFunc {
	return func(ctx context.Context, client *http.Client) (*Identity, error) {
		var body struct {
			Sub           string `json:"sub"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
			Name          string `json:"name"`
		}
		if err := getJSON(ctx, client, userInfoURL, &body); err != nil {
			return nil, err
		}
		return &Identity{
			Subject:       body.Sub,
			Email:         body.Email,
			EmailVerified: body.EmailVerified,
			Name:          body.Name,
		}, nil
	}
}

// GitHubProfile reads the user document; the primary verified email comes
// from the emails endpoint since the public email may be empty
func GitHubProfile(userURL, emailsURL string) ProfileFunc {
	return func(ctx context.Context, client *http.Client) (*Identity, error) {
		var user struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Name  string `json:"name"`
		}
		if err := getJSON(ctx, client, userURL, &user); err != nil {
			return nil, err
		}

		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, emailsURL, &emails); err != nil {
			return nil, err
		}

		identity := &Identity{Login: user.Login, Name: user.Name}
		if user.ID != 0 {
			identity.Subject = fmt.Sprintf("%d", user.ID)
		}
		for _, e := range emails {
			if e.Primary {
				identity.Email = e.Email
				identity.EmailVerified = e.Verified
				break
			}
		}
		return identity, nil
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(out)
}

// Registry holds the configured providers by name
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns a registry containing the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRegistryFromConfig registers every provider with client credentials
func NewRegistryFromConfig(cfg config.FederationConfig) *Registry {
	var providers []Provider
	callback := func(name string) string {
		return strings.TrimSuffix(cfg.CallbackBaseURL, "/") + "/auth/" + name + "/callback"
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		providers = append(providers, NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, callback(ProviderGoogle)))
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		providers = append(providers, NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, callback(ProviderGitHub)))
	}
	return NewRegistry(providers...)
}

// Get returns the named provider or models.ErrUnknownProvider
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, models.ErrUnknownProvider
	}
	return p, nil
}

// Names lists the registered providers
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
