package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the typ claim
const (
	TokenTypeBearer       = "bearer"
	TokenTypeMFAChallenge = "mfa_challenge"

	opaqueTokenBytes = 32
)

// TokenClaims is the payload of a self-contained signed token
type TokenClaims struct {
	Type     string `json:"typ"`
	UserID   string `json:"uid"`
	Username string `json:"usr,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HMAC-signed tokens. Signed tokens have no
// server-side revocation list; they are valid until their exp claim.
type TokenSigner struct {
	secret       []byte
	bearerTTL    time.Duration
	challengeTTL time.Duration
	issuer       string
	now          func() time.Time
}

// NewTokenSigner creates a TokenSigner. bearerTTL bounds bearer tokens and
// challengeTTL bounds the MFA challenge handed out between login steps.
func NewTokenSigner(secret string, bearerTTL, challengeTTL time.Duration, issuer string) *TokenSigner {
	return &TokenSigner{
		secret:       []byte(secret),
		bearerTTL:    bearerTTL,
		challengeTTL: challengeTTL,
		issuer:       issuer,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	s.now = now
	return s
}

// BearerTTL returns the lifetime of issued bearer tokens
func (s *TokenSigner) BearerTTL() time.Duration {
	return s.bearerTTL
}

// IssueBearer signs a bearer token for the principal
func (s *TokenSigner) IssueBearer(p *models.Principal) (string, time.Time, error) {
	return s.issue(TokenTypeBearer, p.UserID, p.Username, p.Role, s.bearerTTL)
}

// ParseBearer verifies a bearer token and returns its claims
func (s *TokenSigner) ParseBearer(token string) (*TokenClaims, error) {
	return s.parse(token, TokenTypeBearer)
}

// IssueChallenge signs the short-lived token that links the password step of a
// login to its second factor step
func (s *TokenSigner) IssueChallenge(userID string) (string, time.Time, error) {
	return s.issue(TokenTypeMFAChallenge, userID, "", "", s.challengeTTL)
}

// ParseChallenge verifies an MFA challenge token
func (s *TokenSigner) ParseChallenge(token string) (*TokenClaims, error) {
	return s.parse(token, TokenTypeMFAChallenge)
}

func (s *TokenSigner) issue(tokenType, userID, username, role string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := &TokenClaims{
		Type:     tokenType,
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

func (s *TokenSigner) parse(tokenString, wantType string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		return nil, models.ErrTokenInvalid
	}

	if !token.Valid || claims.Type != wantType || claims.UserID == "" {
		return nil, models.ErrTokenInvalid
	}

	return claims, nil
}

// NewOpaqueToken returns a random URL-safe token and the SHA-256 hex digest
// that is persisted in its place
func NewOpaqueToken() (plain string, hash string, err error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(buf)
	return plain, HashOpaqueToken(plain), nil
}

// HashOpaqueToken returns the storage digest of an opaque token
func HashOpaqueToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
