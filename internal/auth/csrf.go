package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	csrfNonceBytes = 16
	// anonymousBinding is the CSRF binding used before a session exists
	anonymousBinding = "anon"
)

// ValueSigner appends and checks an HMAC-SHA256 tag on opaque values
type ValueSigner struct {
	secret []byte
}

// NewValueSigner creates a signer keyed with secret
func NewValueSigner(secret string) *ValueSigner {
	return &ValueSigner{secret: []byte(secret)}
}

// Sign returns payload with its signature appended
func (s *ValueSigner) Sign(payload string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.mac(encoded)
}

// Verify returns the payload of a signed value if the signature matches
func (s *ValueSigner) Verify(signed string) (string, bool) {
	encoded, sig, ok := strings.Cut(signed, ".")
	if !ok || encoded == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(s.mac(encoded))) != 1 {
		return "", false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(payload), true
}

func (s *ValueSigner) mac(value string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// CSRFManager issues stateless double-submit tokens bound to a session id.
// A token minted before login is bound to the anonymous binding and stops
// validating once the client holds a session.
type CSRFManager struct {
	signer *ValueSigner
}

// NewCSRFManager creates a CSRF manager keyed with the session secret
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{signer: NewValueSigner("csrf:" + secret)}
}

// GenerateToken creates a token for the given session id ("" when anonymous)
func (m *CSRFManager) GenerateToken(sessionID string) (string, error) {
	nonce := make([]byte, csrfNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate csrf nonce: %w", err)
	}
	return m.signer.Sign(hex.EncodeToString(nonce) + "|" + m.binding(sessionID)), nil
}

// ValidateToken checks the token signature and its session binding
func (m *CSRFManager) ValidateToken(token, sessionID string) bool {
	payload, ok := m.signer.Verify(token)
	if !ok {
		return false
	}
	_, bound, ok := strings.Cut(payload, "|")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(bound), []byte(m.binding(sessionID))) == 1
}

// binding derives the value a token is bound to. The token is readable by
// scripts, so it carries a keyed digest of the session id, never the id.
func (m *CSRFManager) binding(sessionID string) string {
	if sessionID == "" {
		return anonymousBinding
	}
	return m.signer.mac("session:" + sessionID)
}
