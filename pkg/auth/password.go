package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt input limit, in bytes

	// LegacyPrefix marks digests produced by the previous PBKDF2-SHA256 scheme
	LegacyPrefix         = "pbkdf2_sha256"
	legacyKeyLength      = 32
	legacySaltLength     = 16
	unusablePasswordMark = "!"
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Generic message; the individual findings stay in Errors
	return "invalid password"
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"password1!":   true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"welcome1!":    true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"passw0rd!":    true,
	"p@ssw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

// PasswordHasher hashes and verifies stored credentials. Hashing is CPU
// bound, so concurrent hash/verify calls are bounded by a weighted semaphore.
type PasswordHasher struct {
	cost      int
	sem       *semaphore.Weighted
	dummyHash []byte
}

// NewPasswordHasher creates a hasher with the given bcrypt cost and a limit on
// concurrent hash computations
func NewPasswordHasher(cost, concurrency int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	// Placeholder compared against when the username does not exist
	dummy, err := bcrypt.GenerateFromPassword([]byte("praxis-dummy-credential"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to precompute dummy hash: %w", err)
	}

	return &PasswordHasher{
		cost:      cost,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		dummyHash: dummy,
	}, nil
}

// Cost returns the configured bcrypt cost
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash produces a salted bcrypt digest of plaintext
func (h *PasswordHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("hash slot unavailable: %w", err)
	}
	defer h.sem.Release(1)

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether plaintext matches hash. Legacy PBKDF2 digests are
// dispatched to VerifyLegacy. A non-nil error means the check could not run.
func (h *PasswordHasher) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("hash slot unavailable: %w", err)
	}
	defer h.sem.Release(1)

	switch {
	case IsLegacyHash(hash):
		return h.VerifyLegacy(plaintext, hash), nil
	case strings.HasPrefix(hash, unusablePasswordMark):
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// DummyVerify spends the same work as a real verification against a constant
// placeholder so unknown usernames cost the same as wrong passwords
func (h *PasswordHasher) DummyVerify(ctx context.Context, plaintext string) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer h.sem.Release(1)
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(plaintext))
}

// VerifyLegacy checks plaintext against a pbkdf2_sha256$iter$salt$hash digest
func (h *PasswordHasher) VerifyLegacy(plaintext, encoded string) bool {
	iterations, salt, want, ok := parseLegacyHash(encoded)
	if !ok {
		return false
	}
	got := pbkdf2.Key([]byte(plaintext), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// NeedsRehash reports whether a stored digest should be replaced after a
// successful verification
func (h *PasswordHasher) NeedsRehash(hash string) bool {
	if IsLegacyHash(hash) {
		return true
	}
	if strings.HasPrefix(hash, unusablePasswordMark) {
		return false
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// IsLegacyHash reports whether hash uses the previous PBKDF2 scheme
func IsLegacyHash(hash string) bool {
	return strings.HasPrefix(hash, LegacyPrefix+"$")
}

// HashLegacy produces a digest in the previous PBKDF2-SHA256 format
func HashLegacy(plaintext string, iterations int) (string, error) {
	salt := make([]byte, legacySaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(plaintext), salt, iterations, legacyKeyLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		LegacyPrefix,
		iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// UnusablePasswordHash returns a random marker that no plaintext verifies
// against, for accounts provisioned through federation
func UnusablePasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random hash: %w", err)
	}
	return unusablePasswordMark + base64.RawURLEncoding.EncodeToString(buf), nil
}

func parseLegacyHash(encoded string) (int, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != LegacyPrefix {
		return 0, nil, nil, false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return 0, nil, nil, false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, false
	}
	key, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, false
	}
	return iterations, salt, key, true
}

// ValidatePassword enforces strong password requirements
func ValidatePassword(password string) error {
	errors := make([]string, 0)

	if len(password) < MinPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}
	if !hasSpecial {
		errors = append(errors, "must contain at least one special character")
	}

	if commonPasswords[strings.ToLower(password)] {
		errors = append(errors, "is too common, please choose a more unique password")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}
