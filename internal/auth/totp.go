package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod         = 30
	totpSecretSize     = 20
	recoveryCodeLength = 8
	// Excludes the ambiguous 0/O, 1/I/L
	recoveryCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// Enrollment is a freshly generated, not yet confirmed TOTP secret
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
	QRCode string `json:"qr_code"`
}

// TOTPProvider generates and verifies time-based one-time codes and keeps
// secrets encrypted at rest with AES-256-GCM
type TOTPProvider struct {
	encryptionKey []byte
	issuer        string
	skew          uint
	now           func() time.Time
}

// NewTOTPProvider creates a provider. encryptionKey must be exactly 32 bytes.
// skew is the number of adjacent periods accepted on each side of now.
func NewTOTPProvider(encryptionKey []byte, issuer string, skew uint) (*TOTPProvider, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPProvider{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		skew:          skew,
		now:           time.Now,
	}, nil
}

// WithClock overrides the time source
func (p *TOTPProvider) WithClock(now func() time.Time) *TOTPProvider {
	p.now = now
	return p
}

// Enroll generates a secret, its otpauth provisioning URI and a PNG QR data URL
func (p *TOTPProvider) Enroll(label string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: label,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Verify checks code against secret for the current time step and skew
// adjacent steps. It returns the matched step so callers can persist it;
// a step at or before lastStep is treated as a replay and rejected.
func (p *TOTPProvider) Verify(code, secret string, lastStep *int64) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return 0, false
	}

	now := p.now()
	current := now.Unix() / totpPeriod
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	skew := int64(p.skew)
	for offset := -skew; offset <= skew; offset++ {
		at := now.Add(time.Duration(offset*totpPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
			continue
		}

		step := current + offset
		if lastStep != nil && step <= *lastStep {
			return 0, false
		}
		return step, true
	}

	return 0, false
}

// GenerateRecoveryCodes returns n random single-use codes
func (p *TOTPProvider) GenerateRecoveryCodes(n int) ([]string, error) {
	max := big.NewInt(int64(len(recoveryCodeCharset)))
	codes := make([]string, n)
	for i := 0; i < n; i++ {
		code := make([]byte, recoveryCodeLength)
		for j := range code {
			idx, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate random byte: %w", err)
			}
			code[j] = recoveryCodeCharset[idx.Int64()]
		}
		codes[i] = string(code)
	}
	return codes, nil
}

// NormalizeRecoveryCode upper-cases a submitted code and strips separators
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// LooksLikeRecoveryCode reports whether a normalized code has recovery code shape
func LooksLikeRecoveryCode(code string) bool {
	if len(code) != recoveryCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(recoveryCodeCharset, r) {
			return false
		}
	}
	return true
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (ciphertext, nonce, error)
func (p *TOTPProvider) EncryptSecret(secret string) ([]byte, []byte, error) {
	gcm, err := p.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// DecryptSecret decrypts a secret produced by EncryptSecret
func (p *TOTPProvider) DecryptSecret(ciphertext, nonce []byte) (string, error) {
	gcm, err := p.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (p *TOTPProvider) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
