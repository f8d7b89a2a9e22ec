package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/repositories"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc               func(ctx context.Context, id string) (*models.User, error)
	GetByUsernameFunc         func(ctx context.Context, username string) (*models.User, error)
	GetByEmailFunc            func(ctx context.Context, email string) (*models.User, error)
	GetByExternalIdentityFunc func(ctx context.Context, provider, subject string) (*models.User, error)
	CreateFunc                func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc        func(ctx context.Context, id, passwordHash string, changed bool) error
	SetTOTPFunc               func(ctx context.Context, id string, encrypted, nonce []byte, step int64, recoveryHashes []string) error
	ClearTOTPFunc             func(ctx context.Context, id string) error
	AdvanceTOTPStepFunc       func(ctx context.Context, id string, step int64) (bool, error)
	ConsumeRecoveryCodeFunc   func(ctx context.Context, id, codeHash string) (bool, error)
	ReplaceRecoveryCodesFunc  func(ctx context.Context, id string, hashes []string) error
	MarkEmailVerifiedFunc     func(ctx context.Context, id, email string) error
	LinkExternalIdentityFunc  func(ctx context.Context, id, provider, subject string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByExternalIdentity(ctx context.Context, provider, subject string) (*models.User, error) {
	if m.GetByExternalIdentityFunc != nil {
		return m.GetByExternalIdentityFunc(ctx, provider, subject)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changed bool) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, changed)
	}
	return nil
}

func (m *MockUserRepository) SetTOTP(ctx context.Context, id string, encrypted, nonce []byte, step int64, recoveryHashes []string) error {
	if m.SetTOTPFunc != nil {
		return m.SetTOTPFunc(ctx, id, encrypted, nonce, step, recoveryHashes)
	}
	return nil
}

func (m *MockUserRepository) ClearTOTP(ctx context.Context, id string) error {
	if m.ClearTOTPFunc != nil {
		return m.ClearTOTPFunc(ctx, id)
	}
	return nil
}

func (m *MockUserRepository) AdvanceTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	if m.AdvanceTOTPStepFunc != nil {
		return m.AdvanceTOTPStepFunc(ctx, id, step)
	}
	return true, nil
}

func (m *MockUserRepository) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, error) {
	if m.ConsumeRecoveryCodeFunc != nil {
		return m.ConsumeRecoveryCodeFunc(ctx, id, codeHash)
	}
	return true, nil
}

func (m *MockUserRepository) ReplaceRecoveryCodes(ctx context.Context, id string, hashes []string) error {
	if m.ReplaceRecoveryCodesFunc != nil {
		return m.ReplaceRecoveryCodesFunc(ctx, id, hashes)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id, email string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id, email)
	}
	return nil
}

func (m *MockUserRepository) LinkExternalIdentity(ctx context.Context, id, provider, subject string) error {
	if m.LinkExternalIdentityFunc != nil {
		return m.LinkExternalIdentityFunc(ctx, id, provider, subject)
	}
	return nil
}

// newMemoryUsers returns a MockUserRepository backed by a map, for flows
// that need real read-after-write behavior
func newMemoryUsers() (*MockUserRepository, map[string]*models.User) {
	var mu sync.Mutex
	users := make(map[string]*models.User)
	seq := 0

	find := func(match func(*models.User) bool) (*models.User, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, u := range users {
			if match(u) {
				cp := *u
				return &cp, nil
			}
		}
		return nil, models.ErrNotFound
	}
	update := func(id string, apply func(*models.User)) error {
		mu.Lock()
		defer mu.Unlock()
		u, ok := users[id]
		if !ok {
			return models.ErrNotFound
		}
		apply(u)
		return nil
	}

	repo := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return find(func(u *models.User) bool { return u.ID == id })
		},
		GetByUsernameFunc: func(ctx context.Context, username string) (*models.User, error) {
			return find(func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
		},
		GetByExternalIdentityFunc: func(ctx context.Context, provider, subject string) (*models.User, error) {
			return find(func(u *models.User) bool {
				return u.ExternalProvider != nil && *u.ExternalProvider == provider &&
					u.ExternalSubject != nil && *u.ExternalSubject == subject
			})
		},
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, u := range users {
				if strings.EqualFold(u.Username, user.Username) {
					return nil, fmt.Errorf("%w: users_username_key", models.ErrConflict)
				}
				if strings.EqualFold(u.Email, user.Email) {
					return nil, fmt.Errorf("%w: users_email_key", models.ErrConflict)
				}
			}
			seq++
			cp := *user
			cp.ID = fmt.Sprintf("user-%d", seq)
			users[cp.ID] = &cp
			out := cp
			return &out, nil
		},
		UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string, changed bool) error {
			return update(id, func(u *models.User) { u.PasswordHash = passwordHash })
		},
		SetTOTPFunc: func(ctx context.Context, id string, encrypted, nonce []byte, step int64, hashes []string) error {
			return update(id, func(u *models.User) {
				u.TOTPSecretEncrypted, u.TOTPSecretNonce = encrypted, nonce
				u.TOTPLastStep = &step
				u.RecoveryCodeHashes = hashes
			})
		},
		ClearTOTPFunc: func(ctx context.Context, id string) error {
			return update(id, func(u *models.User) {
				u.TOTPSecretEncrypted, u.TOTPSecretNonce, u.TOTPLastStep, u.RecoveryCodeHashes = nil, nil, nil, nil
			})
		},
		AdvanceTOTPStepFunc: func(ctx context.Context, id string, step int64) (bool, error) {
			advanced := false
			err := update(id, func(u *models.User) {
				if u.TOTPLastStep == nil || *u.TOTPLastStep < step {
					u.TOTPLastStep = &step
					advanced = true
				}
			})
			return advanced, err
		},
		ConsumeRecoveryCodeFunc: func(ctx context.Context, id, codeHash string) (bool, error) {
			consumed := false
			err := update(id, func(u *models.User) {
				kept := u.RecoveryCodeHashes[:0:0]
				for _, h := range u.RecoveryCodeHashes {
					if h == codeHash {
						consumed = true
						continue
					}
					kept = append(kept, h)
				}
				u.RecoveryCodeHashes = kept
			})
			return consumed, err
		},
		ReplaceRecoveryCodesFunc: func(ctx context.Context, id string, hashes []string) error {
			return update(id, func(u *models.User) { u.RecoveryCodeHashes = hashes })
		},
		MarkEmailVerifiedFunc: func(ctx context.Context, id, email string) error {
			mu.Lock()
			defer mu.Unlock()
			u, ok := users[id]
			if !ok || !strings.EqualFold(u.Email, email) {
				return models.ErrNotFound
			}
			u.EmailVerified = true
			return nil
		},
		LinkExternalIdentityFunc: func(ctx context.Context, id, provider, subject string) error {
			mu.Lock()
			defer mu.Unlock()
			for _, u := range users {
				if u.ID != id && u.ExternalProvider != nil && *u.ExternalProvider == provider &&
					u.ExternalSubject != nil && *u.ExternalSubject == subject {
					return fmt.Errorf("%w: users_external_identity_key", models.ErrConflict)
				}
			}
			u, ok := users[id]
			if !ok {
				return models.ErrNotFound
			}
			if u.ExternalProvider != nil && (*u.ExternalProvider != provider || *u.ExternalSubject != subject) {
				return models.ErrNotFound
			}
			u.ExternalProvider, u.ExternalSubject = &provider, &subject
			return nil
		},
	}
	return repo, users
}

// MockPasswordResetRepository implements PasswordResetRepository for testing
type MockPasswordResetRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.PasswordResetToken
	seq    int
}

func newMockPasswordResetRepository() *MockPasswordResetRepository {
	return &MockPasswordResetRepository{tokens: make(map[string]*models.PasswordResetToken)}
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *token
	cp.ID = fmt.Sprintf("reset-%d", m.seq)
	m.tokens[cp.ID] = &cp
	return &cp, nil
}

func (m *MockPasswordResetRepository) GetByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.UsedAt = &now
	return true, nil
}

func (m *MockPasswordResetRepository) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		t.UsedAt = nil
	}
	return nil
}

func (m *MockPasswordResetRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MockPasswordResetRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// MockEmailVerificationRepository implements EmailVerificationRepository for testing
type MockEmailVerificationRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.EmailVerificationToken
	seq    int
}

func newMockEmailVerificationRepository() *MockEmailVerificationRepository {
	return &MockEmailVerificationRepository{tokens: make(map[string]*models.EmailVerificationToken)}
}

func (m *MockEmailVerificationRepository) Create(ctx context.Context, token *models.EmailVerificationToken) (*models.EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *token
	cp.ID = fmt.Sprintf("verify-%d", m.seq)
	m.tokens[cp.ID] = &cp
	return &cp, nil
}

func (m *MockEmailVerificationRepository) GetByHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) MarkUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return false, nil
	}
	t.UsedAt = &now
	return true, nil
}

func (m *MockEmailVerificationRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

// MockOAuthStateRepository implements OAuthStateRepository for testing
type MockOAuthStateRepository struct {
	mu        sync.Mutex
	states    map[string]*models.OAuthStateRecord
	CreateErr error
	MarkErr   error
	InsertErr error
}

func newMockOAuthStateRepository() *MockOAuthStateRepository {
	return &MockOAuthStateRepository{states: make(map[string]*models.OAuthStateRecord)}
}

func (m *MockOAuthStateRepository) Create(ctx context.Context, state *models.OAuthStateRecord) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.State] = &cp
	return nil
}

func (m *MockOAuthStateRepository) MarkUsed(ctx context.Context, state string) (*models.OAuthStateRecord, error) {
	if m.MarkErr != nil {
		return nil, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.states[state]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *rec
	if !rec.Used {
		rec.Used = true
		out.Used = false
	}
	return &out, nil
}

func (m *MockOAuthStateRepository) InsertUsed(ctx context.Context, state *models.OAuthStateRecord) (bool, error) {
	if m.InsertErr != nil {
		return false, m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.State]; ok {
		return false, nil
	}
	cp := *state
	cp.Used = true
	m.states[state.State] = &cp
	return true, nil
}

func (m *MockOAuthStateRepository) forget(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, state)
}

// recordingAuditor captures audit events in memory
type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAuditor) Append(ctx context.Context, event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

func (a *recordingAuditor) find(action string) (AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Action == action {
			return e, true
		}
	}
	return AuditEvent{}, false
}

// sentEmail is one message captured by mockEmailSender
type sentEmail struct {
	To, Subject, Body string
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *mockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{to, subject, body})
	return nil
}

func (m *mockEmailSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// lastToken extracts the opaque token at the end of the link in the most
// recent email
func (m *mockEmailSender) lastToken(t *testing.T, marker string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].Body
	i := strings.Index(body, marker)
	require.GreaterOrEqual(t, i, 0, "marker %q not in email body", marker)
	rest := body[i+len(marker):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// testClock is a manually advanced time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// testEnv wires the services over miniredis and in-memory repositories
type testEnv struct {
	t      *testing.T
	clock  *testClock
	mr     *miniredis.Miniredis
	redis  *redis.Client
	users  *MockUserRepository
	rows   map[string]*models.User
	resets *MockPasswordResetRepository
	verify *MockEmailVerificationRepository
	states *MockOAuthStateRepository
	email  *mockEmailSender
	audit  *recordingAuditor

	hasher       *pkgauth.PasswordHasher
	signer       *auth.TokenSigner
	totp         *auth.TOTPProvider
	userAttempts *LoginAttemptTracker
	ipAttempts   *LoginAttemptTracker
	sessions     *SessionActivityMonitor
	verifier     *CredentialVerifier

	authenticator *Authenticator
	auth          *AuthService
	reset         *PasswordResetService
	verification  *EmailVerificationService
	mfa           *MFAService
	guard         *OAuthStateGuard
	admin         *AdminService
}

const (
	testMaxAttempts      = 5
	testMaxAttemptsPerIP = 20
	testLockout          = 15 * time.Minute
	testInactivity       = 30 * time.Minute
	testMaxSessions      = 3
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := &testEnv{
		t:      t,
		clock:  newTestClock(),
		mr:     mr,
		redis:  client,
		resets: newMockPasswordResetRepository(),
		verify: newMockEmailVerificationRepository(),
		states: newMockOAuthStateRepository(),
		email:  &mockEmailSender{},
		audit:  &recordingAuditor{},
	}
	e.users, e.rows = newMemoryUsers()
	logger := discardLogger()

	e.hasher, err = pkgauth.NewPasswordHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	e.signer = auth.NewTokenSigner("test-token-signing-secret-0123456789", 8*time.Hour, 5*time.Minute, "praxis-test").WithClock(e.clock.Now)
	e.totp, err = auth.NewTOTPProvider(testEncryptionKey, "Praxis", 1)
	require.NoError(t, err)
	e.totp.WithClock(e.clock.Now)

	attempts := repositories.NewLoginAttemptRepository(client)
	e.userAttempts = NewLoginAttemptTracker(attempts, testMaxAttempts, testLockout).WithClock(e.clock.Now)
	e.ipAttempts = NewLoginAttemptTracker(attempts, testMaxAttemptsPerIP, testLockout).WithClock(e.clock.Now)

	e.sessions = NewSessionActivityMonitor(repositories.NewSessionRepository(client), SessionPolicy{
		MaxAge:            24 * time.Hour,
		InactivityTimeout: testInactivity,
		MaxPerUser:        testMaxSessions,
	}, e.audit, logger).WithClock(e.clock.Now)

	e.verifier = NewCredentialVerifier(e.users, e.hasher, e.totp, e.userAttempts, e.ipAttempts, e.audit, logger)
	e.authenticator = NewAuthenticator(
		NewPasswordStrategy(e.verifier),
		NewBearerStrategy(e.signer, e.users),
		NewFederatedStrategy(e.users, e.audit, logger),
	)

	e.verification = NewEmailVerificationService(e.verify, e.users, e.email, e.audit, logger, "https://app.example.com", 24*time.Hour).WithClock(e.clock.Now)
	e.auth = NewAuthService(e.users, e.hasher, e.signer, e.authenticator, e.verifier, e.sessions, e.verification, e.audit, logger)
	e.reset = NewPasswordResetService(e.resets, e.users, e.hasher, e.sessions, e.userAttempts, e.email, e.audit, logger, "https://app.example.com", time.Hour).WithClock(e.clock.Now)
	e.mfa = NewMFAService(e.users, repositories.NewTOTPEnrollmentRepository(client), e.totp, e.hasher, e.verifier, e.audit, logger, 10*time.Minute, 4)
	e.guard = NewOAuthStateGuard(e.states, auth.NewValueSigner("oauth-flow-secret"), 10*time.Minute, logger).WithClock(e.clock.Now)
	e.admin = NewAdminService(e.users, e.userAttempts, e.audit, logger)
	return e
}

// register creates a user through AuthService
func (e *testEnv) register(username, email, password string) *models.User {
	e.t.Helper()
	user, err := e.auth.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
		IP:       "203.0.113.10",
	})
	require.NoError(e.t, err)
	return user
}
