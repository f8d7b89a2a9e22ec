package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/praxis/internal/models"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
)

const (
	aliceUsername = "alice"
	alicePassword = "Str0ng!Pass"
	testIP        = "203.0.113.10"
)

func login(env *testEnv, username, password string) (*LoginResult, error) {
	return env.auth.Login(context.Background(), PasswordCredentials{
		Username: username,
		Password: password,
		IP:       testIP,
	})
}

func currentCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestAuthService_Register(t *testing.T) {
	env := newTestEnv(t)

	user := env.register(aliceUsername, "Alice@Example.com", alicePassword)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, alicePassword, user.PasswordHash)
	assert.Contains(t, env.audit.actions(), models.AuditActionRegister)
	assert.Equal(t, 1, env.email.count(), "verification email sent")
}

func TestAuthService_RegisterRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)

	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: "ALICE",
		Email:    "other@example.com",
		Password: alicePassword,
	})
	assert.ErrorIs(t, err, models.ErrDuplicateAccount)

	_, err = env.auth.Register(context.Background(), RegisterInput{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: alicePassword,
	})
	assert.ErrorIs(t, err, models.ErrDuplicateAccount)
}

func TestAuthService_RegisterRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Register(context.Background(), RegisterInput{
		Username: aliceUsername,
		Email:    "alice@example.com",
		Password: "weakpass",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrWeakPassword)

	var validation *pkgauth.PasswordValidationError
	require.ErrorAs(t, err, &validation)
	assert.NotEmpty(t, validation.Errors)
	assert.Empty(t, env.rows)
}

func TestAuthService_RegisterSurvivesEmailFailure(t *testing.T) {
	env := newTestEnv(t)
	env.email.err = errors.New("ses unavailable")

	user := env.register(aliceUsername, "alice@example.com", alicePassword)
	assert.NotEmpty(t, user.ID)
}

func TestAuthService_LoginEstablishesSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)

	result, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)
	require.False(t, result.MFARequired)
	assert.Equal(t, user.ID, result.Principal.UserID)
	assert.Equal(t, aliceUsername, result.Principal.Username)
	assert.Equal(t, models.AuthMethodPassword, result.Principal.Method)
	assert.Equal(t, result.Session.SessionID, result.Principal.SessionID)

	p, err := env.auth.ResolveSession(context.Background(), result.Session.SessionID, testIP)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, models.AuthMethodSession, p.Method)
}

func TestAuthService_LoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)

	_, errUnknown := login(env, "nobody", alicePassword)
	_, errWrong := login(env, aliceUsername, "Wr0ng!Pass")
	assert.ErrorIs(t, errUnknown, models.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, models.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

// register alice → login ok → 5 failures → correct password still locked →
// wait out the window → login ok
func TestAuthService_LockoutScenario(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)

	_, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	for i := 0; i < testMaxAttempts; i++ {
		env.clock.Advance(time.Second)
		_, err := login(env, aliceUsername, "Wr0ng!Pass")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	assert.Contains(t, env.audit.actions(), models.AuditActionLockout)

	_, err = login(env, aliceUsername, alicePassword)
	require.ErrorIs(t, err, models.ErrAccountLocked)
	var lockout *models.LockoutError
	require.ErrorAs(t, err, &lockout)
	assert.Greater(t, lockout.RemainingSeconds(), int64(0))

	env.clock.Advance(testLockout)
	result, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestAuthService_SuccessResetsUsernameCounter(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)

	for i := 0; i < testMaxAttempts-1; i++ {
		_, err := login(env, aliceUsername, "Wr0ng!Pass")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	_, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	// Counter is back to zero: four more failures still do not lock
	for i := 0; i < testMaxAttempts-1; i++ {
		_, err := login(env, aliceUsername, "Wr0ng!Pass")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	env.clock.Advance(time.Second)
	_, err = login(env, aliceUsername, alicePassword)
	assert.NoError(t, err)
}

func TestAuthService_LoginRehashesLegacyPassword(t *testing.T) {
	env := newTestEnv(t)
	legacy, err := pkgauth.HashLegacy(alicePassword, 1000)
	require.NoError(t, err)
	created, err := env.users.Create(context.Background(), &models.User{
		Username:     aliceUsername,
		Email:        "alice@example.com",
		PasswordHash: legacy,
		Role:         models.RoleUser,
	})
	require.NoError(t, err)

	_, err = login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	stored := env.rows[created.ID].PasswordHash
	assert.False(t, pkgauth.IsLegacyHash(stored))
	assert.Contains(t, env.audit.actions(), models.AuditActionPasswordRehashed)

	env.clock.Advance(time.Second)
	_, err = login(env, aliceUsername, alicePassword)
	assert.NoError(t, err)
}

func enrollTOTP(t *testing.T, env *testEnv, user *models.User) (string, []string) {
	t.Helper()
	ctx := context.Background()
	principal := models.NewPrincipal(user, models.AuthMethodSession)

	enrollment, err := env.mfa.BeginEnrollment(ctx, principal)
	require.NoError(t, err)
	codes, err := env.mfa.ConfirmEnrollment(ctx, principal, currentCode(t, enrollment.Secret, env.clock.Now()), testIP)
	require.NoError(t, err)
	env.clock.Advance(30 * time.Second)
	return enrollment.Secret, codes
}

func TestAuthService_MFALogin(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)
	secret, _ := enrollTOTP(t, env, user)

	result, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	assert.NotEmpty(t, result.MFAToken)
	assert.Nil(t, result.Session)

	_, err = env.auth.CompleteMFALogin(context.Background(), result.MFAToken, "000000", testIP)
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)

	code := currentCode(t, secret, env.clock.Now())
	done, err := env.auth.CompleteMFALogin(context.Background(), result.MFAToken, code, testIP)
	require.NoError(t, err)
	assert.Equal(t, user.ID, done.Principal.UserID)
	assert.NotNil(t, done.Session)

	// The same code cannot be replayed
	_, err = env.auth.CompleteMFALogin(context.Background(), result.MFAToken, code, testIP)
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)
}

func TestAuthService_MFAChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)
	secret, _ := enrollTOTP(t, env, user)

	result, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	env.clock.Advance(6 * time.Minute)
	_, err = env.auth.CompleteMFALogin(context.Background(), result.MFAToken, currentCode(t, secret, env.clock.Now()), testIP)
	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

func TestAuthService_RecoveryCodeLogin(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)
	_, codes := enrollTOTP(t, env, user)
	require.Len(t, codes, 4)

	result, err := env.auth.Login(context.Background(), PasswordCredentials{
		Username:     aliceUsername,
		Password:     alicePassword,
		IP:           testIP,
		SecondFactor: codes[0][:4] + "-" + codes[0][4:],
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
	assert.Len(t, env.rows[user.ID].RecoveryCodeHashes, 3)

	_, err = env.auth.Login(context.Background(), PasswordCredentials{
		Username:     aliceUsername,
		Password:     alicePassword,
		IP:           testIP,
		SecondFactor: codes[0],
	})
	assert.ErrorIs(t, err, models.ErrMFAInvalidCode)
}

func TestAuthService_IssueBearerToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)

	token, err := env.auth.IssueBearerToken(context.Background(), PasswordCredentials{
		Username: aliceUsername,
		Password: alicePassword,
		IP:       testIP,
	})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(8*time.Hour).Unix(), token.ExpiresAt.Unix())
	assert.False(t, env.mr.Exists("user_sessions:"+user.ID), "no session for bearer issuance")

	p, err := env.auth.ResolveBearer(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, models.AuthMethodBearer, p.Method)
	assert.Empty(t, p.SessionID)

	env.clock.Advance(8*time.Hour + time.Second)
	_, err = env.auth.ResolveBearer(context.Background(), token.Token)
	assert.ErrorIs(t, err, models.ErrTokenExpired)

	_, err = env.auth.ResolveBearer(context.Background(), "garbage")
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestAuthService_IssueBearerTokenNeedsSecondFactor(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(aliceUsername, "alice@example.com", alicePassword)
	secret, _ := enrollTOTP(t, env, user)

	_, err := env.auth.IssueBearerToken(context.Background(), PasswordCredentials{
		Username: aliceUsername,
		Password: alicePassword,
		IP:       testIP,
	})
	assert.ErrorIs(t, err, models.ErrMFARequired)

	_, err = env.auth.IssueBearerToken(context.Background(), PasswordCredentials{
		Username:     aliceUsername,
		Password:     alicePassword,
		IP:           testIP,
		SecondFactor: currentCode(t, secret, env.clock.Now()),
	})
	assert.NoError(t, err)
}

func TestAuthService_LogoutAndLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)
	ctx := context.Background()

	first, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	second, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, first.Principal, testIP))
	_, err = env.auth.ResolveSession(ctx, first.Session.SessionID, testIP)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
	assert.Contains(t, env.audit.actions(), models.AuditActionLogout)

	env.clock.Advance(time.Second)
	_, err = login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	n, err := env.auth.LogoutAll(ctx, second.Principal, testIP)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = env.auth.ResolveSession(ctx, second.Session.SessionID, testIP)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestAuthService_ChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)
	ctx := context.Background()

	current, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	other, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	err = env.auth.ChangePassword(ctx, current.Principal, "Wr0ng!Pass", "N3w!Passphrase", testIP)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	err = env.auth.ChangePassword(ctx, current.Principal, alicePassword, "short", testIP)
	assert.ErrorIs(t, err, models.ErrWeakPassword)

	require.NoError(t, env.auth.ChangePassword(ctx, current.Principal, alicePassword, "N3w!Passphrase", testIP))

	_, err = env.auth.ResolveSession(ctx, current.Session.SessionID, testIP)
	assert.NoError(t, err, "current session survives")
	_, err = env.auth.ResolveSession(ctx, other.Session.SessionID, testIP)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	event, ok := env.audit.find(models.AuditActionPasswordChanged)
	require.True(t, ok)
	assert.Equal(t, models.SeverityMedium, event.Severity)

	env.clock.Advance(time.Second)
	_, err = login(env, aliceUsername, "N3w!Passphrase")
	assert.NoError(t, err)
}

func TestAuthService_ResolveSessionExpired(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)

	result, err := login(env, aliceUsername, alicePassword)
	require.NoError(t, err)

	env.clock.Advance(testInactivity + time.Minute)
	_, err = env.auth.ResolveSession(context.Background(), result.Session.SessionID, testIP)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
	_, err = env.auth.ResolveSession(context.Background(), result.Session.SessionID, testIP)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestAdminService_ClearLockout(t *testing.T) {
	env := newTestEnv(t)
	env.register(aliceUsername, "alice@example.com", alicePassword)
	ctx := context.Background()

	for i := 0; i < testMaxAttempts; i++ {
		_, _ = login(env, aliceUsername, "Wr0ng!Pass")
	}
	_, err := login(env, aliceUsername, alicePassword)
	require.ErrorIs(t, err, models.ErrAccountLocked)

	admin := &models.Principal{UserID: "admin-1", Role: models.RoleAdmin}
	require.NoError(t, env.admin.ClearLockout(ctx, admin, aliceUsername, testIP))

	_, err = login(env, aliceUsername, alicePassword)
	assert.NoError(t, err)
	event, ok := env.audit.find(models.AuditActionLockoutCleared)
	require.True(t, ok)
	assert.Equal(t, "admin-1", event.Details["cleared_by"])
}
