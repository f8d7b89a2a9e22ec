package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// ============================================================================
// LoginAttemptRepository
// ============================================================================

func TestLoginAttemptRepository_RecordFailureIncrements(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	window := 15 * time.Minute

	rec, err := repo.RecordFailure(ctx, "user:alice", now, window)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailureCount)
	assert.True(t, rec.WindowStartedAt.Equal(now))

	rec, err = repo.RecordFailure(ctx, "user:alice", now.Add(time.Second), window)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.FailureCount)
	assert.True(t, rec.WindowStartedAt.Equal(now), "window start is kept inside the window")

	got, err := repo.Get(ctx, "user:alice", now.Add(2*time.Second), window)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailureCount)
}

func TestLoginAttemptRepository_WindowRestartsAfterExpiry(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	window := time.Minute

	_, err := repo.RecordFailure(ctx, "user:bob", now, window)
	require.NoError(t, err)
	_, err = repo.RecordFailure(ctx, "user:bob", now, window)
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	rec, err := repo.RecordFailure(ctx, "user:bob", later, window)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FailureCount)
	assert.True(t, rec.WindowStartedAt.Equal(later))
}

func TestLoginAttemptRepository_GetDeletesExpiredLazily(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	_, err := repo.RecordFailure(ctx, "ip:203.0.113.1", now, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("login:ip:203.0.113.1"))

	_, err = repo.Get(ctx, "ip:203.0.113.1", now.Add(time.Minute), time.Minute)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, mr.Exists("login:ip:203.0.113.1"))
}

func TestLoginAttemptRepository_Delete(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.RecordFailure(ctx, "user:carol", now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "user:carol"))
	require.NoError(t, repo.Delete(ctx, "user:carol"))

	_, err = repo.Get(ctx, "user:carol", now, time.Minute)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// ============================================================================
// SessionRepository
// ============================================================================

func newSession(id, userID string, created time.Time) *models.ServerSession {
	return &models.ServerSession{
		SessionID:      id,
		UserID:         userID,
		LastActivityAt: created,
		LastKnownIP:    "198.51.100.1",
		CreatedAt:      created,
	}
}

func TestSessionRepository_CreateGetTouch(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	created := time.UnixMilli(1_700_000_000_000)

	evicted, err := repo.Create(ctx, newSession("s1", "u1", created), time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, time.Hour, mr.TTL("session:s1"))

	s, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "198.51.100.1", s.LastKnownIP)
	assert.True(t, s.LastActivityAt.Equal(created))

	ok, err := repo.Touch(ctx, "s1", created.Add(time.Minute), "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.LastActivityAt.Equal(created.Add(time.Minute)))
	assert.Equal(t, "203.0.113.9", s.LastKnownIP)
}

func TestSessionRepository_TouchMissing(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewSessionRepository(client)

	ok, err := repo.Touch(context.Background(), "ghost", time.Now(), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("session:ghost"), "touch must not resurrect a session")
}

func TestSessionRepository_EvictsOldestAboveCap(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, newSession(id, "u1", base.Add(time.Duration(i)*time.Second)), time.Hour, 3)
		require.NoError(t, err)
	}

	evicted, err := repo.Create(ctx, newSession("d", "u1", base.Add(10*time.Second)), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, evicted)
	assert.False(t, mr.Exists("session:a"))

	count, err := repo.CountForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSessionRepository_DeleteAndDeleteAll(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewSessionRepository(client)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"x", "y", "z"} {
		_, err := repo.Create(ctx, newSession(id, "u2", now), time.Hour, 0)
		require.NoError(t, err)
	}

	require.NoError(t, repo.Delete(ctx, "x", "u2"))
	_, err := repo.Get(ctx, "x")
	assert.ErrorIs(t, err, models.ErrNotFound)

	n, err := repo.DeleteAllForUser(ctx, "u2", "z")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.Get(ctx, "y")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.Get(ctx, "z")
	assert.NoError(t, err)
}

// ============================================================================
// TOTPEnrollmentRepository
// ============================================================================

func TestTOTPEnrollmentRepository(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewTOTPEnrollmentRepository(client)
	ctx := context.Background()

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Put(ctx, "u1", "JBSWY3DPEHPK3PXP", 10*time.Minute))
	secret, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", secret)

	mr.FastForward(11 * time.Minute)
	_, err = repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, repo.Put(ctx, "u1", "NEWSECRET", time.Minute))
	require.NoError(t, repo.Delete(ctx, "u1"))
	_, err = repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
