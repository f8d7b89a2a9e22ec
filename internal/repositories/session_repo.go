package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"
)

// createSessionScript stores the session hash, indexes it under its user,
// drops index entries whose session already expired and evicts the oldest
// sessions above the cap.
//
// KEYS[1] session key; KEYS[2] user index key
// ARGV: session_id, user_id, created_ms, last_ip, ttl_ms, max_sessions, session_prefix
// Returns the evicted session ids
var createSessionScript = redis.NewScript(`
local sid = ARGV[1]
local created = tonumber(ARGV[3])
local ttl = tonumber(ARGV[5])
local max = tonumber(ARGV[6])
local prefix = ARGV[7]

redis.call("HSET", KEYS[1], "user_id", ARGV[2], "created", created, "last_activity", created, "last_ip", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("ZADD", KEYS[2], created, sid)
redis.call("PEXPIRE", KEYS[2], ttl)

for _, member in ipairs(redis.call("ZRANGE", KEYS[2], 0, -1)) do
  if redis.call("EXISTS", prefix .. member) == 0 then
    redis.call("ZREM", KEYS[2], member)
  end
end

local evicted = {}
if max > 0 then
  local excess = redis.call("ZCARD", KEYS[2]) - max
  if excess > 0 then
    for _, member in ipairs(redis.call("ZRANGE", KEYS[2], 0, excess - 1)) do
      redis.call("DEL", prefix .. member)
      redis.call("ZREM", KEYS[2], member)
      table.insert(evicted, member)
    end
  end
end
return evicted
`)

// touchSessionScript refreshes activity only for a session that still exists.
//
// KEYS[1] session key; ARGV: now_ms, ip
var touchSessionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[1], "last_ip", ARGV[2])
return 1
`)

// deleteUserSessionsScript removes every session in the user index except one.
//
// KEYS[1] user index key; ARGV: session_prefix, except_id
var deleteUserSessionsScript = redis.NewScript(`
local removed = 0
for _, member in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  if member ~= ARGV[2] then
    removed = removed + redis.call("DEL", ARGV[1] .. member)
    redis.call("ZREM", KEYS[1], member)
  end
end
return removed
`)

// SessionRepository keeps ServerSessions in Redis, keyed by session id
type SessionRepository struct {
	client *redis.Client
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client}
}

// Create stores a new session with an absolute ttl and returns the ids of
// sessions evicted to stay within maxPerUser (0 disables the cap)
func (r *SessionRepository) Create(ctx context.Context, s *models.ServerSession, ttl time.Duration, maxPerUser int) ([]string, error) {
	evicted, err := createSessionScript.Run(ctx, r.client,
		[]string{sessionPrefix + s.SessionID, userSessionPrefix + s.UserID},
		s.SessionID, s.UserID, s.CreatedAt.UnixMilli(), s.LastKnownIP, ttl.Milliseconds(), maxPerUser, sessionPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return evicted, nil
}

// Get loads a session; models.ErrNotFound when it does not exist
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.ServerSession, error) {
	fields, err := r.client.HGetAll(ctx, sessionPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session created field: %w", err)
	}
	lastActivity, err := strconv.ParseInt(fields["last_activity"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session last_activity field: %w", err)
	}

	return &models.ServerSession{
		SessionID:      sessionID,
		UserID:         fields["user_id"],
		LastActivityAt: time.UnixMilli(lastActivity),
		LastKnownIP:    fields["last_ip"],
		CreatedAt:      time.UnixMilli(created),
	}, nil
}

// Touch sets last activity and ip. It returns false if the session is gone.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, now time.Time, ip string) (bool, error) {
	n, err := touchSessionScript.Run(ctx, r.client, []string{sessionPrefix + sessionID}, now.UnixMilli(), ip).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return n == 1, nil
}

// Delete removes a session and its index entry. Deleting a missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, sessionID, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionPrefix+sessionID)
		pipe.ZRem(ctx, userSessionPrefix+userID, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session of userID except exceptID ("" keeps none)
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID, exceptID string) (int, error) {
	n, err := deleteUserSessionsScript.Run(ctx, r.client, []string{userSessionPrefix + userID}, sessionPrefix, exceptID).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return n, nil
}

// CountForUser returns the number of indexed sessions for userID
func (r *SessionRepository) CountForUser(ctx context.Context, userID string) (int64, error) {
	n, err := r.client.ZCard(ctx, userSessionPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count user sessions: %w", err)
	}
	return n, nil
}
