package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/redis/go-redis/v9"
)

const loginAttemptPrefix = "login:"

// recordFailureScript increments the counter, starting a fresh window when
// none exists or the previous one has elapsed. The key TTL is a backstop;
// window expiry is decided with the caller's clock.
//
// KEYS[1] record key; ARGV[1] now (unix ms); ARGV[2] window (ms)
// Returns {failure_count, window_started_ms}
var recordFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local started = tonumber(redis.call("HGET", KEYS[1], "started") or "")
local count
if (not started) or (started + window <= now) then
  started = now
  count = 1
  redis.call("HSET", KEYS[1], "count", count, "started", started)
else
  count = redis.call("HINCRBY", KEYS[1], "count", 1)
end
local ttl = started + window - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", KEYS[1], ttl + 1000)
return {count, started}
`)

// getLiveScript returns the record, deleting it first if its window elapsed.
//
// KEYS[1] record key; ARGV[1] now (unix ms); ARGV[2] window (ms)
// Returns {} when absent, otherwise {failure_count, window_started_ms}
var getLiveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local started = tonumber(redis.call("HGET", KEYS[1], "started") or "")
if not started then
  return {}
end
if started + window <= now then
  redis.call("DEL", KEYS[1])
  return {}
end
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
return {count, started}
`)

// LoginAttemptRepository keeps windowed failure counters in Redis so lockout
// holds across server processes
type LoginAttemptRepository struct {
	client *redis.Client
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(client *redis.Client) *LoginAttemptRepository {
	return &LoginAttemptRepository{client: client}
}

// Get returns the live record for key. An elapsed record is deleted and
// reported as models.ErrNotFound.
func (r *LoginAttemptRepository) Get(ctx context.Context, key string, now time.Time, window time.Duration) (*models.LoginAttemptRecord, error) {
	res, err := getLiveScript.Run(ctx, r.client, []string{loginAttemptPrefix + key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to read login attempts: %w", err)
	}
	if len(res) == 0 {
		return nil, models.ErrNotFound
	}
	return attemptRecord(key, res)
}

// RecordFailure atomically counts one failure for key
func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (*models.LoginAttemptRecord, error) {
	res, err := recordFailureScript.Run(ctx, r.client, []string{loginAttemptPrefix + key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return attemptRecord(key, res)
}

// Delete removes the record for key
func (r *LoginAttemptRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, loginAttemptPrefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}

func attemptRecord(key string, res []int64) (*models.LoginAttemptRecord, error) {
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected login attempt reply of length %d", len(res))
	}
	return &models.LoginAttemptRecord{
		Key:             key,
		FailureCount:    int(res[0]),
		WindowStartedAt: time.UnixMilli(res[1]),
	}, nil
}
