package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusMissing  int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusRotated  int64 = 2
)

const rotateScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 2
`

const consumeTicketScript = `
local current = redis.call("GET", KEYS[1])
if not current or current ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`

const incrAttemptsScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`

var (
	rotateLua        = redis.NewScript(rotateScript)
	consumeTicketLua = redis.NewScript(consumeTicketScript)
	incrAttemptsLua  = redis.NewScript(incrAttemptsScript)
)

// RedisStore keeps session state in Redis. Keys carry a TTL equal to the
// credential lifetime so abandoned sessions expire on their own. Reads and
// writes go to a single primary, which gives read-after-write per subject.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

// OpenRedis parses a redis:// URL and returns a connected store.
func OpenRedis(ctx context.Context, url string, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) rotationKey(subjectID string) string {
	return s.prefix + ":rot:" + subjectID
}

func (s *RedisStore) ticketKey(subjectID string) string {
	return s.prefix + ":reset:" + subjectID
}

func (s *RedisStore) attemptsKey(subjectID string) string {
	return s.prefix + ":reset-attempts:" + subjectID
}

func (s *RedisStore) RecordRotation(ctx context.Context, subjectID, rotationID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.rotationKey(subjectID), rotationID, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("record rotation: %w", err)
	}
	return nil
}

func (s *RedisStore) CurrentRotation(ctx context.Context, subjectID string) (string, error) {
	value, err := s.redis.Get(ctx, s.rotationKey(subjectID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("read rotation: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Rotate(ctx context.Context, subjectID, expected, next string, ttl time.Duration) error {
	status, err := rotateLua.Run(ctx, s.redis,
		[]string{s.rotationKey(subjectID)},
		expected, next, clampTTL(ttl).Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusMismatch:
		return ErrRotationMismatch
	case rotateStatusMissing:
		return ErrNoSession
	default:
		return fmt.Errorf("rotate session: unexpected status %d", status)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, subjectID string) error {
	if err := s.redis.Del(ctx, s.rotationKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) PutResetTicket(ctx context.Context, subjectID, ticketID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.ticketKey(subjectID), ticketID, clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("store reset ticket: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeResetTicket(ctx context.Context, subjectID, ticketID string) error {
	consumed, err := consumeTicketLua.Run(ctx, s.redis, []string{s.ticketKey(subjectID)}, ticketID).Int64()
	if err != nil {
		return fmt.Errorf("consume reset ticket: %w", err)
	}
	if consumed != 1 {
		return ErrTicketNotFound
	}
	return nil
}

func (s *RedisStore) IncrResetAttempts(ctx context.Context, subjectID string, window time.Duration) (int64, error) {
	n, err := incrAttemptsLua.Run(ctx, s.redis, []string{s.attemptsKey(subjectID)}, clampTTL(window).Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("count reset attempts: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
