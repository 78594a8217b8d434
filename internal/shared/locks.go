package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock held by another process")

// QuoteConvertLockKey builds the redis key guarding a quote conversion.
func QuoteConvertLockKey(quoteID string) string {
	return fmt.Sprintf("booking:quote:%s:convert:lock", quoteID)
}

// AgentTierLockKey builds the redis key guarding the monthly tier review.
func AgentTierLockKey(period string) string {
	return fmt.Sprintf("agents:tier-review:%s:lock", period)
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements short-lived mutual exclusion with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker returns a locker backed by client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lock for ttl. The returned release func is safe to call
// after expiry; it never removes a lock taken over by someone else.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	if key == "" {
		return nil, errors.New("lock key required")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
