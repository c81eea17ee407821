// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	client  RedisClient
	tries   int
	backoff time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{client: c, tries: 5, backoff: 50 * time.Millisecond}
}

// WithRetries overrides how often TryLock polls a held key.
func (l *RedisLocker) WithRetries(tries int, backoff time.Duration) *RedisLocker {
	if tries < 1 {
		tries = 1
	}
	l.tries, l.backoff = tries, backoff
	return l
}

// TryLock returns domain.ErrLocked when the key stayed held for every try.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.backoff):
			}
		}
		ok, err := l.client.SetNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return token, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrLocked
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock deletes key only while it still holds token.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.client.Run(ctx, luaUnlock, []string{key}, token)
	return err
}
