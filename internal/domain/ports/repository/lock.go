package repository

import (
	"context"
	"time"
)

// Locker is a short-lived distributed mutex.
type Locker interface {
	// TryLock returns domain.ErrLocked when the key is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
