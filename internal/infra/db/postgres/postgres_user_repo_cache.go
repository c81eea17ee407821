package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/metrics"
	red "telegram-ai-billing/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator caches pool reads. Reads inside a transaction
// lock the row and always reach the database.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "UserRepoCache").Logger()
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func userIDKey(id string) string { return fmt.Sprintf("user:id:%s", id) }
func userTgKey(tgID int64) string { return fmt.Sprintf("user:tgid:%d", tgID) }

// Save invalidates both keys of the user.
func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if err := d.inner.Save(ctx, tx, u); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, userIDKey(u.ID), userTgKey(u.TelegramID)); err != nil {
		d.log.Warn().Err(err).Str("user_id", u.ID).Msg("failed to invalidate user cache")
	}
	return nil
}

func (d *userRepoCacheDecorator) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if inTx(tx) {
		return d.inner.FindByTelegramID(ctx, tx, tgID)
	}
	if u := d.lookup(ctx, userTgKey(tgID)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByTelegramID(ctx, tx, tgID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if inTx(tx) {
		return d.inner.FindByID(ctx, tx, id)
	}
	if u := d.lookup(ctx, userIDKey(id)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) lookup(ctx context.Context, key string) *model.User {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warn().Err(err).Str("key", key).Msg("user cache read failed")
		}
		metrics.IncCacheRequest("user", "miss")
		return nil
	}
	var u model.User
	if json.Unmarshal([]byte(val), &u) != nil {
		metrics.IncCacheRequest("user", "miss")
		return nil
	}
	metrics.IncCacheRequest("user", "hit")
	return &u
}

// store warms both keys so either lookup hits next time.
func (d *userRepoCacheDecorator) store(ctx context.Context, u *model.User) {
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, userIDKey(u.ID), b, d.ttl)
	_ = d.cache.Set(ctx, userTgKey(u.TelegramID), b, d.ttl)
}
