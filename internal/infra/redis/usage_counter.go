// File: internal/infra/redis/usage_counter.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.UsageCounterStore = (*UsageCounter)(nil)

const (
	fieldUnits  = "units"
	fieldTokens = "tokens"
)

// luaTryConsume increments units only while units+cost stays within limit.
// Returns {accepted, total}.
var luaTryConsume = redis.NewScript(`
local used = tonumber(redis.call("HGET", KEYS[1], "units") or "0")
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + cost > limit then
	return {0, used}
end
local total = redis.call("HINCRBY", KEYS[1], "units", cost)
if redis.call("TTL", KEYS[1]) < 0 then
	redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
end
return {1, total}`)

var luaAddTokens = redis.NewScript(`
local total = redis.call("HINCRBY", KEYS[1], "tokens", tonumber(ARGV[1]))
if redis.call("TTL", KEYS[1]) < 0 then
	redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
end
return total`)

// UsageCounter keeps usage windows as hashes {units, tokens}.
type UsageCounter struct {
	client RedisClient
}

func NewUsageCounter(client RedisClient) *UsageCounter {
	return &UsageCounter{client: client}
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (c *UsageCounter) TryConsume(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error) {
	if key == "" || cost <= 0 {
		return model.ConsumeResult{}, domain.ErrInvalidArgument
	}
	res, err := c.client.Run(ctx, luaTryConsume, []string{key}, cost, limit, ttlSeconds(ttl))
	if err != nil {
		return model.ConsumeResult{}, fmt.Errorf("usage try consume %s: %w", key, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return model.ConsumeResult{}, fmt.Errorf("usage try consume %s: unexpected reply %v", key, res)
	}
	accepted, _ := vals[0].(int64)
	total, _ := vals[1].(int64)
	return model.ConsumeResult{Accepted: accepted == 1, Total: total}, nil
}

func (c *UsageCounter) AddTokens(ctx context.Context, key string, tokens int64, ttl time.Duration) error {
	if key == "" || tokens < 0 {
		return domain.ErrInvalidArgument
	}
	if tokens == 0 {
		return nil
	}
	if _, err := c.client.Run(ctx, luaAddTokens, []string{key}, tokens, ttlSeconds(ttl)); err != nil {
		return fmt.Errorf("usage add tokens %s: %w", key, err)
	}
	return nil
}

// Snapshot of a missing window is zero.
func (c *UsageCounter) Snapshot(ctx context.Context, key string) (model.UsageSnapshot, error) {
	m, err := c.client.HGetAll(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.UsageSnapshot{}, fmt.Errorf("usage snapshot %s: %w", key, err)
	}
	var s model.UsageSnapshot
	if v, ok := m[fieldUnits]; ok {
		if s.Units, err = strconv.ParseInt(v, 10, 64); err != nil {
			return model.UsageSnapshot{}, fmt.Errorf("usage snapshot %s: %w", key, err)
		}
	}
	if v, ok := m[fieldTokens]; ok {
		if s.Tokens, err = strconv.ParseInt(v, 10, 64); err != nil {
			return model.UsageSnapshot{}, fmt.Errorf("usage snapshot %s: %w", key, err)
		}
	}
	return s, nil
}
