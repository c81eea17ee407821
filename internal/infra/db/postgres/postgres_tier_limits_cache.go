package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/metrics"
)

var _ repository.TierLimitsRepository = (*TierLimitsCache)(nil)

// TierLimitsCache keeps tier limits in process. Misses are cached too, so a
// class without a quota row does not hit the database on every request.
type TierLimitsCache struct {
	inner repository.TierLimitsRepository
	lru   *expirable.LRU[string, *model.TierLimits]
}

func NewTierLimitsCache(inner repository.TierLimitsRepository, size int, ttl time.Duration) *TierLimitsCache {
	if size <= 0 {
		size = 128
	}
	return &TierLimitsCache{inner: inner, lru: expirable.NewLRU[string, *model.TierLimits](size, nil, ttl)}
}

func (c *TierLimitsCache) Get(ctx context.Context, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error) {
	key := fmt.Sprintf("%d:%s", tier, class)
	if l, ok := c.lru.Get(key); ok {
		metrics.IncCacheRequest("tier_limits", "hit")
		if l == nil {
			return nil, domain.ErrNotFound
		}
		return l, nil
	}
	metrics.IncCacheRequest("tier_limits", "miss")

	l, err := c.inner.Get(ctx, tier, class)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.lru.Add(key, nil)
		return nil, err
	case err != nil:
		return nil, err
	}
	c.lru.Add(key, l)
	return l, nil
}
