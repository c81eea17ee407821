package repository

import (
	"context"
	"time"

	"telegram-ai-billing/internal/domain/model"
)

// UsageCounterStore is the shared atomic counter behind usage windows.
type UsageCounterStore interface {
	// TryConsume adds cost to the window's units only if the total stays
	// within limit. It never clamps.
	TryConsume(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error)
	AddTokens(ctx context.Context, key string, tokens int64, ttl time.Duration) error
	Snapshot(ctx context.Context, key string) (model.UsageSnapshot, error)
}

// PrepaidBalanceRepository is the durable packet ledger.
type PrepaidBalanceRepository interface {
	Create(ctx context.Context, tx Tx, b *model.PrepaidBalance) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PrepaidBalance, error)
	// ListSpendable returns balances of class with at least cost remaining, oldest first.
	ListSpendable(ctx context.Context, tx Tx, userID string, class model.ResourceClass, cost int64) ([]*model.PrepaidBalance, error)
	TotalRemaining(ctx context.Context, tx Tx, userID string) (int64, error)
	// Decrement subtracts cost while remaining >= cost and reports whether it did.
	Decrement(ctx context.Context, tx Tx, id string, cost int64) (bool, error)
}

type UsageEventRepository interface {
	Add(ctx context.Context, tx Tx, e *model.UsageEvent) error
}

type TierLimitsRepository interface {
	Get(ctx context.Context, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error)
}
