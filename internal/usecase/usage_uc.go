// File: internal/usecase/usage_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
)

// Compile-time check
var _ UsageUseCase = (*usageUC)(nil)

// UsageUseCase meters generation units against usage windows and packets.
// Insufficient capacity is a result, never an error.
type UsageUseCase interface {
	TryConsume(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error)
	// TryConsumeWindow debits the current bucket of (user, class) for tier.
	TryConsumeWindow(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier, cost, limit int64) (model.ConsumeResult, error)
	TryConsumePrepaid(ctx context.Context, balanceID string, cost int64) (bool, error)
	RecordTokens(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier, tokens int64) error
	Window(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier) (model.UsageSnapshot, error)
	SpendableBalances(ctx context.Context, userID string, class model.ResourceClass, cost int64) ([]*model.PrepaidBalance, error)
	PacketsRemaining(ctx context.Context, userID string) (int64, error)
}

type usageUC struct {
	counter  repository.UsageCounterStore
	balances repository.PrepaidBalanceRepository
	tm       repository.TransactionManager
	loc      *time.Location
	now      func() time.Time
	log      *zerolog.Logger
}

func NewUsageUseCase(
	counter repository.UsageCounterStore,
	balances repository.PrepaidBalanceRepository,
	tm repository.TransactionManager,
	loc *time.Location,
	now func() time.Time,
	logger *zerolog.Logger,
) *usageUC {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	l := logger.With().Str("component", "UsageUseCase").Logger()
	return &usageUC{counter: counter, balances: balances, tm: tm, loc: loc, now: now, log: &l}
}

// windowTTL outlives the bucket so a counter never expires while it is current.
func windowTTL(tier model.Tier) time.Duration {
	return tier.BucketWidth() + time.Hour
}

func (u *usageUC) key(userID string, class model.ResourceClass, tier model.Tier) string {
	return model.UsageWindowKey(userID, class, tier, u.now(), u.loc)
}

func (u *usageUC) TryConsume(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error) {
	if key == "" || cost <= 0 {
		return model.ConsumeResult{}, domain.ErrInvalidArgument
	}
	if limit <= 0 || cost > limit {
		return model.ConsumeResult{Accepted: false}, nil
	}
	return u.counter.TryConsume(ctx, key, cost, limit, ttl)
}

func (u *usageUC) TryConsumeWindow(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier, cost, limit int64) (model.ConsumeResult, error) {
	defer logging.TraceDuration(u.log, "UsageUC.TryConsumeWindow")()
	res, err := u.TryConsume(ctx, u.key(userID, class, tier), cost, limit, windowTTL(tier))
	if err != nil {
		return res, err
	}
	if !res.Accepted {
		u.log.Debug().Str("user_id", userID).Str("class", string(class)).Int("tier", int(tier)).Msg("usage window exhausted")
	}
	return res, nil
}

// TryConsumePrepaid decrements a packet balance under a row lock.
func (u *usageUC) TryConsumePrepaid(ctx context.Context, balanceID string, cost int64) (bool, error) {
	defer logging.TraceDuration(u.log, "UsageUC.TryConsumePrepaid")()
	if balanceID == "" || cost <= 0 {
		return false, domain.ErrInvalidArgument
	}

	var ok bool
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.balances.FindByID(ctx, tx, balanceID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !b.CanCover(cost) {
			return nil
		}
		ok, err = u.balances.Decrement(ctx, tx, balanceID, cost)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (u *usageUC) RecordTokens(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier, tokens int64) error {
	if tokens <= 0 {
		return nil
	}
	return u.counter.AddTokens(ctx, u.key(userID, class, tier), tokens, windowTTL(tier))
}

func (u *usageUC) Window(ctx context.Context, userID string, class model.ResourceClass, tier model.Tier) (model.UsageSnapshot, error) {
	return u.counter.Snapshot(ctx, u.key(userID, class, tier))
}

func (u *usageUC) SpendableBalances(ctx context.Context, userID string, class model.ResourceClass, cost int64) ([]*model.PrepaidBalance, error) {
	return u.balances.ListSpendable(ctx, repository.NoTX, userID, class, cost)
}

func (u *usageUC) PacketsRemaining(ctx context.Context, userID string) (int64, error) {
	return u.balances.TotalRemaining(ctx, repository.NoTX, userID)
}
