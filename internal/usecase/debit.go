// File: internal/usecase/debit.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/metrics"
)

// DebitRequest is the charge for one answered message.
type DebitRequest struct {
	RequestID      string
	UserID         string
	Tier           model.Tier // tier of SubscriptionID, TierFree when none
	SubscriptionID *string
	Class          model.ResourceClass
	Cost           int64
}

type DebitResult struct {
	Accepted     bool
	Source       model.UsageSource
	UserPacketID *string
	Total        int64 // window total after the debit; 0 for packets
}

// DebitStrategy is one funding source of the debit chain.
type DebitStrategy interface {
	Source() model.UsageSource
	// Available is a read-only guess whether TryConsume would accept now.
	Available(ctx context.Context, req DebitRequest) (bool, error)
	TryConsume(ctx context.Context, req DebitRequest) (DebitResult, error)
}

// DebitChain tries each strategy in order until one accepts.
type DebitChain struct {
	strategies []DebitStrategy
	events     repository.UsageEventRepository
	now        func() time.Time
	log        *zerolog.Logger
}

func NewDebitChain(events repository.UsageEventRepository, logger *zerolog.Logger, strategies ...DebitStrategy) *DebitChain {
	l := logger.With().Str("component", "DebitChain").Logger()
	return &DebitChain{strategies: strategies, events: events, now: time.Now, log: &l}
}

// Debit never returns an error for exhausted capacity; an error means the
// strategy's store failed and the chain stopped without charging.
func (c *DebitChain) Debit(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if req.Cost <= 0 || req.UserID == "" {
		return DebitResult{}, domain.ErrInvalidArgument
	}
	for _, s := range c.strategies {
		res, err := s.TryConsume(ctx, req)
		if err != nil {
			metrics.IncUsageDebit(string(s.Source()), "error")
			return DebitResult{}, err
		}
		if !res.Accepted {
			metrics.IncUsageDebit(string(s.Source()), "rejected")
			continue
		}
		metrics.IncUsageDebit(string(s.Source()), "accepted")
		res.Source = s.Source()
		c.record(ctx, req, res)
		return res, nil
	}
	return DebitResult{Accepted: false}, nil
}

// CanCover reports whether any strategy could fund req right now.
func (c *DebitChain) CanCover(ctx context.Context, req DebitRequest) (bool, error) {
	for _, s := range c.strategies {
		ok, err := s.Available(ctx, req)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *DebitChain) record(ctx context.Context, req DebitRequest, res DebitResult) {
	if c.events == nil {
		return
	}
	e := &model.UsageEvent{
		ID:           uuid.NewString(),
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		Source:       res.Source,
		Amount:       req.Cost,
		UserPacketID: res.UserPacketID,
		CreatedAt:    c.now(),
	}
	if res.Source == model.UsageSourceSubscription {
		e.SubscriptionID = req.SubscriptionID
	}
	if err := c.events.Add(ctx, repository.NoTX, e); err != nil {
		c.log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to record usage event")
	}
}

// -----------------------------
// Strategies
// -----------------------------

// SubscriptionDailyStrategy spends the paid tier's daily quota.
type SubscriptionDailyStrategy struct {
	usage  UsageUseCase
	limits repository.TierLimitsRepository
}

func NewSubscriptionDailyStrategy(usage UsageUseCase, limits repository.TierLimitsRepository) *SubscriptionDailyStrategy {
	return &SubscriptionDailyStrategy{usage: usage, limits: limits}
}

func (s *SubscriptionDailyStrategy) Source() model.UsageSource { return model.UsageSourceSubscription }

func (s *SubscriptionDailyStrategy) Available(ctx context.Context, req DebitRequest) (bool, error) {
	if !req.Tier.Paid() {
		return false, nil
	}
	return windowAvailable(ctx, s.usage, s.limits, req, req.Tier)
}

func (s *SubscriptionDailyStrategy) TryConsume(ctx context.Context, req DebitRequest) (DebitResult, error) {
	if !req.Tier.Paid() {
		return DebitResult{}, nil
	}
	return windowConsume(ctx, s.usage, s.limits, req, req.Tier)
}

// PacketStrategy spends prepaid packets of the request's class, oldest first.
type PacketStrategy struct {
	usage UsageUseCase
}

func NewPacketStrategy(usage UsageUseCase) *PacketStrategy { return &PacketStrategy{usage: usage} }

func (s *PacketStrategy) Source() model.UsageSource { return model.UsageSourcePacket }

func (s *PacketStrategy) Available(ctx context.Context, req DebitRequest) (bool, error) {
	balances, err := s.usage.SpendableBalances(ctx, req.UserID, req.Class, req.Cost)
	if err != nil {
		return false, err
	}
	return len(balances) > 0, nil
}

func (s *PacketStrategy) TryConsume(ctx context.Context, req DebitRequest) (DebitResult, error) {
	balances, err := s.usage.SpendableBalances(ctx, req.UserID, req.Class, req.Cost)
	if err != nil {
		return DebitResult{}, err
	}
	for _, b := range balances {
		ok, err := s.usage.TryConsumePrepaid(ctx, b.ID, req.Cost)
		if err != nil {
			return DebitResult{}, err
		}
		if ok {
			id := b.ID
			return DebitResult{Accepted: true, UserPacketID: &id}, nil
		}
	}
	return DebitResult{}, nil
}

// FreeWeeklyStrategy spends the free tier's weekly quota. Paid users fall
// back to it too once their daily quota and packets are exhausted.
type FreeWeeklyStrategy struct {
	usage  UsageUseCase
	limits repository.TierLimitsRepository
}

func NewFreeWeeklyStrategy(usage UsageUseCase, limits repository.TierLimitsRepository) *FreeWeeklyStrategy {
	return &FreeWeeklyStrategy{usage: usage, limits: limits}
}

func (s *FreeWeeklyStrategy) Source() model.UsageSource { return model.UsageSourceFree }

func (s *FreeWeeklyStrategy) Available(ctx context.Context, req DebitRequest) (bool, error) {
	return windowAvailable(ctx, s.usage, s.limits, req, model.TierFree)
}

func (s *FreeWeeklyStrategy) TryConsume(ctx context.Context, req DebitRequest) (DebitResult, error) {
	return windowConsume(ctx, s.usage, s.limits, req, model.TierFree)
}

func windowLimit(ctx context.Context, limits repository.TierLimitsRepository, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error) {
	l, err := limits.Get(ctx, tier, class)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return l, err
}

func windowAvailable(ctx context.Context, usage UsageUseCase, limits repository.TierLimitsRepository, req DebitRequest, tier model.Tier) (bool, error) {
	l, err := windowLimit(ctx, limits, tier, req.Class)
	if err != nil || l == nil {
		return false, err
	}
	snap, err := usage.Window(ctx, req.UserID, req.Class, tier)
	if err != nil {
		return false, err
	}
	return snap.Units+req.Cost <= l.MessageLimit && snap.Tokens < l.TokenLimit, nil
}

func windowConsume(ctx context.Context, usage UsageUseCase, limits repository.TierLimitsRepository, req DebitRequest, tier model.Tier) (DebitResult, error) {
	l, err := windowLimit(ctx, limits, tier, req.Class)
	if err != nil || l == nil {
		return DebitResult{}, err
	}
	// the token budget gates the window exactly as in windowAvailable
	snap, err := usage.Window(ctx, req.UserID, req.Class, tier)
	if err != nil {
		return DebitResult{}, err
	}
	if snap.Tokens >= l.TokenLimit {
		return DebitResult{}, nil
	}
	res, err := usage.TryConsumeWindow(ctx, req.UserID, req.Class, tier, req.Cost, l.MessageLimit)
	if err != nil {
		return DebitResult{}, err
	}
	return DebitResult{Accepted: res.Accepted, Total: res.Total}, nil
}
