// File: internal/usecase/plan_uc.go
package usecase

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
)

// Compile-time check
var _ CatalogUseCase = (*catalogUC)(nil)

// UsageView is what /usage renders for one user.
type UsageView struct {
	Tier         model.Tier
	Subscription *model.Subscription // nil for free users
	Window       model.UsageSnapshot
	Limits       *model.TierLimits // nil when the class has no quota
	Packets      int64
}

// CatalogUseCase lists what a user can buy and use.
type CatalogUseCase interface {
	ListPlans(ctx context.Context) ([]*model.Plan, error)
	ListPackets(ctx context.Context) ([]*model.Packet, error)
	ListModels(ctx context.Context, tier model.Tier) ([]*model.AIModel, error)
	Usage(ctx context.Context, userID string, class model.ResourceClass) (*UsageView, error)
}

type catalogUC struct {
	plans     repository.PlanRepository
	packets   repository.PacketRepository
	models    repository.AIModelRepository
	limits    repository.TierLimitsRepository
	usage     UsageUseCase
	lifecycle SubscriptionUseCase
	log       *zerolog.Logger
}

func NewCatalogUseCase(
	plans repository.PlanRepository,
	packets repository.PacketRepository,
	models repository.AIModelRepository,
	limits repository.TierLimitsRepository,
	usage UsageUseCase,
	lifecycle SubscriptionUseCase,
	logger *zerolog.Logger,
) *catalogUC {
	l := logger.With().Str("component", "CatalogUseCase").Logger()
	return &catalogUC{
		plans:     plans,
		packets:   packets,
		models:    models,
		limits:    limits,
		usage:     usage,
		lifecycle: lifecycle,
		log:       &l,
	}
}

// ListPlans returns visible plans ordered by tier, then price.
func (c *catalogUC) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	defer logging.TraceDuration(c.log, "CatalogUC.ListPlans")()
	plans, err := c.plans.ListVisible(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Tier != plans[j].Tier {
			return plans[i].Tier < plans[j].Tier
		}
		return plans[i].Price < plans[j].Price
	})
	return plans, nil
}

func (c *catalogUC) ListPackets(ctx context.Context) ([]*model.Packet, error) {
	defer logging.TraceDuration(c.log, "CatalogUC.ListPackets")()
	return c.packets.ListVisible(ctx, repository.NoTX)
}

func (c *catalogUC) ListModels(ctx context.Context, tier model.Tier) ([]*model.AIModel, error) {
	defer logging.TraceDuration(c.log, "CatalogUC.ListModels")()
	return c.models.ListAvailable(ctx, repository.NoTX, tier)
}

func (c *catalogUC) Usage(ctx context.Context, userID string, class model.ResourceClass) (*UsageView, error) {
	defer logging.TraceDuration(c.log, "CatalogUC.Usage")()

	sub, err := c.lifecycle.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	v := &UsageView{Tier: model.TierFree, Subscription: sub}
	if sub != nil {
		v.Tier = sub.Tier
	}
	if v.Window, err = c.usage.Window(ctx, userID, class, v.Tier); err != nil {
		return nil, err
	}
	if v.Limits, err = windowLimit(ctx, c.limits, v.Tier, class); err != nil {
		return nil, err
	}
	if v.Packets, err = c.usage.PacketsRemaining(ctx, userID); err != nil {
		return nil, err
	}
	return v, nil
}
