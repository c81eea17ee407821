package model

import (
	"time"

	"telegram-ai-billing/internal/domain"
)

type PlanKind string

const (
	PlanKindBase  PlanKind = "base"
	PlanKindTrial PlanKind = "trial"
)

// Plan is a purchasable subscription plan. Tier is the plan family.
type Plan struct {
	ID               string
	Name             string
	Tier             Tier
	Kind             PlanKind
	PeriodDays       int
	Price            int64 // minor units
	Currency         string
	StarsPrice       int64
	RenewsIntoPlanID *string // trial plans renew into their base plan
	Visible          bool
	CreatedAt        time.Time
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

func (p *Plan) Period() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}

// StarsRecurring reports whether Telegram can bill the plan as a Stars
// subscription, which only exists with a 30 day period.
func (p *Plan) StarsRecurring() bool {
	return p.Kind == PlanKindBase && p.PeriodDays == 30 && p.StarsPrice > 0
}

// NewPlan validates and constructs a plan.
func NewPlan(id, name string, tier Tier, periodDays int, price int64, currency string) (*Plan, error) {
	if id == "" || name == "" || tier == TierFree || periodDays <= 0 || price < 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Plan{
		ID:         id,
		Name:       name,
		Tier:       tier,
		Kind:       PlanKindBase,
		PeriodDays: periodDays,
		Price:      price,
		Currency:   currency,
		Visible:    true,
		CreatedAt:  time.Now(),
	}, nil
}
