package model

import (
	"fmt"
	"time"

	"telegram-ai-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive       SubscriptionStatus = "active"
	SubscriptionStatusPastDue      SubscriptionStatus = "past_due"
	SubscriptionStatusProcessRetry SubscriptionStatus = "process_retry"
	SubscriptionStatusCanceled     SubscriptionStatus = "canceled"
	SubscriptionStatusExpired      SubscriptionStatus = "expired"
)

// subscriptionTransitions lists every edge the lifecycle may take.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusActive: {
		SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusExpired,
	},
	SubscriptionStatusPastDue: {
		SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusProcessRetry,
		SubscriptionStatusCanceled, SubscriptionStatusExpired,
	},
	SubscriptionStatusProcessRetry: {
		SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusExpired,
	},
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusProcessRetry,
		SubscriptionStatusCanceled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// Live reports whether the subscription still grants its tier.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue || s == SubscriptionStatusProcessRetry
}

func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Subscription is one user's enrollment in a paid plan.
type Subscription struct {
	ID              string
	UserID          string
	PlanID          string
	Tier            Tier // plan family; at most one live subscription per (user, tier)
	Status          SubscriptionStatus
	PeriodStart     time.Time
	PeriodEnd       time.Time
	WillRenew       bool
	RenewsAt        *time.Time
	PaymentMethodID *string
	AnchorPaymentID *string
	Provider        PaymentProvider // provider of the anchor payment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewSubscription starts a subscription on plan beginning at start.
func NewSubscription(id, userID string, plan *Plan, start time.Time) (*Subscription, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	end := start.Add(plan.Period())
	return &Subscription{
		ID:          id,
		UserID:      userID,
		PlanID:      plan.ID,
		Tier:        plan.Tier,
		Status:      SubscriptionStatusActive,
		PeriodStart: start,
		PeriodEnd:   end,
		RenewsAt:    &end,
		CreatedAt:   start,
		UpdatedAt:   start,
	}, nil
}

// TransitionTo is the only way to change Status.
func (s *Subscription) TransitionTo(next SubscriptionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: subscription %s %s -> %s", domain.ErrInvalidTransition, s.ID, s.Status, next)
	}
	s.Status = next
	return nil
}

// Extend moves the paid window forward by one period measured from the
// previous period end, so scheduler lateness never shortens a period.
func (s *Subscription) Extend(period time.Duration) error {
	if err := s.TransitionTo(SubscriptionStatusActive); err != nil {
		return err
	}
	s.PeriodStart = s.PeriodEnd
	s.PeriodEnd = s.PeriodEnd.Add(period)
	end := s.PeriodEnd
	s.RenewsAt = &end
	return nil
}

func (s *Subscription) HasPaymentMethod() bool {
	return s.PaymentMethodID != nil && *s.PaymentMethodID != ""
}

// StarsBilled reports whether Telegram itself charges the renewals.
func (s *Subscription) StarsBilled() bool {
	return s.Provider == PaymentProviderTelegramStars
}

// StarsGracePeriod is how long a missed Telegram Stars renewal is tolerated.
const StarsGracePeriod = 7 * 24 * time.Hour
