// File: internal/usecase/renewal_uc.go
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
)

// Compile-time check
var _ RenewalUseCase = (*renewalUC)(nil)

// RenewalReport counts what one scheduler pass did.
type RenewalReport struct {
	Retried  int // retry charges issued for PAST_DUE subscriptions
	Renewed  int // first renewal charges issued for ended ACTIVE subscriptions
	Expired  int
	Canceled int
	Skipped  int // not due anymore, in grace, or a charge already in flight
	Failed   int
}

func (r RenewalReport) Total() int {
	return r.Retried + r.Renewed + r.Expired + r.Canceled + r.Skipped + r.Failed
}

type RenewalUseCase interface {
	ProcessDue(ctx context.Context, now time.Time) (RenewalReport, error)
}

type renewalUC struct {
	subs      repository.SubscriptionRepository
	lifecycle SubscriptionUseCase
	batchSize int
	notifier  NotificationUseCase
	log       *zerolog.Logger
}

func NewRenewalUseCase(subs repository.SubscriptionRepository, lifecycle SubscriptionUseCase, batchSize int, logger *zerolog.Logger) *renewalUC {
	if batchSize <= 0 {
		batchSize = 200
	}
	l := logger.With().Str("component", "RenewalUseCase").Logger()
	return &renewalUC{subs: subs, lifecycle: lifecycle, batchSize: batchSize, log: &l}
}

// WithNotifier tells users whose subscription ended in a pass.
func (u *renewalUC) WithNotifier(n NotificationUseCase) *renewalUC {
	u.notifier = n
	return u
}

// ProcessDue first retries PAST_DUE subscriptions whose renews_at elapsed,
// then renews ACTIVE ones whose period ended. A failing subscription is
// logged and counted; the batch goes on. Only a failing scan is an error.
func (u *renewalUC) ProcessDue(ctx context.Context, now time.Time) (RenewalReport, error) {
	defer logging.TraceDuration(u.log, "RenewalUC.ProcessDue")()

	var rep RenewalReport

	pastDue, err := u.subs.ListPastDueDue(ctx, repository.NoTX, now, u.batchSize)
	if err != nil {
		return rep, err
	}
	for _, s := range pastDue {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		outcome, err := u.lifecycle.RetryPastDue(ctx, s.ID)
		if err != nil {
			rep.Failed++
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("retry of past due subscription failed")
			continue
		}
		rep.count(outcome, &rep.Retried)
		u.notifyEnded(ctx, s.UserID, outcome)
	}

	ended, err := u.subs.ListActiveEnded(ctx, repository.NoTX, now, u.batchSize)
	if err != nil {
		return rep, err
	}
	for _, s := range ended {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		outcome, err := u.lifecycle.Renew(ctx, s.ID)
		if err != nil {
			rep.Failed++
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("renewal of ended subscription failed")
			continue
		}
		rep.count(outcome, &rep.Renewed)
		u.notifyEnded(ctx, s.UserID, outcome)
	}

	metrics.AddRenewalOutcome("retried", rep.Retried)
	metrics.AddRenewalOutcome("renewed", rep.Renewed)
	metrics.AddRenewalOutcome("expired", rep.Expired)
	metrics.AddRenewalOutcome("canceled", rep.Canceled)
	metrics.AddRenewalOutcome("failed", rep.Failed)
	return rep, nil
}

func (r *RenewalReport) count(o RenewalOutcome, charged *int) {
	switch o {
	case OutcomeCharged:
		*charged++
	case OutcomeExpired:
		r.Expired++
	case OutcomeCanceled:
		r.Canceled++
	default:
		r.Skipped++
	}
}

func (u *renewalUC) notifyEnded(ctx context.Context, userID string, o RenewalOutcome) {
	if u.notifier == nil {
		return
	}
	switch o {
	case OutcomeExpired:
		u.notifier.SubscriptionEnded(ctx, userID, model.SubscriptionStatusExpired)
	case OutcomeCanceled:
		u.notifier.SubscriptionEnded(ctx, userID, model.SubscriptionStatusCanceled)
	}
}
