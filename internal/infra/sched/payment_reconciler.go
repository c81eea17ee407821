package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/usecase"
)

const ReconcileLockKey = "reconcile:lock"

// ReconcileJob settles gateway payments pending for longer than StaleAfter.
func ReconcileJob(uc usecase.PaymentUseCase, cfg *config.SchedulerConfig, logger *zerolog.Logger, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return Job{
		Name:    "reconcile",
		Spec:    specOr(cfg.ReconcileCron, "@every 5m"),
		LockKey: ReconcileLockKey,
		Run: func(ctx context.Context) error {
			rep, err := uc.ReconcileStale(ctx, now().UTC().Add(-staleAfter))
			if err != nil {
				return err
			}
			if rep.Reissued+rep.Resolved+rep.Refused+rep.Failed > 0 {
				logging.With(ctx, logger).Info().
					Int("reissued", rep.Reissued).
					Int("resolved", rep.Resolved).
					Int("refused", rep.Refused).
					Int("failed", rep.Failed).
					Msg("stale payments reconciled")
			}
			return nil
		},
	}
}
