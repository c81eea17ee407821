package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/usecase"
)

const RenewalLockKey = "renewal:lock"

// RenewalJob runs one renewal pass over subscriptions whose period has ended.
func RenewalJob(uc usecase.RenewalUseCase, cfg *config.SchedulerConfig, logger *zerolog.Logger, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:    "renewal",
		Spec:    specOr(cfg.RenewalCron, "@every 1m"),
		LockKey: RenewalLockKey,
		Run: func(ctx context.Context) error {
			rep, err := uc.ProcessDue(ctx, now().UTC())
			if err != nil {
				return err
			}
			if rep.Total() > 0 {
				logging.With(ctx, logger).Info().
					Int("retried", rep.Retried).
					Int("renewed", rep.Renewed).
					Int("expired", rep.Expired).
					Int("canceled", rep.Canceled).
					Int("skipped", rep.Skipped).
					Int("failed", rep.Failed).
					Msg("renewal pass done")
			}
			return nil
		},
	}
}

func specOr(spec, def string) string {
	if spec == "" {
		return def
	}
	return spec
}
