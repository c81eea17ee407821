// File: internal/infra/sched/runner.go
package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
)

// Job is one scheduled pass. With a LockKey, replicas never overlap a run.
type Job struct {
	Name    string
	Spec    string // robfig cron spec, e.g. "@every 1m"
	LockKey string
	Run     func(ctx context.Context) error
}

// Runner triggers jobs on their cron spec and once at start-up.
type Runner struct {
	cron    *cron.Cron
	locker  repository.Locker
	timeout time.Duration
	jobs    []Job
	log     *zerolog.Logger
	wg      sync.WaitGroup
}

func NewRunner(locker repository.Locker, runTimeout time.Duration, logger *zerolog.Logger) *Runner {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log: &l}),
		cron.WithChain(cron.Recover(cronLogger{log: &l}), cron.SkipIfStillRunning(cronLogger{log: &l})),
	)
	return &Runner{cron: c, locker: locker, timeout: runTimeout, log: &l}
}

// Add validates the cron expression; jobs run only after Start.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return domain.ErrInvalidArgument
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Start blocks until ctx is done and running jobs have returned.
func (r *Runner) Start(ctx context.Context) error {
	for _, job := range r.jobs {
		job := job
		if _, err := r.cron.AddFunc(job.Spec, func() { r.Exec(ctx, job) }); err != nil {
			return err
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.Exec(ctx, job)
		}()
	}
	r.cron.Start()
	r.log.Info().Int("jobs", len(r.jobs)).Msg("scheduler started")

	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.wg.Wait()
	r.log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// Exec runs job once under its lock and run timeout. A failed run is
// logged and counted; the next tick runs again.
func (r *Runner) Exec(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	log := logging.With(ctx, r.log).With().Str("job", job.Name).Logger()
	start := time.Now()

	if job.LockKey != "" && r.locker != nil {
		token, err := r.locker.TryLock(ctx, job.LockKey, r.timeout)
		if errors.Is(err, domain.ErrLocked) {
			log.Debug().Msg("job held by another replica")
			metrics.IncJobRun(job.Name, "skipped", time.Since(start))
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("job lock failed")
			metrics.IncJobRun(job.Name, "error", time.Since(start))
			return
		}
		defer func() {
			// the run ctx may be spent; release on a fresh one
			uctx, ucancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer ucancel()
			if err := r.locker.Unlock(uctx, job.LockKey, token); err != nil {
				log.Warn().Err(err).Msg("job unlock failed")
			}
		}()
	}

	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		metrics.IncJobRun(job.Name, "error", time.Since(start))
		return
	}
	metrics.IncJobRun(job.Name, "ok", time.Since(start))
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
