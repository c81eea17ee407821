//go:build !integration

package sched

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/infra/redis"
	"telegram-ai-billing/internal/usecase"
)

func newTestRunner(t *testing.T) (*Runner, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cli.Close() })
	l := zerolog.Nop()
	return NewRunner(redis.NewLocker(cli).WithRetries(1, 0), time.Second, &l), mr
}

type stubRenewals struct {
	calls atomic.Int32
	rep   usecase.RenewalReport
	err   error
	at    time.Time
}

func (s *stubRenewals) ProcessDue(ctx context.Context, now time.Time) (usecase.RenewalReport, error) {
	s.calls.Add(1)
	s.at = now
	return s.rep, s.err
}

type stubReconciler struct {
	usecase.PaymentUseCase
	olderThan time.Time
}

func (s *stubReconciler) ReconcileStale(ctx context.Context, olderThan time.Time) (usecase.ReconcileReport, error) {
	s.olderThan = olderThan
	return usecase.ReconcileReport{Resolved: 1}, nil
}

func TestRunner_Exec(t *testing.T) {
	ctx := context.Background()

	t.Run("should run the job and release its lock", func(t *testing.T) {
		r, mr := newTestRunner(t)
		var runs int
		job := Job{Name: "renewal", Spec: "@every 1m", LockKey: RenewalLockKey, Run: func(ctx context.Context) error {
			runs++
			assert.True(t, mr.Exists(RenewalLockKey))
			return nil
		}}

		r.Exec(ctx, job)

		assert.Equal(t, 1, runs)
		assert.False(t, mr.Exists(RenewalLockKey))
	})

	t.Run("should skip while another replica holds the lock", func(t *testing.T) {
		r, mr := newTestRunner(t)
		require.NoError(t, mr.Set(RenewalLockKey, "other"))
		var runs int
		job := Job{Name: "renewal", Spec: "@every 1m", LockKey: RenewalLockKey, Run: func(ctx context.Context) error {
			runs++
			return nil
		}}

		r.Exec(ctx, job)

		assert.Zero(t, runs)
		got, _ := mr.Get(RenewalLockKey)
		assert.Equal(t, "other", got)
	})

	t.Run("should not block the next run after a failure", func(t *testing.T) {
		r, mr := newTestRunner(t)
		var runs int
		job := Job{Name: "renewal", Spec: "@every 1m", LockKey: RenewalLockKey, Run: func(ctx context.Context) error {
			runs++
			return errors.New("db down")
		}}

		r.Exec(ctx, job)
		r.Exec(ctx, job)

		assert.Equal(t, 2, runs)
		assert.False(t, mr.Exists(RenewalLockKey))
	})

	t.Run("should bound a run by the run timeout", func(t *testing.T) {
		r, _ := newTestRunner(t)
		var deadline bool
		r.Exec(ctx, Job{Name: "slow", Spec: "@every 1m", Run: func(ctx context.Context) error {
			_, deadline = ctx.Deadline()
			return nil
		}})
		assert.True(t, deadline)
	})
}

func TestRunner_Add(t *testing.T) {
	r, _ := newTestRunner(t)
	noop := func(ctx context.Context) error { return nil }

	assert.NoError(t, r.Add(Job{Name: "ok", Spec: "@every 1m", Run: noop}))
	assert.NoError(t, r.Add(Job{Name: "cron", Spec: "*/5 * * * *", Run: noop}))
	assert.Error(t, r.Add(Job{Name: "bad", Spec: "every minute", Run: noop}))
	assert.Error(t, r.Add(Job{Spec: "@every 1m", Run: noop}))
}

func TestRunner_Start(t *testing.T) {
	t.Run("should run every job once at start-up", func(t *testing.T) {
		r, _ := newTestRunner(t)
		uc := &stubRenewals{}
		l := zerolog.Nop()
		require.NoError(t, r.Add(RenewalJob(uc, &config.SchedulerConfig{RenewalCron: "@every 1h"}, &l, nil)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Start(ctx) }()

		assert.Eventually(t, func() bool { return uc.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	})
}

func TestJobs(t *testing.T) {
	l := zerolog.Nop()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("should pass the current time to the renewal pass", func(t *testing.T) {
		uc := &stubRenewals{rep: usecase.RenewalReport{Renewed: 2}}
		job := RenewalJob(uc, &config.SchedulerConfig{}, &l, clock)

		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, now, uc.at)
		assert.Equal(t, "@every 1m", job.Spec)
		assert.Equal(t, RenewalLockKey, job.LockKey)
	})

	t.Run("should log one summary per busy renewal pass", func(t *testing.T) {
		var buf bytes.Buffer
		bl := zerolog.New(&buf)
		busy := RenewalJob(&stubRenewals{rep: usecase.RenewalReport{Renewed: 2, Expired: 1}}, &config.SchedulerConfig{}, &bl, clock)
		idle := RenewalJob(&stubRenewals{}, &config.SchedulerConfig{}, &bl, clock)

		require.NoError(t, busy.Run(context.Background()))
		require.NoError(t, idle.Run(context.Background()))

		assert.Equal(t, 1, strings.Count(buf.String(), "renewal pass done"))
		assert.Contains(t, buf.String(), `"renewed":2`)
	})

	t.Run("should surface a renewal error", func(t *testing.T) {
		uc := &stubRenewals{err: errors.New("boom")}
		assert.Error(t, RenewalJob(uc, &config.SchedulerConfig{}, &l, clock).Run(context.Background()))
	})

	t.Run("should reconcile payments older than the stale window", func(t *testing.T) {
		uc := &stubReconciler{}
		job := ReconcileJob(uc, &config.SchedulerConfig{StaleAfter: 20 * time.Minute, ReconcileCron: "@every 10m"}, &l, clock)

		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, now.Add(-20*time.Minute), uc.olderThan)
		assert.Equal(t, "@every 10m", job.Spec)
	})
}
