//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/usecase"
)

func TestUsageUseCase_TryConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a cost above the limit without touching the store", func(t *testing.T) {
		f := newMeteringFixture()
		called := false
		f.counter.TryConsumeFunc = func(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error) {
			called = true
			return model.ConsumeResult{}, nil
		}

		for _, tc := range []struct{ cost, limit int64 }{{5, 4}, {1, 0}, {1, -1}} {
			res, err := f.usage.TryConsume(ctx, "k", tc.cost, tc.limit, time.Hour)
			if err != nil || res.Accepted {
				t.Errorf("cost %d limit %d: expected a plain rejection, got %+v / %v", tc.cost, tc.limit, res, err)
			}
		}
		if called {
			t.Error("expected no store call")
		}
	})

	t.Run("should treat a bad key or cost as invalid", func(t *testing.T) {
		f := newMeteringFixture()
		if _, err := f.usage.TryConsume(ctx, "", 1, 10, time.Hour); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for an empty key, got %v", err)
		}
		if _, err := f.usage.TryConsume(ctx, "k", 0, 10, time.Hour); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for a zero cost, got %v", err)
		}
	})

	t.Run("should accept exactly the limit under concurrency", func(t *testing.T) {
		f := newMeteringFixture()
		var accepted int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.usage.TryConsumeWindow(ctx, "user-1", classText, 1, 1, 10)
				if err == nil && res.Accepted {
					atomic.AddInt32(&accepted, 1)
				}
			}()
		}
		wg.Wait()
		if accepted != 10 {
			t.Fatalf("expected 10 accepted debits, got %d", accepted)
		}
		snap, _ := f.usage.Window(ctx, "user-1", classText, 1)
		if snap.Units != 10 {
			t.Errorf("expected the window at 10, got %d", snap.Units)
		}
	})
}

func TestUsageUseCase_Windows(t *testing.T) {
	ctx := context.Background()

	t.Run("should start a new daily bucket at local midnight", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*3600)
		clock := newClock(time.Date(2024, 3, 10, 20, 59, 0, 0, time.UTC)) // 23:59 local
		counter := NewMockCounterStore()
		u := usecase.NewUsageUseCase(counter, NewMockBalanceRepo(), NewMockTxManager(), loc, clock.Now, newTestLogger())

		if res, _ := u.TryConsumeWindow(ctx, "user-1", classText, 1, 1, 1); !res.Accepted {
			t.Fatal("expected the first debit accepted")
		}
		if res, _ := u.TryConsumeWindow(ctx, "user-1", classText, 1, 1, 1); res.Accepted {
			t.Fatal("expected the bucket exhausted")
		}
		clock.Set(clock.Now().Add(2 * time.Minute)) // 00:01 local
		if res, _ := u.TryConsumeWindow(ctx, "user-1", classText, 1, 1, 1); !res.Accepted {
			t.Fatal("expected a fresh bucket after midnight")
		}
	})

	t.Run("should keep free and paid windows apart", func(t *testing.T) {
		f := newMeteringFixture()
		_, _ = f.usage.TryConsumeWindow(ctx, "user-1", classText, 0, 1, 5)
		_ = f.usage.RecordTokens(ctx, "user-1", classText, 0, 42)

		free, _ := f.usage.Window(ctx, "user-1", classText, 0)
		paid, _ := f.usage.Window(ctx, "user-1", classText, 1)
		if free.Units != 1 || free.Tokens != 42 {
			t.Errorf("unexpected free window %+v", free)
		}
		if paid.Units != 0 || paid.Tokens != 0 {
			t.Errorf("expected an empty paid window, got %+v", paid)
		}
	})
}

func TestUsageUseCase_Prepaid(t *testing.T) {
	ctx := context.Background()

	t.Run("should decrement and never overdraw", func(t *testing.T) {
		f := newMeteringFixture()
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-1", UserID: "user-1", Class: classText, Remaining: 3})

		ok, err := f.usage.TryConsumePrepaid(ctx, "b-1", 2)
		if err != nil || !ok {
			t.Fatalf("expected the first debit accepted, got %v / %v", ok, err)
		}
		ok, _ = f.usage.TryConsumePrepaid(ctx, "b-1", 2)
		if ok {
			t.Error("expected a debit above the remainder rejected")
		}
		if f.balances.Remaining("b-1") != 1 {
			t.Errorf("expected 1 left, got %d", f.balances.Remaining("b-1"))
		}
	})

	t.Run("should report an unknown balance as not consumed", func(t *testing.T) {
		f := newMeteringFixture()
		ok, err := f.usage.TryConsumePrepaid(ctx, "missing", 1)
		if err != nil || ok {
			t.Fatalf("expected false without error, got %v / %v", ok, err)
		}
	})

	t.Run("should sum every packet of the user", func(t *testing.T) {
		f := newMeteringFixture()
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-1", UserID: "user-1", Class: classText, Remaining: 3})
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-2", UserID: "user-1", Class: "image", Remaining: 4})
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-3", UserID: "user-2", Class: classText, Remaining: 9})

		n, err := f.usage.PacketsRemaining(ctx, "user-1")
		if err != nil || n != 7 {
			t.Fatalf("expected 7, got %d / %v", n, err)
		}
	})
}
