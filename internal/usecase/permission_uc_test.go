//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/usecase"
)

func TestPermissionUseCase_CheckLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow until the message limit is reached", func(t *testing.T) {
		f := newMeteringFixture()
		q := usecase.LimitQuery{UserID: "user-1", Class: classText, Tier: 0}

		f.counter.Set(f.windowKey("user-1", classText, 0), 4, 0)
		d, err := f.permissions.CheckLimit(ctx, q)
		if err != nil || !d.Allowed || d.MessageLimit != 5 {
			t.Fatalf("expected allowed at 4 of 5, got %+v / %v", d, err)
		}

		f.counter.Set(f.windowKey("user-1", classText, 0), 5, 0)
		d, _ = f.permissions.CheckLimit(ctx, q)
		if d.Allowed || d.Units != 5 {
			t.Errorf("expected denied at 5 of 5, got %+v", d)
		}
	})

	t.Run("should deny once the token limit is spent", func(t *testing.T) {
		f := newMeteringFixture()
		f.counter.Set(f.windowKey("user-1", classText, 0), 0, 10000)
		d, _ := f.permissions.CheckLimit(ctx, usecase.LimitQuery{UserID: "user-1", Class: classText, Tier: 0})
		if d.Allowed {
			t.Errorf("expected denied on tokens, got %+v", d)
		}
	})

	t.Run("should deny a class without configured limits", func(t *testing.T) {
		f := newMeteringFixture()
		d, err := f.permissions.CheckLimit(ctx, usecase.LimitQuery{UserID: "user-1", Class: "video", Tier: 1})
		if err != nil || d.Allowed {
			t.Fatalf("expected a plain denial, got %+v / %v", d, err)
		}
	})

	t.Run("should not mutate the window", func(t *testing.T) {
		f := newMeteringFixture()
		for i := 0; i < 3; i++ {
			_, _ = f.permissions.CheckLimit(ctx, usecase.LimitQuery{UserID: "user-1", Class: classText, Tier: 1})
		}
		if got := f.counter.UnitsLike("user-1"); got != 0 {
			t.Errorf("expected no units consumed, got %d", got)
		}
	})

	t.Run("should require a user and a class", func(t *testing.T) {
		f := newMeteringFixture()
		if _, err := f.permissions.CheckLimit(ctx, usecase.LimitQuery{Class: classText}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPermissionUseCase_Gates(t *testing.T) {
	ctx := context.Background()
	f := newMeteringFixture()
	p := f.permissions

	t.Run("should apply the voice duration of the tier", func(t *testing.T) {
		if got := p.CheckVoice(0, 15); got.Status != usecase.VoiceAllowed {
			t.Errorf("expected 15s allowed on free, got %+v", got)
		}
		if got := p.CheckVoice(0, 16); got.Status != usecase.VoiceTooLong || got.LimitSeconds != 15 {
			t.Errorf("expected 16s too long on free, got %+v", got)
		}
		if got := p.CheckVoice(1, 300); got.Status != usecase.VoiceAllowed {
			t.Errorf("expected 300s allowed on tier 1, got %+v", got)
		}
	})

	t.Run("should fall back to the nearest lower configured tier", func(t *testing.T) {
		if got := p.CheckVoice(3, 200); got.Status != usecase.VoiceAllowed || got.LimitSeconds != 300 {
			t.Errorf("expected tier 3 to inherit tier 1, got %+v", got)
		}
		if p.CheckCustomRoles(3) != usecase.CapabilityAllowed {
			t.Error("expected custom roles on tier 3")
		}
	})

	t.Run("should gate features by tier", func(t *testing.T) {
		checks := map[string]func(model.Tier) usecase.CapabilityStatus{
			"file upload":       p.CheckFileUpload,
			"custom roles":      p.CheckCustomRoles,
			"image generation":  p.CheckImageGeneration,
			"doc answers":       p.CheckDocAnswers,
			"image file output": p.CheckImageFileOutput,
		}
		for name, check := range checks {
			if check(0) != usecase.CapabilityNotAllowedByTier {
				t.Errorf("%s: expected denied on free", name)
			}
			if check(1) != usecase.CapabilityAllowed {
				t.Errorf("%s: expected allowed on tier 1", name)
			}
		}
	})

	t.Run("should count photo uploads against the free limit", func(t *testing.T) {
		pp, err := p.CheckImageUpload(ctx, "user-1", 0)
		if err != nil || pp.Status != usecase.PhotoAllowed {
			t.Fatalf("expected allowed, got %+v / %v", pp, err)
		}
		f.counter.Set(f.windowKey("user-1", model.ClassImageUpload, 0), 3, 0)
		pp, _ = p.CheckImageUpload(ctx, "user-1", 0)
		if pp.Status != usecase.PhotoLimitExceeded || pp.Limit != 3 {
			t.Errorf("expected limit exceeded, got %+v", pp)
		}
		pp, _ = p.CheckImageUpload(ctx, "user-1", 1)
		if pp.Status != usecase.PhotoAllowed {
			t.Errorf("expected unlimited uploads on tier 1, got %+v", pp)
		}
	})

	t.Run("should deny everything with an empty capability table", func(t *testing.T) {
		bare := usecase.NewPermissionUseCase(f.usage, f.limits, f.chain, nil, newTestLogger())
		if bare.CheckVoice(1, 1).Status != usecase.VoiceNotAllowedByTier {
			t.Error("expected voice denied")
		}
		pp, _ := bare.CheckImageUpload(ctx, "user-1", 1)
		if pp.Status != usecase.PhotoNotAllowedByTier {
			t.Error("expected photos denied")
		}
	})
}

func TestDebitChain(t *testing.T) {
	ctx := context.Background()
	paid := func() usecase.DebitRequest {
		return usecase.DebitRequest{RequestID: "r-1", UserID: "user-1", Tier: 1, SubscriptionID: strPtr("sub-1"), Class: classText, Cost: 1}
	}

	t.Run("should try subscription then packet then free", func(t *testing.T) {
		f := newMeteringFixture()
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-1", UserID: "user-1", Class: classText, Remaining: 1})
		f.counter.Set(f.windowKey("user-1", classText, 1), 99, 0)

		want := []model.UsageSource{model.UsageSourceSubscription, model.UsageSourcePacket, model.UsageSourceFree}
		for i, src := range want {
			res, err := f.chain.Debit(ctx, paid())
			if err != nil || !res.Accepted {
				t.Fatalf("debit %d: expected accepted, got %+v / %v", i, res, err)
			}
			if res.Source != src {
				t.Fatalf("debit %d: expected source %s, got %s", i, src, res.Source)
			}
		}
		if f.events.Count() != 3 {
			t.Errorf("expected 3 usage events, got %d", f.events.Count())
		}
	})

	t.Run("should reject once every source is exhausted", func(t *testing.T) {
		f := newMeteringFixture()
		f.counter.Set(f.windowKey("user-1", classText, 1), 100, 0)
		f.counter.Set(f.windowKey("user-1", classText, 0), 5, 0)

		res, err := f.chain.Debit(ctx, paid())
		if err != nil || res.Accepted {
			t.Fatalf("expected a plain rejection, got %+v / %v", res, err)
		}
		ok, _ := f.chain.CanCover(ctx, paid())
		if ok {
			t.Error("expected CanCover to agree with the rejection")
		}
		if f.events.Count() != 0 {
			t.Error("expected no usage event for a rejection")
		}
	})

	t.Run("should skip a window whose token budget is spent", func(t *testing.T) {
		// --- Arrange ---
		f := newMeteringFixture()
		subKey := f.windowKey("user-1", classText, 1)
		f.counter.Set(subKey, 1, 100000)

		// --- Act ---
		ok, err := f.chain.CanCover(ctx, paid())
		if err != nil {
			t.Fatalf("CanCover: %v", err)
		}
		res, err := f.chain.Debit(ctx, paid())

		// --- Assert ---
		if err != nil || !res.Accepted {
			t.Fatalf("expected the free window to fund it, got %+v / %v", res, err)
		}
		if !ok {
			t.Error("expected CanCover to agree with the debit")
		}
		if res.Source != model.UsageSourceFree {
			t.Errorf("expected source free, got %s", res.Source)
		}
		snap, _ := f.counter.Snapshot(ctx, subKey)
		if snap.Units != 1 {
			t.Errorf("expected the subscription window untouched, got %d units", snap.Units)
		}
	})

	t.Run("should reject when every window is out of tokens", func(t *testing.T) {
		f := newMeteringFixture()
		f.counter.Set(f.windowKey("user-1", classText, 1), 1, 100000)
		f.counter.Set(f.windowKey("user-1", classText, 0), 1, 10000)

		res, err := f.chain.Debit(ctx, paid())
		if err != nil || res.Accepted {
			t.Fatalf("expected a plain rejection, got %+v / %v", res, err)
		}
		if ok, _ := f.chain.CanCover(ctx, paid()); ok {
			t.Error("expected CanCover to agree with the rejection")
		}
	})

	t.Run("should stop on a store failure without charging", func(t *testing.T) {
		f := newMeteringFixture()
		boom := errors.New("redis down")
		f.counter.TryConsumeFunc = func(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error) {
			return model.ConsumeResult{}, boom
		}
		_ = f.balances.Create(ctx, repository.NoTX, &model.PrepaidBalance{ID: "b-1", UserID: "user-1", Class: classText, Remaining: 5})

		if _, err := f.chain.Debit(ctx, paid()); !errors.Is(err, boom) {
			t.Fatalf("expected the store error, got %v", err)
		}
		if f.balances.Remaining("b-1") != 5 {
			t.Error("expected the packet untouched after a failure")
		}
	})

	t.Run("should reject a non positive cost", func(t *testing.T) {
		f := newMeteringFixture()
		req := paid()
		req.Cost = 0
		if _, err := f.chain.Debit(ctx, req); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should keep debiting when the audit write fails", func(t *testing.T) {
		f := newMeteringFixture()
		f.events.AddFunc = func(ctx context.Context, tx repository.Tx, e *model.UsageEvent) error {
			return errors.New("insert failed")
		}
		res, err := f.chain.Debit(ctx, paid())
		if err != nil || !res.Accepted {
			t.Fatalf("expected accepted, got %+v / %v", res, err)
		}
	})
}
