// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// RenewalOutcome tells the scheduler what a single pass did to a subscription.
type RenewalOutcome string

const (
	OutcomeNoop     RenewalOutcome = "noop"     // state changed elsewhere or not due yet
	OutcomeCharged  RenewalOutcome = "charged"  // a recurring charge was issued
	OutcomePending  RenewalOutcome = "pending"  // a charge is already in flight
	OutcomeGrace    RenewalOutcome = "grace"    // Stars subscription waiting for Telegram
	OutcomeCanceled RenewalOutcome = "canceled" // auto-renew was off
	OutcomeExpired  RenewalOutcome = "expired"
)

// SubscriptionUseCase drives the subscription state machine. Every method
// re-reads the row under lock and checks its status before acting, so a
// repeated call after a crash or an overlapping run is a no-op.
type SubscriptionUseCase interface {
	// Renew handles an ACTIVE subscription whose period has ended.
	Renew(ctx context.Context, subID string) (RenewalOutcome, error)
	// RetryPastDue handles a PAST_DUE subscription whose renews_at elapsed.
	RetryPastDue(ctx context.Context, subID string) (RenewalOutcome, error)

	// ApplyPaymentSucceeded runs inside the caller's transaction after the
	// payment was moved to SUCCEEDED and the invoice to PAID.
	ApplyPaymentSucceeded(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment, method *model.PaymentMethod) (*model.Subscription, error)
	// ApplyPaymentCanceled runs inside the caller's transaction after the
	// payment was moved to CANCELED or FAILED.
	ApplyPaymentCanceled(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment) (*model.Subscription, error)

	DisableAutoRenew(ctx context.Context, userID string) (int, error)
	// Current returns the highest-tier live subscription, or nil for free users.
	Current(ctx context.Context, userID string) (*model.Subscription, error)
}

type subscriptionUC struct {
	subs      repository.SubscriptionRepository
	plans     repository.PlanRepository
	invoices  repository.InvoiceRepository
	payments  repository.PaymentRepository
	methods   repository.PaymentMethodRepository
	gateway   adapter.PaymentGateway
	tm        repository.TransactionManager
	retries   []time.Duration
	returnURL string
	now       func() time.Time
	log       *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	invoices repository.InvoiceRepository,
	payments repository.PaymentRepository,
	methods repository.PaymentMethodRepository,
	gateway adapter.PaymentGateway,
	tm repository.TransactionManager,
	retries []time.Duration,
	returnURL string,
	logger *zerolog.Logger,
) *subscriptionUC {
	if len(retries) == 0 {
		retries = model.RenewalRetryIntervals
	}
	l := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &subscriptionUC{
		subs:      subs,
		plans:     plans,
		invoices:  invoices,
		payments:  payments,
		methods:   methods,
		gateway:   gateway,
		tm:        tm,
		retries:   retries,
		returnURL: returnURL,
		now:       time.Now,
		log:       &l,
	}
}

// WithClock replaces the time source.
func (u *subscriptionUC) WithClock(now func() time.Time) *subscriptionUC {
	u.now = now
	return u
}

// pendingCharge is what a locked pass prepared for the gateway call that
// happens after commit.
type pendingCharge struct {
	sub     *model.Subscription
	invoice *model.Invoice
	payment *model.Payment
	method  *model.PaymentMethod
}

func (u *subscriptionUC) Renew(ctx context.Context, subID string) (RenewalOutcome, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.Renew")()

	var (
		outcome = OutcomeNoop
		charge  *pendingCharge
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := u.now()
		sub, err := u.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusActive || sub.PeriodEnd.After(now) {
			return nil
		}

		switch {
		case !sub.WillRenew:
			outcome = OutcomeCanceled
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusCanceled)
		case sub.StarsBilled():
			// Telegram charges Stars subscriptions itself; wait for it.
			grace := sub.PeriodEnd.Add(model.StarsGracePeriod)
			sub.RenewsAt = &grace
			outcome = OutcomeGrace
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusPastDue)
		case !sub.HasPaymentMethod():
			outcome = OutcomeExpired
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusExpired)
		}

		if err := u.transition(sub, model.SubscriptionStatusPastDue); err != nil {
			return err
		}
		prev, err := u.invoices.FindLatestBySubscription(ctx, tx, sub.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		inv, err := u.newRenewalInvoice(ctx, tx, sub, prev)
		if err != nil {
			return err
		}
		charge, err = u.prepareCharge(ctx, tx, sub, inv)
		if err != nil {
			return err
		}
		outcome = OutcomeCharged
		return nil
	})
	if err != nil {
		return OutcomeNoop, err
	}
	if charge != nil {
		u.issueCharge(ctx, charge)
	}
	return outcome, nil
}

func (u *subscriptionUC) RetryPastDue(ctx context.Context, subID string) (RenewalOutcome, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RetryPastDue")()

	var (
		outcome = OutcomeNoop
		charge  *pendingCharge
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := u.now()
		sub, err := u.subs.FindByID(ctx, tx, subID)
		if err != nil {
			return err
		}
		if sub.Status != model.SubscriptionStatusPastDue {
			return nil
		}
		if sub.RenewsAt != nil && sub.RenewsAt.After(now) {
			return nil
		}

		switch {
		case sub.StarsBilled():
			// grace window is over and Telegram never charged
			outcome = OutcomeExpired
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusExpired)
		case !sub.WillRenew:
			outcome = OutcomeCanceled
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusCanceled)
		case !sub.HasPaymentMethod():
			outcome = OutcomeExpired
			return u.moveTo(ctx, tx, sub, model.SubscriptionStatusExpired)
		}

		inv, err := u.invoices.FindLatestBySubscription(ctx, tx, sub.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if inv == nil || inv.Reason != model.InvoiceReasonRenewal || inv.Status == model.InvoiceStatusPaid {
			// the open cycle has no invoice yet
			if inv, err = u.newRenewalInvoice(ctx, tx, sub, inv); err != nil {
				return err
			}
		} else {
			pending, err := u.payments.FindPendingByInvoice(ctx, tx, inv.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if pending != nil {
				outcome = OutcomePending
				return nil
			}
		}

		charge, err = u.prepareCharge(ctx, tx, sub, inv)
		if err != nil {
			return err
		}
		outcome = OutcomeCharged
		return nil
	})
	if err != nil {
		return OutcomeNoop, err
	}
	if charge != nil {
		u.issueCharge(ctx, charge)
	}
	return outcome, nil
}

// renewalPlan is the plan a renewal charges: trials renew into their base plan.
func (u *subscriptionUC) renewalPlan(ctx context.Context, tx repository.Tx, sub *model.Subscription) (*model.Plan, error) {
	plan, err := u.plans.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %s of subscription %s: %v", domain.ErrDataIntegrity, sub.PlanID, sub.ID, err)
	}
	if plan.Kind == model.PlanKindTrial && plan.RenewsIntoPlanID != nil {
		base, err := u.plans.FindByID(ctx, tx, *plan.RenewsIntoPlanID)
		if err != nil {
			return nil, fmt.Errorf("%w: base plan %s of trial %s: %v", domain.ErrDataIntegrity, *plan.RenewsIntoPlanID, plan.ID, err)
		}
		return base, nil
	}
	return plan, nil
}

func (u *subscriptionUC) newRenewalInvoice(ctx context.Context, tx repository.Tx, sub *model.Subscription, prev *model.Invoice) (*model.Invoice, error) {
	plan, err := u.renewalPlan(ctx, tx, sub)
	if err != nil {
		return nil, err
	}
	cycle := 0
	if prev != nil {
		cycle = prev.CycleIndex + 1
	}
	now := u.now()
	planID, subID := plan.ID, sub.ID
	inv := &model.Invoice{
		ID:             uuid.NewString(),
		PublicID:       newPublicID(),
		UserID:         sub.UserID,
		PlanID:         &planID,
		SubscriptionID: &subID,
		Reason:         model.InvoiceReasonRenewal,
		Status:         model.InvoiceStatusCreated,
		CycleIndex:     cycle,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.invoices.Save(ctx, tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// prepareCharge writes the PENDING payment and flips the subscription to
// PROCESS_RETRY in the same transaction, so no second charge can start.
func (u *subscriptionUC) prepareCharge(ctx context.Context, tx repository.Tx, sub *model.Subscription, inv *model.Invoice) (*pendingCharge, error) {
	method, err := u.methods.FindByID(ctx, tx, *sub.PaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("%w: payment method %s: %v", domain.ErrDataIntegrity, *sub.PaymentMethodID, err)
	}
	now := u.now()
	pay := &model.Payment{
		ID:        uuid.NewString(),
		InvoiceID: inv.ID,
		UserID:    sub.UserID,
		Provider:  model.PaymentProviderGateway,
		Amount:    inv.Amount,
		Currency:  inv.Currency,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.payments.Save(ctx, tx, pay); err != nil {
		return nil, err
	}
	if err := u.moveTo(ctx, tx, sub, model.SubscriptionStatusProcessRetry); err != nil {
		return nil, err
	}
	return &pendingCharge{sub: sub, invoice: inv, payment: pay, method: method}, nil
}

// issueCharge calls the gateway outside any transaction. The outcome is
// applied by the webhook; here we only record the provider id, or give up
// on a definite refusal.
func (u *subscriptionUC) issueCharge(ctx context.Context, c *pendingCharge) {
	log := u.log.With().Str("subscription_id", c.sub.ID).Str("payment_id", c.payment.ID).Logger()

	created, err := u.gateway.CreateRecurrentPayment(ctx, adapter.RecurrentPaymentRequest{
		Amount:          c.payment.Amount,
		Currency:        c.payment.Currency,
		Description:     fmt.Sprintf("Subscription renewal #%d", c.invoice.CycleIndex),
		PaymentMethodID: c.method.Token,
		ReturnURL:       u.returnURL,
		InvoiceID:       c.invoice.PublicID,
		IdempotenceKey:  c.payment.ID,
	})
	switch {
	case err == nil:
		metrics.IncPayment(string(model.PaymentProviderGateway), "initiated")
		if err := u.payments.SetProviderPaymentID(ctx, repository.NoTX, c.payment.ID, created.ID); err != nil {
			// the reconciler will find the payment by idempotence key
			log.Error().Err(err).Str("provider_payment_id", created.ID).Msg("failed to store provider payment id")
		}
		return
	case errors.Is(err, domain.ErrGatewayAmbiguous) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// the charge may exist; leave it pending for the webhook or the reconciler
		log.Warn().Err(err).Msg("recurring charge outcome unknown")
		return
	}

	log.Error().Err(err).Msg("recurring charge refused by gateway")
	metrics.IncPayment(string(model.PaymentProviderGateway), "failed")
	c.payment.FailureCode = string(model.CancelGatewayError)
	c.payment.FailureReason = err.Error()
	if resolveErr := c.payment.Resolve(model.PaymentStatusFailed, u.now()); resolveErr != nil {
		log.Error().Err(resolveErr).Msg("cannot resolve payment")
		return
	}
	txErr := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.payments.UpdateStatusIfPending(ctx, tx, c.payment)
		if err != nil || !ok {
			return err
		}
		inv, err := u.invoices.FindByID(ctx, tx, c.invoice.ID)
		if err != nil {
			return err
		}
		if inv.Status.CanTransitionTo(model.InvoiceStatusFailed) {
			_ = inv.TransitionTo(model.InvoiceStatusFailed)
			inv.UpdatedAt = u.now()
			if err := u.invoices.Save(ctx, tx, inv); err != nil {
				return err
			}
		}
		_, err = u.ApplyPaymentCanceled(ctx, tx, inv, c.payment)
		return err
	})
	if txErr != nil {
		log.Error().Err(txErr).Msg("failed to record refused charge")
	}
}

func (u *subscriptionUC) ApplyPaymentSucceeded(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment, method *model.PaymentMethod) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ApplyPaymentSucceeded")()

	switch inv.Reason {
	case model.InvoiceReasonInitial:
		return u.applyInitial(ctx, tx, inv, pay, method)
	case model.InvoiceReasonRenewal:
		return u.applyRenewal(ctx, tx, inv, pay)
	case model.InvoiceReasonRebind:
		return u.applyRebind(ctx, tx, inv, method)
	}
	return nil, nil
}

func (u *subscriptionUC) applyInitial(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment, method *model.PaymentMethod) (*model.Subscription, error) {
	if inv.PlanID == nil {
		return nil, fmt.Errorf("%w: initial invoice %s has no plan", domain.ErrDataIntegrity, inv.ID)
	}
	plan, err := u.plans.FindByID(ctx, tx, *inv.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %s of invoice %s: %v", domain.ErrDataIntegrity, *inv.PlanID, inv.ID, err)
	}
	paidAt := u.now()
	if pay.CompletedAt != nil {
		paidAt = *pay.CompletedAt
	}

	existing, err := u.subs.FindLiveByUserAndTier(ctx, tx, inv.UserID, plan.Tier)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		from := existing.Status
		if existing.PeriodEnd.Before(paidAt) {
			// a lapsed period restarts at purchase time
			existing.PeriodEnd = paidAt
		}
		if err := existing.Extend(plan.Period()); err != nil {
			return nil, err
		}
		existing.PlanID = plan.ID
		if pay.Provider != existing.Provider {
			// renewals follow the provider of the latest purchase
			u.log.Info().Str("subscription_id", existing.ID).Str("from", string(existing.Provider)).Str("to", string(pay.Provider)).Msg("subscription billing provider switched")
			existing.Provider = pay.Provider
			existing.PaymentMethodID = nil
			existing.WillRenew = pay.Provider == model.PaymentProviderTelegramStars && plan.StarsRecurring()
		}
		if method != nil {
			id := method.ID
			existing.PaymentMethodID = &id
			existing.WillRenew = true
		}
		existing.UpdatedAt = paidAt
		if err := u.subs.Save(ctx, tx, existing); err != nil {
			return nil, err
		}
		metrics.IncSubscriptionTransition(string(from), string(existing.Status))
		subID := existing.ID
		inv.SubscriptionID = &subID
		u.log.Info().Str("subscription_id", existing.ID).Str("user_id", existing.UserID).Time("period_end", existing.PeriodEnd).Msg("subscription extended by purchase")
		return existing, nil
	}

	sub, err := model.NewSubscription(uuid.NewString(), inv.UserID, plan, paidAt)
	if err != nil {
		return nil, err
	}
	anchor := pay.ID
	sub.AnchorPaymentID = &anchor
	sub.Provider = pay.Provider
	if method != nil {
		id := method.ID
		sub.PaymentMethodID = &id
	}
	sub.WillRenew = method != nil || (pay.Provider == model.PaymentProviderTelegramStars && plan.StarsRecurring())
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	metrics.IncSubscriptionTransition("", string(sub.Status))
	subID := sub.ID
	inv.SubscriptionID = &subID
	u.log.Info().Str("subscription_id", sub.ID).Str("user_id", sub.UserID).Int("tier", int(sub.Tier)).Msg("subscription created")
	return sub, nil
}

func (u *subscriptionUC) applyRenewal(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment) (*model.Subscription, error) {
	if inv.SubscriptionID == nil {
		return nil, fmt.Errorf("%w: renewal invoice %s has no subscription", domain.ErrDataIntegrity, inv.ID)
	}
	sub, err := u.subs.FindByID(ctx, tx, *inv.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s of invoice %s: %v", domain.ErrDataIntegrity, *inv.SubscriptionID, inv.ID, err)
	}
	if sub.Status.Terminal() {
		// money arrived after the subscription ended; leave it for support
		u.log.Error().Str("subscription_id", sub.ID).Str("payment_id", pay.ID).Str("status", string(sub.Status)).Msg("renewal paid for a closed subscription")
		return sub, nil
	}

	planID := sub.PlanID
	if inv.PlanID != nil {
		planID = *inv.PlanID
	}
	plan, err := u.plans.FindByID(ctx, tx, planID)
	if err != nil {
		return nil, fmt.Errorf("%w: plan %s of invoice %s: %v", domain.ErrDataIntegrity, planID, inv.ID, err)
	}

	from := sub.Status
	if err := sub.Extend(plan.Period()); err != nil {
		return nil, err
	}
	sub.PlanID = plan.ID
	if sub.AnchorPaymentID == nil {
		anchor := pay.ID
		sub.AnchorPaymentID = &anchor
	}
	sub.UpdatedAt = u.now()
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	metrics.IncSubscriptionTransition(string(from), string(sub.Status))
	u.log.Info().Str("subscription_id", sub.ID).Int("cycle", inv.CycleIndex).Time("period_end", sub.PeriodEnd).Msg("subscription renewed")
	return sub, nil
}

func (u *subscriptionUC) applyRebind(ctx context.Context, tx repository.Tx, inv *model.Invoice, method *model.PaymentMethod) (*model.Subscription, error) {
	if inv.SubscriptionID == nil {
		return nil, fmt.Errorf("%w: rebind invoice %s has no subscription", domain.ErrDataIntegrity, inv.ID)
	}
	sub, err := u.subs.FindByID(ctx, tx, *inv.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s of invoice %s: %v", domain.ErrDataIntegrity, *inv.SubscriptionID, inv.ID, err)
	}
	if sub.Status.Terminal() {
		u.log.Warn().Str("subscription_id", sub.ID).Msg("rebind paid for a closed subscription")
		return sub, nil
	}
	if method == nil {
		u.log.Warn().Str("subscription_id", sub.ID).Str("invoice_id", inv.ID).Msg("rebind succeeded without a saved payment method")
		return sub, nil
	}
	id := method.ID
	sub.PaymentMethodID = &id
	sub.WillRenew = true
	sub.Provider = model.PaymentProviderGateway
	sub.UpdatedAt = u.now()
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", sub.ID).Msg("payment method rebound")
	return sub, nil
}

func (u *subscriptionUC) ApplyPaymentCanceled(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment) (*model.Subscription, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ApplyPaymentCanceled")()

	if inv.Reason != model.InvoiceReasonRenewal || inv.SubscriptionID == nil {
		return nil, nil
	}
	sub, err := u.subs.FindByID(ctx, tx, *inv.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s of invoice %s: %v", domain.ErrDataIntegrity, *inv.SubscriptionID, inv.ID, err)
	}
	if sub.Status != model.SubscriptionStatusPastDue && sub.Status != model.SubscriptionStatusProcessRetry {
		return sub, nil
	}

	reason := model.CancellationReason(pay.FailureCode)
	if !reason.Recoverable() {
		u.log.Info().Str("subscription_id", sub.ID).Str("reason", string(reason)).Msg("renewal declined, expiring")
		return sub, u.moveTo(ctx, tx, sub, model.SubscriptionStatusExpired)
	}

	failed, err := u.payments.CountByInvoiceAndStatus(ctx, tx, inv.ID, model.PaymentStatusCanceled, model.PaymentStatusFailed)
	if err != nil {
		return nil, err
	}
	// the count already includes pay itself
	delay, ok := model.NextRetry(u.retries, failed-1)
	if !ok {
		u.log.Info().Str("subscription_id", sub.ID).Int("attempts", failed).Msg("renewal retries exhausted")
		return sub, u.moveTo(ctx, tx, sub, model.SubscriptionStatusExpired)
	}
	next := pay.CreatedAt.Add(delay)
	sub.RenewsAt = &next
	u.log.Info().Str("subscription_id", sub.ID).Str("reason", string(reason)).Time("renews_at", next).Msg("renewal retry scheduled")
	return sub, u.moveTo(ctx, tx, sub, model.SubscriptionStatusPastDue)
}

// DisableAutoRenew stops renewal of every live subscription of the user
// and unbinds the stored card. The paid period runs to its end.
func (u *subscriptionUC) DisableAutoRenew(ctx context.Context, userID string) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.DisableAutoRenew")()

	n := 0
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		live, err := u.subs.FindLiveByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		var unbound []string
		for _, s := range live {
			if !s.WillRenew && s.PaymentMethodID == nil {
				continue
			}
			if s.PaymentMethodID != nil {
				unbound = append(unbound, *s.PaymentMethodID)
			}
			s.WillRenew = false
			s.PaymentMethodID = nil
			s.UpdatedAt = u.now()
			if err := u.subs.Save(ctx, tx, s); err != nil {
				return err
			}
			n++
		}
		for _, id := range unbound {
			if err := u.methods.Delete(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && n > 0 {
		u.log.Info().Str("user_id", userID).Int("subscriptions", n).Msg("auto renew disabled, card unbound")
	}
	return n, err
}

func (u *subscriptionUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	live, err := u.subs.FindLiveByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}
	return live[0], nil
}

func (u *subscriptionUC) transition(sub *model.Subscription, next model.SubscriptionStatus) error {
	from := sub.Status
	if err := sub.TransitionTo(next); err != nil {
		return err
	}
	sub.UpdatedAt = u.now()
	if from != next {
		metrics.IncSubscriptionTransition(string(from), string(next))
	}
	return nil
}

func (u *subscriptionUC) moveTo(ctx context.Context, tx repository.Tx, sub *model.Subscription, next model.SubscriptionStatus) error {
	if err := u.transition(sub, next); err != nil {
		return err
	}
	return u.subs.Save(ctx, tx, sub)
}

// newPublicID is the opaque, time-ordered invoice token shared with gateways.
func newPublicID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
