// File: internal/usecase/payment_uc.go
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
var _ PaymentUseCase = (*paymentUC)(nil)

// starsSubscriptionPeriod is the only period Telegram supports for Stars subscriptions.
const starsSubscriptionPeriod = 30 * 24 * 60 * 60

// Checkout is what the bot shows the user to pay an invoice.
type Checkout struct {
	Invoice *model.Invoice
	URL     string
}

// WebhookResult says how an inbound notification was handled. Every result
// is acknowledged to the sender.
type WebhookResult string

const (
	WebhookApplied WebhookResult = "applied"
	WebhookReplay  WebhookResult = "replay"  // already in a final state
	WebhookIgnored WebhookResult = "ignored" // non-final gateway status
	WebhookUnknown WebhookResult = "unknown" // no matching payment
)

// TelegramPaymentEvent is a Stars successful_payment update.
type TelegramPaymentEvent struct {
	UserID           string
	Payload          string // invoice public id
	Currency         string
	TotalAmount      int64
	ChargeID         string // telegram_payment_charge_id
	ProviderChargeID string
}

type PaymentOptions struct {
	ReturnURL      string
	RebindAmount   int64
	RebindCurrency string
	VerifyWebhooks bool // re-fetch the payment from the gateway before trusting a webhook body
	StaleBatch     int
}

type ReconcileReport struct {
	Reissued int
	Resolved int
	Refused  int // re-issues the gateway definitely declined, settled as FAILED
	Failed   int
}

type PaymentUseCase interface {
	StartCheckout(ctx context.Context, userID, planID string, provider model.PaymentProvider) (*Checkout, error)
	StartRebind(ctx context.Context, userID string) (*Checkout, error)
	StartPacketPurchase(ctx context.Context, userID, packetID string, provider model.PaymentProvider) (*Checkout, error)

	HandleGatewayEvent(ctx context.Context, ev *adapter.GatewayPayment) (WebhookResult, error)
	ValidatePreCheckout(ctx context.Context, payload, currency string, amount int64) error
	HandleTelegramPayment(ctx context.Context, ev TelegramPaymentEvent) (WebhookResult, error)

	ReconcileStale(ctx context.Context, olderThan time.Time) (ReconcileReport, error)
}

type paymentUC struct {
	invoices  repository.InvoiceRepository
	payments  repository.PaymentRepository
	methods   repository.PaymentMethodRepository
	plans     repository.PlanRepository
	packets   repository.PacketRepository
	balances  repository.PrepaidBalanceRepository
	subs      repository.SubscriptionRepository
	lifecycle SubscriptionUseCase
	gateway   adapter.PaymentGateway
	bot       adapter.TelegramBotAdapter
	tm        repository.TransactionManager
	opts      PaymentOptions
	notifier  NotificationUseCase
	now       func() time.Time
	log       *zerolog.Logger
}

func NewPaymentUseCase(
	invoices repository.InvoiceRepository,
	payments repository.PaymentRepository,
	methods repository.PaymentMethodRepository,
	plans repository.PlanRepository,
	packets repository.PacketRepository,
	balances repository.PrepaidBalanceRepository,
	subs repository.SubscriptionRepository,
	lifecycle SubscriptionUseCase,
	gateway adapter.PaymentGateway,
	bot adapter.TelegramBotAdapter,
	tm repository.TransactionManager,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.StaleBatch <= 0 {
		opts.StaleBatch = 100
	}
	l := logger.With().Str("component", "PaymentUseCase").Logger()
	return &paymentUC{
		invoices:  invoices,
		payments:  payments,
		methods:   methods,
		plans:     plans,
		packets:   packets,
		balances:  balances,
		subs:      subs,
		lifecycle: lifecycle,
		gateway:   gateway,
		bot:       bot,
		tm:        tm,
		opts:      opts,
		now:       time.Now,
		log:       &l,
	}
}

// WithClock replaces the time source.
func (u *paymentUC) WithClock(now func() time.Time) *paymentUC {
	u.now = now
	return u
}

// WithNotifier tells users about applied payments.
func (u *paymentUC) WithNotifier(n NotificationUseCase) *paymentUC {
	u.notifier = n
	return u
}

// notify runs after commit only.
func (u *paymentUC) notify(ctx context.Context, settled *model.Invoice, failedRenewal string) {
	if u.notifier == nil {
		return
	}
	if settled != nil {
		u.notifier.PaymentSucceeded(ctx, settled.UserID, settled.Reason)
	}
	if failedRenewal != "" {
		u.notifier.PaymentFailed(ctx, failedRenewal)
	}
}

// -----------------------------
// Checkout
// -----------------------------

func (u *paymentUC) StartCheckout(ctx context.Context, userID, planID string, provider model.PaymentProvider) (*Checkout, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartCheckout")()

	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Visible {
		return nil, domain.ErrNotFound
	}
	inv := u.newInvoice(userID, model.InvoiceReasonInitial, plan.Price, plan.Currency, plan.StarsPrice)
	pid := plan.ID
	inv.PlanID = &pid

	title := fmt.Sprintf("Subscription %s", plan.Name)
	switch provider {
	case model.PaymentProviderTelegramStars:
		period := 0
		if plan.StarsRecurring() {
			period = starsSubscriptionPeriod
		}
		return u.starsCheckout(ctx, inv, title, period)
	case model.PaymentProviderGateway:
		return u.gatewayCheckout(ctx, inv, title)
	}
	return nil, domain.ErrUnknownProvider
}

func (u *paymentUC) StartRebind(ctx context.Context, userID string) (*Checkout, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartRebind")()

	sub, err := u.lifecycle.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.StarsBilled() {
		return nil, domain.ErrNoActiveSubscription
	}
	inv := u.newInvoice(userID, model.InvoiceReasonRebind, u.opts.RebindAmount, u.opts.RebindCurrency, 0)
	subID, planID := sub.ID, sub.PlanID
	inv.SubscriptionID = &subID
	inv.PlanID = &planID
	return u.gatewayCheckout(ctx, inv, "Payment method update")
}

func (u *paymentUC) StartPacketPurchase(ctx context.Context, userID, packetID string, provider model.PaymentProvider) (*Checkout, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartPacketPurchase")()

	pk, err := u.packets.FindByID(ctx, repository.NoTX, packetID)
	if err != nil {
		return nil, err
	}
	if !pk.Visible {
		return nil, domain.ErrNotFound
	}
	inv := u.newInvoice(userID, model.InvoiceReasonPacket, pk.Price, pk.Currency, pk.StarsPrice)
	id := pk.ID
	inv.PacketID = &id

	title := fmt.Sprintf("Packet %s", pk.Name)
	switch provider {
	case model.PaymentProviderTelegramStars:
		return u.starsCheckout(ctx, inv, title, 0)
	case model.PaymentProviderGateway:
		return u.gatewayCheckout(ctx, inv, title)
	}
	return nil, domain.ErrUnknownProvider
}

func (u *paymentUC) newInvoice(userID string, reason model.InvoiceReason, amount int64, currency string, stars int64) *model.Invoice {
	now := u.now()
	return &model.Invoice{
		ID:          uuid.NewString(),
		PublicID:    newPublicID(),
		UserID:      userID,
		Reason:      reason,
		Status:      model.InvoiceStatusCreated,
		Amount:      amount,
		Currency:    currency,
		StarsAmount: stars,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (u *paymentUC) starsCheckout(ctx context.Context, inv *model.Invoice, title string, period int) (*Checkout, error) {
	if inv.StarsAmount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if err := u.invoices.Save(ctx, repository.NoTX, inv); err != nil {
		return nil, err
	}
	link, err := u.bot.CreateStarsInvoiceLink(ctx, adapter.StarsInvoice{
		Title:                     title,
		Description:               title,
		Payload:                   inv.PublicID,
		Amount:                    inv.StarsAmount,
		SubscriptionPeriodSeconds: period,
	})
	if err != nil {
		u.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("stars invoice link failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}
	metrics.IncPayment(string(model.PaymentProviderTelegramStars), "initiated")
	return &Checkout{Invoice: inv, URL: link}, nil
}

// gatewayCheckout stores the invoice and a PENDING payment before calling
// the gateway, so a lost response can still be matched by idempotence key.
func (u *paymentUC) gatewayCheckout(ctx context.Context, inv *model.Invoice, description string) (*Checkout, error) {
	if inv.Amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	pay := u.newPayment(inv, model.PaymentProviderGateway)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.invoices.Save(ctx, tx, inv); err != nil {
			return err
		}
		return u.payments.Save(ctx, tx, pay)
	})
	if err != nil {
		return nil, err
	}

	created, err := u.gateway.CreatePayment(ctx, adapter.CreatePaymentRequest{
		Amount:         inv.Amount,
		Currency:       inv.Currency,
		Description:    description,
		ReturnURL:      u.opts.ReturnURL,
		InvoiceID:      inv.PublicID,
		IdempotenceKey: pay.ID,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGatewayAmbiguous) {
			_ = u.failPayment(ctx, pay.ID, model.CancelGatewayError, err)
		}
		u.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("gateway payment creation failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentCreation, err)
	}
	if err := u.payments.SetProviderPaymentID(ctx, repository.NoTX, pay.ID, created.ID); err != nil {
		u.log.Error().Err(err).Str("payment_id", pay.ID).Msg("failed to store provider payment id")
	}
	metrics.IncPayment(string(model.PaymentProviderGateway), "initiated")
	return &Checkout{Invoice: inv, URL: created.ConfirmationURL}, nil
}

func (u *paymentUC) newPayment(inv *model.Invoice, provider model.PaymentProvider) *model.Payment {
	now := u.now()
	p := &model.Payment{
		ID:        uuid.NewString(),
		InvoiceID: inv.ID,
		UserID:    inv.UserID,
		Provider:  provider,
		Amount:    inv.Amount,
		Currency:  inv.Currency,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if provider == model.PaymentProviderTelegramStars {
		p.Amount = inv.StarsAmount
		p.Currency = model.CurrencyStars
	}
	return p
}

// failPayment records a definite refusal of a charge. For a renewal the
// subscription leaves PROCESS_RETRY through the usual decline handling.
func (u *paymentUC) failPayment(ctx context.Context, paymentID string, reason model.CancellationReason, cause error) error {
	applied := false
	provider := model.PaymentProviderGateway
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status.Final() {
			return nil
		}
		provider = p.Provider
		p.FailureCode = string(reason)
		p.FailureReason = cause.Error()
		if err := p.Resolve(model.PaymentStatusFailed, u.now()); err != nil {
			return err
		}
		ok, err := u.payments.UpdateStatusIfPending(ctx, tx, p)
		if err != nil || !ok {
			return err
		}
		inv, err := u.invoices.FindByID(ctx, tx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("%w: invoice %s of payment %s: %v", domain.ErrDataIntegrity, p.InvoiceID, p.ID, err)
		}
		if inv.Status.CanTransitionTo(model.InvoiceStatusFailed) {
			_ = inv.TransitionTo(model.InvoiceStatusFailed)
			inv.UpdatedAt = u.now()
			if err := u.invoices.Save(ctx, tx, inv); err != nil {
				return err
			}
		}
		if _, err := u.lifecycle.ApplyPaymentCanceled(ctx, tx, inv, p); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		u.log.Error().Err(err).Str("payment_id", paymentID).Msg("failed to mark payment failed")
		return err
	}
	if applied {
		metrics.IncPayment(string(provider), string(model.PaymentStatusFailed))
	}
	return nil
}

// -----------------------------
// Card gateway notifications
// -----------------------------

func (u *paymentUC) HandleGatewayEvent(ctx context.Context, ev *adapter.GatewayPayment) (WebhookResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleGatewayEvent")()
	if ev == nil || ev.ID == "" {
		return "", domain.ErrInvalidArgument
	}
	if u.opts.VerifyWebhooks {
		fresh, err := u.gateway.GetPayment(ctx, ev.ID)
		if err != nil {
			return "", err
		}
		ev = fresh
	}
	res, err := u.applyGatewayPayment(ctx, ev)
	u.countWebhook("gateway", res, err)
	return res, err
}

func (u *paymentUC) applyGatewayPayment(ctx context.Context, ev *adapter.GatewayPayment) (WebhookResult, error) {
	log := u.log.With().Str("provider_payment_id", ev.ID).Str("status", string(ev.Status)).Logger()

	switch ev.Status {
	case adapter.GatewayStatusPending, adapter.GatewayStatusWaitingForCapture:
		return WebhookIgnored, nil
	case adapter.GatewayStatusSucceeded, adapter.GatewayStatusCanceled:
	default:
		log.Warn().Msg("unknown gateway status")
		return WebhookIgnored, nil
	}

	pay, err := u.resolvePayment(ctx, ev)
	if err != nil {
		return "", err
	}
	if pay == nil {
		log.Warn().Str("invoice_public_id", ev.InvoiceID()).Msg("notification for unknown payment")
		return WebhookUnknown, nil
	}

	result := WebhookApplied
	var settled *model.Invoice
	failedRenewal := ""
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, pay.ID)
		if err != nil {
			return err
		}
		if p.Status.Final() {
			result = WebhookReplay
			return nil
		}
		inv, err := u.invoices.FindByID(ctx, tx, p.InvoiceID)
		if err != nil {
			return fmt.Errorf("%w: invoice %s of payment %s: %v", domain.ErrDataIntegrity, p.InvoiceID, p.ID, err)
		}
		p.ProviderPaymentID = ev.ID

		if ev.Status == adapter.GatewayStatusCanceled {
			applied, err := u.cancelInTx(ctx, tx, inv, p, ev.Cancellation)
			if err == nil && !applied {
				result = WebhookReplay
			}
			if applied && inv.Reason == model.InvoiceReasonRenewal {
				failedRenewal = inv.UserID
			}
			return err
		}

		if ev.Amount != p.Amount || (ev.Currency != "" && ev.Currency != p.Currency) {
			return fmt.Errorf("%w: payment %s amount %d %s, expected %d %s",
				domain.ErrDataIntegrity, p.ID, ev.Amount, ev.Currency, p.Amount, p.Currency)
		}
		var method *model.PaymentMethod
		if ev.PaymentMethod != nil && ev.PaymentMethod.Saved && ev.PaymentMethod.ID != "" {
			method = &model.PaymentMethod{
				ID:        uuid.NewString(),
				UserID:    p.UserID,
				Provider:  model.PaymentProviderGateway,
				Token:     ev.PaymentMethod.ID,
				Title:     ev.PaymentMethod.Title,
				CreatedAt: u.now(),
			}
		}
		applied, err := u.succeedInTx(ctx, tx, inv, p, method)
		if err != nil {
			return err
		}
		if !applied {
			result = WebhookReplay
		} else {
			settled = inv
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDataIntegrity) {
			log.Error().Err(err).Msg("payment notification rejected for manual investigation")
		}
		return "", err
	}
	u.notify(ctx, settled, failedRenewal)
	return result, nil
}

// resolvePayment finds our payment by provider id, falling back to the
// invoice id carried in metadata when the create response was lost. It
// writes nothing; the provider id is stored with the final status.
func (u *paymentUC) resolvePayment(ctx context.Context, ev *adapter.GatewayPayment) (*model.Payment, error) {
	p, err := u.payments.FindByProviderPaymentID(ctx, repository.NoTX, model.PaymentProviderGateway, ev.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if ev.InvoiceID() == "" {
		return nil, nil
	}
	inv, err := u.invoices.FindByPublicID(ctx, repository.NoTX, ev.InvoiceID())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err = u.payments.FindPendingByInvoice(ctx, repository.NoTX, inv.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Provider != model.PaymentProviderGateway {
		return nil, nil
	}
	return p, nil
}

// succeedInTx marks p SUCCEEDED and applies the invoice's purpose. It
// reports false when another delivery already resolved p.
func (u *paymentUC) succeedInTx(ctx context.Context, tx repository.Tx, inv *model.Invoice, p *model.Payment, method *model.PaymentMethod) (bool, error) {
	now := u.now()
	if err := p.Resolve(model.PaymentStatusSucceeded, now); err != nil {
		return false, nil
	}
	ok, err := u.payments.UpdateStatusIfPending(ctx, tx, p)
	if err != nil || !ok {
		return false, err
	}

	if err := inv.MarkPaid(now); err != nil {
		// a second payment landed on an already settled invoice
		u.log.Error().Err(err).Str("invoice_id", inv.ID).Str("payment_id", p.ID).Msg("payment succeeded on a closed invoice")
		return true, nil
	}
	if method != nil {
		if err := u.methods.Save(ctx, tx, method); err != nil {
			return false, err
		}
	}

	switch inv.Reason {
	case model.InvoiceReasonPacket:
		if err := u.grantPacket(ctx, tx, inv); err != nil {
			return false, err
		}
	default:
		if _, err := u.lifecycle.ApplyPaymentSucceeded(ctx, tx, inv, p, method); err != nil {
			return false, err
		}
	}
	if err := u.invoices.Save(ctx, tx, inv); err != nil {
		return false, err
	}

	metrics.IncPayment(string(p.Provider), string(model.PaymentStatusSucceeded))
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	u.log.Info().Str("payment_id", p.ID).Str("invoice_id", inv.ID).Str("reason", string(inv.Reason)).Msg("payment succeeded")
	return true, nil
}

func (u *paymentUC) cancelInTx(ctx context.Context, tx repository.Tx, inv *model.Invoice, p *model.Payment, c *adapter.GatewayCancellation) (bool, error) {
	if c != nil {
		p.FailureCode = c.Reason
		p.FailureReason = c.Party
	}
	if err := p.Resolve(model.PaymentStatusCanceled, u.now()); err != nil {
		return false, nil
	}
	ok, err := u.payments.UpdateStatusIfPending(ctx, tx, p)
	if err != nil || !ok {
		return false, err
	}
	if inv.Status.CanTransitionTo(model.InvoiceStatusFailed) {
		_ = inv.TransitionTo(model.InvoiceStatusFailed)
		inv.UpdatedAt = u.now()
		if err := u.invoices.Save(ctx, tx, inv); err != nil {
			return false, err
		}
	}
	if _, err := u.lifecycle.ApplyPaymentCanceled(ctx, tx, inv, p); err != nil {
		return false, err
	}
	metrics.IncPayment(string(p.Provider), string(model.PaymentStatusCanceled))
	u.log.Info().Str("payment_id", p.ID).Str("invoice_id", inv.ID).Str("reason", p.FailureCode).Msg("payment canceled")
	return true, nil
}

func (u *paymentUC) grantPacket(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if inv.PacketID == nil {
		return fmt.Errorf("%w: packet invoice %s has no packet", domain.ErrDataIntegrity, inv.ID)
	}
	pk, err := u.packets.FindByID(ctx, tx, *inv.PacketID)
	if err != nil {
		return fmt.Errorf("%w: packet %s of invoice %s: %v", domain.ErrDataIntegrity, *inv.PacketID, inv.ID, err)
	}
	return u.balances.Create(ctx, tx, &model.PrepaidBalance{
		ID:          uuid.NewString(),
		UserID:      inv.UserID,
		PacketID:    pk.ID,
		Class:       pk.Class,
		Remaining:   pk.Units,
		PurchasedAt: u.now(),
	})
}

// -----------------------------
// Telegram Stars
// -----------------------------

func (u *paymentUC) ValidatePreCheckout(ctx context.Context, payload, currency string, amount int64) error {
	inv, err := u.invoices.FindByPublicID(ctx, repository.NoTX, payload)
	if err != nil {
		return err
	}
	if inv.Status != model.InvoiceStatusCreated {
		return fmt.Errorf("%w: invoice %s is %s", domain.ErrInvalidTransition, inv.ID, inv.Status)
	}
	if currency != model.CurrencyStars || amount != inv.StarsAmount {
		return fmt.Errorf("%w: invoice %s expects %d %s", domain.ErrDataIntegrity, inv.ID, inv.StarsAmount, model.CurrencyStars)
	}
	return nil
}

// HandleTelegramPayment settles a Stars charge. The first charge pays the
// checkout invoice; later charges of a Stars subscription arrive against
// that already PAID invoice and open the next renewal cycle.
func (u *paymentUC) HandleTelegramPayment(ctx context.Context, ev TelegramPaymentEvent) (WebhookResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.HandleTelegramPayment")()
	res, err := u.applyTelegramPayment(ctx, ev)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// concurrent delivery of the same charge
		res, err = WebhookReplay, nil
	}
	u.countWebhook("tg_stars", res, err)
	return res, err
}

func (u *paymentUC) applyTelegramPayment(ctx context.Context, ev TelegramPaymentEvent) (WebhookResult, error) {
	if ev.ChargeID == "" || ev.Payload == "" {
		return "", domain.ErrInvalidArgument
	}
	log := u.log.With().Str("charge_id", ev.ChargeID).Str("invoice_public_id", ev.Payload).Logger()

	result := WebhookApplied
	var settled *model.Invoice
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := u.payments.FindByProviderPaymentID(ctx, tx, model.PaymentProviderTelegramStars, ev.ChargeID); err == nil {
			result = WebhookReplay
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		inv, err := u.invoices.FindByPublicID(ctx, tx, ev.Payload)
		if err != nil {
			return fmt.Errorf("%w: stars payload %s: %v", domain.ErrDataIntegrity, ev.Payload, err)
		}
		if ev.UserID != "" && inv.UserID != ev.UserID {
			return fmt.Errorf("%w: invoice %s belongs to another user", domain.ErrDataIntegrity, inv.ID)
		}
		if ev.Currency != model.CurrencyStars || ev.TotalAmount != inv.StarsAmount {
			return fmt.Errorf("%w: invoice %s expects %d %s, got %d %s",
				domain.ErrDataIntegrity, inv.ID, inv.StarsAmount, model.CurrencyStars, ev.TotalAmount, ev.Currency)
		}

		target := inv
		if inv.Status == model.InvoiceStatusPaid {
			if target, err = u.nextStarsCycle(ctx, tx, inv); err != nil {
				return err
			}
		}

		p := u.newPayment(target, model.PaymentProviderTelegramStars)
		p.ProviderPaymentID = ev.ChargeID
		if err := u.payments.Save(ctx, tx, p); err != nil {
			return err
		}
		applied, err := u.succeedInTx(ctx, tx, target, p, nil)
		if err != nil {
			return err
		}
		if !applied {
			result = WebhookReplay
		} else {
			settled = target
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDataIntegrity) {
			log.Error().Err(err).Msg("stars payment rejected for manual investigation")
		}
		return "", err
	}
	u.notify(ctx, settled, "")
	return result, nil
}

func (u *paymentUC) nextStarsCycle(ctx context.Context, tx repository.Tx, paid *model.Invoice) (*model.Invoice, error) {
	if paid.SubscriptionID == nil || (paid.Reason != model.InvoiceReasonInitial && paid.Reason != model.InvoiceReasonRenewal) {
		return nil, fmt.Errorf("%w: repeated charge for one-off invoice %s", domain.ErrDataIntegrity, paid.ID)
	}
	latest, err := u.invoices.FindLatestBySubscription(ctx, tx, *paid.SubscriptionID)
	if err != nil {
		return nil, err
	}
	inv := u.newInvoice(paid.UserID, model.InvoiceReasonRenewal, paid.Amount, paid.Currency, paid.StarsAmount)
	inv.PlanID = paid.PlanID
	inv.SubscriptionID = paid.SubscriptionID
	inv.CycleIndex = latest.CycleIndex + 1
	if err := u.invoices.Save(ctx, tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// -----------------------------
// Reconciliation
// -----------------------------

// ReconcileStale settles gateway payments left PENDING: without a provider
// id the charge is re-issued under the same idempotence key, otherwise the
// gateway is polled and a final status is applied like a webhook.
func (u *paymentUC) ReconcileStale(ctx context.Context, olderThan time.Time) (ReconcileReport, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ReconcileStale")()

	var rep ReconcileReport
	stale, err := u.payments.ListStalePending(ctx, repository.NoTX, olderThan, u.opts.StaleBatch)
	if err != nil {
		return rep, err
	}
	for _, p := range stale {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if p.Provider != model.PaymentProviderGateway {
			continue
		}
		log := u.log.With().Str("payment_id", p.ID).Logger()

		if p.ProviderPaymentID == "" {
			err := u.reissue(ctx, p)
			switch {
			case err == nil:
				rep.Reissued++
			case errors.Is(err, domain.ErrNoPaymentMethod):
				u.settleRefusal(ctx, &rep, p, model.CancelPermissionRevoked, err)
			case errors.Is(err, domain.ErrPaymentCreation):
				u.settleRefusal(ctx, &rep, p, model.CancelGatewayError, err)
			default:
				rep.Failed++
				log.Error().Err(err).Msg("re-issue of stale payment failed")
			}
			continue
		}

		gp, err := u.gateway.GetPayment(ctx, p.ProviderPaymentID)
		if err != nil {
			rep.Failed++
			log.Error().Err(err).Msg("poll of stale payment failed")
			continue
		}
		res, err := u.applyGatewayPayment(ctx, gp)
		if err != nil {
			rep.Failed++
			log.Error().Err(err).Msg("apply of polled payment failed")
			continue
		}
		if res == WebhookApplied {
			rep.Resolved++
		}
	}
	return rep, nil
}

func (u *paymentUC) reissue(ctx context.Context, p *model.Payment) error {
	inv, err := u.invoices.FindByID(ctx, repository.NoTX, p.InvoiceID)
	if err != nil {
		return err
	}

	var (
		created adapter.CreatedPayment
		callErr error
	)
	if inv.Reason == model.InvoiceReasonRenewal {
		if inv.SubscriptionID == nil {
			return fmt.Errorf("%w: renewal invoice %s has no subscription", domain.ErrDataIntegrity, inv.ID)
		}
		sub, err := u.subs.FindByID(ctx, repository.NoTX, *inv.SubscriptionID)
		if err != nil {
			return err
		}
		if !sub.HasPaymentMethod() {
			return domain.ErrNoPaymentMethod
		}
		method, err := u.methods.FindByID(ctx, repository.NoTX, *sub.PaymentMethodID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoPaymentMethod
		}
		if err != nil {
			return err
		}
		created, callErr = u.gateway.CreateRecurrentPayment(ctx, adapter.RecurrentPaymentRequest{
			Amount:          p.Amount,
			Currency:        p.Currency,
			Description:     fmt.Sprintf("Subscription renewal #%d", inv.CycleIndex),
			PaymentMethodID: method.Token,
			ReturnURL:       u.opts.ReturnURL,
			InvoiceID:       inv.PublicID,
			IdempotenceKey:  p.ID,
		})
	} else {
		created, callErr = u.gateway.CreatePayment(ctx, adapter.CreatePaymentRequest{
			Amount:         p.Amount,
			Currency:       p.Currency,
			Description:    string(inv.Reason),
			ReturnURL:      u.opts.ReturnURL,
			InvoiceID:      inv.PublicID,
			IdempotenceKey: p.ID,
		})
	}
	switch {
	case callErr == nil:
	case errors.Is(callErr, domain.ErrGatewayAmbiguous) || errors.Is(callErr, context.DeadlineExceeded) || errors.Is(callErr, context.Canceled):
		return callErr
	default:
		return fmt.Errorf("%w: %v", domain.ErrPaymentCreation, callErr)
	}
	return u.payments.SetProviderPaymentID(ctx, repository.NoTX, p.ID, created.ID)
}

func (u *paymentUC) settleRefusal(ctx context.Context, rep *ReconcileReport, p *model.Payment, reason model.CancellationReason, cause error) {
	if err := u.failPayment(ctx, p.ID, reason, cause); err != nil {
		rep.Failed++
		return
	}
	rep.Refused++
	u.log.Warn().Err(cause).Str("payment_id", p.ID).Str("reason", string(reason)).Msg("re-issue refused, payment failed")
}

func (u *paymentUC) countWebhook(source string, res WebhookResult, err error) {
	switch {
	case err == nil:
		metrics.IncWebhook(source, string(res))
	case errors.Is(err, domain.ErrDataIntegrity):
		metrics.IncWebhook(source, "integrity")
	default:
		metrics.IncWebhook(source, "error")
	}
}
