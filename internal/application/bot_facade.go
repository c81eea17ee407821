package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/usecase"
)

var _ Facade = (*BotFacade)(nil)

// BotFacade composes usecases into high-level bot commands.
// Keep the facade methods returning strings so the Telegram adapter just forwards them to the chat.
type BotFacade struct {
	UserUC       usecase.UserUseCase
	CatalogUC    usecase.CatalogUseCase
	SubUC        usecase.SubscriptionUseCase
	PayUC        usecase.PaymentUseCase
	ChatUC       usecase.ChatUseCase
	RoleUC       usecase.RoleUseCase
	Permissions  usecase.PermissionUseCase
	tr           Translator
	defaultClass model.ResourceClass
	log          *zerolog.Logger
}

// NewBotFacade constructs a facade. defaultClass is the quota shown by /usage.
func NewBotFacade(
	userUC usecase.UserUseCase,
	catalogUC usecase.CatalogUseCase,
	subUC usecase.SubscriptionUseCase,
	payUC usecase.PaymentUseCase,
	chatUC usecase.ChatUseCase,
	roleUC usecase.RoleUseCase,
	permissions usecase.PermissionUseCase,
	tr Translator,
	defaultClass model.ResourceClass,
	logger *zerolog.Logger,
) *BotFacade {
	l := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{
		UserUC:       userUC,
		CatalogUC:    catalogUC,
		SubUC:        subUC,
		PayUC:        payUC,
		ChatUC:       chatUC,
		RoleUC:       roleUC,
		Permissions:  permissions,
		tr:           tr,
		defaultClass: defaultClass,
		log:          &l,
	}
}

// HandleStart registers or fetches the user and returns a welcome string.
func (b *BotFacade) HandleStart(ctx context.Context, tgID int64, username string) (string, error) {
	if _, err := b.UserUC.RegisterOrFetch(ctx, tgID, username); err != nil {
		return "", fmt.Errorf("register/fetch user: %w", err)
	}
	name := username
	if name == "" {
		name = "there"
	}
	return b.tr.T("welcome", name), nil
}

func (b *BotFacade) HandleHelp() string { return b.tr.T("help") }

// HandlePlans returns a formatted list of plans.
func (b *BotFacade) HandlePlans(ctx context.Context) (string, error) {
	plans, err := b.CatalogUC.ListPlans(ctx)
	if err != nil {
		return "", fmt.Errorf("list plans: %w", err)
	}
	if len(plans) == 0 {
		return b.tr.T("no_plans"), nil
	}
	sb := strings.Builder{}
	sb.WriteString(b.tr.T("plans_header"))
	for _, p := range plans {
		sb.WriteString("\n- ")
		sb.WriteString(b.tr.T("plan_line", p.Name, p.ID, p.PeriodDays, money(p.Price), p.Currency, p.ID))
		if p.StarsPrice > 0 {
			sb.WriteString(b.tr.T("plan_stars", p.StarsPrice, p.ID))
		}
	}
	return sb.String(), nil
}

func (b *BotFacade) HandlePackets(ctx context.Context) (string, error) {
	packets, err := b.CatalogUC.ListPackets(ctx)
	if err != nil {
		return "", fmt.Errorf("list packets: %w", err)
	}
	if len(packets) == 0 {
		return b.tr.T("no_plans"), nil
	}
	sb := strings.Builder{}
	sb.WriteString(b.tr.T("packets_header"))
	for _, p := range packets {
		sb.WriteString("\n- ")
		sb.WriteString(b.tr.T("packet_line", p.Name, p.Units, p.Class, money(p.Price), p.Currency, p.ID))
	}
	return sb.String(), nil
}

// HandleBuy opens a checkout for a subscription plan.
func (b *BotFacade) HandleBuy(ctx context.Context, tgID int64, planID string, provider model.PaymentProvider) (string, error) {
	if planID == "" {
		return b.tr.T("usage_hint", "/buy <plan>"), nil
	}
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	co, err := b.PayUC.StartCheckout(ctx, u.ID, planID, provider)
	return b.checkoutText(ctx, co, err, "plan_unknown")
}

func (b *BotFacade) HandleBuyPacket(ctx context.Context, tgID int64, packetID string, provider model.PaymentProvider) (string, error) {
	if packetID == "" {
		return b.tr.T("usage_hint", "/packet <id>"), nil
	}
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	co, err := b.PayUC.StartPacketPurchase(ctx, u.ID, packetID, provider)
	return b.checkoutText(ctx, co, err, "packet_unknown")
}

func (b *BotFacade) HandleRebind(ctx context.Context, tgID int64) (string, error) {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	co, err := b.PayUC.StartRebind(ctx, u.ID)
	if errors.Is(err, domain.ErrNoActiveSubscription) {
		return b.tr.T("rebind_none"), nil
	}
	return b.checkoutText(ctx, co, err, "rebind_none")
}

func (b *BotFacade) checkoutText(ctx context.Context, co *usecase.Checkout, err error, notFoundKey string) (string, error) {
	switch {
	case err == nil:
		return b.tr.T("checkout", co.URL), nil
	case errors.Is(err, domain.ErrNotFound):
		return b.tr.T(notFoundKey), nil
	case errors.Is(err, domain.ErrPaymentCreation), errors.Is(err, domain.ErrGatewayAmbiguous),
		errors.Is(err, domain.ErrUnknownProvider), errors.Is(err, domain.ErrInvalidArgument):
		logging.With(ctx, b.log).Warn().Err(err).Msg("checkout not opened")
		return b.tr.T("checkout_failed"), nil
	}
	return "", err
}

// HandleUsage shows the usage window of the default class.
func (b *BotFacade) HandleUsage(ctx context.Context, tgID int64) (string, error) {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	v, err := b.CatalogUC.Usage(ctx, u.ID, b.defaultClass)
	if err != nil {
		return "", fmt.Errorf("usage: %w", err)
	}
	var limit int64
	if v.Limits != nil {
		limit = v.Limits.MessageLimit
	}
	lines := make([]string, 0, 3)
	if v.Subscription == nil {
		lines = append(lines, b.tr.T("usage_free", v.Window.Units, limit))
	} else {
		lines = append(lines, b.tr.T("usage_paid", v.Subscription.PeriodEnd.Format("2006-01-02"), v.Window.Units, limit))
		if !v.Subscription.WillRenew {
			lines = append(lines, b.tr.T("usage_autorenew_off"))
		}
	}
	if v.Packets > 0 {
		lines = append(lines, b.tr.T("usage_packets", v.Packets))
	}
	return strings.Join(lines, "\n"), nil
}

func (b *BotFacade) HandleModels(ctx context.Context, tgID int64) (string, error) {
	u, tier, err := b.userAndTier(ctx, tgID)
	if err != nil {
		return "", err
	}
	models, err := b.CatalogUC.ListModels(ctx, tier)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}
	current := model.AutoModelID
	if !u.WantsAutoModel() {
		for _, m := range models {
			if m.ID == *u.SelectedModelID {
				current = m.Name
			}
		}
	}
	sb := strings.Builder{}
	sb.WriteString(b.tr.T("models_header", current))
	for _, m := range models {
		sb.WriteString("\n- ")
		sb.WriteString(b.tr.T("model_line", m.Name, m.Description))
	}
	return sb.String(), nil
}

func (b *BotFacade) HandleSelectModel(ctx context.Context, tgID int64, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return b.tr.T("usage_hint", "/model <name|auto>"), nil
	}
	u, tier, err := b.userAndTier(ctx, tgID)
	if err != nil {
		return "", err
	}
	m, err := b.UserUC.SelectModel(ctx, u.ID, name, tier)
	switch {
	case err == nil && m == nil:
		return b.tr.T("model_auto"), nil
	case err == nil:
		return b.tr.T("model_selected", m.Name), nil
	case errors.Is(err, domain.ErrNoModel), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidArgument):
		return b.tr.T("model_unavailable"), nil
	}
	return "", err
}

// HandleRole dispatches /role: no args lists the menu, "new <name> | <prompt>"
// creates a custom role, "delete <name>" removes one, anything else selects
// a role by name.
func (b *BotFacade) HandleRole(ctx context.Context, tgID int64, args string) (string, error) {
	u, tier, err := b.userAndTier(ctx, tgID)
	if err != nil {
		return "", err
	}
	args = strings.TrimSpace(args)
	verb, rest := splitVerb(args)
	switch verb {
	case "":
		return b.listRoles(ctx, u.ID, tier)
	case "new":
		name, prompt, ok := strings.Cut(rest, "|")
		if !ok {
			return b.tr.T("usage_hint", "/role new <name> | <prompt>"), nil
		}
		r, err := b.RoleUC.Create(ctx, u.ID, tier, usecase.NewRole{Name: name, Prompt: prompt})
		if err != nil {
			return b.roleError(err, "/role new <name> | <prompt>")
		}
		return b.tr.T("role_created", r.Name), nil
	case "delete":
		r, err := b.findRole(ctx, u.ID, tier, rest)
		if err == nil {
			err = b.RoleUC.Delete(ctx, u.ID, r.ID)
		}
		if err != nil {
			return b.roleError(err, "/role delete <name>")
		}
		return b.tr.T("role_deleted", r.Name), nil
	}
	r, err := b.findRole(ctx, u.ID, tier, args)
	if err == nil {
		r, err = b.RoleUC.Select(ctx, u.ID, r.ID, tier)
	}
	if errors.Is(err, domain.ErrRoleNotAllowed) {
		return b.tr.T("role_unavailable"), nil
	}
	if err != nil {
		return b.roleError(err, "/role <name>")
	}
	return b.tr.T("role_selected", r.Name), nil
}

func (b *BotFacade) listRoles(ctx context.Context, userID string, tier model.Tier) (string, error) {
	views, err := b.RoleUC.List(ctx, userID, tier)
	if err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}
	sb := strings.Builder{}
	sb.WriteString(b.tr.T("roles_header"))
	for _, v := range views {
		sb.WriteString("\n- ")
		sb.WriteString(b.tr.T("role_line", v.Role.Name))
		if v.Role.Description != "" {
			sb.WriteString(b.tr.T("role_about", v.Role.Description))
		}
		switch {
		case v.Selected:
			sb.WriteString(b.tr.T("role_current"))
		case !v.Available:
			sb.WriteString(b.tr.T("role_locked"))
		}
	}
	if b.Permissions.CheckCustomRoles(tier) == usecase.CapabilityAllowed {
		sb.WriteString("\n")
		sb.WriteString(b.tr.T("role_new_hint"))
	}
	return sb.String(), nil
}

func (b *BotFacade) findRole(ctx context.Context, userID string, tier model.Tier, name string) (*model.Role, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrInvalidArgument
	}
	views, err := b.RoleUC.List(ctx, userID, tier)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if v.Role.SameName(name) {
			return v.Role, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (b *BotFacade) roleError(err error, usage string) (string, error) {
	switch {
	case errors.Is(err, domain.ErrRoleNotAllowed):
		return b.tr.T("role_denied"), nil
	case errors.Is(err, domain.ErrRoleLimit):
		return b.tr.T("role_limit", model.MaxCustomRoles), nil
	case errors.Is(err, domain.ErrAlreadyExists):
		return b.tr.T("role_exists"), nil
	case errors.Is(err, domain.ErrNotFound):
		return b.tr.T("role_unknown"), nil
	case errors.Is(err, domain.ErrInvalidArgument):
		return b.tr.T("usage_hint", usage), nil
	}
	return "", err
}

// splitVerb separates a leading "new" or "delete" from the rest of args.
func splitVerb(args string) (string, string) {
	if args == "" {
		return "", ""
	}
	head, rest, _ := strings.Cut(args, " ")
	switch strings.ToLower(head) {
	case "new", "delete":
		return strings.ToLower(head), strings.TrimSpace(rest)
	}
	return "select", args
}

func (b *BotFacade) HandleAutoRenewOff(ctx context.Context, tgID int64) (string, error) {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	n, err := b.SubUC.DisableAutoRenew(ctx, u.ID)
	if err != nil {
		return "", fmt.Errorf("disable auto-renew: %w", err)
	}
	if n == 0 {
		return b.tr.T("autorenew_none"), nil
	}
	return b.tr.T("autorenew_off", n), nil
}

func (b *BotFacade) HandleNewChat(ctx context.Context, tgID int64) (string, error) {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return "", fmt.Errorf("user not found: %w", err)
	}
	if err := b.ChatUC.EndChat(ctx, u.ID); err != nil {
		return "", fmt.Errorf("end chat: %w", err)
	}
	return b.tr.T("chat_reset"), nil
}

// HandleMessage registers unknown senders on the fly, then answers.
func (b *BotFacade) HandleMessage(ctx context.Context, tgID int64, username string, req usecase.MessageRequest) (string, error) {
	u, err := b.UserUC.RegisterOrFetch(ctx, tgID, username)
	if err != nil {
		return "", fmt.Errorf("register/fetch user: %w", err)
	}
	req.UserID = u.ID
	res, err := b.ChatUC.HandleMessage(logging.WithUserID(ctx, u.ID), req)
	if err != nil {
		return "", err
	}
	switch res.Status {
	case usecase.StatusOK:
		return res.Reply, nil
	case usecase.StatusVoiceTooLong:
		return b.tr.T(res.Status.String(), res.VoiceLimitSeconds), nil
	}
	return b.tr.T(res.Status.String()), nil
}

// PreCheckout is answered within Telegram's ten second window, so it only
// reads the invoice.
func (b *BotFacade) PreCheckout(ctx context.Context, payload, currency string, amount int64) error {
	return b.PayUC.ValidatePreCheckout(ctx, payload, currency, amount)
}

// HandleStarsPayment settles a Stars charge. The payment notifier tells the
// user about the outcome.
func (b *BotFacade) HandleStarsPayment(ctx context.Context, tgID int64, p StarsPayment) error {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}
	res, err := b.PayUC.HandleTelegramPayment(ctx, usecase.TelegramPaymentEvent{
		UserID:           u.ID,
		Payload:          p.Payload,
		Currency:         p.Currency,
		TotalAmount:      p.TotalAmount,
		ChargeID:         p.ChargeID,
		ProviderChargeID: p.ProviderChargeID,
	})
	if err != nil {
		return err
	}
	logging.With(ctx, b.log).Info().Str("charge_id", p.ChargeID).Str("result", string(res)).Msg("stars payment handled")
	return nil
}

func (b *BotFacade) userAndTier(ctx context.Context, tgID int64) (*model.User, model.Tier, error) {
	u, err := b.UserUC.GetByTelegramID(ctx, tgID)
	if err != nil {
		return nil, model.TierFree, fmt.Errorf("user not found: %w", err)
	}
	sub, err := b.SubUC.Current(ctx, u.ID)
	if err != nil {
		return nil, model.TierFree, fmt.Errorf("current subscription: %w", err)
	}
	if sub == nil {
		return u, model.TierFree, nil
	}
	return u, sub.Tier, nil
}

// money renders minor units with two decimals.
func money(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
