package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/infra/logging"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

// commandRoutes defines all available bot commands and their handlers.
func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":         r.handleStartCommand,
		"help":          r.handleHelpCommand,
		"plans":         r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandlePlans(ctx) }),
		"packets":       r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandlePackets(ctx) }),
		"buy":           r.payCommand(r.buyPlan(model.PaymentProviderGateway)),
		"stars":         r.payCommand(r.buyPlan(model.PaymentProviderTelegramStars)),
		"packet":        r.payCommand(r.buyPacket),
		"rebind":        r.payCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandleRebind(ctx, m.From.ID) }),
		"usage":         r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandleUsage(ctx, m.From.ID) }),
		"models":        r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandleModels(ctx, m.From.ID) }),
		"model":         r.textCommand(r.selectModel),
		"role":          r.textCommand(r.roleMenu),
		"autorenew_off": r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandleAutoRenewOff(ctx, m.From.ID) }),
		"new":           r.textCommand(func(ctx context.Context, m *tgbotapi.Message) (string, error) { return r.facade.HandleNewChat(ctx, m.From.ID) }),
	}
}

type textHandler func(ctx context.Context, message *tgbotapi.Message) (string, error)

// textCommand sends the facade text back to the chat.
func (r *RealTelegramBotAdapter) textCommand(fn textHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		text, err := fn(ctx, message)
		if err != nil {
			return r.replyError(ctx, message, err)
		}
		return r.SendMessage(ctx, message.Chat.ID, text)
	}
}

// payCommand is textCommand with a pay button for checkout links.
func (r *RealTelegramBotAdapter) payCommand(fn textHandler) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		text, err := fn(ctx, message)
		if err != nil {
			return r.replyError(ctx, message, err)
		}
		return r.sendWithPayButton(ctx, message.Chat.ID, text)
	}
}

func (r *RealTelegramBotAdapter) replyError(ctx context.Context, message *tgbotapi.Message, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return r.SendMessage(ctx, message.Chat.ID, r.translator.T("start_first"))
	}
	logging.With(ctx, r.log).Error().Err(err).Str("command", message.Command()).Msg("command failed")
	return r.SendMessage(ctx, message.Chat.ID, r.translator.T("internal_error"))
}

// handleStartCommand handles the /start command.
func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleStart(ctx, message.From.ID, message.From.UserName)
	if err != nil {
		return r.replyError(ctx, message, err)
	}
	return r.sendMainMenu(ctx, message.Chat.ID, text)
}

func (r *RealTelegramBotAdapter) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.sendMainMenu(ctx, message.Chat.ID, r.facade.HandleHelp())
}

func (r *RealTelegramBotAdapter) buyPlan(provider model.PaymentProvider) textHandler {
	return func(ctx context.Context, message *tgbotapi.Message) (string, error) {
		return r.facade.HandleBuy(ctx, message.From.ID, firstArg(message), provider)
	}
}

// buyPacket accepts "/packet <id>" and "/packet <id> stars".
func (r *RealTelegramBotAdapter) buyPacket(ctx context.Context, message *tgbotapi.Message) (string, error) {
	args := strings.Fields(message.CommandArguments())
	provider := model.PaymentProviderGateway
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	if len(args) > 1 && strings.EqualFold(args[1], "stars") {
		provider = model.PaymentProviderTelegramStars
	}
	return r.facade.HandleBuyPacket(ctx, message.From.ID, id, provider)
}

func (r *RealTelegramBotAdapter) selectModel(ctx context.Context, message *tgbotapi.Message) (string, error) {
	return r.facade.HandleSelectModel(ctx, message.From.ID, strings.TrimSpace(message.CommandArguments()))
}

// roleMenu forwards everything after /role; a bare /role lists the menu.
func (r *RealTelegramBotAdapter) roleMenu(ctx context.Context, message *tgbotapi.Message) (string, error) {
	return r.facade.HandleRole(ctx, message.From.ID, message.CommandArguments())
}

func firstArg(message *tgbotapi.Message) string {
	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
