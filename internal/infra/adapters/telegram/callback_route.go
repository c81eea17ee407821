package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
)

type cbHandler func(ctx context.Context, tgID int64) (string, error)

// cbRoutes maps main menu buttons to facade calls.
func (r *RealTelegramBotAdapter) cbRoutes() map[string]cbHandler {
	return map[string]cbHandler{
		"cmd:plans":   func(ctx context.Context, _ int64) (string, error) { return r.facade.HandlePlans(ctx) },
		"cmd:packets": func(ctx context.Context, _ int64) (string, error) { return r.facade.HandlePackets(ctx) },
		"cmd:usage":   r.facade.HandleUsage,
		"cmd:models":  r.facade.HandleModels,
		"cmd:new":     r.facade.HandleNewChat,
	}
}

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query == nil || query.From == nil {
		return errors.New("invalid callback query")
	}
	// Stop telegram spinner when we return
	defer func() { _, _ = r.bot.Request(tgbotapi.NewCallback(query.ID, "")) }()

	chatID := query.From.ID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}
	data := strings.TrimSpace(query.Data)
	if !r.allow(ctx, query.From.ID, "cb:"+data) {
		return r.SendMessage(ctx, chatID, r.translator.T("rate_limited"))
	}

	fn, ok := r.cbRoutes()[data]
	if !ok {
		return errors.New("unknown callback data")
	}
	metrics.IncTelegramCommand(data)
	text, err := fn(ctx, query.From.ID)
	if err != nil {
		logging.With(ctx, r.log).Error().Err(err).Str("callback", data).Msg("callback failed")
		return r.SendMessage(ctx, chatID, r.translator.T("internal_error"))
	}
	return r.SendMessage(ctx, chatID, text)
}

// sendMainMenu shows the main actions as inline buttons.
func (r *RealTelegramBotAdapter) sendMainMenu(ctx context.Context, chatID int64, intro string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, intro)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(r.translator.T("menu_plans"), "cmd:plans"),
			tgbotapi.NewInlineKeyboardButtonData(r.translator.T("menu_packets"), "cmd:packets"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(r.translator.T("menu_usage"), "cmd:usage"),
			tgbotapi.NewInlineKeyboardButtonData(r.translator.T("menu_models"), "cmd:models"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(r.translator.T("menu_new"), "cmd:new"),
		),
	)
	_, err := r.bot.Send(msg)
	return err
}
