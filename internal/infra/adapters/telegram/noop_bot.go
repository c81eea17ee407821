package telegram

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*NoopBotAdapter)(nil)

// NoopBotAdapter implements adapter.TelegramBotAdapter for local/dev runs.
// It logs messages instead of sending real Telegram messages.
type NoopBotAdapter struct {
	log *zerolog.Logger
}

func NewNoopBotAdapter(logger *zerolog.Logger) *NoopBotAdapter {
	l := logger.With().Str("component", "NoopBot").Logger()
	return &NoopBotAdapter{log: &l}
}

func (b *NoopBotAdapter) SendMessage(ctx context.Context, tgID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.log.Info().Int64("tg_id", tgID).Str("text", text).Msg("send message")
	return nil
}

func (b *NoopBotAdapter) CreateStarsInvoiceLink(ctx context.Context, inv adapter.StarsInvoice) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.log.Info().Str("payload", inv.Payload).Int64("amount", inv.Amount).
		Int("period", inv.SubscriptionPeriodSeconds).Msg("stars invoice link")
	return fmt.Sprintf("https://t.me/$noop-%s", inv.Payload), nil
}
