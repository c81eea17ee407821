package usecase

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// Translator renders a user-facing text by key.
type Translator interface {
	T(key string, args ...interface{}) string
}

// NotificationUseCase tells users about billing events. Delivery is best
// effort: failures are logged and never undo the event.
type NotificationUseCase interface {
	PaymentSucceeded(ctx context.Context, userID string, reason model.InvoiceReason)
	PaymentFailed(ctx context.Context, userID string)
	SubscriptionEnded(ctx context.Context, userID string, status model.SubscriptionStatus)
}

type notificationUC struct {
	users repository.UserRepository
	bot   adapter.TelegramBotAdapter
	tr    Translator
	log   *zerolog.Logger
}

func NewNotificationUseCase(users repository.UserRepository, bot adapter.TelegramBotAdapter, tr Translator, logger *zerolog.Logger) *notificationUC {
	l := logger.With().Str("component", "NotificationUseCase").Logger()
	return &notificationUC{users: users, bot: bot, tr: tr, log: &l}
}

func (n *notificationUC) PaymentSucceeded(ctx context.Context, userID string, reason model.InvoiceReason) {
	key := "payment_succeeded"
	if reason == model.InvoiceReasonPacket {
		key = "payment_packet"
	}
	n.send(ctx, userID, key)
}

func (n *notificationUC) PaymentFailed(ctx context.Context, userID string) {
	n.send(ctx, userID, "payment_failed")
}

func (n *notificationUC) SubscriptionEnded(ctx context.Context, userID string, status model.SubscriptionStatus) {
	switch status {
	case model.SubscriptionStatusExpired:
		n.send(ctx, userID, "subscription_expired")
	case model.SubscriptionStatusCanceled:
		n.send(ctx, userID, "subscription_canceled")
	}
}

func (n *notificationUC) send(ctx context.Context, userID, key string) {
	u, err := n.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		n.log.Warn().Err(err).Str("user_id", userID).Str("notice", key).Msg("cannot notify unknown user")
		return
	}
	if err := n.bot.SendMessage(ctx, u.TelegramID, n.tr.T(key)); err != nil {
		n.log.Warn().Err(err).Str("user_id", userID).Str("notice", key).Msg("failed to deliver notification")
	}
}
