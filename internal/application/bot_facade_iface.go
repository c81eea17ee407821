package application

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/usecase"
)

// Translator renders user-facing texts.
type Translator interface {
	T(key string, args ...interface{}) string
}

// StarsPayment is a successful_payment update as the bot received it.
type StarsPayment struct {
	Payload          string
	Currency         string
	TotalAmount      int64
	ChargeID         string
	ProviderChargeID string
}

// Facade is the surface the Telegram adapter drives. Expected outcomes come
// back as rendered text; errors are infrastructure failures.
type Facade interface {
	HandleStart(ctx context.Context, tgID int64, username string) (string, error)
	HandleHelp() string
	HandlePlans(ctx context.Context) (string, error)
	HandlePackets(ctx context.Context) (string, error)
	HandleBuy(ctx context.Context, tgID int64, planID string, provider model.PaymentProvider) (string, error)
	HandleBuyPacket(ctx context.Context, tgID int64, packetID string, provider model.PaymentProvider) (string, error)
	HandleUsage(ctx context.Context, tgID int64) (string, error)
	HandleModels(ctx context.Context, tgID int64) (string, error)
	HandleSelectModel(ctx context.Context, tgID int64, name string) (string, error)
	HandleRole(ctx context.Context, tgID int64, args string) (string, error)
	HandleAutoRenewOff(ctx context.Context, tgID int64) (string, error)
	HandleRebind(ctx context.Context, tgID int64) (string, error)
	HandleNewChat(ctx context.Context, tgID int64) (string, error)
	// HandleMessage answers a chat message; req.UserID is filled in.
	HandleMessage(ctx context.Context, tgID int64, username string, req usecase.MessageRequest) (string, error)

	PreCheckout(ctx context.Context, payload, currency string, amount int64) error
	HandleStarsPayment(ctx context.Context, tgID int64, p StarsPayment) error
}
