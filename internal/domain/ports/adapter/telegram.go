// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

// StarsInvoice is an invoice link priced in Telegram Stars.
type StarsInvoice struct {
	Title       string
	Description string
	Payload     string // invoice public id
	Amount      int64
	// SubscriptionPeriodSeconds > 0 asks Telegram to charge the link monthly.
	SubscriptionPeriodSeconds int
}

type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
	CreateStarsInvoiceLink(ctx context.Context, inv StarsInvoice) (string, error)
}
