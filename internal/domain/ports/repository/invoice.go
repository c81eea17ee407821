package repository

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
)

type InvoiceRepository interface {
	Save(ctx context.Context, tx Tx, inv *model.Invoice) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Invoice, error)
	FindByPublicID(ctx context.Context, tx Tx, publicID string) (*model.Invoice, error)
	// FindLatestBySubscription returns the INITIAL or RENEWAL invoice with the
	// highest cycle index.
	FindLatestBySubscription(ctx context.Context, tx Tx, subscriptionID string) (*model.Invoice, error)
}
