package repository

import (
	"context"
	"time"

	"telegram-ai-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error)
	FindPendingByInvoice(ctx context.Context, tx Tx, invoiceID string) (*model.Payment, error)
	CountByInvoiceAndStatus(ctx context.Context, tx Tx, invoiceID string, statuses ...model.PaymentStatus) (int, error)
	ListStalePending(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	SetProviderPaymentID(ctx context.Context, tx Tx, id, providerPaymentID string) error
	// UpdateStatusIfPending writes the final status only while the row is
	// still pending and reports whether it did.
	UpdateStatusIfPending(ctx context.Context, tx Tx, p *model.Payment) (bool, error)
}

// -----------------------------
// Payment methods
// -----------------------------

type PaymentMethodRepository interface {
	Save(ctx context.Context, tx Tx, m *model.PaymentMethod) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentMethod, error)
	// Delete detaches the method from every subscription and removes it.
	// A missing id is not an error.
	Delete(ctx context.Context, tx Tx, id string) error
}
