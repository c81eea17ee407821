package payment

import (
	"context"
	"fmt"
	"sync"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local runs. Every payment
// succeeds as soon as it is fetched.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	seq      int64
	payments map[string]*adapter.GatewayPayment
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{payments: make(map[string]*adapter.GatewayPayment)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) store(amount int64, currency, invoiceID, methodID string) *adapter.GatewayPayment {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("noop-%d", g.seq)
	if methodID == "" {
		methodID = "noop-pm-" + id
	}
	p := &adapter.GatewayPayment{
		ID:            id,
		Status:        adapter.GatewayStatusSucceeded,
		Amount:        amount,
		Currency:      currency,
		PaymentMethod: &adapter.GatewayPaymentMethod{ID: methodID, Saved: true, Title: "Noop card"},
		Metadata:      map[string]string{"invoice_id": invoiceID},
	}
	g.payments[id] = p
	return p
}

func (g *NoopPaymentGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (adapter.CreatedPayment, error) {
	p := g.store(req.Amount, req.Currency, req.InvoiceID, "")
	return adapter.CreatedPayment{ID: p.ID, Status: adapter.GatewayStatusPending, ConfirmationURL: "https://example.test/pay/" + p.ID}, nil
}

func (g *NoopPaymentGateway) CreateRecurrentPayment(ctx context.Context, req adapter.RecurrentPaymentRequest) (adapter.CreatedPayment, error) {
	p := g.store(req.Amount, req.Currency, req.InvoiceID, req.PaymentMethodID)
	return adapter.CreatedPayment{ID: p.ID, Status: adapter.GatewayStatusPending}, nil
}

func (g *NoopPaymentGateway) GetPayment(ctx context.Context, id string) (*adapter.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
