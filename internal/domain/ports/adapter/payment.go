package adapter

import (
	"context"
)

type GatewayPaymentStatus string

const (
	GatewayStatusPending           GatewayPaymentStatus = "pending"
	GatewayStatusWaitingForCapture GatewayPaymentStatus = "waiting_for_capture"
	GatewayStatusSucceeded         GatewayPaymentStatus = "succeeded"
	GatewayStatusCanceled          GatewayPaymentStatus = "canceled"
)

// CreatePaymentRequest is a one-off charge that redirects the user to the
// gateway and asks it to save the card for recurring use.
type CreatePaymentRequest struct {
	Amount         int64 // minor units
	Currency       string
	Description    string
	ReturnURL      string
	InvoiceID      string // invoice public id, echoed back in metadata
	IdempotenceKey string
}

// RecurrentPaymentRequest charges a saved payment method without user interaction.
type RecurrentPaymentRequest struct {
	Amount          int64
	Currency        string
	Description     string
	PaymentMethodID string
	ReturnURL       string
	InvoiceID       string
	IdempotenceKey  string
}

type CreatedPayment struct {
	ID              string
	Status          GatewayPaymentStatus
	ConfirmationURL string
}

type GatewayPaymentMethod struct {
	ID    string
	Saved bool
	Title string
}

type GatewayCancellation struct {
	Party  string
	Reason string
}

// GatewayPayment is the gateway's view of a payment, as delivered by the
// webhook or fetched on demand.
type GatewayPayment struct {
	ID            string
	Status        GatewayPaymentStatus
	Amount        int64
	Currency      string
	PaymentMethod *GatewayPaymentMethod
	Cancellation  *GatewayCancellation
	Metadata      map[string]string
}

// InvoiceID returns the invoice public id carried in metadata.
func (p *GatewayPayment) InvoiceID() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata["invoice_id"]
}

// PaymentGateway is the hex port for the card acquirer. Errors wrapping
// domain.ErrGatewayAmbiguous mean the charge may or may not exist.
type PaymentGateway interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatedPayment, error)
	CreateRecurrentPayment(ctx context.Context, req RecurrentPaymentRequest) (CreatedPayment, error)
	GetPayment(ctx context.Context, id string) (*GatewayPayment, error)
}
