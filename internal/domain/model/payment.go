package model

import (
	"fmt"
	"time"

	"telegram-ai-billing/internal/domain"
)

type PaymentProvider string

const (
	PaymentProviderGateway       PaymentProvider = "gateway"
	PaymentProviderTelegramStars PaymentProvider = "tg_stars"
)

const CurrencyStars = "XTR"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

func (s PaymentStatus) Final() bool { return s != PaymentStatusPending }

// Payment is one gateway transaction attempt against an invoice.
type Payment struct {
	ID                string
	InvoiceID         string
	UserID            string
	Provider          PaymentProvider
	ProviderPaymentID string // empty until the gateway answered
	Amount            int64  // minor units, or stars
	Currency          string
	Status            PaymentStatus
	FailureCode       string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Resolve moves a pending payment to a final status exactly once.
func (p *Payment) Resolve(status PaymentStatus, at time.Time) error {
	if p.Status.Final() || !status.Final() {
		return fmt.Errorf("%w: payment %s %s -> %s", domain.ErrInvalidTransition, p.ID, p.Status, status)
	}
	p.Status = status
	p.CompletedAt = &at
	p.UpdatedAt = at
	return nil
}

// CancellationReason is the gateway's reason code for a canceled payment.
type CancellationReason string

const (
	CancelInsufficientFunds          CancellationReason = "insufficient_funds"
	CancelInternalTimeout            CancellationReason = "internal_timeout"
	CancelPaymentMethodLimitExceeded CancellationReason = "payment_method_limit_exceeded"

	// CancelGatewayError marks a charge the gateway refused before creating it.
	CancelGatewayError CancellationReason = "gateway_error"

	Cancel3DSecureFailed            CancellationReason = "3d_secure_failed"
	CancelCallIssuer                CancellationReason = "call_issuer"
	CancelCanceledByMerchant        CancellationReason = "canceled_by_merchant"
	CancelCardExpired               CancellationReason = "card_expired"
	CancelCountryForbidden          CancellationReason = "country_forbidden"
	CancelDealExpired               CancellationReason = "deal_expired"
	CancelExpiredOnCapture          CancellationReason = "expired_on_capture"
	CancelExpiredOnConfirmation     CancellationReason = "expired_on_confirmation"
	CancelFraudSuspected            CancellationReason = "fraud_suspected"
	CancelGeneralDecline            CancellationReason = "general_decline"
	CancelIdentificationRequired    CancellationReason = "identification_required"
	CancelInvalidCardNumber         CancellationReason = "invalid_card_number"
	CancelInvalidCSC                CancellationReason = "invalid_csc"
	CancelIssuerUnavailable         CancellationReason = "issuer_unavailable"
	CancelPaymentMethodRestricted   CancellationReason = "payment_method_restricted"
	CancelPermissionRevoked         CancellationReason = "permission_revoked"
	CancelUnsupportedMobileOperator CancellationReason = "unsupported_mobile_operator"
)

// Recoverable reasons are retried on the renewal schedule; anything else,
// including unknown codes, ends the subscription.
func (r CancellationReason) Recoverable() bool {
	switch r {
	case CancelInsufficientFunds, CancelInternalTimeout, CancelPaymentMethodLimitExceeded, CancelGatewayError:
		return true
	}
	return false
}

// PaymentMethod is a saved, recurring-capable card token at the gateway.
type PaymentMethod struct {
	ID        string
	UserID    string
	Provider  PaymentProvider
	Token     string // gateway payment_method id; encrypted at rest
	Title     string
	CreatedAt time.Time
}
