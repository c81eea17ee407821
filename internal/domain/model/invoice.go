package model

import (
	"fmt"
	"time"

	"telegram-ai-billing/internal/domain"
)

type InvoiceReason string

const (
	InvoiceReasonInitial InvoiceReason = "initial"
	InvoiceReasonRenewal InvoiceReason = "renewal"
	InvoiceReasonRebind  InvoiceReason = "payment_method_rebind"
	InvoiceReasonPacket  InvoiceReason = "packet"
)

type InvoiceStatus string

const (
	InvoiceStatusCreated  InvoiceStatus = "created"
	InvoiceStatusPaid     InvoiceStatus = "paid"
	InvoiceStatusFailed   InvoiceStatus = "failed"
	InvoiceStatusExpired  InvoiceStatus = "expired"
	InvoiceStatusCanceled InvoiceStatus = "canceled"
)

// CanTransitionTo allows only forward moves. A FAILED invoice may still be
// paid by a later retry; PAID, EXPIRED and CANCELED are final.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	switch s {
	case InvoiceStatusCreated:
		return next != InvoiceStatusCreated
	case InvoiceStatusFailed:
		return next == InvoiceStatusPaid || next == InvoiceStatusExpired || next == InvoiceStatusCanceled
	}
	return false
}

// Invoice is a billing intent. PublicID is the opaque token handed to the
// gateway metadata and to Telegram invoice payloads.
type Invoice struct {
	ID             string
	PublicID       string
	UserID         string
	PlanID         *string
	PacketID       *string
	SubscriptionID *string
	Reason         InvoiceReason
	Status         InvoiceStatus
	CycleIndex     int
	Amount         int64 // minor units
	Currency       string
	StarsAmount    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
}

func (i *Invoice) TransitionTo(next InvoiceStatus) error {
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: invoice %s %s -> %s", domain.ErrInvalidTransition, i.ID, i.Status, next)
	}
	i.Status = next
	return nil
}

// MarkPaid transitions to PAID and stamps the time.
func (i *Invoice) MarkPaid(at time.Time) error {
	if err := i.TransitionTo(InvoiceStatusPaid); err != nil {
		return err
	}
	i.PaidAt = &at
	i.UpdatedAt = at
	return nil
}

// IsAnchorCycle reports whether a successful payment here starts the charge chain.
func (i *Invoice) IsAnchorCycle() bool {
	return i.Reason == InvoiceReasonInitial && i.CycleIndex == 0
}
