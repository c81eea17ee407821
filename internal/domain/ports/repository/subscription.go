package repository

import (
	"context"
	"time"

	"telegram-ai-billing/internal/domain/model"
)

// SubscriptionRepository is the port for paid-plan enrollments.
// Reads inside a transaction lock the row.
type SubscriptionRepository interface {
	// Save inserts or updates. A second live subscription for the same
	// (user, tier) fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindLiveByUserAndTier(ctx context.Context, tx Tx, userID string, tier model.Tier) (*model.Subscription, error)
	// FindLiveByUser returns live subscriptions, highest tier first.
	FindLiveByUser(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)

	// --- Renewal scheduler scans ---
	ListPastDueDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	ListActiveEnded(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
}
