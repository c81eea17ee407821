package repository

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
)

type RoleRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Role, error)
	// ListForUser returns the presets followed by the user's own roles.
	ListForUser(ctx context.Context, tx Tx, userID string) ([]*model.Role, error)
	// Create fails with domain.ErrAlreadyExists when the owner has a role of
	// the same name.
	Create(ctx context.Context, tx Tx, r *model.Role) error
	// Delete removes a role of ownerID and reports whether one was removed.
	// Presets are never deleted.
	Delete(ctx context.Context, tx Tx, ownerID, id string) (bool, error)
}
