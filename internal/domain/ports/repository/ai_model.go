package repository

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
)

type AIModelRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.AIModel, error)
	FindByName(ctx context.Context, tx Tx, name string) (*model.AIModel, error)
	FindDefault(ctx context.Context, tx Tx) (*model.AIModel, error)
	ListAvailable(ctx context.Context, tx Tx, tier model.Tier) ([]*model.AIModel, error)
}
