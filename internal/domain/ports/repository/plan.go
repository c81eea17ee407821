package repository

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
)

type PlanRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListVisible(ctx context.Context, tx Tx) ([]*model.Plan, error)
}

type PacketRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Packet, error)
	ListVisible(ctx context.Context, tx Tx) ([]*model.Packet, error)
}
