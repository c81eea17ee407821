package repository

import (
	"context"

	"telegram-ai-billing/internal/domain/model"
)

type ChatSessionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.ChatSession) error
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.ChatSession, error)
	AppendMessages(ctx context.Context, tx Tx, msgs ...model.ChatMessage) error
	RecentMessages(ctx context.Context, tx Tx, sessionID string, n int) ([]model.ChatMessage, error)
}
