package model

import (
	"time"
)

type ChatSessionStatus string

const (
	ChatSessionActive   ChatSessionStatus = "active"
	ChatSessionFinished ChatSessionStatus = "finished"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one message of a dialog.
type ChatMessage struct {
	SessionID string
	Role      string
	Content   string
	ModelID   string
	Tokens    int
	Timestamp time.Time
}

// ChatSession is a user's running dialog with the bot.
type ChatSession struct {
	ID        string
	UserID    string
	Status    ChatSessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewChatSession(id, userID string) *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:        id,
		UserID:    userID,
		Status:    ChatSessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecentMessages keeps the last n messages in order.
func RecentMessages(msgs []ChatMessage, n int) []ChatMessage {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
