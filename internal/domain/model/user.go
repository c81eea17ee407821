package model

import (
	"time"

	"telegram-ai-billing/internal/domain"

	"github.com/google/uuid"
)

// User is a Telegram user known to the bot.
type User struct {
	ID              string
	TelegramID      int64
	Username        string
	SelectedModelID *string // nil or AutoModelID selects the model per message
	SelectedRoleID  *string // nil selects DefaultRoleID
	RegisteredAt    time.Time
	LastActiveAt    time.Time
}

func NewUser(id string, tgID int64, username string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if tgID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:           id,
		TelegramID:   tgID,
		Username:     username,
		RegisteredAt: now,
		LastActiveAt: now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now() }

// WantsAutoModel reports whether the classifier should pick the model.
func (u *User) WantsAutoModel() bool {
	return u.SelectedModelID == nil || *u.SelectedModelID == AutoModelID
}
