package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"telegram-ai-billing/internal/domain"
)

// DefaultRoleID is the preset used while the user has no selection.
const DefaultRoleID = "default"

const (
	RoleNameMinLen   = 2
	RoleNameMaxLen   = 64
	RolePromptMinLen = 10
	RolePromptMaxLen = 600
	MaxCustomRoles   = 5
)

// Role is a named system prompt. Presets have no owner.
type Role struct {
	ID            string
	OwnerID       *string
	Name          string
	Description   string
	Prompt        string
	FreeAvailable bool // presets only; custom roles follow the custom role gate
	CreatedAt     time.Time
}

// NewCustomRole validates and trims a user supplied role.
func NewCustomRole(id, ownerID, name, description, prompt string, now time.Time) (*Role, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	prompt = strings.TrimSpace(prompt)
	if id == "" || ownerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !runeLenIn(name, RoleNameMinLen, RoleNameMaxLen) || !runeLenIn(prompt, RolePromptMinLen, RolePromptMaxLen) {
		return nil, domain.ErrInvalidArgument
	}
	if utf8.RuneCountInString(description) > RolePromptMaxLen {
		return nil, domain.ErrInvalidArgument
	}
	owner := ownerID
	return &Role{
		ID:          id,
		OwnerID:     &owner,
		Name:        name,
		Description: description,
		Prompt:      prompt,
		CreatedAt:   now,
	}, nil
}

func (r *Role) Preset() bool { return r.OwnerID == nil }

func (r *Role) OwnedBy(userID string) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}

// VisibleTo reports whether userID may see r at all.
func (r *Role) VisibleTo(userID string) bool { return r.Preset() || r.OwnedBy(userID) }

// SameName compares role names the way users type them.
func (r *Role) SameName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), r.Name)
}

func runeLenIn(s string, lo, hi int) bool {
	n := utf8.RuneCountInString(s)
	return n >= lo && n <= hi
}
