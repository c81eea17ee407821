// File: internal/usecase/role_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
)

// Compile-time check
var _ RoleUseCase = (*roleUC)(nil)

// RoleView is one line of the role menu.
type RoleView struct {
	Role      *model.Role
	Available bool // the tier may select it
	Selected  bool
}

// NewRole is a custom role as the user typed it.
type NewRole struct {
	Name        string
	Description string
	Prompt      string
}

// RoleUseCase manages the preset and custom system prompts of a user.
type RoleUseCase interface {
	List(ctx context.Context, userID string, tier model.Tier) ([]RoleView, error)
	// Create stores a custom role and selects it.
	Create(ctx context.Context, userID string, tier model.Tier, in NewRole) (*model.Role, error)
	Select(ctx context.Context, userID, roleID string, tier model.Tier) (*model.Role, error)
	// Delete removes an own role; a selection of it falls back to the default.
	Delete(ctx context.Context, userID, roleID string) error
	// Prompt is the system prompt of the user's selection. "" means the
	// configured default: no selection, a gone role or one the tier lost.
	Prompt(ctx context.Context, u *model.User, tier model.Tier) (string, error)
}

type roleUC struct {
	roles       repository.RoleRepository
	users       repository.UserRepository
	permissions PermissionUseCase
	tm          repository.TransactionManager
	now         func() time.Time
	log         *zerolog.Logger
}

func NewRoleUseCase(
	roles repository.RoleRepository,
	users repository.UserRepository,
	permissions PermissionUseCase,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *roleUC {
	l := logger.With().Str("component", "RoleUseCase").Logger()
	return &roleUC{
		roles:       roles,
		users:       users,
		permissions: permissions,
		tm:          tm,
		now:         time.Now,
		log:         &l,
	}
}

func (u *roleUC) WithClock(now func() time.Time) *roleUC {
	u.now = now
	return u
}

func (u *roleUC) available(r *model.Role, userID string, tier model.Tier) bool {
	switch {
	case r.Preset():
		return r.FreeAvailable || tier.Paid()
	case r.OwnedBy(userID):
		return u.permissions.CheckCustomRoles(tier) == CapabilityAllowed
	}
	return false
}

func (u *roleUC) List(ctx context.Context, userID string, tier model.Tier) ([]RoleView, error) {
	defer logging.TraceDuration(u.log, "RoleUC.List")()

	usr, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	roles, err := u.roles.ListForUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	selected := model.DefaultRoleID
	if usr.SelectedRoleID != nil {
		selected = *usr.SelectedRoleID
	}
	out := make([]RoleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleView{Role: r, Available: u.available(r, userID, tier), Selected: r.ID == selected})
	}
	return out, nil
}

func (u *roleUC) Create(ctx context.Context, userID string, tier model.Tier, in NewRole) (*model.Role, error) {
	defer logging.TraceDuration(u.log, "RoleUC.Create")()

	if u.permissions.CheckCustomRoles(tier) != CapabilityAllowed {
		return nil, domain.ErrRoleNotAllowed
	}
	role, err := model.NewCustomRole(uuid.NewString(), userID, in.Name, in.Description, in.Prompt, u.now())
	if err != nil {
		return nil, err
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		existing, err := u.roles.ListForUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		own := 0
		for _, r := range existing {
			if r.SameName(role.Name) {
				// presets too: /role selects by name
				return domain.ErrAlreadyExists
			}
			if r.OwnedBy(userID) {
				own++
			}
		}
		if own >= model.MaxCustomRoles {
			return domain.ErrRoleLimit
		}
		if err := u.roles.Create(ctx, tx, role); err != nil {
			return err
		}
		id := role.ID
		usr.SelectedRoleID = &id
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("role_id", role.ID).Msg("custom role created")
	return role, nil
}

func (u *roleUC) Select(ctx context.Context, userID, roleID string, tier model.Tier) (*model.Role, error) {
	defer logging.TraceDuration(u.log, "RoleUC.Select")()

	var picked *model.Role
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		r, err := u.roles.FindByID(ctx, tx, roleID)
		if err != nil {
			return err
		}
		if !r.VisibleTo(userID) {
			return domain.ErrNotFound
		}
		if !u.available(r, userID, tier) {
			return domain.ErrRoleNotAllowed
		}
		usr, err := u.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if r.ID == model.DefaultRoleID {
			usr.SelectedRoleID = nil
		} else {
			id := r.ID
			usr.SelectedRoleID = &id
		}
		picked = r
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}

func (u *roleUC) Delete(ctx context.Context, userID, roleID string) error {
	defer logging.TraceDuration(u.log, "RoleUC.Delete")()

	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.roles.Delete(ctx, tx, userID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		usr, err := u.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if usr.SelectedRoleID == nil || *usr.SelectedRoleID != roleID {
			return nil
		}
		usr.SelectedRoleID = nil
		return u.users.Save(ctx, tx, usr)
	})
}

func (u *roleUC) Prompt(ctx context.Context, usr *model.User, tier model.Tier) (string, error) {
	if usr.SelectedRoleID == nil || *usr.SelectedRoleID == "" {
		return "", nil
	}
	r, err := u.roles.FindByID(ctx, repository.NoTX, *usr.SelectedRoleID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !r.VisibleTo(usr.ID) || !u.available(r, usr.ID, tier) {
		return "", nil
	}
	return r.Prompt, nil
}
