package usecase

import (
	"context"
	"errors"
	"strings"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by the bot.
type UserUseCase interface {
	RegisterOrFetch(ctx context.Context, tgID int64, username string) (*model.User, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	// SelectModel stores a model name or "auto" as the user's choice.
	SelectModel(ctx context.Context, userID, name string, tier model.Tier) (*model.AIModel, error)
}

type userUC struct {
	users  repository.UserRepository
	models repository.AIModelRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, models repository.AIModelRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUseCase").Logger()
	return &userUC{
		users:  users,
		models: models,
		tm:     tm,
		log:    &l,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	var user *model.User
	created := false
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if usr != nil {
			if usr.Username != username && username != "" {
				usr.Username = username
			}
			usr.Touch()
			if err = u.users.Save(ctx, tx, usr); err != nil {
				u.log.Error().Err(err).Int64("telegram_id", tgID).Msg("failed to update user")
				return err
			}
			user = usr
			return nil
		}

		nu, err := model.NewUser("", tgID, username)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user, created = nu, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Str("user_id", user.ID).Int64("telegram_id", tgID).Msg("user registered")
	}
	return user, nil
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByTelegramID")()
	return u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
}

func (u *userUC) SelectModel(ctx context.Context, userID, name string, tier model.Tier) (*model.AIModel, error) {
	defer logging.TraceDuration(u.log, "UserUC.SelectModel")()

	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}

	var picked *model.AIModel
	if !strings.EqualFold(name, model.AutoModelID) {
		m, err := u.models.FindByName(ctx, repository.NoTX, name)
		if err != nil {
			return nil, err
		}
		if !m.AvailableFor(tier) {
			return nil, domain.ErrNoModel
		}
		picked = m
	}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		id := model.AutoModelID
		if picked != nil {
			id = picked.ID
		}
		usr.SelectedModelID = &id
		return u.users.Save(ctx, tx, usr)
	})
	if err != nil {
		return nil, err
	}
	return picked, nil
}
