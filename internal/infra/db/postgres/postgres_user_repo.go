package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, telegram_id, username, selected_model_id, selected_role_id, registered_at, last_active_at`

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  telegram_id=$2, username=$3, selected_model_id=$4, selected_role_id=$5, last_active_at=$7;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.TelegramID, u.Username, u.SelectedModelID, u.SelectedRoleID, u.RegisteredAt, u.LastActiveAt)
	return mapWriteErr(err)
}

func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE telegram_id=$1`, tx)
	return r.queryOne(ctx, tx, q, tgID)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`SELECT `+userColumns+` FROM users WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *PostgresUserRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.SelectedModelID, &u.SelectedRoleID, &u.RegisteredAt, &u.LastActiveAt); err != nil {
		return nil, mapReadErr(err)
	}
	return &u, nil
}
