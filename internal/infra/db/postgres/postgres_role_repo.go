package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.RoleRepository = (*PostgresRoleRepo)(nil)

type PostgresRoleRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRoleRepo(pool *pgxpool.Pool) *PostgresRoleRepo {
	return &PostgresRoleRepo{pool: pool}
}

const roleColumns = `id, owner_id, name, description, prompt, free_available, created_at`

func scanRole(row rowScanner) (*model.Role, error) {
	var r model.Role
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Description, &r.Prompt, &r.FreeAvailable, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PostgresRoleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Role, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+roleColumns+` FROM roles WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	role, err := scanRole(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return role, nil
}

func (r *PostgresRoleRepo) ListForUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Role, error) {
	const q = `
SELECT ` + roleColumns + ` FROM roles
WHERE owner_id IS NULL OR owner_id=$1
ORDER BY owner_id IS NOT NULL, created_at, name`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanRole)
}

func (r *PostgresRoleRepo) Create(ctx context.Context, tx repository.Tx, role *model.Role) error {
	const q = `INSERT INTO roles (` + roleColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := execSQL(ctx, r.pool, tx, q, role.ID, role.OwnerID, role.Name, role.Description, role.Prompt, role.FreeAvailable, role.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresRoleRepo) Delete(ctx context.Context, tx repository.Tx, ownerID, id string) (bool, error) {
	// users.selected_role_id is ON DELETE SET NULL
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM roles WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
