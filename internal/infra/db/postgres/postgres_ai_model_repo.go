package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.AIModelRepository = (*PostgresAIModelRepo)(nil)

type PostgresAIModelRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAIModelRepo(pool *pgxpool.Pool) *PostgresAIModelRepo {
	return &PostgresAIModelRepo{pool: pool}
}

const aiModelColumns = `id, name, description, type, api_name, provider, endpoint, class, generation_cost, min_tier, is_default`

func scanAIModel(row rowScanner) (*model.AIModel, error) {
	var m model.AIModel
	var typ, class string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &typ, &m.APIName, &m.Provider, &m.Endpoint,
		&class, &m.GenerationCost, &m.MinTier, &m.IsDefault); err != nil {
		return nil, err
	}
	m.Type = model.AIModelType(typ)
	m.Class = model.ResourceClass(class)
	return &m, nil
}

func (r *PostgresAIModelRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AIModel, error) {
	return r.queryOne(ctx, tx, `SELECT `+aiModelColumns+` FROM ai_models WHERE id=$1 AND enabled`, id)
}

// FindByName matches case-insensitively, as users type names by hand.
func (r *PostgresAIModelRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.AIModel, error) {
	return r.queryOne(ctx, tx, `SELECT `+aiModelColumns+` FROM ai_models WHERE lower(name)=lower($1) AND enabled`, name)
}

func (r *PostgresAIModelRepo) FindDefault(ctx context.Context, tx repository.Tx) (*model.AIModel, error) {
	return r.queryOne(ctx, tx, `SELECT `+aiModelColumns+` FROM ai_models WHERE is_default AND enabled`)
}

func (r *PostgresAIModelRepo) ListAvailable(ctx context.Context, tx repository.Tx, tier model.Tier) ([]*model.AIModel, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+aiModelColumns+` FROM ai_models WHERE enabled AND min_tier <= $1 ORDER BY min_tier, name`, tier)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanAIModel)
}

func (r *PostgresAIModelRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.AIModel, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	m, err := scanAIModel(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return m, nil
}
