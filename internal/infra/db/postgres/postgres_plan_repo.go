package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

// Ensure interface compliance
var (
	_ repository.PlanRepository   = (*PostgresPlanRepo)(nil)
	_ repository.PacketRepository = (*PostgresPacketRepo)(nil)
)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

const planColumns = `id, name, tier, kind, period_days, price, currency, stars_price, renews_into_plan_id, visible, created_at`

func scanPlan(row rowScanner) (*model.Plan, error) {
	var p model.Plan
	var kind string
	if err := row.Scan(&p.ID, &p.Name, &p.Tier, &kind, &p.PeriodDays, &p.Price, &p.Currency,
		&p.StarsPrice, &p.RenewsIntoPlanID, &p.Visible, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Kind = model.PlanKind(kind)
	return &p, nil
}

// Save is used by seeding and tests; plans are otherwise read-only.
func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	const q = `
INSERT INTO plans (` + planColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  name=$2, tier=$3, kind=$4, period_days=$5, price=$6, currency=$7,
  stars_price=$8, renews_into_plan_id=$9, visible=$10;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Tier, string(p.Kind), p.PeriodDays, p.Price,
		p.Currency, p.StarsPrice, p.RenewsIntoPlanID, p.Visible, p.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListVisible(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+planColumns+` FROM plans WHERE visible ORDER BY tier, price`)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanPlan)
}

type PostgresPacketRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPacketRepo(pool *pgxpool.Pool) *PostgresPacketRepo {
	return &PostgresPacketRepo{pool: pool}
}

const packetColumns = `id, name, class, units, price, currency, stars_price, visible`

func scanPacket(row rowScanner) (*model.Packet, error) {
	var p model.Packet
	var class string
	if err := row.Scan(&p.ID, &p.Name, &class, &p.Units, &p.Price, &p.Currency, &p.StarsPrice, &p.Visible); err != nil {
		return nil, err
	}
	p.Class = model.ResourceClass(class)
	return &p, nil
}

func (r *PostgresPacketRepo) Save(ctx context.Context, tx repository.Tx, p *model.Packet) error {
	const q = `
INSERT INTO packets (` + packetColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  name=$2, class=$3, units=$4, price=$5, currency=$6, stars_price=$7, visible=$8;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, string(p.Class), p.Units, p.Price, p.Currency, p.StarsPrice, p.Visible)
	return mapWriteErr(err)
}

func (r *PostgresPacketRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Packet, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+packetColumns+` FROM packets WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPacket(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return p, nil
}

func (r *PostgresPacketRepo) ListVisible(ctx context.Context, tx repository.Tx) ([]*model.Packet, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+packetColumns+` FROM packets WHERE visible ORDER BY class, price`)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanPacket)
}
