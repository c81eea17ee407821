package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var (
	_ repository.PrepaidBalanceRepository = (*PostgresPrepaidBalanceRepo)(nil)
	_ repository.UsageEventRepository     = (*PostgresUsageEventRepo)(nil)
	_ repository.TierLimitsRepository     = (*PostgresTierLimitsRepo)(nil)
)

type PostgresPrepaidBalanceRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPrepaidBalanceRepo(pool *pgxpool.Pool) *PostgresPrepaidBalanceRepo {
	return &PostgresPrepaidBalanceRepo{pool: pool}
}

const balanceColumns = `id, user_id, packet_id, class, remaining, purchased_at`

func scanBalance(row rowScanner) (*model.PrepaidBalance, error) {
	var b model.PrepaidBalance
	var class string
	if err := row.Scan(&b.ID, &b.UserID, &b.PacketID, &class, &b.Remaining, &b.PurchasedAt); err != nil {
		return nil, err
	}
	b.Class = model.ResourceClass(class)
	return &b, nil
}

func (r *PostgresPrepaidBalanceRepo) Create(ctx context.Context, tx repository.Tx, b *model.PrepaidBalance) error {
	const q = `INSERT INTO user_packets (` + balanceColumns + `) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := execSQL(ctx, r.pool, tx, q, b.ID, b.UserID, b.PacketID, string(b.Class), b.Remaining, b.PurchasedAt)
	return mapWriteErr(err)
}

func (r *PostgresPrepaidBalanceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PrepaidBalance, error) {
	row, err := pickRow(ctx, r.pool, tx, forUpdate(`SELECT `+balanceColumns+` FROM user_packets WHERE id=$1`, tx), id)
	if err != nil {
		return nil, err
	}
	b, err := scanBalance(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return b, nil
}

func (r *PostgresPrepaidBalanceRepo) ListSpendable(ctx context.Context, tx repository.Tx, userID string, class model.ResourceClass, cost int64) ([]*model.PrepaidBalance, error) {
	const q = `SELECT ` + balanceColumns + ` FROM user_packets
 WHERE user_id=$1 AND class=$2 AND remaining >= $3 AND remaining > 0
 ORDER BY purchased_at, id`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, string(class), cost)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanBalance)
}

func (r *PostgresPrepaidBalanceRepo) TotalRemaining(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(remaining), 0) FROM user_packets WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, mapReadErr(err)
	}
	return n, nil
}

// Decrement is a guarded update: concurrent spenders of one balance can
// never drive it below zero.
func (r *PostgresPrepaidBalanceRepo) Decrement(ctx context.Context, tx repository.Tx, id string, cost int64) (bool, error) {
	if cost <= 0 {
		return false, nil
	}
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE user_packets SET remaining = remaining - $2 WHERE id=$1 AND remaining >= $2`, id, cost)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

type PostgresUsageEventRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUsageEventRepo(pool *pgxpool.Pool) *PostgresUsageEventRepo {
	return &PostgresUsageEventRepo{pool: pool}
}

func (r *PostgresUsageEventRepo) Add(ctx context.Context, tx repository.Tx, e *model.UsageEvent) error {
	const q = `
INSERT INTO usage_events (id, request_id, user_id, source, amount, subscription_id, user_packet_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.RequestID, e.UserID, string(e.Source), e.Amount,
		e.SubscriptionID, e.UserPacketID, e.CreatedAt)
	return mapWriteErr(err)
}

type PostgresTierLimitsRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTierLimitsRepo(pool *pgxpool.Pool) *PostgresTierLimitsRepo {
	return &PostgresTierLimitsRepo{pool: pool}
}

func (r *PostgresTierLimitsRepo) Get(ctx context.Context, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error) {
	row, err := pickRow(ctx, r.pool, repository.NoTX,
		`SELECT tier, class, message_limit, token_limit FROM tier_limits WHERE tier=$1 AND class=$2`, tier, string(class))
	if err != nil {
		return nil, err
	}
	var l model.TierLimits
	var c string
	if err := row.Scan(&l.Tier, &c, &l.MessageLimit, &l.TokenLimit); err != nil {
		return nil, mapReadErr(err)
	}
	l.Class = model.ResourceClass(c)
	return &l, nil
}
