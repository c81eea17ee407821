package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

// Ensure PostgresSubscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

type PostgresSubscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionRepo(pool *pgxpool.Pool) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{pool: pool}
}

const subColumns = `id, user_id, plan_id, tier, status, period_start, period_end, will_renew,
       renews_at, payment_method_id, anchor_payment_id, provider, created_at, updated_at`

const liveStatuses = `('active','past_due','process_retry')`

func scanSub(row rowScanner) (*model.Subscription, error) {
	var s model.Subscription
	var status, provider string
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Tier, &status, &s.PeriodStart, &s.PeriodEnd, &s.WillRenew,
		&s.RenewsAt, &s.PaymentMethodID, &s.AnchorPaymentID, &provider, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	s.Provider = model.PaymentProvider(provider)
	return &s, nil
}

// Save upserts s. The partial unique index on live (user, tier) pairs turns
// a second live subscription into domain.ErrAlreadyExists.
func (r *PostgresSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  plan_id=$3, tier=$4, status=$5, period_start=$6, period_end=$7, will_renew=$8,
  renews_at=$9, payment_method_id=$10, anchor_payment_id=$11, provider=$12, updated_at=$14;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, s.Tier, string(s.Status), s.PeriodStart, s.PeriodEnd,
		s.WillRenew, s.RenewsAt, s.PaymentMethodID, s.AnchorPaymentID, string(s.Provider), s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subColumns+` FROM subscriptions WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *PostgresSubscriptionRepo) FindLiveByUserAndTier(ctx context.Context, tx repository.Tx, userID string, tier model.Tier) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subColumns+` FROM subscriptions
 WHERE user_id=$1 AND tier=$2 AND status IN `+liveStatuses+`
 LIMIT 1`, tx)
	return r.queryOne(ctx, tx, q, userID, tier)
}

func (r *PostgresSubscriptionRepo) FindLiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	q := forUpdate(`SELECT `+subColumns+` FROM subscriptions
 WHERE user_id=$1 AND status IN `+liveStatuses+`
 ORDER BY tier DESC, period_end DESC`, tx)
	return r.queryMany(ctx, tx, q, userID)
}

// ListPastDueDue returns PAST_DUE rows whose retry time elapsed or was never set.
func (r *PostgresSubscriptionRepo) ListPastDueDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions
 WHERE status='past_due' AND (renews_at IS NULL OR renews_at <= $1)
 ORDER BY renews_at NULLS FIRST
 LIMIT $2`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *PostgresSubscriptionRepo) ListActiveEnded(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	const q = `SELECT ` + subColumns + ` FROM subscriptions
 WHERE status='active' AND period_end <= $1
 ORDER BY period_end
 LIMIT $2`
	return r.queryMany(ctx, tx, q, now, limit)
}

func (r *PostgresSubscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return s, nil
}

func (r *PostgresSubscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanSub)
}
