package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*PostgresPaymentRepo)(nil)

type PostgresPaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPaymentRepo(pool *pgxpool.Pool) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{pool: pool}
}

const paymentColumns = `id, invoice_id, user_id, provider, provider_payment_id, amount, currency, status,
       failure_code, failure_reason, created_at, updated_at, completed_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var p model.Payment
	var provider, status string
	var providerID *string
	if err := row.Scan(&p.ID, &p.InvoiceID, &p.UserID, &provider, &providerID, &p.Amount, &p.Currency, &status,
		&p.FailureCode, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	p.Provider = model.PaymentProvider(provider)
	p.Status = model.PaymentStatus(status)
	if providerID != nil {
		p.ProviderPaymentID = *providerID
	}
	return &p, nil
}

// nullable keeps empty provider ids out of the partial unique index.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PostgresPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  provider_payment_id=$5, status=$8, failure_code=$9, failure_reason=$10, updated_at=$12, completed_at=$13;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.InvoiceID, p.UserID, string(p.Provider), nullable(p.ProviderPaymentID),
		p.Amount, p.Currency, string(p.Status), p.FailureCode, p.FailureReason, p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	return mapWriteErr(err)
}

func (r *PostgresPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *PostgresPaymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments WHERE provider=$1 AND provider_payment_id=$2`, tx)
	return r.queryOne(ctx, tx, q, string(provider), providerPaymentID)
}

func (r *PostgresPaymentRepo) FindPendingByInvoice(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error) {
	q := forUpdate(`SELECT `+paymentColumns+` FROM payments
 WHERE invoice_id=$1 AND status='pending'
 ORDER BY created_at DESC
 LIMIT 1`, tx)
	return r.queryOne(ctx, tx, q, invoiceID)
}

func (r *PostgresPaymentRepo) CountByInvoiceAndStatus(ctx context.Context, tx repository.Tx, invoiceID string, statuses ...model.PaymentStatus) (int, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payments WHERE invoice_id=$1 AND status = ANY($2)`, invoiceID, names)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapReadErr(err)
	}
	return n, nil
}

func (r *PostgresPaymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments
 WHERE status='pending' AND created_at < $1
 ORDER BY created_at
 LIMIT $2`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, scanPayment)
}

func (r *PostgresPaymentRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id, providerPaymentID string) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE payments SET provider_payment_id=$2, updated_at=NOW() WHERE id=$1`, id, nullable(providerPaymentID))
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error) {
	const q = `
UPDATE payments
SET status=$2, failure_code=$3, failure_reason=$4, updated_at=$5, completed_at=$6,
    provider_payment_id=COALESCE(provider_payment_id, $7)
WHERE id=$1 AND status='pending'`
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, string(p.Status), p.FailureCode, p.FailureReason,
		p.UpdatedAt, p.CompletedAt, nullable(p.ProviderPaymentID))
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresPaymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return p, nil
}
