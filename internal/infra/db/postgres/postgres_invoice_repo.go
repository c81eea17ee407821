package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*PostgresInvoiceRepo)(nil)

type PostgresInvoiceRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresInvoiceRepo(pool *pgxpool.Pool) *PostgresInvoiceRepo {
	return &PostgresInvoiceRepo{pool: pool}
}

const invoiceColumns = `id, public_id, user_id, plan_id, packet_id, subscription_id, reason, status,
       cycle_index, amount, currency, stars_amount, created_at, updated_at, paid_at`

func scanInvoice(row rowScanner) (*model.Invoice, error) {
	var inv model.Invoice
	var reason, status string
	if err := row.Scan(&inv.ID, &inv.PublicID, &inv.UserID, &inv.PlanID, &inv.PacketID, &inv.SubscriptionID,
		&reason, &status, &inv.CycleIndex, &inv.Amount, &inv.Currency, &inv.StarsAmount,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.PaidAt); err != nil {
		return nil, err
	}
	inv.Reason = model.InvoiceReason(reason)
	inv.Status = model.InvoiceStatus(status)
	return &inv, nil
}

func (r *PostgresInvoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	const q = `
INSERT INTO invoices (` + invoiceColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  subscription_id=$6, status=$8, updated_at=$14, paid_at=$15;`
	_, err := execSQL(ctx, r.pool, tx, q, inv.ID, inv.PublicID, inv.UserID, inv.PlanID, inv.PacketID, inv.SubscriptionID,
		string(inv.Reason), string(inv.Status), inv.CycleIndex, inv.Amount, inv.Currency, inv.StarsAmount,
		inv.CreatedAt, inv.UpdatedAt, inv.PaidAt)
	return mapWriteErr(err)
}

func (r *PostgresInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *PostgresInvoiceRepo) FindByPublicID(ctx context.Context, tx repository.Tx, publicID string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices WHERE public_id=$1`, tx)
	return r.queryOne(ctx, tx, q, publicID)
}

func (r *PostgresInvoiceRepo) FindLatestBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Invoice, error) {
	q := forUpdate(`SELECT `+invoiceColumns+` FROM invoices
 WHERE subscription_id=$1 AND reason IN ('initial','renewal')
 ORDER BY cycle_index DESC, created_at DESC
 LIMIT 1`, tx)
	return r.queryOne(ctx, tx, q, subscriptionID)
}

func (r *PostgresInvoiceRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Invoice, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return inv, nil
}
