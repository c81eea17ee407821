package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.PaymentMethodRepository = (*PostgresPaymentMethodRepo)(nil)

// TokenCipher seals gateway tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type PostgresPaymentMethodRepo struct {
	pool   *pgxpool.Pool
	cipher TokenCipher
}

func NewPostgresPaymentMethodRepo(pool *pgxpool.Pool, cipher TokenCipher) *PostgresPaymentMethodRepo {
	return &PostgresPaymentMethodRepo{pool: pool, cipher: cipher}
}

func (r *PostgresPaymentMethodRepo) Save(ctx context.Context, tx repository.Tx, m *model.PaymentMethod) error {
	sealed, err := r.cipher.Encrypt(m.Token)
	if err != nil {
		return fmt.Errorf("seal payment method token: %w", err)
	}
	const q = `
INSERT INTO payment_methods (id, user_id, provider, token_encrypted, title, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET token_encrypted=$4, title=$5;`
	_, err = execSQL(ctx, r.pool, tx, q, m.ID, m.UserID, string(m.Provider), sealed, m.Title, m.CreatedAt)
	return mapWriteErr(err)
}

func (r *PostgresPaymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentMethod, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT id, user_id, provider, token_encrypted, title, created_at FROM payment_methods WHERE id=$1`, id)
	if err != nil {
		return nil, err
	}
	var m model.PaymentMethod
	var provider, sealed string
	if err := row.Scan(&m.ID, &m.UserID, &provider, &sealed, &m.Title, &m.CreatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	m.Provider = model.PaymentProvider(provider)
	if m.Token, err = r.cipher.Decrypt(sealed); err != nil {
		return nil, fmt.Errorf("open payment method token: %w", err)
	}
	return &m, nil
}

func (r *PostgresPaymentMethodRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	// ended subscriptions keep the reference until now
	if _, err := execSQL(ctx, r.pool, tx, `UPDATE subscriptions SET payment_method_id=NULL WHERE payment_method_id=$1`, id); err != nil {
		return mapWriteErr(err)
	}
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM payment_methods WHERE id=$1`, id)
	return mapWriteErr(err)
}
