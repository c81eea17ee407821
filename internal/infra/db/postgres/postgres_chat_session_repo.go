package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
)

var _ repository.ChatSessionRepository = (*PostgresChatSessionRepo)(nil)

type PostgresChatSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresChatSessionRepo(pool *pgxpool.Pool) *PostgresChatSessionRepo {
	return &PostgresChatSessionRepo{pool: pool}
}

func (r *PostgresChatSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	const q = `
INSERT INTO chat_sessions (id, user_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET status=$3, updated_at=$5;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, string(s.Status), s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *PostgresChatSessionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.ChatSession, error) {
	q := forUpdate(`SELECT id, user_id, status, created_at, updated_at FROM chat_sessions WHERE user_id=$1 AND status='active'`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var s model.ChatSession
	var status string
	if err := row.Scan(&s.ID, &s.UserID, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	s.Status = model.ChatSessionStatus(status)
	return &s, nil
}

// AppendMessages writes msgs in one batch, in order.
func (r *PostgresChatSessionRepo) AppendMessages(ctx context.Context, tx repository.Tx, msgs ...model.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	const q = `INSERT INTO chat_messages (session_id, role, content, model_id, tokens, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	b := &pgx.Batch{}
	for _, m := range msgs {
		b.Queue(q, m.SessionID, m.Role, m.Content, m.ModelID, m.Tokens, m.Timestamp)
	}
	br := ex.SendBatch(ctx, b)
	defer br.Close()
	for range msgs {
		if _, err := br.Exec(); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

// RecentMessages returns the last n messages of the session, oldest first.
func (r *PostgresChatSessionRepo) RecentMessages(ctx context.Context, tx repository.Tx, sessionID string, n int) ([]model.ChatMessage, error) {
	const q = `
SELECT session_id, role, content, model_id, tokens, created_at FROM (
  SELECT id, session_id, role, content, model_id, tokens, created_at
  FROM chat_messages WHERE session_id=$1
  ORDER BY id DESC LIMIT $2
) recent ORDER BY id`
	rows, err := queryRows(ctx, r.pool, tx, q, sessionID, n)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return collect(rows, func(row rowScanner) (model.ChatMessage, error) {
		var m model.ChatMessage
		err := row.Scan(&m.SessionID, &m.Role, &m.Content, &m.ModelID, &m.Tokens, &m.Timestamp)
		return m, err
	})
}
