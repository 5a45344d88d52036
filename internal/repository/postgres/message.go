package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Append inserts an immutable message. The id is a bigserial; Postgres
// assigns it and RETURNING hands it back. An unknown thread id trips the FK
// and surfaces as a storage error carrying the thread id, never a silent
// drop.
func (s *MessageStore) Append(ctx context.Context, threadID uuid.UUID, role models.Role, content string) (*models.Message, error) {
	const op = "message.Append"

	query := `
		INSERT INTO messages (thread_id, role, content, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, thread_id, role, content, created_at`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, threadID, role, content).Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.Role,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return nil, apperr.Storage(op, fmt.Errorf("unknown thread %s: %w", threadID, err))
		}
		return nil, apperr.Storage(op, err)
	}
	return &msg, nil
}

// History returns a most-recent-first page of the transcript.
//
// Ordering is (created_at, id) descending with id as the authoritative
// tie-break: created_at alone is ambiguous for messages written within the
// same timestamp granularity, and the bigserial id preserves insert order.
//
// An unknown thread yields an empty page, same as a known thread with no
// messages; the orchestrator checks thread existence before paging.
func (s *MessageStore) History(ctx context.Context, threadID uuid.UUID, limit, offset int) ([]models.Message, error) {
	const op = "message.History"

	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, role, content, created_at
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		threadID, limit, offset)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Role,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, apperr.Storage(op, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}

	return messages, nil
}

// DeleteOlderThan purges messages past the retention horizon. Offline sweep
// only; the online path never deletes.
func (s *MessageStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	const op = "message.DeleteOlderThan"

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE created_at < now() - make_interval(days => $1)`,
		days)
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	return tag.RowsAffected(), nil
}
