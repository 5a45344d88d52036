package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

// Postgres error codes the directory has to recognize.
const (
	pgUniqueViolation  = "23505"
	pgFKViolation      = "23503"
	pgSerializeFailure = "40001"
	pgDeadlockDetected = "40P01"
)

// findOrCreate retries on transaction conflicts this many times before
// giving up. Backoff doubles from findOrCreateBackoff each attempt.
const (
	findOrCreateAttempts = 3
	findOrCreateBackoff  = 25 * time.Millisecond
)

const threadColumns = `id, company_id, customer_id, channel, current_handler,
	assigned_agent_id, is_active, created_at,
	handover_to_agent_at, handover_to_bot_at, closed_at`

type ThreadStore struct {
	pool *pgxpool.Pool
}

func NewThreadStore(pool *pgxpool.Pool) *ThreadStore {
	return &ThreadStore{pool: pool}
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var t models.Thread
	err := row.Scan(
		&t.ID,
		&t.CompanyID,
		&t.CustomerID,
		&t.Channel,
		&t.CurrentHandler,
		&t.AssignedAgentID,
		&t.IsActive,
		&t.CreatedAt,
		&t.HandoverToAgentAt,
		&t.HandoverToBotAt,
		&t.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindOrCreate resolves the single active thread for the triple, creating it
// when absent. The read-check-create runs inside a transaction that takes
// FOR UPDATE locks on matching rows, so two near-simultaneous first messages
// from the same customer serialize instead of double-inserting. A lost race
// that still reaches the partial unique index (23505) is retried and
// resolved by re-reading; the caller never sees a duplicate-key error.
func (s *ThreadStore) FindOrCreate(ctx context.Context, customerID, companyID uuid.UUID, channel models.Channel) (*models.Thread, bool, error) {
	const op = "thread.FindOrCreate"

	backoff := findOrCreateBackoff
	var lastErr error
	for attempt := 0; attempt < findOrCreateAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, false, apperr.Storage(op, ctx.Err())
			}
			backoff *= 2
		}

		thread, created, err := s.findOrCreateOnce(ctx, customerID, companyID, channel)
		if err == nil {
			return thread, created, nil
		}
		if !retryable(err) {
			return nil, false, apperr.Storage(op, err)
		}
		lastErr = err
	}
	return nil, false, apperr.Storage(op, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (s *ThreadStore) findOrCreateOnce(ctx context.Context, customerID, companyID uuid.UUID, channel models.Channel) (*models.Thread, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// Most recently created first: defensive tie-break in case multiple
	// active rows ever exist despite the unique index.
	row := tx.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE customer_id = $1 AND company_id = $2 AND channel = $3 AND is_active
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		customerID, companyID, channel)

	thread, err := scanThread(row)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return thread, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Fall through to insert while still holding the transaction.
	default:
		return nil, false, err
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO threads (id, company_id, customer_id, channel, current_handler, assigned_agent_id, is_active)
		VALUES ($1, $2, $3, $4, 'bot', NULL, TRUE)
		RETURNING `+threadColumns,
		uuid.New(), companyID, customerID, channel)

	thread, err = scanThread(row)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return thread, true, nil
}

// retryable reports whether the error is a transient transaction conflict:
// serialization failure, deadlock, or losing the insert race to the partial
// unique index (the winner's row will be found on re-read).
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializeFailure, pgDeadlockDetected, pgUniqueViolation:
		return true
	}
	return false
}

func (s *ThreadStore) GetByID(ctx context.Context, threadID uuid.UUID) (*models.Thread, error) {
	const op = "thread.GetByID"

	row := s.pool.QueryRow(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = $1`,
		threadID)

	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(op, fmt.Sprintf("thread %s not found", threadID))
		}
		return nil, apperr.Storage(op, err)
	}
	return thread, nil
}

func (s *ThreadStore) Exists(ctx context.Context, threadID uuid.UUID) (bool, error) {
	const op = "thread.Exists"

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM threads WHERE id = $1`, threadID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, apperr.Storage(op, err)
	}
	return true, nil
}

// Assign moves the thread between handlers. The update is conditional on
// is_active, so a closed thread reports false (terminal state, no
// transitions). assigned_agent_id is nulled when the handler is bot;
// an agent id never survives a handback.
func (s *ThreadStore) Assign(ctx context.Context, threadID uuid.UUID, handler models.Handler, agentID *uuid.UUID) (bool, error) {
	const op = "thread.Assign"

	var stampColumn string
	var keptAgent *uuid.UUID
	if handler == models.HandlerAgent {
		stampColumn = "handover_to_agent_at"
		keptAgent = agentID
	} else {
		stampColumn = "handover_to_bot_at"
		keptAgent = nil
	}

	// stampColumn is chosen from two compile-time constants above; this is
	// not caller-controlled identifier interpolation.
	tag, err := s.pool.Exec(ctx, `
		UPDATE threads
		SET current_handler = $1, assigned_agent_id = $2, `+stampColumn+` = now()
		WHERE id = $3 AND is_active`,
		handler, keptAgent, threadID)
	if err != nil {
		return false, apperr.Storage(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDone soft-closes the thread. The WHERE is_active guard makes it
// idempotent: a second call affects zero rows and leaves closed_at alone.
func (s *ThreadStore) MarkDone(ctx context.Context, threadID uuid.UUID) (bool, error) {
	const op = "thread.MarkDone"

	tag, err := s.pool.Exec(ctx, `
		UPDATE threads
		SET is_active = FALSE, closed_at = now()
		WHERE id = $1 AND is_active`,
		threadID)
	if err != nil {
		return false, apperr.Storage(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListHeads returns the CRM inbox: active threads joined with their customer
// and latest message, threads with recent activity first. The channel filter
// is appended as a parameterized predicate, never interpolated.
func (s *ThreadStore) ListHeads(ctx context.Context, companyID uuid.UUID, channel models.Channel) ([]models.ChatHead, error) {
	const op = "thread.ListHeads"

	query := `
		SELECT
			t.id, t.channel, t.current_handler, t.assigned_agent_id,
			c.id, c.company_id, c.name, c.phone, c.email, c.created_at,
			m.content, m.role, m.created_at
		FROM threads t
		INNER JOIN customers c ON c.id = t.customer_id
		LEFT JOIN LATERAL (
			SELECT content, role, created_at
			FROM messages
			WHERE thread_id = t.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) m ON TRUE
		WHERE t.company_id = $1 AND t.is_active`
	args := []any{companyID}

	if channel != "" {
		args = append(args, channel)
		query += fmt.Sprintf(" AND t.channel = $%d", len(args))
	}
	query += ` ORDER BY m.created_at DESC NULLS LAST, t.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	heads := make([]models.ChatHead, 0)
	for rows.Next() {
		var h models.ChatHead
		var content *string
		var role *models.Role
		var lastAt *time.Time
		if err := rows.Scan(
			&h.ID,
			&h.Channel,
			&h.CurrentHandler,
			&h.Assignee,
			&h.Customer.ID,
			&h.Customer.CompanyID,
			&h.Customer.Name,
			&h.Customer.Phone,
			&h.Customer.Email,
			&h.Customer.CreatedAt,
			&content,
			&role,
			&lastAt,
		); err != nil {
			return nil, apperr.Storage(op, err)
		}
		if content != nil && role != nil && lastAt != nil {
			h.LastMessage = &models.MessagePreview{
				Content:   *content,
				Role:      *role,
				CreatedAt: *lastAt,
			}
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}

	return heads, nil
}
