package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/zapinsight/internal/domain"
)

// QueueRepository handles the analysis queue
type QueueRepository struct {
	db *pgxpool.Pool
}

const queueColumns = `id, contact_id, priority, attempts, status, COALESCE(reason, ''), last_error,
	created_at, started_at, processed_at, updated_at`

func scanQueueItem(row pgx.Row, extra ...any) (*domain.QueueItem, error) {
	q := &domain.QueueItem{}
	dest := []any{
		&q.ID, &q.ContactID, &q.Priority, &q.Attempts, &q.Status, &q.Reason, &q.LastError,
		&q.CreatedAt, &q.StartedAt, &q.ProcessedAt, &q.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return q, nil
}

func collectQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	defer rows.Close()
	var items []*domain.QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// Enqueue relies on the partial unique index over in-flight items: a second
// enqueue for the same contact returns the existing row, keeping the more
// urgent priority.
func (r *QueueRepository) Enqueue(ctx context.Context, contactID uuid.UUID, priority int, reason string) (*domain.QueueItem, bool, error) {
	var inserted bool
	q, err := scanQueueItem(r.db.QueryRow(ctx, `
		INSERT INTO analysis_queue (contact_id, priority, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id) WHERE status IN ('pendente', 'processando')
		DO UPDATE SET priority = LEAST(analysis_queue.priority, EXCLUDED.priority), updated_at = NOW()
		RETURNING `+queueColumns+`, (xmax = 0) AS inserted
	`, contactID, priority, reason), &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue contact %s: %w", contactID, err)
	}
	return q, inserted, nil
}

// Claim is safe across concurrent workers: SKIP LOCKED hands each row to one
// claimer only.
func (r *QueueRepository) Claim(ctx context.Context, limit, maxAttempts int) ([]*domain.QueueItem, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE analysis_queue SET
			status = 'processando',
			attempts = attempts + 1,
			started_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM analysis_queue
			WHERE status = 'pendente' AND attempts < $2
			ORDER BY priority ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns,
		limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	items, err := collectQueueItems(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *QueueRepository) Transition(ctx context.Context, id uuid.UUID, from, to string, lastError *string) (bool, error) {
	terminal := to == domain.QueueStatusDone || to == domain.QueueStatusError
	tag, err := r.db.Exec(ctx, `
		UPDATE analysis_queue SET
			status = $3,
			last_error = $4,
			processed_at = CASE WHEN $5 THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, lastError, terminal)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseStale returns items stuck in processando since before the cutoff to
// pendente, or to erro once their attempts are spent.
func (r *QueueRepository) ReleaseStale(ctx context.Context, startedBefore time.Time, maxAttempts int) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE analysis_queue SET
			status = CASE WHEN attempts >= $2 THEN 'erro' ELSE 'pendente' END,
			last_error = 'processing lease expired',
			processed_at = CASE WHEN attempts >= $2 THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE status = 'processando' AND started_at < $1
	`, startedBefore, maxAttempts)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	q, err := scanQueueItem(r.db.QueryRow(ctx, `SELECT `+queueColumns+` FROM analysis_queue WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return q, err
}

func (r *QueueRepository) List(ctx context.Context, status string, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+` FROM analysis_queue
		WHERE ($1::text = '' OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *QueueRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM analysis_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
