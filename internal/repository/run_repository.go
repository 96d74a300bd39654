package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/naperu/zapinsight/internal/domain"
)

// RunRepository keeps the history of ingestion runs
type RunRepository struct {
	db *pgxpool.Pool
}

const runColumns = `id, mode, running, contacts_created, contacts_updated, messages_created, messages_updated,
	duplicates, skipped, failed, enqueued, errors, COALESCE(duration, ''), started_at, finished_at`

func scanRun(row pgx.Row) (*domain.RunSummary, error) {
	run := &domain.RunSummary{}
	var errorsJSON []byte
	if err := row.Scan(
		&run.ID, &run.Mode, &run.Running, &run.ContactsCreated, &run.ContactsUpdated,
		&run.MessagesCreated, &run.MessagesUpdated, &run.Duplicates, &run.Skipped, &run.Failed,
		&run.Enqueued, &errorsJSON, &run.Duration, &run.StartedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
			return nil, fmt.Errorf("decode run errors: %w", err)
		}
	}
	return run, nil
}

func (r *RunRepository) Create(ctx context.Context, run *domain.RunSummary) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO ingestion_runs (mode, running, started_at)
		VALUES ($1, TRUE, $2)
		RETURNING id
	`, run.Mode, run.StartedAt).Scan(&run.ID)
}

func (r *RunRepository) Finish(ctx context.Context, run *domain.RunSummary) error {
	errorsJSON, err := json.Marshal(orEmpty(run.Errors))
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		UPDATE ingestion_runs SET
			running = $2, contacts_created = $3, contacts_updated = $4,
			messages_created = $5, messages_updated = $6, duplicates = $7,
			skipped = $8, failed = $9, enqueued = $10, errors = $11::jsonb,
			duration = $12, finished_at = $13
		WHERE id = $1
	`, run.ID, run.Running, run.ContactsCreated, run.ContactsUpdated,
		run.MessagesCreated, run.MessagesUpdated, run.Duplicates,
		run.Skipped, run.Failed, run.Enqueued, string(errorsJSON),
		run.Duration, run.FinishedAt)
	return err
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.RunSummary, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
