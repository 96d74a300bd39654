package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migrations are idempotent and run in order on every start.
var Migrations = []string{
	// Contacts: phone is the upsert key, jid the canonical individual address
	`CREATE TABLE IF NOT EXISTS contacts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		phone VARCHAR(32) NOT NULL UNIQUE,
		jid VARCHAR(100) UNIQUE,
		name VARCHAR(255),
		push_name VARCHAR(255),
		avatar_url TEXT,
		is_business BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(30) NOT NULL DEFAULT 'lead',
		last_message_at TIMESTAMPTZ,
		last_contact_at TIMESTAMPTZ,
		interest_score INT,
		priority VARCHAR(10),
		ai_summary TEXT,
		classified_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_last_message ON contacts(last_message_at DESC NULLS LAST)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_priority ON contacts(priority)`,

	// Messages: message_id is the single idempotency key of ingestion
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id VARCHAR(255) NOT NULL UNIQUE,
		contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		phone VARCHAR(32) NOT NULL,
		from_me BOOLEAN NOT NULL DEFAULT FALSE,
		body TEXT NOT NULL DEFAULT '',
		media_type VARCHAR(20) NOT NULL DEFAULT 'texto',
		timestamp TIMESTAMPTZ NOT NULL,
		status VARCHAR(20),
		status_rank SMALLINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_contact_ts ON messages(contact_id, timestamp DESC)`,

	// Analysis queue
	`CREATE TABLE IF NOT EXISTS analysis_queue (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		priority INT NOT NULL DEFAULT 5,
		attempts INT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'pendente',
		reason VARCHAR(50),
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT analysis_queue_status_check CHECK (status IN ('pendente', 'processando', 'concluido', 'erro'))
	)`,
	// At most one in-flight item per contact
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_analysis_queue_inflight
		ON analysis_queue(contact_id) WHERE status IN ('pendente', 'processando')`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_queue_claim
		ON analysis_queue(priority, created_at) WHERE status = 'pendente'`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_queue_status ON analysis_queue(status, updated_at DESC)`,

	// Insights: one row per contact
	`CREATE TABLE IF NOT EXISTS contact_insights (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		contact_id UUID NOT NULL UNIQUE REFERENCES contacts(id) ON DELETE CASCADE,
		sentiment VARCHAR(20),
		engagement_score INT NOT NULL DEFAULT 0,
		conversion_probability INT NOT NULL DEFAULT 0,
		interests TEXT[] DEFAULT '{}',
		objections TEXT[] DEFAULT '{}',
		purchase_triggers TEXT[] DEFAULT '{}',
		next_action TEXT,
		preferred_time VARCHAR(50),
		preferred_day VARCHAR(50),
		summary TEXT,
		total_messages INT NOT NULL DEFAULT 0,
		inbound_messages INT NOT NULL DEFAULT 0,
		outbound_messages INT NOT NULL DEFAULT 0,
		first_interaction_at TIMESTAMPTZ,
		last_interaction_at TIMESTAMPTZ,
		analyzed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Ingestion run history
	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		mode VARCHAR(30) NOT NULL,
		running BOOLEAN NOT NULL DEFAULT TRUE,
		contacts_created INT NOT NULL DEFAULT 0,
		contacts_updated INT NOT NULL DEFAULT 0,
		messages_created INT NOT NULL DEFAULT 0,
		messages_updated INT NOT NULL DEFAULT 0,
		duplicates INT NOT NULL DEFAULT 0,
		skipped INT NOT NULL DEFAULT 0,
		failed INT NOT NULL DEFAULT 0,
		enqueued INT NOT NULL DEFAULT 0,
		errors JSONB NOT NULL DEFAULT '[]',
		duration VARCHAR(50),
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at DESC)`,
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	for _, migration := range Migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}
