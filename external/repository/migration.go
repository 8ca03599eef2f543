package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE call_status AS ENUM ('running', 'completed', 'failed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS calls (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		appointment_id TEXT NOT NULL,
		video_call_id TEXT NOT NULL,
		channel_name TEXT NOT NULL,
		local_identity TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status call_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		entry_count INTEGER NOT NULL DEFAULT 0,
		flushed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_running ON calls (appointment_id) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS transcript_entries (
		call_id UUID NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
		entry_index INTEGER NOT NULL,
		timestamp_seconds INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (call_id, entry_index)
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
