package repository

import (
	"context"
	"errors"

	"github.com/foxseedlab/teleconsult/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const callColumns = `id, appointment_id, video_call_id, channel_name, local_identity, started_at, ended_at, status, stop_reason, entry_count, flushed, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateCall(ctx context.Context, input repository.CreateCallInput) (*repository.Call, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO calls (appointment_id, video_call_id, channel_name, local_identity, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, 'running')
		 RETURNING `+callColumns,
		input.AppointmentID, input.VideoCallID, input.ChannelName, input.LocalIdentity, input.StartedAt)
	return scanCall(row)
}

func (r *PostgresRepository) CompleteCall(ctx context.Context, input repository.CompleteCallInput) error {
	status := input.Status
	if status == "" {
		status = repository.CallStatusCompleted
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE calls SET status = $2, ended_at = $3, stop_reason = $4, entry_count = $5, flushed = $6
		 WHERE id = $1`,
		input.CallID, status, input.EndedAt, input.StopReason, input.EntryCount, input.Flushed)
	return err
}

func (r *PostgresRepository) GetRunningCallByAppointment(ctx context.Context, appointmentID string) (*repository.Call, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+callColumns+`
		 FROM calls WHERE appointment_id = $1 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		appointmentID)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *PostgresRepository) InsertEntry(ctx context.Context, input repository.InsertEntryInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_entries (call_id, entry_index, timestamp_seconds, speaker, text)
		 VALUES ($1, $2, $3, $4, $5)`,
		input.CallID, input.EntryIndex, input.TimestampSeconds, input.Speaker, input.Text)
	return err
}

func (r *PostgresRepository) ListEntriesByCallID(ctx context.Context, callID string) ([]repository.TranscriptEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT call_id, entry_index, timestamp_seconds, speaker, text, created_at
		 FROM transcript_entries WHERE call_id = $1 ORDER BY entry_index ASC`,
		callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptEntry
	for rows.Next() {
		var e repository.TranscriptEntry
		if err := rows.Scan(&e.CallID, &e.EntryIndex, &e.TimestampSeconds, &e.Speaker, &e.Text, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func scanCall(row pgx.Row) (*repository.Call, error) {
	var c repository.Call
	var status string
	err := row.Scan(&c.ID, &c.AppointmentID, &c.VideoCallID, &c.ChannelName, &c.LocalIdentity,
		&c.StartedAt, &c.EndedAt, &status, &c.StopReason, &c.EntryCount, &c.Flushed, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = repository.CallStatus(status)
	return &c, nil
}
