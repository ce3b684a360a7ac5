package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO transcription_sessions (session_key, language_code, started_at, status)
		 VALUES ($1, $2, $3, 'running')
		 RETURNING id, session_key, language_code, started_at, ended_at, status`,
		input.SessionKey, input.LanguageCode, input.StartedAt)
	var s repository.Session
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.SessionKey, &s.LanguageCode, &s.StartedAt, &endedAt, &s.Status)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) FinishSession(ctx context.Context, input repository.FinishSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE transcription_sessions
		 SET status = $2, ended_at = $3, restart_count = $4, final_count = $5,
		     audio_bytes = $6, error_kind = $7, error_message = $8
		 WHERE id = $1`,
		input.ID, input.Status, input.EndedAt, input.RestartCount, input.FinalCount,
		input.AudioBytes, input.ErrorKind, input.ErrorMessage)
	return err
}

func (r *PostgresRepository) MarkRunningInterrupted(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE transcription_sessions SET status = 'interrupted', ended_at = $1 WHERE status = 'running'`,
		endedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, content, segment_index, confidence, offset_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		input.SessionID, input.Content, input.SegmentIndex, input.Confidence, input.OffsetMs)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, content, segment_index, confidence, offset_ms, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.Confidence, &seg.OffsetMs, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

// Shutdown closes the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}
