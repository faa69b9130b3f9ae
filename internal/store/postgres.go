package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intervoxai/intervox/internal/transcript"
)

// PostgresStore persists session records through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_started ON voice_sessions (started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			session_id TEXT NOT NULL REFERENCES voice_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			spoken_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO voice_sessions (id, started_at, duration_seconds, model, language)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET
			started_at=EXCLUDED.started_at,
			duration_seconds=EXCLUDED.duration_seconds,
			model=EXCLUDED.model,
			language=EXCLUDED.language`,
		rec.ID,
		rec.StartedAt,
		rec.DurationSeconds,
		rec.Model,
		rec.Language,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_entries WHERE session_id=$1`, rec.ID); err != nil {
		return fmt.Errorf("delete prior entries: %w", err)
	}

	for seq, entry := range rec.Entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO transcript_entries (session_id, seq, speaker, text, spoken_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			rec.ID,
			seq,
			string(entry.Speaker),
			entry.Text,
			entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert transcript entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, started_at, duration_seconds, model, language
		   FROM voice_sessions WHERE id=$1`,
		id,
	)
	var rec SessionRecord
	if err := row.Scan(&rec.ID, &rec.StartedAt, &rec.DurationSeconds, &rec.Model, &rec.Language); err != nil {
		if err == pgx.ErrNoRows {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}

	entries, err := s.loadEntries(ctx, rec.ID)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Entries = entries
	return rec, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, duration_seconds, model, language
		   FROM voice_sessions ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionRecord, 0, limit)
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.DurationSeconds, &rec.Model, &rec.Language); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	for i := range out {
		entries, err := s.loadEntries(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Entries = entries
	}
	return out, nil
}

func (s *PostgresStore) loadEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT speaker, text, spoken_at
		   FROM transcript_entries WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcript entries: %w", err)
	}
	defer rows.Close()

	entries := make([]transcript.Entry, 0, 8)
	for rows.Next() {
		var (
			entry   transcript.Entry
			speaker string
		)
		if err := rows.Scan(&speaker, &entry.Text, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		entry.Speaker = transcript.Speaker(speaker)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
