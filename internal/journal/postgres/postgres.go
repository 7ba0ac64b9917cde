// Package postgres stores the command journal in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hark/internal/journal"
)

// Schema is the DDL for the journal table. [Store.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS command_journal (
    session_id            TEXT PRIMARY KEY,
    started_at            TIMESTAMPTZ NOT NULL,
    outcome               TEXT NOT NULL,
    wake_phrase           TEXT NOT NULL DEFAULT '',
    wake_confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    transcript            TEXT NOT NULL DEFAULT '',
    engine                TEXT NOT NULL DEFAULT '',
    transcript_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    intent                TEXT NOT NULL DEFAULT '',
    entities              JSONB NOT NULL DEFAULT '{}',
    success               BOOLEAN NOT NULL DEFAULT false,
    message               TEXT NOT NULL DEFAULT '',
    capture_ms            BIGINT NOT NULL DEFAULT 0,
    recognition_ms        BIGINT NOT NULL DEFAULT 0,
    total_ms              BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_command_journal_started ON command_journal(started_at DESC);
`

// DB is the subset of *pgxpool.Pool used by [Store].
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ journal.Store = (*Store)(nil)

// Store is a [journal.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool // nil when built with [New]
}

// New returns a Store over db. The caller owns db and runs [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection, and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks the connection. Stores built with [New] always report healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Append implements [journal.Store]. Appending the same session twice keeps
// the first record.
func (s *Store) Append(ctx context.Context, e journal.Entry) error {
	entities := e.Entities
	if entities == nil {
		entities = map[string]string{}
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("journal postgres: marshal entities: %w", err)
	}

	const query = `
		INSERT INTO command_journal (
			session_id, started_at, outcome, wake_phrase, wake_confidence,
			transcript, engine, transcript_confidence, intent, entities,
			success, message, capture_ms, recognition_ms, total_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (session_id) DO NOTHING`

	_, err = s.db.Exec(ctx, query,
		e.SessionID, e.StartedAt, e.Outcome, e.WakePhrase, e.WakeConfidence,
		e.Transcript, e.Engine, e.TranscriptConfidence, e.Intent, entitiesJSON,
		e.Success, e.Message,
		e.CaptureDuration.Milliseconds(), e.RecognitionLatency.Milliseconds(), e.TotalDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal postgres: append %s: %w", e.SessionID, err)
	}
	return nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = journal.DefaultMemoryCapacity
	}
	const query = `
		SELECT session_id, started_at, outcome, wake_phrase, wake_confidence,
		       transcript, engine, transcript_confidence, intent, entities,
		       success, message, capture_ms, recognition_ms, total_ms
		FROM command_journal
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	defer rows.Close()

	entries := []journal.Entry{}
	for rows.Next() {
		var (
			e                               journal.Entry
			entitiesJSON                    []byte
			captureMs, recognitionMs, total int64
		)
		if err := rows.Scan(
			&e.SessionID, &e.StartedAt, &e.Outcome, &e.WakePhrase, &e.WakeConfidence,
			&e.Transcript, &e.Engine, &e.TranscriptConfidence, &e.Intent, &entitiesJSON,
			&e.Success, &e.Message, &captureMs, &recognitionMs, &total,
		); err != nil {
			return nil, fmt.Errorf("journal postgres: scan: %w", err)
		}
		if len(entitiesJSON) > 0 {
			if err := json.Unmarshal(entitiesJSON, &e.Entities); err != nil {
				return nil, fmt.Errorf("journal postgres: unmarshal entities: %w", err)
			}
		}
		e.CaptureDuration = time.Duration(captureMs) * time.Millisecond
		e.RecognitionLatency = time.Duration(recognitionMs) * time.Millisecond
		e.TotalDuration = time.Duration(total) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	return entries, nil
}

// Close releases the pool when the Store opened it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
