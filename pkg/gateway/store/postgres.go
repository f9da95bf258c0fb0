// Package store persists call sessions and their ordered transcript
// segments in Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/transcript"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound is returned when an operation targets an unknown
// session row.
var ErrSessionNotFound = errors.New("session not found")

// Session is a call_sessions row.
type Session struct {
	ID               string
	CallConnectionID string
	CallerID         string
	Status           string
	Error            string
	RecordingURL     string
	RecordingBytes   int64
	RecordingSHA256  string
	StartedAt        time.Time
	EndedAt          *time.Time
}

// CallStore is a pgxpool-backed store. It satisfies transcript.Store.
type CallStore struct {
	pool *pgxpool.Pool
}

// New connects a pool and verifies the database is reachable.
func New(ctx context.Context, databaseURL string) (*CallStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CallStore{pool: pool}, nil
}

// Close releases the pool.
func (s *CallStore) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// CreateSession inserts the session row at call setup. Replayed webhook
// deliveries make this a no-op instead of an error.
func (s *CallStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_sessions (id, call_connection_id, caller_id, status, started_at)
		VALUES ($1, $2, $3, 'active', $4)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.CallConnectionID, sess.CallerID, sess.StartedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession records the terminal status and artifact metadata.
func (s *CallStore) FinishSession(ctx context.Context, sess Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_sessions
		SET status = $2,
		    error = $3,
		    recording_url = $4,
		    recording_bytes = $5,
		    recording_sha256 = $6,
		    ended_at = $7,
		    updated_at = now()
		WHERE id = $1`,
		sess.ID, sess.Status, sess.Error,
		sess.RecordingURL, sess.RecordingBytes, sess.RecordingSHA256, sess.EndedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession loads one session row.
func (s *CallStore) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, call_connection_id, caller_id, status, error,
		       recording_url, recording_bytes, recording_sha256, started_at, ended_at
		FROM call_sessions WHERE id = $1`, id).Scan(
		&sess.ID, &sess.CallConnectionID, &sess.CallerID, &sess.Status, &sess.Error,
		&sess.RecordingURL, &sess.RecordingBytes, &sess.RecordingSHA256,
		&sess.StartedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

// ReserveSequences implements transcript.Store. The single-statement
// increment-and-read keeps reserved ranges disjoint even across processes.
func (s *CallStore) ReserveSequences(ctx context.Context, sessionID string, n int) (int64, error) {
	var counter int64
	err := s.pool.QueryRow(ctx, `
		UPDATE call_sessions
		SET seq_counter = seq_counter + $2, updated_at = now()
		WHERE id = $1
		RETURNING seq_counter`, sessionID, n).Scan(&counter)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reserve sequences: %w", err)
	}
	return counter, nil
}

// AppendSegments implements transcript.Store. The conflict clause makes
// retried batches idempotent per (session_id, seq).
func (s *CallStore) AppendSegments(ctx context.Context, sessionID string, segs []transcript.Segment) error {
	if len(segs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, seg := range segs {
		batch.Queue(`
			INSERT INTO call_transcript_segments
				(session_id, seq, speaker, text, start_ms, end_ms, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, seq) DO NOTHING`,
			sessionID, seg.Seq, string(seg.Speaker), seg.Text,
			seg.StartMS, seg.EndMS, seg.Confidence)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range segs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert transcript segment: %w", err)
		}
	}
	return nil
}

// Transcript returns a session's segments in sequence order.
func (s *CallStore) Transcript(ctx context.Context, sessionID string) ([]transcript.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, speaker, text, start_ms, end_ms, confidence
		FROM call_transcript_segments
		WHERE session_id = $1
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select transcript: %w", err)
	}
	defer rows.Close()

	var segs []transcript.Segment
	for rows.Next() {
		var seg transcript.Segment
		var speaker string
		if err := rows.Scan(&seg.Seq, &speaker, &seg.Text, &seg.StartMS, &seg.EndMS, &seg.Confidence); err != nil {
			return nil, fmt.Errorf("scan transcript segment: %w", err)
		}
		seg.Speaker = transcript.Speaker(speaker)
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}
