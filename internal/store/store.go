package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL connection for sessions and closure episodes.
type Store struct {
	conn *pgx.Conn
}

// Session is one monitoring run.
type Session struct {
	ID         string
	Source     string
	Subject    string
	StartedAt  time.Time
	EndedAt    *time.Time
	Frames     int
	FaceFrames int
	Blinks     int
	Episodes   int
}

// Episode is a persisted closure.
type Episode struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Peak      string
	Abandoned bool
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			frames INT NOT NULL DEFAULT 0,
			face_frames INT NOT NULL DEFAULT 0,
			blinks INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS closure_episodes (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			peak TEXT NOT NULL,
			abandoned BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS closure_episodes_session_id_idx ON closure_episodes (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateSession registers a new session. Re-creating an existing ID clears its episodes.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM closure_episodes WHERE session_id = $1", sess.ID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, source, subject, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, subject = EXCLUDED.subject,
			started_at = EXCLUDED.started_at, ended_at = NULL, frames = 0, face_frames = 0, blinks = 0
	`, sess.ID, sess.Source, sess.Subject, sess.StartedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FinishSession records the end time and totals of a session.
func (s *Store) FinishSession(ctx context.Context, id string, ended time.Time, frames, faceFrames, blinks int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE sessions SET ended_at = $2, frames = $3, face_frames = $4, blinks = $5 WHERE id = $1
	`, id, ended, frames, faceFrames, blinks)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertEpisode saves one closure episode.
func (s *Store) InsertEpisode(ctx context.Context, ep Episode) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO closure_episodes (session_id, started_at, ended_at, duration_ms, peak, abandoned)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ep.SessionID, ep.StartedAt, ep.EndedAt, ep.Duration.Milliseconds(), ep.Peak, ep.Abandoned)
	return err
}

// ListSessions returns all sessions, newest first, with their episode counts.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id, s.source, s.subject, s.started_at, s.ended_at, s.frames, s.face_frames, s.blinks,
			(SELECT COUNT(*) FROM closure_episodes e WHERE e.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Source, &sess.Subject, &sess.StartedAt, &sess.EndedAt,
			&sess.Frames, &sess.FaceFrames, &sess.Blinks, &sess.Episodes); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSessionEpisodes returns the episodes of a session in chronological order.
func (s *Store) GetSessionEpisodes(ctx context.Context, sessionID string) ([]Episode, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)", sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	rows, err := s.conn.Query(ctx, `
		SELECT session_id, started_at, ended_at, duration_ms, peak, abandoned
		FROM closure_episodes WHERE session_id = $1 ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		var ms int64
		if err := rows.Scan(&ep.SessionID, &ep.StartedAt, &ep.EndedAt, &ms, &ep.Peak, &ep.Abandoned); err != nil {
			return nil, err
		}
		ep.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, ep)
	}
	return out, rows.Err()
}

// RenameSubject sets the subject name of a session.
func (s *Store) RenameSubject(ctx context.Context, sessionID, subject string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE sessions SET subject = $1 WHERE id = $2", subject, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS closure_episodes CASCADE;
		DROP TABLE IF EXISTS sessions CASCADE;
	`)
	return err
}
