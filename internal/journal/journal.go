// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package journal persists session outcomes to a local sqlite database so
// restarts survive the process and the status endpoint can show recent
// history.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
)

// Session is one muxer session's journal entry. EndedAt is nil while the
// session is still running.
type Session struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	ExitCode  int        `json:"exitCode"`
	Reason    string     `json:"reason,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	exit_code  INTEGER,
	reason     TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions (started_at DESC);
`

// Store wraps the sqlite session journal.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open connects to (or creates) the journal database and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Store{db: db, path: path, logger: log.WithComponent("journal")}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a new running session.
func (s *Store) RecordStart(ctx context.Context, id, mode string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, started_at) VALUES (?, ?, ?)`,
		id, mode, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordExit closes out a session's journal entry.
func (s *Store) RecordExit(ctx context.Context, id string, endedAt time.Time, exitCode int, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, exit_code = ?, reason = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), exitCode, reason, id,
	)
	if err != nil {
		return fmt.Errorf("record session exit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record session exit: session %s not found", id)
	}
	return nil
}

// RecentSessions returns the newest sessions first, at most limit of them.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, started_at, ended_at, exit_code, reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess     Session
			started  string
			ended    sql.NullString
			exitCode sql.NullInt64
			reason   sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.Mode, &started, &ended, &exitCode, &reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			sess.StartedAt = ts
		}
		if ended.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
				sess.EndedAt = &ts
			}
		}
		if exitCode.Valid {
			sess.ExitCode = int(exitCode.Int64)
		}
		sess.Reason = reason.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
